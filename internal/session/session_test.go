package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/harness"
	"github.com/hasanabuzayed/openagent/internal/mission"
	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/store"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

type stubHarness struct {
	run func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error)
}

func (s *stubHarness) ID() string { return "stub" }

func (s *stubHarness) RunTurn(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
	return s.run(ctx, req, emit, confirm)
}

func newTestSession(t *testing.T, stub *stubHarness) (*Session, *store.Store, *Broadcaster) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Could not open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := harness.NewRegistry()
	reg.Register(stub)

	dir := t.TempDir()
	workspaces := workspace.NewManager(st, dir, filepath.Join(dir, "distros"))
	r := runner.New(st, workspaces, reg)
	b := NewBroadcaster()
	s := New(st, r, b, Config{Harness: "stub"})
	t.Cleanup(func() { s.Close(); b.Close() })
	return s, st, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestPostMessageStartsTurnImmediately(t *testing.T) {
	release := make(chan struct{})
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		<-release
		return harness.TurnResult{Content: "answer to " + req.Message, Model: "stub-model"}, nil
	}}
	s, st, _ := newTestSession(t, stub)

	_, queued, err := s.PostMessage("first", "", "")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	if queued {
		t.Error("Expected the first message on an idle slot not to be queued")
	}
	if state, _ := s.State(); state == StateIdle {
		t.Error("Expected the slot to leave idle before PostMessage returned")
	}

	_, queued, err = s.PostMessage("second", "", "")
	if err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	if !queued {
		t.Error("Expected the second message to be queued behind the running turn")
	}
	if _, qlen := s.State(); qlen != 1 {
		t.Errorf("Expected queue length 1, got %d", qlen)
	}

	close(release)
	waitFor(t, "both turns to finish", func() bool {
		state, qlen := s.State()
		return state == StateIdle && qlen == 0
	})

	// Both turns persisted, in order, with gapless sequences.
	events, err := st.ListEvents(s.MissionID(), store.EventFilter{
		Types: []event.Type{event.TypeUserMessage, event.TypeAssistantMessage},
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var contents []string
	for _, ev := range events {
		contents = append(contents, ev.Content)
	}
	want := []string{"first", "answer to first", "second", "answer to second"}
	if len(contents) != len(want) {
		t.Fatalf("Expected %d conversation events, got %v", len(want), contents)
	}
	for i := range want {
		if contents[i] != want[i] {
			t.Errorf("Expected event %d to be %q, got %q", i, want[i], contents[i])
		}
	}
}

func TestCancelInterruptsTurn(t *testing.T) {
	started := make(chan struct{})
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		close(started)
		<-ctx.Done()
		return harness.TurnResult{}, ctx.Err()
	}}
	s, st, _ := newTestSession(t, stub)

	// Cancelling an idle slot is a no-op.
	s.Cancel()

	if _, _, err := s.PostMessage("work on this", "", ""); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	<-started
	s.Cancel()
	s.Cancel() // idempotent

	waitFor(t, "slot to return to idle", func() bool {
		state, _ := s.State()
		return state == StateIdle
	})

	m, err := st.GetMission(s.MissionID())
	if err != nil {
		t.Fatalf("GetMission failed: %v", err)
	}
	if m.Status != mission.StatusInterrupted {
		t.Errorf("Expected mission status interrupted, got %s", m.Status)
	}
}

func TestToolResultRoundtrip(t *testing.T) {
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		res, err := confirm.Await(ctx, harness.ToolCall{ID: "tc1", Name: "ui_optionList"})
		if err != nil {
			return harness.TurnResult{}, err
		}
		return harness.TurnResult{Content: res.Result}, nil
	}}
	s, st, _ := newTestSession(t, stub)

	if _, _, err := s.PostMessage("choose one", "", ""); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	waitFor(t, "slot to wait for a tool result", func() bool {
		state, _ := s.State()
		return state == StateWaitingForTool
	})

	if err := s.PostToolResult("wrong-id", "nope"); err == nil {
		t.Error("Expected a mismatched tool call id to be rejected")
	}
	if err := s.PostToolResult("tc1", "option B"); err != nil {
		t.Fatalf("PostToolResult failed: %v", err)
	}

	waitFor(t, "turn to finish", func() bool {
		state, _ := s.State()
		return state == StateIdle
	})

	events, err := st.ListEvents(s.MissionID(), store.EventFilter{
		Types: []event.Type{event.TypeAssistantMessage},
	})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Content != "option B" {
		t.Errorf("Expected the tool answer to flow into the turn, got %+v", events)
	}
}

func TestPostToolResultWhenIdle(t *testing.T) {
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		return harness.TurnResult{Content: "ok"}, nil
	}}
	s, _, _ := newTestSession(t, stub)

	if err := s.PostToolResult("tc1", "answer"); !errors.Is(err, ErrNoPendingTool) {
		t.Errorf("Expected ErrNoPendingTool, got %v", err)
	}
}

func TestQueueDrainsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		mu.Lock()
		seen = append(seen, req.Message)
		mu.Unlock()
		return harness.TurnResult{Content: "ok"}, nil
	}}
	s, _, _ := newTestSession(t, stub)

	for _, msg := range []string{"a", "b", "c"} {
		if _, _, err := s.PostMessage(msg, "", ""); err != nil {
			t.Fatalf("PostMessage %q failed: %v", msg, err)
		}
	}

	waitFor(t, "queue to drain", func() bool {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		state, qlen := s.State()
		return state == StateIdle && qlen == 0 && n == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if seen[i] != want {
			t.Errorf("Expected message %d to be %q, got %q", i, want, seen[i])
		}
	}
}

func TestStatusEventsAreStreamedNotPersisted(t *testing.T) {
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		return harness.TurnResult{Content: "ok"}, nil
	}}
	s, st, b := newTestSession(t, stub)

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	if _, _, err := s.PostMessage("hello", "", ""); err != nil {
		t.Fatalf("PostMessage failed: %v", err)
	}
	waitFor(t, "turn to finish", func() bool {
		state, _ := s.State()
		return state == StateIdle
	})

	sawStatus := false
drain:
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == event.TypeStatus {
				sawStatus = true
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}
	if !sawStatus {
		t.Error("Expected slot status events on the stream")
	}

	events, err := st.ListEvents(s.MissionID(), store.EventFilter{Types: []event.Type{event.TypeStatus}})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no persisted status events, got %d", len(events))
	}
}

func TestMissingMissionErrorIsAppendedThenBroadcast(t *testing.T) {
	stub := &stubHarness{run: func(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
		t.Error("The harness must not run without a mission record")
		return harness.TurnResult{}, nil
	}}
	s, st, b := newTestSession(t, stub)

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	s.runTurn(context.Background(), "ghost", runner.Message{ID: "msg1", Content: "go"})

	events, err := st.ListEvents("ghost", store.EventFilter{Types: []event.Type{event.TypeError}})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected the error event persisted, got %d", len(events))
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != event.TypeError {
			t.Errorf("Expected an error event on the stream, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("Expected the persisted error to also be broadcast")
	}
}
