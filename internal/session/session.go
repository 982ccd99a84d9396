package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/harness"
	"github.com/hasanabuzayed/openagent/internal/logger"
	"github.com/hasanabuzayed/openagent/internal/mission"
	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/store"
)

// RunState is what a slot is doing right now.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateRunning        RunState = "running"
	StateWaitingForTool RunState = "waiting_for_tool"
)

// queueCapacity bounds how many messages a slot will hold while a
// turn is in flight.
const queueCapacity = 32

var (
	ErrQueueFull     = fmt.Errorf("message queue is full")
	ErrNoPendingTool = fmt.Errorf("no tool call is awaiting a result")
	ErrSlotClosed    = fmt.Errorf("slot is closed")
)

type queuedMessage struct {
	msg       runner.Message
	wasQueued bool
}

// pendingTool is the in-flight host confirmation handshake: the turn
// is parked on ch until a matching result arrives or the turn is
// cancelled.
type pendingTool struct {
	call harness.ToolCall
	ch   chan harness.ToolResult
}

// Config seeds the session with its defaults for missions created on
// demand.
type Config struct {
	Harness     string
	WorkspaceID string
	Model       string
	Agent       string
}

// Session owns the single execution slot: a bound mission, a message
// queue, and one consumer goroutine that runs turns strictly one at a
// time. All public methods are safe for concurrent use.
type Session struct {
	store       *store.Store
	runner      *runner.Runner
	broadcaster *Broadcaster
	cfg         Config

	queue chan queuedMessage
	done  chan struct{}

	mu        sync.Mutex
	state     RunState
	queueLen  int
	missionID string
	cancel    context.CancelFunc
	pending   *pendingTool
	closed    bool
}

func New(st *store.Store, r *runner.Runner, b *Broadcaster, cfg Config) *Session {
	s := &Session{
		store:       st,
		runner:      r,
		broadcaster: b,
		cfg:         cfg,
		// One extra slot for the in-flight non-queued message, so a
		// send under the mutex can never block.
		queue:       make(chan queuedMessage, queueCapacity+1),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
	go s.loop()
	return s
}

// State returns the current run state and queue depth.
func (s *Session) State() (RunState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.queueLen
}

// MissionID returns the id of the mission currently bound to the
// slot, or "" when none is.
func (s *Session) MissionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missionID
}

// PostMessage accepts a user message for the bound mission, creating
// one on demand. When the slot is idle the message starts a turn
// immediately and queued is false; otherwise it joins the queue. The
// state transition to running happens before PostMessage returns, so
// a caller observing the slot right after an accepted non-queued post
// never sees it idle.
func (s *Session) PostMessage(content, modelOverride, agentOverride string) (id string, queued bool, err error) {
	id = uuid.New().String()[:8]
	qm := queuedMessage{msg: runner.Message{
		ID:            id,
		Content:       content,
		ModelOverride: modelOverride,
		AgentOverride: agentOverride,
	}}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", false, ErrSlotClosed
	}
	if s.missionID == "" {
		m, cerr := s.createMission(content)
		if cerr != nil {
			s.mu.Unlock()
			return "", false, cerr
		}
		s.missionID = m.ID
	}
	if s.state != StateIdle || s.queueLen > 0 {
		if s.queueLen >= queueCapacity {
			s.mu.Unlock()
			return "", false, ErrQueueFull
		}
		qm.wasQueued = true
		s.queueLen++
		queued = true
	} else {
		s.state = StateRunning
	}
	s.queue <- qm
	s.mu.Unlock()

	s.publishStatus()
	return id, queued, nil
}

// PostToolResult answers the tool call the slot is waiting on. It is
// only valid in waiting_for_tool and only for the pending call's id;
// anything else is rejected without side effects.
func (s *Session) PostToolResult(toolCallID, result string) error {
	s.mu.Lock()
	if s.state != StateWaitingForTool || s.pending == nil {
		s.mu.Unlock()
		return ErrNoPendingTool
	}
	if s.pending.call.ID != toolCallID {
		s.mu.Unlock()
		return fmt.Errorf("tool call %q is not pending", toolCallID)
	}
	p := s.pending
	s.pending = nil
	s.state = StateRunning
	s.mu.Unlock()

	p.ch <- harness.ToolResult{ToolCallID: p.call.ID, Name: p.call.Name, Result: result}
	s.publishStatus()
	return nil
}

// Cancel interrupts the turn in flight, if any. Queued messages stay
// queued and the next one starts once the interrupted turn unwinds.
// Cancelling an idle slot is a no-op.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Bind attaches an existing mission to the slot. Only valid while
// idle with an empty queue.
func (s *Session) Bind(missionID string) error {
	if _, err := s.store.GetMission(missionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle || s.queueLen > 0 {
		return fmt.Errorf("cannot rebind a busy slot")
	}
	s.missionID = missionID
	return nil
}

// Close stops the consumer after the current turn finishes. Queued
// messages are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(s.queue)
	<-s.done
}

// Await implements harness.Confirmer. It parks the turn in
// waiting_for_tool until PostToolResult delivers an answer or the
// turn context is cancelled.
func (s *Session) Await(ctx context.Context, call harness.ToolCall) (harness.ToolResult, error) {
	p := &pendingTool{call: call, ch: make(chan harness.ToolResult, 1)}

	s.mu.Lock()
	s.pending = p
	s.state = StateWaitingForTool
	s.mu.Unlock()
	s.publishStatus()

	select {
	case res := <-p.ch:
		return res, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.pending == p {
			s.pending = nil
		}
		s.mu.Unlock()
		return harness.ToolResult{}, ctx.Err()
	}
}

// loop is the single consumer: it drains the queue one message at a
// time, so a turn never overlaps another turn of the same slot.
func (s *Session) loop() {
	defer close(s.done)
	for qm := range s.queue {
		s.mu.Lock()
		if qm.wasQueued {
			s.queueLen--
			s.state = StateRunning
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		missionID := s.missionID
		s.mu.Unlock()
		s.publishStatus()

		s.runTurn(ctx, missionID, qm.msg)
		cancel()

		s.mu.Lock()
		s.cancel = nil
		s.pending = nil
		s.state = StateIdle
		s.mu.Unlock()
		s.publishStatus()
	}
}

func (s *Session) runTurn(ctx context.Context, missionID string, msg runner.Message) {
	m, err := s.store.GetMission(missionID)
	if err != nil {
		logger.Log.Printf("[Session] Dropping message %s: %v", msg.ID, err)
		ev := event.New(event.TypeError, err.Error()).WithMeta("mission_id", missionID)
		ev.MissionID = missionID
		if _, aerr := s.store.AppendEvent(ev); aerr != nil {
			logger.Log.Printf("[Session] Could not append error event for mission %s: %v", missionID, aerr)
			return
		}
		s.broadcaster.Publish(ev)
		return
	}

	start := time.Now()
	outcome := s.runner.RunTurn(ctx, m, msg, s.broadcaster.Publish, s)
	if outcome.Err != nil {
		logger.Log.Printf("[Session] Turn %s finished after %s with error: %v",
			msg.ID, time.Since(start).Round(time.Millisecond), outcome.Err)
		return
	}
	logger.Log.Printf("[Session] Turn %s finished after %s (model=%s, tokens=%d/%d)",
		msg.ID, time.Since(start).Round(time.Millisecond),
		outcome.Metrics.Model, outcome.Metrics.TokensIn, outcome.Metrics.TokensOut)
}

// createMission builds a fresh mission from the session defaults.
// Caller holds s.mu.
func (s *Session) createMission(firstMessage string) (*mission.Mission, error) {
	title := firstMessage
	if len(title) > 64 {
		title = title[:64]
	}
	m := &mission.Mission{
		ID:            uuid.New().String()[:8],
		Title:         title,
		Status:        mission.StatusPending,
		WorkspaceID:   s.cfg.WorkspaceID,
		Harness:       s.cfg.Harness,
		Agent:         s.cfg.Agent,
		ModelOverride: s.cfg.Model,
	}
	if err := s.store.CreateMission(m); err != nil {
		return nil, err
	}
	logger.Log.Printf("[Session] Created mission %s (harness=%s)", m.ID, m.Harness)
	return m, nil
}

// publishStatus pushes a stream-only snapshot of the slot. Status
// events are never persisted.
func (s *Session) publishStatus() {
	s.mu.Lock()
	state, qlen, missionID := s.state, s.queueLen, s.missionID
	s.mu.Unlock()

	ev := event.New(event.TypeStatus, string(state)).
		WithMeta("queue_len", strconv.Itoa(qlen))
	ev.MissionID = missionID
	s.broadcaster.Publish(ev)
}
