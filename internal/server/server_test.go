package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hasanabuzayed/openagent/internal/harness"
	"github.com/hasanabuzayed/openagent/internal/runner"
	"github.com/hasanabuzayed/openagent/internal/session"
	"github.com/hasanabuzayed/openagent/internal/store"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

type stubHarness struct{}

func (stubHarness) ID() string { return "stub" }

func (stubHarness) RunTurn(ctx context.Context, req harness.TurnRequest, emit harness.EmitFunc, confirm harness.Confirmer) (harness.TurnResult, error) {
	return harness.TurnResult{Content: "answer to " + req.Message, Model: "stub-model"}, nil
}

func newTestServer(t *testing.T) (*gin.Engine, Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Could not open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := harness.NewRegistry()
	reg.Register(stubHarness{})

	dir := t.TempDir()
	workspaces := workspace.NewManager(st, dir, filepath.Join(dir, "distros"))
	r := runner.New(st, workspaces, reg)
	b := session.NewBroadcaster()
	slot := session.New(st, r, b, session.Config{Harness: "stub"})
	t.Cleanup(func() { slot.Close(); b.Close() })

	deps := Deps{Store: st, Workspaces: workspaces, Runner: r, Session: slot, Broadcaster: b}
	return New(deps), deps
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Could not encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("Could not decode response %q: %v", w.Body.String(), err)
	}
}

func waitForIdle(t *testing.T, engine *gin.Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, engine, http.MethodGet, "/api/status", nil)
		var st struct {
			State    string `json:"state"`
			QueueLen int    `json:"queue_len"`
		}
		decode(t, w, &st)
		if st.State == "idle" && st.QueueLen == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for the slot to go idle")
}

func TestPostMessage(t *testing.T) {
	engine, deps := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/message", map[string]string{"content": "hello"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		ID     string `json:"id"`
		Queued bool   `json:"queued"`
	}
	decode(t, w, &res)
	if res.ID == "" {
		t.Error("Expected a message id")
	}
	if res.Queued {
		t.Error("Expected the first message not to be queued")
	}

	waitForIdle(t, engine)

	// The turn ran against the auto-created mission.
	missionID := deps.Session.MissionID()
	w = doJSON(t, engine, http.MethodGet, "/api/missions/"+missionID+"/events?types=assistant_message", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var events struct {
		Events []struct {
			Content string `json:"content"`
		} `json:"events"`
	}
	decode(t, w, &events)
	if len(events.Events) != 1 || events.Events[0].Content != "answer to hello" {
		t.Errorf("Expected the assistant answer in the event log, got %+v", events.Events)
	}
}

func TestPostMessageValidation(t *testing.T) {
	engine, _ := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/message", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing content field, got %d", w.Code)
	}
}

func TestToolResultWithoutPendingCall(t *testing.T) {
	engine, _ := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/tool_result", map[string]string{
		"tool_call_id": "t1", "result": "yes",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when nothing is pending, got %d", w.Code)
	}
}

func TestCancelIsAlwaysAccepted(t *testing.T) {
	engine, _ := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/cancel", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
}

func TestMissionEndpoints(t *testing.T) {
	engine, deps := newTestServer(t)

	doJSON(t, engine, http.MethodPost, "/api/message", map[string]string{"content": "hello"})
	waitForIdle(t, engine)
	missionID := deps.Session.MissionID()

	w := doJSON(t, engine, http.MethodGet, "/api/missions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var list struct {
		Missions []struct {
			ID string `json:"id"`
		} `json:"missions"`
	}
	decode(t, w, &list)
	if len(list.Missions) != 1 || list.Missions[0].ID != missionID {
		t.Errorf("Expected the mission listed, got %+v", list.Missions)
	}

	if w := doJSON(t, engine, http.MethodGet, "/api/missions/"+missionID, nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for the mission, got %d", w.Code)
	}
	if w := doJSON(t, engine, http.MethodGet, "/api/missions/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown mission, got %d", w.Code)
	}

	if w := doJSON(t, engine, http.MethodPost, "/api/missions/"+missionID+"/status", map[string]string{"status": "completed"}); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 setting a valid status, got %d", w.Code)
	}
	if w := doJSON(t, engine, http.MethodPost, "/api/missions/"+missionID+"/status", map[string]string{"status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid status, got %d", w.Code)
	}

	// The status change lands in the mission's event log.
	w = doJSON(t, engine, http.MethodGet, "/api/missions/"+missionID+"/events?types=mission_status_changed", nil)
	var statusEvents struct {
		Events []struct {
			Content string `json:"content"`
		} `json:"events"`
	}
	decode(t, w, &statusEvents)
	if n := len(statusEvents.Events); n == 0 || statusEvents.Events[n-1].Content != "completed" {
		t.Errorf("Expected a persisted completed status event, got %+v", statusEvents.Events)
	}

	if w := doJSON(t, engine, http.MethodDelete, "/api/missions/"+missionID, nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 archiving, got %d", w.Code)
	}
	w = doJSON(t, engine, http.MethodGet, "/api/missions", nil)
	decode(t, w, &list)
	if len(list.Missions) != 0 {
		t.Errorf("Expected the archived mission hidden from listings, got %+v", list.Missions)
	}
}

func TestMissionResume(t *testing.T) {
	engine, deps := newTestServer(t)

	doJSON(t, engine, http.MethodPost, "/api/message", map[string]string{"content": "hello"})
	waitForIdle(t, engine)
	missionID := deps.Session.MissionID()

	w := doJSON(t, engine, http.MethodPost, "/api/missions/"+missionID+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		Mission struct {
			History []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"history"`
		} `json:"mission"`
		Dispatched string `json:"dispatched"`
	}
	decode(t, w, &res)
	if len(res.Mission.History) != 2 {
		t.Errorf("Expected the replayed conversation, got %+v", res.Mission.History)
	}
	if res.Dispatched != "" {
		t.Errorf("Expected nothing to dispatch for a completed turn, got %q", res.Dispatched)
	}

	if w := doJSON(t, engine, http.MethodPost, "/api/missions/ghost/resume", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 resuming an unknown mission, got %d", w.Code)
	}
}

func TestWorkspaceEndpoints(t *testing.T) {
	engine, _ := newTestServer(t)

	w := doJSON(t, engine, http.MethodPost, "/api/workspaces", map[string]any{
		"name": "scratch",
		"kind": "host",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var ws struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, w, &ws)
	if ws.Status != "ready" {
		t.Errorf("Expected a ready host workspace, got %s", ws.Status)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/workspaces/"+ws.ID+"/exec", map[string]any{
		"command": "echo from the api",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
	}
	decode(t, w, &res)
	if res.ExitCode != 0 || res.Stdout != "from the api\n" {
		t.Errorf("Expected the command output, got %+v", res)
	}

	if w := doJSON(t, engine, http.MethodPost, "/api/workspaces", map[string]any{"name": "bad", "kind": "vm"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid kind, got %d", w.Code)
	}
	if w := doJSON(t, engine, http.MethodGet, "/api/workspaces/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown workspace, got %d", w.Code)
	}
	if w := doJSON(t, engine, http.MethodPost, "/api/workspaces/ghost/exec", map[string]any{"command": "true"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 executing in an unknown workspace, got %d", w.Code)
	}

	w = doJSON(t, engine, http.MethodPost, "/api/workspaces", map[string]any{
		"name": "sandbox",
		"kind": "container",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var pending struct {
		ID string `json:"id"`
	}
	decode(t, w, &pending)
	if w := doJSON(t, engine, http.MethodPost, "/api/workspaces/"+pending.ID+"/exec", map[string]any{"command": "true"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 executing in an unbuilt container, got %d", w.Code)
	}

	if w := doJSON(t, engine, http.MethodDelete, "/api/workspaces/"+ws.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 deleting, got %d", w.Code)
	}
}
