// Package runner owns one mission conversation turn: backend and
// workspace resolution, bridge invocation, event persistence, and
// failure classification.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/harness"
	"github.com/hasanabuzayed/openagent/internal/logger"
	"github.com/hasanabuzayed/openagent/internal/metrics"
	"github.com/hasanabuzayed/openagent/internal/mission"
	"github.com/hasanabuzayed/openagent/internal/store"
	"github.com/hasanabuzayed/openagent/internal/workspace"
)

// Message is one user message dispatched into a turn.
type Message struct {
	ID            string
	Content       string
	ModelOverride string
	AgentOverride string
}

// Sink receives events after they are durably appended. The control
// session uses it to fan events out to subscribers.
type Sink func(ev event.Event)

// TurnOutcome reports how a turn ended. Err is set for turn-level
// failures; those are already persisted as error events, so callers
// only need it for control flow.
type TurnOutcome struct {
	Metrics metrics.TurnMetrics
	Err     error
}

type Runner struct {
	store      *store.Store
	workspaces *workspace.Manager
	harnesses  *harness.Registry
}

func New(st *store.Store, workspaces *workspace.Manager, harnesses *harness.Registry) *Runner {
	return &Runner{store: st, workspaces: workspaces, harnesses: harnesses}
}

// RunTurn executes exactly one request/response turn for the mission.
// Configuration failures (unknown backend, workspace not ready) are
// rejected before any process is spawned. Harness failures surface as
// error events and leave the mission active so the user can retry.
func (r *Runner) RunTurn(ctx context.Context, m *mission.Mission, msg Message, sink Sink, confirm harness.Confirmer) TurnOutcome {
	mm := metrics.TurnMetrics{MissionID: m.ID, Start: time.Now()}
	outcome := func(err error) TurnOutcome {
		mm.Finalize()
		return TurnOutcome{Metrics: mm, Err: err}
	}

	// Append-then-broadcast, with post-cancellation suppression: once
	// the turn is cancelled no further tool_call or assistant_message
	// events may be emitted for it.
	emit := func(ev event.Event) {
		if ctx.Err() != nil && (ev.Type == event.TypeToolCall || ev.Type == event.TypeAssistantMessage) {
			return
		}
		ev.MissionID = m.ID
		if ev.Type.Persistable() {
			if _, err := r.store.AppendEvent(ev); err != nil {
				logger.Log.Printf("[Runner] Could not append %s event for mission %s: %v", ev.Type, m.ID, err)
				return
			}
		}
		mm.Events++
		if sink != nil {
			sink(ev)
		}
	}

	// Configuration checks come first; they never spawn a process.
	h, err := r.harnesses.Resolve(m.Harness)
	if err != nil {
		emit(event.New(event.TypeError, err.Error()))
		return outcome(err)
	}
	if m.WorkspaceID != "" {
		ws, err := r.workspaces.Get(m.WorkspaceID)
		if err != nil {
			emit(event.New(event.TypeError, err.Error()))
			return outcome(err)
		}
		if ws.Status != workspace.StatusReady {
			err := fmt.Errorf("%w: %s has status %s", workspace.ErrNotReady, ws.ID, ws.Status)
			emit(event.New(event.TypeError, err.Error()))
			return outcome(err)
		}
	}

	if m.Status == mission.StatusPending || m.Status == mission.StatusInterrupted {
		r.setStatus(m, mission.StatusActive, emit)
	}

	emit(event.New(event.TypeUserMessage, msg.Content).WithMeta("id", msg.ID))

	model := msg.ModelOverride
	if model == "" {
		model = m.ModelOverride
	}
	agent := msg.AgentOverride
	if agent == "" {
		agent = m.Agent
	}

	req := harness.TurnRequest{
		MissionID:   m.ID,
		WorkspaceID: m.WorkspaceID,
		History:     m.History,
		Message:     msg.Content,
		Model:       model,
		Agent:       agent,
	}

	result, err := h.RunTurn(ctx, req, emit, confirm)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			logger.Log.Printf("[Runner] Turn for mission %s CANCELLED", m.ID)
			r.setStatus(m, mission.StatusInterrupted, emit)
			return outcome(context.Canceled)
		}
		// Harness/process failure: the mission stays active so the
		// caller may retry or resume.
		logger.Log.Printf("[Runner] Turn for mission %s FAILED: %v", m.ID, err)
		emit(event.New(event.TypeError, err.Error()))
		return outcome(err)
	}

	mm.Succeeded = true
	mm.Model = result.Model
	mm.CostCents = result.CostCents
	mm.TokensIn = result.TokensIn
	mm.TokensOut = result.TokensOut

	emit(event.New(event.TypeAssistantMessage, result.Content).
		WithMeta("id", msg.ID).
		WithMeta("success", true).
		WithMeta("cost_cents", result.CostCents).
		WithMeta("model", result.Model))

	m.AppendTurn("user", msg.Content)
	m.AppendTurn("assistant", result.Content)
	if err := r.store.UpdateMission(m); err != nil {
		logger.Log.Printf("[Runner] Could not persist history for mission %s: %v", m.ID, err)
	}

	return outcome(nil)
}

func (r *Runner) setStatus(m *mission.Mission, status mission.Status, emit func(event.Event)) {
	m.Status = status
	if err := r.store.SetMissionStatus(m.ID, status); err != nil {
		logger.Log.Printf("[Runner] Could not set mission %s status: %v", m.ID, err)
		return
	}
	emit(event.New(event.TypeMissionStatus, string(status)).
		WithMeta("mission_id", m.ID).
		WithMeta("status", string(status)))
}
