package runner

import (
	"fmt"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/mission"
	"github.com/hasanabuzayed/openagent/internal/store"
)

// Resumption is a mission rebuilt from its event log. PendingMessage is
// the trailing user message that never got an answer, if any; the
// caller dispatches it into a fresh turn to continue the mission.
type Resumption struct {
	Mission        *mission.Mission
	PendingMessage string
}

// Resume reconstructs a mission's conversation by replaying its stored
// events in sequence order. This is the mechanism for continuing an
// interrupted mission: the event log, not the history column, is the
// source of truth.
func (r *Runner) Resume(missionID string) (*Resumption, error) {
	m, err := r.store.GetMission(missionID)
	if err != nil {
		return nil, err
	}

	history, pending, err := ReplayHistory(r.store, missionID)
	if err != nil {
		return nil, err
	}

	m.History = history
	if err := r.store.UpdateMission(m); err != nil {
		return nil, fmt.Errorf("persisting replayed history: %w", err)
	}

	return &Resumption{Mission: m, PendingMessage: pending}, nil
}

// ReplayHistory folds the event log into role/content turns. A user
// message directly followed (eventually) by an assistant message forms
// a completed exchange; a trailing unanswered user message is returned
// separately.
func ReplayHistory(st *store.Store, missionID string) ([]mission.Turn, string, error) {
	events, err := st.ListEvents(missionID, store.EventFilter{
		Types: []event.Type{event.TypeUserMessage, event.TypeAssistantMessage},
		Limit: 10000,
	})
	if err != nil {
		return nil, "", err
	}

	var history []mission.Turn
	pending := ""
	for _, ev := range events {
		switch ev.Type {
		case event.TypeUserMessage:
			if pending != "" {
				// Unanswered message: keep it in history so the
				// conversation reads in order.
				history = append(history, mission.Turn{Role: "user", Content: pending})
			}
			pending = ev.Content
		case event.TypeAssistantMessage:
			if pending != "" {
				history = append(history, mission.Turn{Role: "user", Content: pending})
				pending = ""
			}
			history = append(history, mission.Turn{Role: "assistant", Content: ev.Content})
		}
	}

	return history, pending, nil
}
