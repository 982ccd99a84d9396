// Package event defines the normalized event vocabulary shared by the
// harness bridges, the mission runner and the control surface. Every
// harness dialect is translated into these types exactly once, at the
// bridge; everything above the bridge is backend-agnostic.
package event

import (
	"encoding/json"
	"time"
)

// Type classifies mission events.
type Type string

const (
	// TypeUserMessage is a message posted by the user into a mission.
	TypeUserMessage Type = "user_message"

	// TypeThinking is a reasoning fragment streamed by the harness.
	TypeThinking Type = "thinking"

	// TypeToolCall is a tool invocation requested by the harness.
	TypeToolCall Type = "tool_call"

	// TypeToolResult is the outcome of a tool invocation.
	TypeToolResult Type = "tool_result"

	// TypeAssistantMessage is the harness's answer closing a turn.
	TypeAssistantMessage Type = "assistant_message"

	// TypeMissionStatus records a mission status transition.
	TypeMissionStatus Type = "mission_status_changed"

	// TypeError is a recoverable or turn-ending failure.
	TypeError Type = "error"

	// TypeStatus reports slot run-state and queue length. Stream-only:
	// never persisted, since it describes the slot rather than the
	// mission.
	TypeStatus Type = "status"
)

// Event is a single normalized occurrence within a mission turn.
// Bridges produce these; the runner persists them; the control session
// broadcasts them.
type Event struct {
	Type      Type           `json:"type"`
	MissionID string         `json:"mission_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// New builds an event stamped with the current time.
func New(t Type, content string) Event {
	return Event{Type: t, Timestamp: time.Now(), Content: content}
}

// WithMeta returns a copy of the event with one metadata key set.
func (e Event) WithMeta(key string, value any) Event {
	meta := make(map[string]any, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

// MetaString reads a string metadata field, tolerating absence.
func (e Event) MetaString(key string) string {
	if e.Meta == nil {
		return ""
	}
	s, _ := e.Meta[key].(string)
	return s
}

// Stored is the durable form of an Event: the append-only record
// missions are rehydrated from. Sequence numbers are per mission,
// gapless, and start at 1.
type Stored struct {
	ID        int64          `json:"id"`
	MissionID string         `json:"mission_id"`
	Sequence  int64          `json:"sequence"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Persistable reports whether events of this type belong in the durable
// log. Slot status snapshots are reconstructible and stay out of it.
func (t Type) Persistable() bool {
	return t != TypeStatus
}

// EncodeMeta serializes metadata for storage. Nil maps become NULL-ish
// empty strings so the events table stays compact.
func EncodeMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMeta is the inverse of EncodeMeta.
func DecodeMeta(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
