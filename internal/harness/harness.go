// Package harness normalizes the wire protocols of agent-execution
// backends into one internal event stream. Each backend family gets one
// bridge implementation; nothing above this package knows a backend's
// native record shapes.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/mission"
)

var (
	ErrNotInitialized = errors.New("harness: backend not initialized")

	// ErrUnknownBackend is a configuration error: it is returned
	// synchronously, before any process is spawned.
	ErrUnknownBackend = errors.New("harness: unknown backend id")
)

// TurnRequest is one request/response turn against a backend.
type TurnRequest struct {
	MissionID   string
	WorkspaceID string
	History     []mission.Turn
	Message     string
	Model       string // optional override; backend resolves the default
	Agent       string // optional agent definition name
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	Content   string
	Model     string
	CostCents int64
	TokensIn  int
	TokensOut int
}

// EmitFunc receives normalized events as the bridge produces them.
// Bridges call it in protocol order; callers own persistence.
type EmitFunc func(ev event.Event)

// ToolCall is a host-confirmed tool request surfaced mid-turn.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	ToolCallID string
	Name       string
	Result     string
}

// Confirmer arbitrates host-side tool confirmations. Await blocks the
// bridge until an answer arrives or the turn is cancelled.
type Confirmer interface {
	Await(ctx context.Context, call ToolCall) (ToolResult, error)
}

// Launcher prepares a command for execution inside a workspace. The
// workspace layer implements it; subprocess bridges use it to spawn
// the backend in the right environment.
type Launcher interface {
	Command(ctx context.Context, workspaceID string, argv ...string) (*exec.Cmd, error)
}

// Harness is one backend family's bridge: it speaks the backend's
// native protocol for exactly one turn and translates everything it
// hears into normalized events.
//
// RunTurn returns an error only for failures that invalidate the whole
// turn (process exited, transport closed, cancellation). Locally
// recoverable failures, such as a single malformed record, become
// error events and parsing continues.
type Harness interface {
	ID() string
	RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc, confirm Confirmer) (TurnResult, error)
}

// HostConfirmed reports whether a tool name signals a host-side (human
// or UI) decision. The ui_ prefix is the convention shared by all
// backends (ui_optionList, ui_confirm, ...).
func HostConfirmed(toolName string) bool {
	return strings.HasPrefix(toolName, "ui_")
}

// Registry resolves backend ids to bridges.
type Registry struct {
	backends map[string]Harness
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Harness)}
}

func (r *Registry) Register(h Harness) {
	if _, dup := r.backends[h.ID()]; !dup {
		r.order = append(r.order, h.ID())
	}
	r.backends[h.ID()] = h
}

func (r *Registry) Resolve(id string) (Harness, error) {
	h, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return h, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// transcript flattens history plus the new message into a plain prompt
// for backends that take a single prompt string.
func transcript(history []mission.Turn, message string) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("user: ")
	sb.WriteString(message)
	return sb.String()
}
