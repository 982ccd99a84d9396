package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/logger"
)

// openCode bridges an OpenCode-style CLI backend: a subprocess speaking
// newline-delimited JSON on stdin/stdout. Record kinds: init, thinking,
// tool_call, tool_result, assistant, done.
type openCode struct {
	bin      string
	launcher Launcher
}

func NewOpenCode(bin string, launcher Launcher) Harness {
	if bin == "" {
		bin = "opencode"
	}
	return &openCode{bin: bin, launcher: launcher}
}

func (o *openCode) ID() string { return "opencode" }

// openCodeRecord is the union of all record kinds the backend emits.
type openCodeRecord struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	Text      string          `json:"text,omitempty"`
	Done      bool            `json:"done,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Args      map[string]any  `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	CostCents int64           `json:"cost_cents,omitempty"`
	TokensIn  int             `json:"tokens_in,omitempty"`
	TokensOut int             `json:"tokens_out,omitempty"`
}

func (o *openCode) RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc, confirm Confirmer) (TurnResult, error) {
	if o.launcher == nil {
		return TurnResult{}, ErrNotInitialized
	}

	argv := []string{o.bin, "run", "--format", "ndjson"}
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	if req.Agent != "" {
		argv = append(argv, "--agent", req.Agent)
	}

	cmd, err := o.launcher.Command(ctx, req.WorkspaceID, argv...)
	if err != nil {
		return TurnResult{}, err
	}

	turn, err := startSubprocessTurn(cmd, emit)
	if err != nil {
		return TurnResult{}, err
	}

	if err := turn.send(map[string]any{
		"type": "user",
		"text": transcript(req.History, req.Message),
	}); err != nil {
		turn.kill()
		return TurnResult{}, err
	}

	var result TurnResult
	var finalText string

	handle := func(raw json.RawMessage) (bool, error) {
		var rec openCodeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			emit(event.New(event.TypeError, fmt.Sprintf("malformed harness record: %v", err)))
			return false, nil
		}

		switch rec.Type {
		case "init":
			result.Model = rec.Model
			logger.Log.Printf("[Harness] opencode session %s (model %s)", rec.SessionID, rec.Model)

		case "thinking":
			emit(event.New(event.TypeThinking, rec.Text).WithMeta("done", rec.Done))

		case "tool_call":
			ev := event.New(event.TypeToolCall, rec.Name).
				WithMeta("tool_call_id", rec.ID).
				WithMeta("name", rec.Name).
				WithMeta("args", rec.Args)
			emit(ev)

			if HostConfirmed(rec.Name) {
				answer, err := confirm.Await(ctx, ToolCall{ID: rec.ID, Name: rec.Name, Args: rec.Args})
				if err != nil {
					return false, err
				}
				// Resume the same process: the answer goes straight
				// back into the child's stdin.
				if err := turn.send(map[string]any{
					"type":   "tool_result",
					"id":     answer.ToolCallID,
					"name":   answer.Name,
					"result": answer.Result,
				}); err != nil {
					return false, err
				}
				emit(event.New(event.TypeToolResult, answer.Result).
					WithMeta("tool_call_id", answer.ToolCallID).
					WithMeta("name", answer.Name))
			}

		case "tool_result":
			emit(event.New(event.TypeToolResult, string(rec.Result)).
				WithMeta("tool_call_id", rec.ID).
				WithMeta("name", rec.Name))

		case "assistant":
			finalText = rec.Text

		case "done":
			if rec.Model != "" {
				result.Model = rec.Model
			}
			result.CostCents = rec.CostCents
			result.TokensIn = rec.TokensIn
			result.TokensOut = rec.TokensOut
			if rec.Success != nil && !*rec.Success {
				return false, fmt.Errorf("harness reported turn failure")
			}
			return true, nil

		default:
			// Unknown-but-wellformed kinds are forward compatible.
			logger.Log.Printf("[Harness] opencode: ignoring record kind %q", rec.Type)
		}
		return false, nil
	}

	if err := turn.run(ctx, handle); err != nil {
		return TurnResult{}, err
	}

	result.Content = finalText
	return result, nil
}
