package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/logger"
)

// claudeCode bridges the Claude Code CLI in stream-json mode. The
// dialect differs from opencode: content arrives as blocks nested in
// assistant/user messages, and the completion record is type "result".
type claudeCode struct {
	bin      string
	launcher Launcher
}

func NewClaudeCode(bin string, launcher Launcher) Harness {
	if bin == "" {
		bin = "claude"
	}
	return &claudeCode{bin: bin, launcher: launcher}
}

func (c *claudeCode) ID() string { return "claude" }

type claudeRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Message   *struct {
		Model   string              `json:"model,omitempty"`
		Content []claudeContentBlock `json:"content"`
	} `json:"message,omitempty"`
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Usage        *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

type claudeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

func (c *claudeCode) RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc, confirm Confirmer) (TurnResult, error) {
	if c.launcher == nil {
		return TurnResult{}, ErrNotInitialized
	}

	argv := []string{
		c.bin, "-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.Model != "" {
		argv = append(argv, "--model", req.Model)
	}
	if req.Agent != "" {
		argv = append(argv, "--agent", req.Agent)
	}

	cmd, err := c.launcher.Command(ctx, req.WorkspaceID, argv...)
	if err != nil {
		return TurnResult{}, err
	}

	turn, err := startSubprocessTurn(cmd, emit)
	if err != nil {
		return TurnResult{}, err
	}

	if err := turn.send(claudeUserMessage(transcript(req.History, req.Message))); err != nil {
		turn.kill()
		return TurnResult{}, err
	}

	var result TurnResult

	handle := func(raw json.RawMessage) (bool, error) {
		var rec claudeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			emit(event.New(event.TypeError, fmt.Sprintf("malformed harness record: %v", err)))
			return false, nil
		}

		switch rec.Type {
		case "system":
			if rec.Subtype == "init" {
				result.Model = rec.Model
				logger.Log.Printf("[Harness] claude session %s (model %s)", rec.SessionID, rec.Model)
			}

		case "assistant":
			if rec.Message == nil {
				return false, nil
			}
			if rec.Message.Model != "" {
				result.Model = rec.Message.Model
			}
			for _, block := range rec.Message.Content {
				switch block.Type {
				case "thinking":
					emit(event.New(event.TypeThinking, block.Thinking))
				case "text":
					// Intermediate text; the final answer arrives in
					// the result record.
				case "tool_use":
					emit(event.New(event.TypeToolCall, block.Name).
						WithMeta("tool_call_id", block.ID).
						WithMeta("name", block.Name).
						WithMeta("args", block.Input))

					if HostConfirmed(block.Name) {
						answer, err := confirm.Await(ctx, ToolCall{ID: block.ID, Name: block.Name, Args: block.Input})
						if err != nil {
							return false, err
						}
						if err := turn.send(claudeToolResult(answer)); err != nil {
							return false, err
						}
						emit(event.New(event.TypeToolResult, answer.Result).
							WithMeta("tool_call_id", answer.ToolCallID).
							WithMeta("name", answer.Name))
					}
				}
			}

		case "user":
			if rec.Message == nil {
				return false, nil
			}
			for _, block := range rec.Message.Content {
				if block.Type == "tool_result" {
					emit(event.New(event.TypeToolResult, string(block.Content)).
						WithMeta("tool_call_id", block.ToolUseID))
				}
			}

		case "result":
			result.Content = rec.Result
			result.CostCents = int64(math.Round(rec.TotalCostUSD * 100))
			if rec.Usage != nil {
				result.TokensIn = rec.Usage.InputTokens
				result.TokensOut = rec.Usage.OutputTokens
			}
			if rec.IsError {
				return false, fmt.Errorf("harness reported turn failure: %s", rec.Result)
			}
			return true, nil

		default:
			logger.Log.Printf("[Harness] claude: ignoring record kind %q", rec.Type)
		}
		return false, nil
	}

	if err := turn.run(ctx, handle); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

func claudeUserMessage(text string) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
}

func claudeToolResult(answer ToolResult) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{
					"type":        "tool_result",
					"tool_use_id": answer.ToolCallID,
					"content":     answer.Result,
				},
			},
		},
	}
}
