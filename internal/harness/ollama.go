package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/hasanabuzayed/openagent/internal/event"
)

// ollamaHarness bridges a separately-running ollama server over its
// streaming chat API: a long-lived server-push channel instead of a
// subprocess. Tool calls arrive as native records in the stream.
type ollamaHarness struct {
	client *api.Client
	model  string
}

const ollamaDefault = "qwen3:latest"

// uiToolsJSON advertises the host-confirmed tools so the model can
// request them. Declared as JSON and decoded through the api types to
// stay independent of their internal struct layout.
const uiToolsJSON = `[{
	"type": "function",
	"function": {
		"name": "ui_optionList",
		"description": "Ask the user to pick one option from a list. Use when a decision needs human input.",
		"parameters": {
			"type": "object",
			"required": ["question", "options"],
			"properties": {
				"question": {"type": "string", "description": "The question to show the user"},
				"options": {"type": "array", "items": {"type": "string"}, "description": "The choices"}
			}
		}
	}
}]`

func NewOllama(host, model string) (Harness, error) {
	c, err := api.ClientFromEnvironment()
	if err != nil {
		if host == "" {
			host = "http://localhost:11434"
		}
		u, uerr := url.Parse(host)
		if uerr != nil {
			return nil, fmt.Errorf("ollama: bad host %q: %w", host, uerr)
		}
		c = api.NewClient(u, nil)
	}
	if strings.TrimSpace(model) == "" {
		model = ollamaDefault
	}
	return &ollamaHarness{client: c, model: model}, nil
}

func (p *ollamaHarness) ID() string { return "ollama" }

func (p *ollamaHarness) resolveModel(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return p.model
	}
	return m
}

func (p *ollamaHarness) RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc, confirm Confirmer) (TurnResult, error) {
	if p.client == nil {
		return TurnResult{}, ErrNotInitialized
	}

	var tools api.Tools
	if err := json.Unmarshal([]byte(uiToolsJSON), &tools); err != nil {
		return TurnResult{}, fmt.Errorf("ollama: bad tool declaration: %w", err)
	}

	messages := make([]api.Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages, api.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Message})

	model := p.resolveModel(req.Model)
	result := TurnResult{Model: model}
	stream := true

	// A turn may take several chat rounds when the model calls a
	// host-confirmed tool: the answer is fed back as a tool message on
	// the same turn, never a fresh turn.
	for {
		if err := ctx.Err(); err != nil {
			return TurnResult{}, err
		}

		var assistant api.Message
		var toolCalls []api.ToolCall

		chatReq := &api.ChatRequest{
			Model:    model,
			Messages: messages,
			Stream:   &stream,
			Tools:    tools,
		}

		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			// Cancellation is checked between streamed records.
			if err := ctx.Err(); err != nil {
				return err
			}
			if resp.Message.Thinking != "" {
				emit(event.New(event.TypeThinking, resp.Message.Thinking))
			}
			assistant.Role = "assistant"
			assistant.Content += resp.Message.Content
			toolCalls = append(toolCalls, resp.Message.ToolCalls...)
			if resp.Done {
				result.TokensIn += resp.Metrics.PromptEvalCount
				result.TokensOut += resp.Metrics.EvalCount
			}
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return TurnResult{}, ctxErr
			}
			return TurnResult{}, fmt.Errorf("ollama chat: %w", err)
		}

		if len(toolCalls) == 0 {
			result.Content = assistant.Content
			return result, nil
		}

		assistant.ToolCalls = toolCalls
		messages = append(messages, assistant)

		for _, tc := range toolCalls {
			callID := uuid.New().String()[:8]
			args := toolCallArgs(tc)
			name := tc.Function.Name

			emit(event.New(event.TypeToolCall, name).
				WithMeta("tool_call_id", callID).
				WithMeta("name", name).
				WithMeta("args", args))

			if !HostConfirmed(name) {
				// Nothing executes unknown tools server-side; tell the
				// model so it can carry on without the result.
				messages = append(messages, api.Message{
					Role:    "tool",
					Content: fmt.Sprintf("tool %q is not available", name),
				})
				continue
			}

			answer, err := confirm.Await(ctx, ToolCall{ID: callID, Name: name, Args: args})
			if err != nil {
				return TurnResult{}, err
			}
			emit(event.New(event.TypeToolResult, answer.Result).
				WithMeta("tool_call_id", callID).
				WithMeta("name", name))
			messages = append(messages, api.Message{Role: "tool", Content: answer.Result})
		}
	}
}

func toolCallArgs(tc api.ToolCall) map[string]any {
	raw, err := json.Marshal(tc.Function.Arguments)
	if err != nil {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}
