package harness

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/hasanabuzayed/openagent/internal/event"
)

// geminiHarness bridges the Gemini streaming API. Text-only: no tool
// loop, so turns are a single streamed request.
type geminiHarness struct {
	client *genai.Client
	model  string
}

const geminiDefault = "gemini-2.0-flash"

func NewGemini(ctx context.Context, apiKey, model string) (Harness, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is not set")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}
	// A shared default model setting may name another backend's model;
	// only gemini models apply here.
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gemini-") {
		model = geminiDefault
	}
	return &geminiHarness{client: c, model: model}, nil
}

func (p *geminiHarness) ID() string { return "gemini" }

func (p *geminiHarness) resolveModel(model string) string {
	m := strings.TrimSpace(model)
	if m == "" {
		return p.model
	}
	if !strings.HasPrefix(strings.ToLower(m), "gemini-") {
		return p.model
	}
	return m
}

func (p *geminiHarness) RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc, confirm Confirmer) (TurnResult, error) {
	if p.client == nil {
		return TurnResult{}, ErrNotInitialized
	}

	model := p.resolveModel(req.Model)
	prompt := transcript(req.History, req.Message)

	var sb strings.Builder
	for chunk, err := range p.client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), nil) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return TurnResult{}, ctxErr
			}
			return TurnResult{}, fmt.Errorf("gemini stream: %w", err)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Thought {
				emit(event.New(event.TypeThinking, part.Text))
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		return TurnResult{}, fmt.Errorf("gemini: empty response")
	}
	return TurnResult{Content: sb.String(), Model: model}, nil
}
