package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hasanabuzayed/openagent/internal/event"
)

// client talks to a running control plane over its HTTP surface.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) PostMessage(content, model string) (id string, queued bool, err error) {
	var out struct {
		ID     string `json:"id"`
		Queued bool   `json:"queued"`
	}
	err = c.post("/api/message", map[string]string{"content": content, "model": model}, &out)
	return out.ID, out.Queued, err
}

func (c *client) PostToolResult(toolCallID, result string) error {
	return c.post("/api/tool_result", map[string]string{
		"tool_call_id": toolCallID,
		"result":       result,
	}, nil)
}

func (c *client) Cancel() error {
	return c.post("/api/cancel", nil, nil)
}

func (c *client) Status() (map[string]any, error) {
	resp, err := c.http.Get(c.base + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) post(path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	resp, err := c.http.Post(c.base+path, "application/json", reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Err string `json:"err"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Err != "" {
			return fmt.Errorf("%s", apiErr.Err)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Stream consumes the SSE event stream and hands each decoded event
// to fn. It blocks until the context ends or the server closes the
// stream. The streaming client carries no timeout.
func (c *client) Stream(ctx context.Context, fn func(event.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
