package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hasanabuzayed/openagent/internal/console"
	"github.com/hasanabuzayed/openagent/internal/display"
	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/harness"
)

var attachAddr string

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach a terminal console to a running control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := console.Init(); err != nil {
			return fmt.Errorf("could not init terminal input: %w", err)
		}
		defer console.Close()

		api := newClient(attachAddr)
		a := &attachment{api: api}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			err := api.Stream(ctx, a.handleEvent)
			if err != nil && ctx.Err() == nil {
				console.AsyncPrintln(fmt.Sprintf("[stream closed: %v]", err))
			}
		}()

		console.AsyncPrintln("Attached. Type a message, /cancel, /status or /quit.")
		return a.inputLoop()
	},
}

// attachment is the console side of one attach session. Input has a
// single owner, the input loop; the stream goroutine only prints and
// flags pending tool calls for the loop to answer.
type attachment struct {
	api *client

	mu          sync.Mutex
	pendingTool string
}

func (a *attachment) inputLoop() error {
	for {
		input := console.GetInput()
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "exit":
			fmt.Println("Goodbye!")
			return nil
		case input == "/cancel":
			a.setPendingTool("")
			if err := a.api.Cancel(); err != nil {
				console.AsyncPrintln(fmt.Sprintf("[cancel failed: %v]", err))
			}
		case input == "/status":
			st, err := a.api.Status()
			if err != nil {
				console.AsyncPrintln(fmt.Sprintf("[status failed: %v]", err))
				continue
			}
			console.AsyncPrintln(fmt.Sprintf("[%v, queue=%v, mission=%v]",
				st["state"], st["queue_len"], st["mission_id"]))
		case strings.HasPrefix(input, "/"):
			console.AsyncPrintln("Unknown command " + input)
		default:
			a.submit(input)
		}
	}
}

// submit routes a typed line: the answer to the pending tool call if
// one is waiting, a fresh user message otherwise.
func (a *attachment) submit(input string) {
	a.mu.Lock()
	toolCallID := a.pendingTool
	a.pendingTool = ""
	a.mu.Unlock()

	if toolCallID != "" {
		console.SetPrompt("> ")
		if err := a.api.PostToolResult(toolCallID, input); err != nil {
			console.AsyncPrintln(fmt.Sprintf("[tool answer failed: %v]", err))
		}
		return
	}

	id, queued, err := a.api.PostMessage(input, "")
	if err != nil {
		console.AsyncPrintln(fmt.Sprintf("[send failed: %v]", err))
		return
	}
	if queued {
		console.AsyncPrintln(fmt.Sprintf("[message %s queued]", id))
	}
}

func (a *attachment) handleEvent(ev event.Event) {
	if ev.Type == event.TypeToolCall && harness.HostConfirmed(ev.MetaString("name")) {
		console.AsyncPrintln(display.FormatToolPrompt(ev))
		a.setPendingTool(ev.MetaString("tool_call_id"))
		console.SetPrompt("answer > ")
		return
	}
	if line := display.FormatEvent(ev); line != "" {
		console.AsyncPrintln(line)
	}
}

func (a *attachment) setPendingTool(id string) {
	a.mu.Lock()
	a.pendingTool = id
	a.mu.Unlock()
	if id == "" {
		console.SetPrompt("> ")
	}
}

func init() {
	attachCmd.Flags().StringVar(&attachAddr, "addr", "http://localhost:8321", "control plane address")
	rootCmd.AddCommand(attachCmd)
}
