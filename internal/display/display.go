// Package display renders events and metrics for the attach console.
package display

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hasanabuzayed/openagent/internal/event"
	"github.com/hasanabuzayed/openagent/internal/metrics"
)

const maxInlineLength = 100

// FormatEvent renders one streamed event as a console line. Status
// snapshots and echoes of the user's own messages return "" and are
// not printed.
func FormatEvent(ev event.Event) string {
	switch ev.Type {
	case event.TypeThinking:
		return fmt.Sprintf("[thinking] %s", trimInline(ev.Content))
	case event.TypeToolCall:
		args := formatArgs(ev.Meta["args"])
		if args != "" {
			return fmt.Sprintf("[tool] %s %s", ev.MetaString("name"), args)
		}
		return fmt.Sprintf("[tool] %s", ev.MetaString("name"))
	case event.TypeToolResult:
		return fmt.Sprintf("[tool] %s -> %s", ev.MetaString("name"), trimInline(ev.Content))
	case event.TypeAssistantMessage:
		return ev.Content
	case event.TypeMissionStatus:
		return fmt.Sprintf("[mission %s is %s]", ev.MetaString("mission_id"), ev.Content)
	case event.TypeError:
		return fmt.Sprintf("[ERROR] %s", ev.Content)
	case event.TypeUserMessage, event.TypeStatus:
		return ""
	default:
		return fmt.Sprintf("[%s] %s", ev.Type, trimInline(ev.Content))
	}
}

// FormatToolPrompt renders a host-confirmed tool call as a question
// for the user.
func FormatToolPrompt(ev event.Event) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("The agent is asking via %s:\n", ev.MetaString("name")))
	if args := formatArgs(ev.Meta["args"]); args != "" {
		sb.WriteString("  " + args)
	}
	return sb.String()
}

func FormatTurnMetrics(tm *metrics.TurnMetrics) string {
	if tm == nil {
		return "No metrics available."
	}
	var sb strings.Builder
	sb.WriteString("Turn metrics:\n")
	sb.WriteString(fmt.Sprintf("- Total: %d ms  (success=%v)\n", tm.DurationMs, tm.Succeeded))
	if tm.Model != "" {
		sb.WriteString(fmt.Sprintf("- Model: %s\n", tm.Model))
	}
	sb.WriteString(fmt.Sprintf("- Tokens: %d in / %d out, cost %d cents, %d events",
		tm.TokensIn, tm.TokensOut, tm.CostCents, tm.Events))
	return sb.String()
}

func formatArgs(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return trimInline(fmt.Sprintf("%v", v))
	}
	return trimInline(string(b))
}

func trimInline(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > maxInlineLength {
		return s[:maxInlineLength] + "..."
	}
	return s
}
