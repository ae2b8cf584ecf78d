package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/chat"
	"github.com/roginn/towd-you-so/internal/domain"
)

const maxResult = 200

type styles struct {
	title  lipgloss.Style
	status lipgloss.Style
	notice lipgloss.Style
	input  lipgloss.Style
}

func defaultStyles() styles {
	accent := lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F2B8B5"}
	muted := lipgloss.AdaptiveColor{Light: "#5F5F5F", Dark: "#9E9E9E"}
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(accent),
		status: lipgloss.NewStyle().Foreground(muted),
		notice: lipgloss.NewStyle().Foreground(muted).Italic(true),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
	}
}

// formatHeader names the bound session and its channel state.
func formatHeader(v chat.View) string {
	var b strings.Builder
	b.WriteString("Tow'd You So")
	if v.SessionID != uuid.Nil {
		fmt.Fprintf(&b, "  session %s  [%s]", v.SessionID, v.State)
	} else {
		b.WriteString("  new chat")
	}
	if v.Debug {
		b.WriteString("  debug")
	}
	return b.String()
}

// formatTimeline lays out the projected entries with results nested under
// their calls, followed by the live buffers.
func formatTimeline(v chat.View) string {
	var b strings.Builder
	for _, e := range v.Entries {
		formatEntry(&b, e, v)
	}
	if v.ReasoningLive {
		fmt.Fprintf(&b, "  (thinking) %s\n", v.Reasoning)
	}
	if v.ContentLive {
		fmt.Fprintf(&b, "assistant: %s\n", v.Content)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// formatStatus is the line between the timeline and the prompt.
func formatStatus(v chat.View) string {
	var parts []string
	if v.Attachment != "" {
		parts = append(parts, "attached: "+v.Attachment+" (/discard to remove)")
	}
	if v.Awaiting {
		parts = append(parts, "waiting for the assistant...")
	}
	if len(parts) == 0 {
		return "/help for commands"
	}
	return strings.Join(parts, "  ")
}

func formatEntry(b *strings.Builder, e domain.Entry, v chat.View) {
	switch d := e.Data.(type) {
	case domain.UserMessage:
		fmt.Fprintf(b, "you: %s", d.Content)
		if d.FileID != "" {
			fmt.Fprintf(b, " [image %s]", d.FileID)
		}
		b.WriteString("\n")
	case domain.AssistantMessage:
		fmt.Fprintf(b, "assistant: %s\n", d.Content)
	case domain.Reasoning:
		fmt.Fprintf(b, "  . reasoning: %s\n", d.Content)
	case domain.ToolCall:
		fmt.Fprintf(b, "  . tool %s%s %s\n", d.ToolName, formatArgs(d.Arguments), statusTag(e))
		formatResult(b, e, v)
	case domain.SubAgentCall:
		fmt.Fprintf(b, "  . sub-agent %s %s\n", d.AgentName, statusTag(e))
		formatResult(b, e, v)
	}
}

func formatResult(b *strings.Builder, call domain.Entry, v chat.View) {
	res, ok := v.Results.Lookup(call)
	if !ok {
		return
	}
	var raw json.RawMessage
	switch d := res.Data.(type) {
	case domain.ToolResult:
		raw = d.Result
	case domain.SubAgentResult:
		raw = d.Result
	}
	fmt.Fprintf(b, "      -> %s\n", truncate(string(raw), maxResult))
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "()"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "(?)"
	}
	return "(" + string(raw) + ")"
}

// statusTag shows the call status; calls still in flight get a trailing
// ellipsis.
func statusTag(e domain.Entry) string {
	if e.Status == "" {
		return ""
	}
	tag := "[" + string(e.Status) + "]"
	if !e.Final() {
		tag += " ..."
	}
	return tag
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
