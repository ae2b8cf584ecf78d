package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by an Entry.
type Kind string

const (
	KindUserMessage      Kind = "user_message"
	KindAssistantMessage Kind = "assistant_message"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindReasoning        Kind = "reasoning"
	KindSubAgentCall     Kind = "sub_agent_call"
	KindSubAgentResult   Kind = "sub_agent_result"
)

// Kinds lists every entry kind in declaration order.
var Kinds = []Kind{ //nolint:gochecknoglobals // fixed enumeration
	KindUserMessage,
	KindAssistantMessage,
	KindToolCall,
	KindToolResult,
	KindReasoning,
	KindSubAgentCall,
	KindSubAgentResult,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// IsMessage reports whether entries of this kind are chat messages, which are
// always visible. Every other kind is an event, visible in debug mode only.
func (k Kind) IsMessage() bool {
	return k == KindUserMessage || k == KindAssistantMessage
}

// IsResult reports whether k is the result half of a call/result pair.
func (k Kind) IsResult() bool {
	return k == KindToolResult || k == KindSubAgentResult
}

// IsCall reports whether k is the call half of a call/result pair.
func (k Kind) IsCall() bool {
	return k == KindToolCall || k == KindSubAgentCall
}

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status. The empty status is not valid;
// on an entry it means "final".
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Entry is one record in a session's log. ID and SessionID never change once
// assigned; Status may be patched in place.
type Entry struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Kind      Kind
	Data      Payload
	CreatedAt time.Time
	Status    Status // empty when the entry carries no status (implicitly final)
}

// NewEntry builds an entry whose Kind matches the payload.
func NewEntry(id, sessionID uuid.UUID, data Payload, createdAt time.Time) Entry {
	return Entry{
		ID:        id,
		SessionID: sessionID,
		Kind:      data.Kind(),
		Data:      data,
		CreatedAt: createdAt,
	}
}

// Final reports whether the entry has reached a terminal state.
func (e Entry) Final() bool {
	return e.Status == "" || e.Status == StatusDone || e.Status == StatusFailed
}

// Text returns the textual content of message and reasoning entries.
func (e Entry) Text() string {
	switch d := e.Data.(type) {
	case UserMessage:
		return d.Content
	case AssistantMessage:
		return d.Content
	case Reasoning:
		return d.Content
	default:
		return ""
	}
}

// wireEntry is the JSON shape exchanged with the backend.
type wireEntry struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
	Status    *Status         `json:"status,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("domain.Entry.MarshalJSON: %w", err)
		}
		data = raw
	} else {
		data = json.RawMessage("{}")
	}

	w := wireEntry{
		ID:        e.ID,
		SessionID: e.SessionID,
		Kind:      e.Kind,
		Data:      data,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.Status != "" {
		s := e.Status
		w.Status = &s
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Unknown kinds are rejected so a
// malformed frame never reaches the log.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var w wireEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("domain.Entry.UnmarshalJSON: %w", err)
	}
	if w.ID == uuid.Nil {
		return fmt.Errorf("domain.Entry.UnmarshalJSON: missing id")
	}

	data, err := DecodePayload(w.Kind, w.Data)
	if err != nil {
		return fmt.Errorf("domain.Entry.UnmarshalJSON: %w", err)
	}

	createdAt, err := ParseTimestamp(w.CreatedAt)
	if err != nil {
		return fmt.Errorf("domain.Entry.UnmarshalJSON: %w", err)
	}

	*e = Entry{
		ID:        w.ID,
		SessionID: w.SessionID,
		Kind:      w.Kind,
		Data:      data,
		CreatedAt: createdAt,
	}
	if w.Status != nil {
		e.Status = *w.Status
	}
	return nil
}

// timestampLayouts are tried in order. The backend emits naive ISO-8601
// timestamps in UTC, so layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{ //nolint:gochecknoglobals // parse table
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a created_at value. An empty string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q", s)
}
