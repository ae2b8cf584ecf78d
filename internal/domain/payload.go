package domain

import (
	"encoding/json"
	"fmt"
)

// Payload is the kind-specific data of an Entry. Each concrete type reports
// the kind it belongs to.
type Payload interface {
	Kind() Kind
}

type UserMessage struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

type AssistantMessage struct {
	Content string `json:"content"`
}

type ToolCall struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type ToolResult struct {
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

type Reasoning struct {
	Content string `json:"content"`
}

// SubAgentCall records a delegation to a child agent session. Older backends
// pair sub-agent entries by call_id only; CorrelationKey falls back to it.
type SubAgentCall struct {
	ChildSessionID string `json:"child_session_id,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	AgentName      string `json:"agent_name"`
}

type SubAgentResult struct {
	ChildSessionID string          `json:"child_session_id,omitempty"`
	CallID         string          `json:"call_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
}

func (UserMessage) Kind() Kind      { return KindUserMessage }
func (AssistantMessage) Kind() Kind { return KindAssistantMessage }
func (ToolCall) Kind() Kind         { return KindToolCall }
func (ToolResult) Kind() Kind       { return KindToolResult }
func (Reasoning) Kind() Kind        { return KindReasoning }
func (SubAgentCall) Kind() Kind     { return KindSubAgentCall }
func (SubAgentResult) Kind() Kind   { return KindSubAgentResult }

// CorrelationKey returns the key pairing this call with its result.
func (c SubAgentCall) CorrelationKey() string {
	if c.ChildSessionID != "" {
		return c.ChildSessionID
	}
	return c.CallID
}

// CorrelationKey returns the key pairing this result with its call.
func (r SubAgentResult) CorrelationKey() string {
	if r.ChildSessionID != "" {
		return r.ChildSessionID
	}
	return r.CallID
}

// DecodePayload decodes raw into the payload type for kind. A null or empty
// raw value yields the zero payload.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindUserMessage:
		return decodeInto[UserMessage](raw)
	case KindAssistantMessage:
		return decodeInto[AssistantMessage](raw)
	case KindToolCall:
		return decodeInto[ToolCall](raw)
	case KindToolResult:
		return decodeInto[ToolResult](raw)
	case KindReasoning:
		return decodeInto[Reasoning](raw)
	case KindSubAgentCall:
		return decodeInto[SubAgentCall](raw)
	case KindSubAgentResult:
		return decodeInto[SubAgentResult](raw)
	default:
		return nil, fmt.Errorf("kind %q: %w", kind, ErrUnknownKind)
	}
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", v.Kind(), err)
	}
	return v, nil
}
