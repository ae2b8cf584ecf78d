package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FrameType discriminates push-channel frames.
type FrameType string

const (
	FrameReasoningDelta FrameType = "reasoning_delta"
	FrameContentDelta   FrameType = "content_delta"
	FrameEntry          FrameType = "entry"
	FrameStatus         FrameType = "status"
	FrameTurnComplete   FrameType = "turn_complete"
)

// Frame is one inbound message on the push channel.
type Frame struct {
	Type    FrameType  `json:"type"`
	Text    string     `json:"text,omitempty"`
	Entry   *Entry     `json:"entry,omitempty"`
	EntryID *uuid.UUID `json:"entry_id,omitempty"`
	Status  Status     `json:"status,omitempty"`
}

func ReasoningDeltaFrame(text string) Frame {
	return Frame{Type: FrameReasoningDelta, Text: text}
}

func ContentDeltaFrame(text string) Frame {
	return Frame{Type: FrameContentDelta, Text: text}
}

func EntryFrame(e Entry) Frame {
	return Frame{Type: FrameEntry, Entry: &e}
}

func StatusFrame(entryID uuid.UUID, status Status) Frame {
	return Frame{Type: FrameStatus, EntryID: &entryID, Status: status}
}

func TurnCompleteFrame() Frame {
	return Frame{Type: FrameTurnComplete}
}

// ParseFrame decodes a frame. Frames with an unrecognized type decode
// without error; callers ignore them. Known types missing their required
// fields are rejected with ErrMalformedFrame.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("domain.ParseFrame: %w: %w", ErrMalformedFrame, err)
	}

	switch f.Type {
	case FrameEntry:
		if f.Entry == nil {
			return Frame{}, fmt.Errorf("domain.ParseFrame: entry frame without entry: %w", ErrMalformedFrame)
		}
	case FrameStatus:
		if f.EntryID == nil || !f.Status.Valid() {
			return Frame{}, fmt.Errorf("domain.ParseFrame: status frame without entry_id or status: %w", ErrMalformedFrame)
		}
	}
	return f, nil
}

// Outbound is the single frame type the client sends on the push channel.
type Outbound struct {
	Content string `json:"content"`
	FileID  string `json:"file_id,omitempty"`
}

// FileRef identifies an uploaded file on the backend.
type FileRef struct {
	FileID string `json:"file_id"`
	URL    string `json:"url,omitempty"`
}
