package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound       = errors.New("domain: not found")
	ErrUnknownKind    = errors.New("domain: unknown entry kind")
	ErrMalformedFrame = errors.New("domain: malformed frame")
)

// Conversation failures. Each one is surfaced to the user as a synthetic
// assistant message; none of them is retried automatically.
var (
	ErrUploadFailed        = errors.New("upload failed")
	ErrSessionCreateFailed = errors.New("session create failed")
	ErrChannelNotOpen      = errors.New("channel not open")
	ErrChannelError        = errors.New("channel error")
	ErrAwaitingReply       = errors.New("awaiting reply")
	ErrEmptyMessage        = errors.New("empty message")
)

// UploadError describes a failed attachment upload. Status is the HTTP
// status code, or zero when the request never got a response.
type UploadError struct {
	Status int
	Reason string
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload failed: status %d: %s", e.Status, e.Reason)
	}
	return "upload failed: " + e.Reason
}

func (e *UploadError) Unwrap() error { return ErrUploadFailed }
