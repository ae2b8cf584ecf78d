package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/domain"
)

// DataStore abstracts the repository accessors for handler testing.
// *memory.Store satisfies this interface.
type DataStore interface {
	Sessions() domain.SessionLogRepository
	Files() domain.FileRepository
}

// MessageHandler accepts a user message for a session and runs the
// assistant turn. *agent.Orchestrator satisfies this interface.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sessionID uuid.UUID, msg domain.UserMessage) error
}
