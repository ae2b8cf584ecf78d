package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a conversation minted by the backend. Sub-agent delegations run
// in child sessions whose ParentID points at the delegating session.
type Session struct {
	ID        uuid.UUID
	ParentID  *uuid.UUID
	StartedAt time.Time
}

// SessionLogRepository stores sessions and their ordered entries.
type SessionLogRepository interface {
	CreateSession(ctx context.Context, parentID *uuid.UUID) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	Append(ctx context.Context, sessionID uuid.UUID, data Payload, status Status) (Entry, error)
	SetStatus(ctx context.Context, entryID uuid.UUID, status Status) (Entry, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)
}
