package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/domain"
)

// SessionLogRepo implements domain.SessionLogRepository in memory. Entries
// are kept in append order per session.
type SessionLogRepo struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.Session
	order    map[uuid.UUID][]uuid.UUID
	entries  map[uuid.UUID]domain.Entry
}

func NewSessionLogRepo(now func() time.Time) *SessionLogRepo {
	return &SessionLogRepo{
		now:      now,
		sessions: make(map[uuid.UUID]*domain.Session),
		order:    make(map[uuid.UUID][]uuid.UUID),
		entries:  make(map[uuid.UUID]domain.Entry),
	}
}

func (r *SessionLogRepo) CreateSession(_ context.Context, parentID *uuid.UUID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parentID != nil {
		if _, ok := r.sessions[*parentID]; !ok {
			return nil, fmt.Errorf("sessionLogRepo.CreateSession: parent %s: %w", parentID, domain.ErrNotFound)
		}
	}

	s := &domain.Session{ID: uuid.New(), ParentID: parentID, StartedAt: r.now()}
	r.sessions[s.ID] = s

	out := *s
	return &out, nil
}

func (r *SessionLogRepo) GetSession(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("sessionLogRepo.GetSession: %w", domain.ErrNotFound)
	}
	out := *s
	return &out, nil
}

func (r *SessionLogRepo) Append(_ context.Context, sessionID uuid.UUID, data domain.Payload, status domain.Status) (domain.Entry, error) {
	if data == nil {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: nil payload")
	}
	if status != "" && !status.Valid() {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: invalid status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: session %s: %w", sessionID, domain.ErrNotFound)
	}

	e := domain.NewEntry(uuid.New(), sessionID, data, r.now())
	e.Status = status
	r.entries[e.ID] = e
	r.order[sessionID] = append(r.order[sessionID], e.ID)
	return e, nil
}

func (r *SessionLogRepo) SetStatus(_ context.Context, entryID uuid.UUID, status domain.Status) (domain.Entry, error) {
	if !status.Valid() {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.SetStatus: invalid status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[entryID]
	if !ok {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.SetStatus: %w", domain.ErrNotFound)
	}
	e.Status = status
	r.entries[entryID] = e
	return e, nil
}

// ListBySession returns the session's entries in append order. An existing
// session with no entries yields an empty, non-nil slice.
func (r *SessionLogRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("sessionLogRepo.ListBySession: %w", domain.ErrNotFound)
	}

	ids := r.order[sessionID]
	out := make([]domain.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.entries[id])
	}
	return out, nil
}
