package v1_test

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/domain"
)

var errStoreDown = errors.New("store down") //nolint:gochecknoglobals // test sentinel

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions domain.SessionLogRepository
	files    domain.FileRepository
}

func (m *mockDataStore) Sessions() domain.SessionLogRepository { return m.sessions }
func (m *mockDataStore) Files() domain.FileRepository          { return m.files }

// ---------------------------------------------------------------------------
// Failing SessionLogRepository
// ---------------------------------------------------------------------------

// brokenSessions fails every call with errStoreDown.
type brokenSessions struct{}

func (brokenSessions) CreateSession(context.Context, *uuid.UUID) (*domain.Session, error) {
	return nil, errStoreDown
}

func (brokenSessions) GetSession(context.Context, uuid.UUID) (*domain.Session, error) {
	return nil, errStoreDown
}

func (brokenSessions) Append(context.Context, uuid.UUID, domain.Payload, domain.Status) (domain.Entry, error) {
	return domain.Entry{}, errStoreDown
}

func (brokenSessions) SetStatus(context.Context, uuid.UUID, domain.Status) (domain.Entry, error) {
	return domain.Entry{}, errStoreDown
}

func (brokenSessions) ListBySession(context.Context, uuid.UUID) ([]domain.Entry, error) {
	return nil, errStoreDown
}

// ---------------------------------------------------------------------------
// Failing FileRepository
// ---------------------------------------------------------------------------

// brokenFiles fails every call with errStoreDown.
type brokenFiles struct{}

func (brokenFiles) Save(context.Context, string, string, []byte) (domain.File, error) {
	return domain.File{}, errStoreDown
}

func (brokenFiles) Get(context.Context, string) (domain.File, error) {
	return domain.File{}, errStoreDown
}
