package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roginn/towd-you-so/internal/domain"
)

const entryColumns = `id, session_id, kind, data, status, created_at`

type SessionLogRepo struct {
	pool *pgxpool.Pool
}

func NewSessionLogRepo(pool *pgxpool.Pool) *SessionLogRepo {
	return &SessionLogRepo{pool: pool}
}

func (r *SessionLogRepo) CreateSession(ctx context.Context, parentID *uuid.UUID) (*domain.Session, error) {
	s := &domain.Session{ID: uuid.New(), ParentID: parentID, StartedAt: time.Now().UTC()}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (id, parent_id, started_at) VALUES ($1, $2, $3)`,
		s.ID, s.ParentID, s.StartedAt,
	)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("sessionLogRepo.CreateSession: parent %s: %w", parentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionLogRepo.CreateSession: %w", err)
	}

	return s, nil
}

func (r *SessionLogRepo) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var s domain.Session

	err := r.pool.QueryRow(ctx,
		`SELECT id, parent_id, started_at FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.ParentID, &s.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionLogRepo.GetSession: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionLogRepo.GetSession: %w", err)
	}

	return &s, nil
}

func (r *SessionLogRepo) Append(ctx context.Context, sessionID uuid.UUID, data domain.Payload, status domain.Status) (domain.Entry, error) {
	if data == nil {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: nil payload")
	}
	if status != "" && !status.Valid() {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: invalid status %q", status)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: marshal: %w", err)
	}

	e := domain.NewEntry(uuid.New(), sessionID, data, time.Now().UTC())
	e.Status = status

	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_entries (id, session_id, kind, data, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.SessionID, string(e.Kind), raw, nullableStatus(status), e.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.Append: %w", err)
	}

	return e, nil
}

func (r *SessionLogRepo) SetStatus(ctx context.Context, entryID uuid.UUID, status domain.Status) (domain.Entry, error) {
	if !status.Valid() {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.SetStatus: invalid status %q", status)
	}

	row := r.pool.QueryRow(ctx,
		`UPDATE session_entries SET status = $1 WHERE id = $2 RETURNING `+entryColumns,
		string(status), entryID,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.SetStatus: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Entry{}, fmt.Errorf("sessionLogRepo.SetStatus: %w", err)
	}

	return e, nil
}

// ListBySession returns the session's entries in append order. An existing
// session with no entries yields an empty, non-nil slice.
func (r *SessionLogRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Entry, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("sessionLogRepo.ListBySession: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM session_entries WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionLogRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.Entry, 0)
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sessionLogRepo.ListBySession: scan: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionLogRepo.ListBySession: rows: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (domain.Entry, error) {
	var (
		e      domain.Entry
		kind   string
		raw    []byte
		status *string
	)

	if err := row.Scan(&e.ID, &e.SessionID, &kind, &raw, &status, &e.CreatedAt); err != nil {
		return domain.Entry{}, err
	}

	e.Kind = domain.Kind(kind)
	data, err := domain.DecodePayload(e.Kind, raw)
	if err != nil {
		return domain.Entry{}, err
	}
	e.Data = data
	if status != nil {
		e.Status = domain.Status(*status)
	}

	return e, nil
}

func nullableStatus(s domain.Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}
