package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roginn/towd-you-so/internal/domain"
)

type FileRepo struct {
	pool *pgxpool.Pool
}

func NewFileRepo(pool *pgxpool.Pool) *FileRepo {
	return &FileRepo{pool: pool}
}

func (r *FileRepo) Save(ctx context.Context, name, contentType string, data []byte) (domain.File, error) {
	if len(data) == 0 {
		return domain.File{}, fmt.Errorf("fileRepo.Save: empty file")
	}

	f := domain.File{
		ID:          uuid.NewString() + strings.ToLower(filepath.Ext(name)),
		Name:        filepath.Base(name),
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO uploads (id, name, content_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Name, f.ContentType, f.Data, f.CreatedAt,
	)
	if err != nil {
		return domain.File{}, fmt.Errorf("fileRepo.Save: %w", err)
	}

	return f, nil
}

func (r *FileRepo) Get(ctx context.Context, id string) (domain.File, error) {
	var f domain.File

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, content_type, data, created_at FROM uploads WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.Name, &f.ContentType, &f.Data, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.File{}, fmt.Errorf("fileRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.File{}, fmt.Errorf("fileRepo.Get: %w", err)
	}

	return f, nil
}
