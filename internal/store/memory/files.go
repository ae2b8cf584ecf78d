package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/domain"
)

// FileRepo implements domain.FileRepository in memory.
type FileRepo struct {
	now func() time.Time

	mu    sync.RWMutex
	files map[string]domain.File
}

func NewFileRepo(now func() time.Time) *FileRepo {
	return &FileRepo{now: now, files: make(map[string]domain.File)}
}

// Save stores data under a fresh id that keeps the original extension, so
// the id doubles as a file name in URLs.
func (r *FileRepo) Save(_ context.Context, name, contentType string, data []byte) (domain.File, error) {
	if len(data) == 0 {
		return domain.File{}, fmt.Errorf("fileRepo.Save: empty file")
	}

	f := domain.File{
		ID:          uuid.NewString() + strings.ToLower(filepath.Ext(name)),
		Name:        filepath.Base(name),
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		CreatedAt:   r.now(),
	}

	r.mu.Lock()
	r.files[f.ID] = f
	r.mu.Unlock()
	return f, nil
}

func (r *FileRepo) Get(_ context.Context, id string) (domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return domain.File{}, fmt.Errorf("fileRepo.Get: %w", domain.ErrNotFound)
	}
	return f, nil
}
