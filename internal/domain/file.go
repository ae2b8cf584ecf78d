package domain

import (
	"context"
	"time"
)

// File is an uploaded attachment. ID keeps the original extension so it can
// be used as a file name.
type File struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

type FileRepository interface {
	Save(ctx context.Context, name, contentType string, data []byte) (File, error)
	Get(ctx context.Context, id string) (File, error)
}
