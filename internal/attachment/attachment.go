// Package attachment stages a single file for the next outgoing message and
// uploads it ahead of the text.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/domain"
)

var ErrReleased = errors.New("attachment: preview already released")

// Preview is the local resource backing a staged file. Release must be
// called exactly once.
type Preview interface {
	Open() (io.ReadCloser, error)
	Release() error
}

// Uploader sends file bytes to the backend. backend.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (domain.FileRef, error)
}

// Attachment is one staged file. Release is idempotent; only the first call
// reaches the preview.
type Attachment struct {
	name     string
	preview  Preview
	once     sync.Once
	released atomic.Bool
}

func New(name string, preview Preview) *Attachment {
	return &Attachment{name: name, preview: preview}
}

// FromFile stages the file at path. Its bytes are copied into a private
// temporary file so later edits to the original do not change what is sent.
func FromFile(path string) (*Attachment, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attachment.FromFile: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("attachment.FromFile: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment.FromFile: %s is a directory", path)
	}

	tmp, err := os.CreateTemp("", "towd-preview-*"+filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("attachment.FromFile: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("attachment.FromFile: copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("attachment.FromFile: %w", err)
	}

	return New(filepath.Base(path), tempFile(tmp.Name())), nil
}

func (a *Attachment) Name() string { return a.name }

func (a *Attachment) Released() bool { return a.released.Load() }

// Open reads the staged bytes. It fails once the preview has been released.
func (a *Attachment) Open() (io.ReadCloser, error) {
	if a.released.Load() {
		return nil, ErrReleased
	}
	return a.preview.Open()
}

func (a *Attachment) Release() {
	a.once.Do(func() {
		a.released.Store(true)
		if err := a.preview.Release(); err != nil {
			log.Warn().Err(err).Str("file", a.name).Msg("failed to release attachment preview")
		}
	})
}

// Upload sends a and returns its file reference. The preview is released
// whatever the outcome, and every failure is a *domain.UploadError.
func Upload(ctx context.Context, up Uploader, a *Attachment) (domain.FileRef, error) {
	defer a.Release()

	rc, err := a.Open()
	if err != nil {
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	defer rc.Close()

	ref, err := up.Upload(ctx, a.name, rc)
	if err != nil {
		var upErr *domain.UploadError
		if errors.As(err, &upErr) {
			return domain.FileRef{}, err
		}
		return domain.FileRef{}, &domain.UploadError{Reason: err.Error()}
	}
	return ref, nil
}

// Pending holds at most one staged attachment.
type Pending struct {
	mu  sync.Mutex
	cur *Attachment
}

// Select stages a, releasing any attachment it replaces.
func (p *Pending) Select(a *Attachment) {
	p.mu.Lock()
	old := p.cur
	p.cur = a
	p.mu.Unlock()

	if old != nil && old != a {
		old.Release()
	}
}

// Take removes and returns the staged attachment. The caller now owns its
// release.
func (p *Pending) Take() *Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()

	a := p.cur
	p.cur = nil
	return a
}

// Discard releases and clears the staged attachment, if any.
func (p *Pending) Discard() {
	if a := p.Take(); a != nil {
		a.Release()
	}
}

func (p *Pending) Current() *Attachment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

type tempFile string

func (t tempFile) Open() (io.ReadCloser, error) { return os.Open(string(t)) }

func (t tempFile) Release() error {
	if err := os.Remove(string(t)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
