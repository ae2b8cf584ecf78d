// Package memory is the in-process backing store of the development
// backend: sessions with their entry logs, uploaded files and a pub/sub
// broker. Nothing survives a restart.
package memory

import (
	"time"

	"github.com/roginn/towd-you-so/internal/domain"
)

// Store groups the repositories, mirroring the accessor style of a database
// backed store.
type Store struct {
	sessions *SessionLogRepo
	files    *FileRepo
}

func New() *Store {
	now := func() time.Time { return time.Now().UTC() }
	return &Store{
		sessions: NewSessionLogRepo(now),
		files:    NewFileRepo(now),
	}
}

func (s *Store) Sessions() domain.SessionLogRepository { return s.sessions }
func (s *Store) Files() domain.FileRepository          { return s.files }
