// Package timeline holds the client-side view of a session: the ordered
// entry log, the call/result pairing index and the streaming text buffers.
//
// None of the types here are safe for concurrent use; the owning
// conversation serializes access.
package timeline

import (
	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/domain"
)

// Log is the ordered collection of entries for one session. Order is arrival
// order; entries are never removed.
type Log struct {
	entries []domain.Entry
	byID    map[uuid.UUID]int
}

func NewLog() *Log {
	return &Log{byID: make(map[uuid.UUID]int)}
}

// Upsert appends e if its ID is new, or replaces the existing entry in place.
// It reports whether e was appended.
func (l *Log) Upsert(e domain.Entry) bool {
	if i, ok := l.byID[e.ID]; ok {
		l.entries[i] = e
		return false
	}
	l.byID[e.ID] = len(l.entries)
	l.entries = append(l.entries, e)
	return true
}

// PatchStatus sets the status of a known entry without touching its data.
// Unknown ids are ignored; the backend may report status for an entry this
// view has not seen yet.
func (l *Log) PatchStatus(id uuid.UUID, status domain.Status) bool {
	i, ok := l.byID[id]
	if !ok {
		return false
	}
	l.entries[i].Status = status
	return true
}

// Reset replaces the whole log with a snapshot. Duplicate ids in the
// snapshot collapse onto the first position, last value wins.
func (l *Log) Reset(entries []domain.Entry) {
	l.entries = make([]domain.Entry, 0, len(entries))
	l.byID = make(map[uuid.UUID]int, len(entries))
	for _, e := range entries {
		l.Upsert(e)
	}
}

func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the log in order.
func (l *Log) Entries() []domain.Entry {
	out := make([]domain.Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Project returns the visible subset of the log. See Project.
func (l *Log) Project(debug bool) []domain.Entry {
	return Project(l.entries, debug)
}

// Project filters entries for display, preserving order. Message kinds are
// always included. In debug mode event kinds are included too, except
// results: those are shown nested under their call, not as timeline items.
func Project(entries []domain.Entry, debug bool) []domain.Entry {
	out := make([]domain.Entry, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Kind.IsMessage():
			out = append(out, e)
		case debug && !e.Kind.IsResult():
			out = append(out, e)
		}
	}
	return out
}
