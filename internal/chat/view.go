package chat

import (
	"github.com/google/uuid"

	"github.com/roginn/towd-you-so/internal/channel"
	"github.com/roginn/towd-you-so/internal/domain"
	"github.com/roginn/towd-you-so/internal/timeline"
)

// View is an immutable copy of what a renderer needs.
type View struct {
	SessionID uuid.UUID
	State     channel.State
	Debug     bool
	Awaiting  bool

	// Entries is the projected log for the current debug mode.
	Entries []domain.Entry
	Results timeline.ResultIndex

	Reasoning     string
	ReasoningLive bool
	Content       string
	ContentLive   bool

	// Attachment names the staged file, empty when none.
	Attachment string
}

func (c *Conversation) Snapshot() View {
	c.mu.Lock()
	v := View{
		SessionID: c.sessionID,
		Debug:     c.debug,
		Awaiting:  c.awaiting,
		Entries:   c.log.Project(c.debug),
		Results:   c.results,
	}
	v.Reasoning, v.ReasoningLive = c.deltas.Reasoning()
	v.Content, v.ContentLive = c.deltas.Content()
	c.mu.Unlock()

	if v.SessionID != uuid.Nil {
		v.State = c.transport.State()
	}
	if a := c.pending.Current(); a != nil {
		v.Attachment = a.Name()
	}
	return v
}

// deferredSlot holds at most one message waiting for a channel to open.
// Put overwrites; Take empties the slot.
type deferredSlot struct {
	msg *domain.Outbound
}

func (s *deferredSlot) Put(msg domain.Outbound) {
	s.msg = &msg
}

func (s *deferredSlot) Take() (domain.Outbound, bool) {
	if s.msg == nil {
		return domain.Outbound{}, false
	}
	msg := *s.msg
	s.msg = nil
	return msg, true
}
