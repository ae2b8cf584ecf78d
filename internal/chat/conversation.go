// Package chat drives one conversation with the assistant: it binds a
// session, merges the snapshot and the live channel into a single log, and
// turns every failure into a visible assistant entry.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/attachment"
	"github.com/roginn/towd-you-so/internal/channel"
	"github.com/roginn/towd-you-so/internal/domain"
	"github.com/roginn/towd-you-so/internal/timeline"
)

// User-facing descriptions for synthetic error entries.
const (
	msgUploadFailed   = "Image upload failed (%s). Your message was not sent, please try again."
	msgSessionFailed  = "Could not start a new session. Please try again."
	msgNotConnected   = "Not connected to the assistant. Please reload the session and try again."
	msgSendFailed     = "Sending failed because the connection to the assistant was lost. Please reload the session and try again."
	msgConnectionLost = "The connection to the assistant was lost before the reply finished. Please reload the session and try again."
	msgNotSent        = "The connection to the assistant closed before it opened. Your message was not sent, please try again."
)

// SessionAPI is the HTTP control plane. backend.Client satisfies it.
type SessionAPI interface {
	CreateSession(ctx context.Context) (uuid.UUID, error)
	ListEntries(ctx context.Context, sessionID uuid.UUID) ([]domain.Entry, error)
}

// Transport is the single live-channel slot. channel.Slot satisfies it.
type Transport interface {
	Open(ctx context.Context, sessionID uuid.UUID) (uint64, error)
	Close()
	Send(ctx context.Context, msg domain.Outbound) error
	State() channel.State
	Events() <-chan channel.Event
}

// Refresher is told when a turn completes so derived views can re-fetch.
type Refresher interface {
	Refresh(ctx context.Context, sessionID uuid.UUID) error
}

type Options struct {
	Refresher Refresher
	Debug     bool
}

// Conversation owns the entry log of the bound session. All mutations are
// serialized by mu; channel events are applied by Run in receive order.
type Conversation struct {
	api       SessionAPI
	transport Transport
	uploader  attachment.Uploader
	refresher Refresher
	pending   attachment.Pending
	updates   chan struct{}

	mu        sync.Mutex
	sessionID uuid.UUID
	gen       uint64
	log       *timeline.Log
	results   timeline.ResultIndex
	deltas    timeline.Deltas
	deferred  deferredSlot
	awaiting  bool
	debug     bool
}

func New(api SessionAPI, transport Transport, uploader attachment.Uploader, opts Options) *Conversation {
	return &Conversation{
		api:       api,
		transport: transport,
		uploader:  uploader,
		refresher: opts.Refresher,
		updates:   make(chan struct{}, 1),
		log:       timeline.NewLog(),
		debug:     opts.Debug,
	}
}

// Updates signals that the view changed. Signals coalesce; read Snapshot
// after each one.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

func (c *Conversation) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conversation) Awaiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

func (c *Conversation) SetDebug(debug bool) {
	c.mu.Lock()
	c.debug = debug
	c.mu.Unlock()
	c.notify()
}

// SelectAttachment stages a for the next Send, releasing any attachment it
// replaces.
func (c *Conversation) SelectAttachment(a *attachment.Attachment) {
	c.pending.Select(a)
	c.notify()
}

func (c *Conversation) DiscardAttachment() {
	c.pending.Discard()
	c.notify()
}

// Send submits one user turn. A staged attachment is uploaded first; if no
// session is bound one is created and the message is deferred until its
// channel opens. Every failure is also appended to the log as an assistant
// entry.
func (c *Conversation) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" && c.pending.Current() == nil {
		return domain.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.awaiting {
		c.mu.Unlock()
		return domain.ErrAwaitingReply
	}
	c.awaiting = true
	c.mu.Unlock()
	c.notify()

	msg := domain.Outbound{Content: content}

	if att := c.pending.Take(); att != nil {
		ref, err := attachment.Upload(ctx, c.uploader, att)
		if err != nil {
			reason := err.Error()
			var upErr *domain.UploadError
			if errors.As(err, &upErr) {
				reason = upErr.Reason
				if upErr.Status != 0 {
					reason = fmt.Sprintf("status %d: %s", upErr.Status, upErr.Reason)
				}
			}
			log.Warn().Err(err).Str("file", att.Name()).Msg("attachment upload failed")
			c.fail(fmt.Sprintf(msgUploadFailed, reason))
			return fmt.Errorf("chat.Conversation.Send: %w", err)
		}
		msg.FileID = ref.FileID
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID != uuid.Nil {
		if err := c.transport.Send(ctx, msg); err != nil {
			c.failSend(err)
			return fmt.Errorf("chat.Conversation.Send: %w", err)
		}
		log.Debug().Str("session_id", sessionID.String()).Msg("message sent")
		return nil
	}

	return c.bootstrap(ctx, msg)
}

// bootstrap creates a session for msg and defers msg until the session's
// channel reports open.
func (c *Conversation) bootstrap(ctx context.Context, msg domain.Outbound) error {
	sessionID, err := c.api.CreateSession(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("session creation failed")
		c.fail(msgSessionFailed)
		return fmt.Errorf("chat.Conversation.Send: %w", err)
	}

	c.mu.Lock()
	c.deferred.Put(msg)
	err = c.bindLocked(ctx, sessionID, nil)
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.failSend(err)
		return fmt.Errorf("chat.Conversation.Send: %w", err)
	}
	log.Info().Str("session_id", sessionID.String()).Msg("session created, message deferred until channel opens")
	return nil
}

// SwitchSession binds an existing session: the snapshot replaces the log and
// a fresh channel supersedes the current one. Unsent state of the previous
// session is dropped.
func (c *Conversation) SwitchSession(ctx context.Context, sessionID uuid.UUID) error {
	entries, err := c.api.ListEntries(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("chat.Conversation.SwitchSession: %w", err)
	}

	c.mu.Lock()
	c.deferred.Take()
	c.awaiting = false
	err = c.bindLocked(ctx, sessionID, entries)
	c.mu.Unlock()
	c.notify()

	if err != nil {
		return fmt.Errorf("chat.Conversation.SwitchSession: %w", err)
	}
	log.Info().Str("session_id", sessionID.String()).Int("entries", len(entries)).Msg("session bound")
	return nil
}

// NewChat unbinds the session. The next Send creates a new one.
func (c *Conversation) NewChat() {
	c.transport.Close()

	c.mu.Lock()
	c.sessionID = uuid.Nil
	c.gen = 0
	c.log.Reset(nil)
	c.results = timeline.ResultIndex{}
	c.deltas = timeline.Deltas{}
	c.deferred.Take()
	c.awaiting = false
	c.mu.Unlock()

	c.pending.Discard()
	c.notify()
}

// Close tears down the channel and releases any staged attachment.
func (c *Conversation) Close() {
	c.transport.Close()
	c.pending.Discard()
}

// bindLocked closes the current channel, resets the view to entries and
// opens a channel for sessionID. Callers hold mu.
func (c *Conversation) bindLocked(ctx context.Context, sessionID uuid.UUID, entries []domain.Entry) error {
	c.transport.Close()

	c.sessionID = sessionID
	c.gen = 0
	c.log.Reset(entries)
	c.results = timeline.BuildResultIndex(c.log.Entries())
	c.deltas = timeline.Deltas{}

	gen, err := c.transport.Open(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("open channel: %w: %w", domain.ErrChannelError, err)
	}
	c.gen = gen
	return nil
}

// Run applies channel events until ctx is done.
func (c *Conversation) Run(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Conversation) handleEvent(ctx context.Context, ev channel.Event) {
	logger := log.With().Str("session_id", ev.SessionID.String()).Uint64("gen", ev.Gen).Logger()

	c.mu.Lock()
	if ev.Gen != c.gen || ev.SessionID != c.sessionID {
		c.mu.Unlock()
		logger.Debug().Msg("dropping event from superseded channel")
		return
	}

	switch ev.Type {
	case channel.EventOpened:
		msg, ok := c.deferred.Take()
		c.mu.Unlock()
		c.notify()
		if !ok {
			return
		}
		if err := c.transport.Send(ctx, msg); err != nil {
			logger.Warn().Err(err).Msg("deferred message not sent")
			c.failSend(err)
			return
		}
		logger.Debug().Msg("deferred message sent")

	case channel.EventFrame:
		turnDone := c.applyLocked(ev.Frame)
		sessionID := c.sessionID
		c.mu.Unlock()
		c.notify()
		if turnDone && c.refresher != nil {
			if err := c.refresher.Refresh(ctx, sessionID); err != nil {
				logger.Warn().Err(err).Msg("turn refresh failed")
			}
		}

	case channel.EventClosed:
		wasAwaiting := c.awaiting
		c.awaiting = false
		_, unsent := c.deferred.Take()
		switch {
		case unsent:
			c.appendErrorLocked(msgNotSent)
		case ev.Err != nil && wasAwaiting:
			c.appendErrorLocked(msgConnectionLost)
		}
		c.mu.Unlock()
		c.notify()
		if ev.Err != nil {
			logger.Warn().Err(ev.Err).Bool("awaiting", wasAwaiting).Msg("channel failed")
		} else {
			logger.Debug().Msg("channel closed")
		}

	default:
		c.mu.Unlock()
	}
}

// applyLocked dispatches one frame and reports whether it completed the
// turn. Callers hold mu.
func (c *Conversation) applyLocked(f domain.Frame) bool {
	switch f.Type {
	case domain.FrameReasoningDelta:
		c.deltas.AppendReasoning(f.Text)

	case domain.FrameContentDelta:
		c.deltas.AppendContent(f.Text)

	case domain.FrameEntry:
		c.log.Upsert(*f.Entry)
		c.deltas.Finalized(f.Entry.Kind)
		c.results = timeline.BuildResultIndex(c.log.Entries())

	case domain.FrameStatus:
		if !c.log.PatchStatus(*f.EntryID, f.Status) {
			log.Debug().Str("entry_id", f.EntryID.String()).Msg("status for unknown entry ignored")
			return false
		}
		c.results = timeline.BuildResultIndex(c.log.Entries())

	case domain.FrameTurnComplete:
		c.deltas.TurnComplete()
		c.awaiting = false
		return true

	default:
		log.Debug().Str("frame_type", string(f.Type)).Msg("unknown frame type ignored")
	}
	return false
}

func (c *Conversation) failSend(err error) {
	if errors.Is(err, domain.ErrChannelNotOpen) {
		c.fail(msgNotConnected)
		return
	}
	c.fail(msgSendFailed)
}

// fail records a local assistant entry describing the failure and unblocks
// the next send.
func (c *Conversation) fail(text string) {
	c.mu.Lock()
	c.appendErrorLocked(text)
	c.awaiting = false
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) appendErrorLocked(text string) {
	e := domain.NewEntry(uuid.New(), c.sessionID, domain.AssistantMessage{Content: text}, time.Now().UTC())
	c.log.Upsert(e)
}

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
