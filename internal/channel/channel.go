// Package channel owns the push-stream connection for the active session.
//
// A Slot holds at most one Channel. Every channel the slot opens reports
// into the same event stream, tagged with the generation it was opened
// under, so a consumer can drop events from a superseded channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/domain"
)

// ErrSlotBusy is returned by Open while a previous channel is still held.
var ErrSlotBusy = errors.New("channel: slot busy, close the current channel first")

const (
	eventBuffer = 64
	readLimit   = 1 << 20
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type EventType int

const (
	EventOpened EventType = iota + 1
	EventFrame
	EventClosed
)

// Event is one item of the consumer stream. Err is set on EventClosed when
// the transport failed rather than the server closing normally.
type Event struct {
	Gen       uint64
	SessionID uuid.UUID
	Type      EventType
	Frame     domain.Frame
	Err       error
}

// Channel is one websocket connection bound to one session.
type Channel struct {
	sessionID uuid.UUID
	gen       uint64
	state     atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Channel) SessionID() uuid.UUID { return c.sessionID }
func (c *Channel) Gen() uint64          { return c.gen }
func (c *Channel) State() State         { return State(c.state.Load()) }

// Done is closed once the channel's reader has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) send(ctx context.Context, msg domain.Outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || c.State() != StateOpen {
		return domain.ErrChannelNotOpen
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrChannelError, err)
	}
	return nil
}

// close tears the connection down without a close handshake.
func (c *Channel) close() {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state.Store(int32(StateDisconnected))
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
}

// run dials, announces the open and pumps frames until the connection ends
// or the channel is closed. Once closed it stops emitting.
func (c *Channel) run(ctx context.Context, url string, opts *websocket.DialOptions, events chan<- Event) {
	defer close(c.done)

	logger := log.With().Str("session_id", c.sessionID.String()).Uint64("gen", c.gen).Logger()

	conn, _, err := websocket.Dial(ctx, url, opts) //nolint:bodyclose // coder/websocket closes the response body
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Msg("channel dial failed")
			c.state.Store(int32(StateDisconnected))
			c.emit(ctx, events, Event{Type: EventClosed, Err: fmt.Errorf("%w: dial: %w", domain.ErrChannelError, err)})
		}
		return
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	c.conn = conn
	c.state.Store(int32(StateOpen))
	c.mu.Unlock()

	logger.Debug().Msg("channel open")
	c.emit(ctx, events, Event{Type: EventOpened})

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.state.Store(int32(StateDisconnected))
			ev := Event{Type: EventClosed}
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				ev.Err = fmt.Errorf("%w: %w", domain.ErrChannelError, err)
				logger.Warn().Err(err).Msg("channel read failed")
			} else {
				logger.Debug().Msg("channel closed by server")
			}
			c.emit(ctx, events, ev)
			_ = conn.CloseNow()
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		frame, err := domain.ParseFrame(data)
		if err != nil {
			logger.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		c.emit(ctx, events, Event{Type: EventFrame, Frame: frame})
	}
}

func (c *Channel) emit(ctx context.Context, events chan<- Event, ev Event) {
	ev.Gen = c.gen
	ev.SessionID = c.sessionID
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// Slot is the single live-channel resource. Open requires the previous
// channel to have been closed with Close.
type Slot struct {
	baseURL string
	opts    *websocket.DialOptions
	events  chan Event

	mu      sync.Mutex
	current *Channel
	gen     uint64
}

// NewSlot creates a slot dialing baseURL + "/ws/{session_id}". httpClient
// may be nil.
func NewSlot(baseURL string, httpClient *http.Client) *Slot {
	return &Slot{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    &websocket.DialOptions{HTTPClient: httpClient},
		events:  make(chan Event, eventBuffer),
	}
}

// Events is the single-consumer stream of every channel opened by the slot.
func (s *Slot) Events() <-chan Event { return s.events }

// Generation identifies the most recently opened channel. Events carrying
// another generation are stale.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Open starts connecting a channel for sessionID and returns its generation.
// The connection completes asynchronously and is announced with EventOpened.
func (s *Slot) Open(ctx context.Context, sessionID uuid.UUID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return 0, ErrSlotBusy
	}

	s.gen++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &Channel{
		sessionID: sessionID,
		gen:       s.gen,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	ch.state.Store(int32(StateConnecting))
	s.current = ch

	go ch.run(runCtx, s.baseURL+"/ws/"+sessionID.String(), s.opts, s.events)

	log.Debug().Str("session_id", sessionID.String()).Uint64("gen", ch.gen).Msg("channel connecting")
	return ch.gen, nil
}

// Close abruptly tears down the current channel, if any. It does not wait
// for in-flight frames; those are discarded.
func (s *Slot) Close() {
	s.mu.Lock()
	ch := s.current
	s.current = nil
	s.mu.Unlock()

	if ch != nil {
		ch.close()
		log.Debug().Str("session_id", ch.sessionID.String()).Uint64("gen", ch.gen).Msg("channel closed")
	}
}

// Current returns the held channel or nil.
func (s *Slot) Current() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State reports the held channel's state; an empty slot is disconnected.
func (s *Slot) State() State {
	if ch := s.Current(); ch != nil {
		return ch.State()
	}
	return StateDisconnected
}

// Send writes msg on the current channel. It fails with
// domain.ErrChannelNotOpen unless the channel is open.
func (s *Slot) Send(ctx context.Context, msg domain.Outbound) error {
	ch := s.Current()
	if ch == nil {
		return domain.ErrChannelNotOpen
	}
	return ch.send(ctx, msg)
}
