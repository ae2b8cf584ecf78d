package channel_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roginn/towd-you-so/internal/channel"
	"github.com/roginn/towd-you-so/internal/domain"
)

const waitTimeout = 5 * time.Second

// pushServer accepts one websocket per request and writes the scripted
// frames. It then optionally reads one outbound message, and either holds the
// connection until the client goes away, drops it, or closes normally.
type pushServer struct {
	frames   []string
	received chan domain.Outbound
	hold     bool
	abort    bool
}

func (p *pushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for _, f := range p.frames {
		if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
			return
		}
	}

	if p.abort {
		return
	}

	if p.received != nil {
		var msg domain.Outbound
		if err := wsjson.Read(ctx, conn, &msg); err == nil {
			p.received <- msg
		}
	}

	if p.hold {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, slot *channel.Slot) channel.Event {
	t.Helper()
	select {
	case ev := <-slot.Events():
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for channel event")
		return channel.Event{}
	}
}

func TestSlot_OpenDeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	entryID := uuid.New()
	srv := httptest.NewServer(&pushServer{frames: []string{
		`{"type":"reasoning_delta","text":"a"}`,
		`not json at all`,
		`{"type":"status","entry_id":"` + entryID.String() + `","status":"running"}`,
		`{"type":"turn_complete"}`,
	}})
	t.Cleanup(srv.Close)

	slot := channel.NewSlot(wsURL(srv), nil)
	t.Cleanup(slot.Close)

	sessionID := uuid.New()
	gen, err := slot.Open(t.Context(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, slot.Current().SessionID())

	ev := next(t, slot)
	assert.Equal(t, channel.EventOpened, ev.Type)
	assert.Equal(t, gen, ev.Gen)
	assert.Equal(t, sessionID, ev.SessionID)

	ev = next(t, slot)
	require.Equal(t, channel.EventFrame, ev.Type)
	assert.Equal(t, domain.FrameReasoningDelta, ev.Frame.Type)
	assert.Equal(t, "a", ev.Frame.Text)

	ev = next(t, slot)
	require.Equal(t, channel.EventFrame, ev.Type)
	assert.Equal(t, domain.FrameStatus, ev.Frame.Type)
	require.NotNil(t, ev.Frame.EntryID)
	assert.Equal(t, entryID, *ev.Frame.EntryID)

	ev = next(t, slot)
	assert.Equal(t, domain.FrameTurnComplete, ev.Frame.Type)

	ev = next(t, slot)
	assert.Equal(t, channel.EventClosed, ev.Type)
	assert.NoError(t, ev.Err, "normal closure is not a channel error")
}

func TestSlot_SendReachesServer(t *testing.T) {
	t.Parallel()

	ps := &pushServer{received: make(chan domain.Outbound, 1), hold: true}
	srv := httptest.NewServer(ps)
	t.Cleanup(srv.Close)

	slot := channel.NewSlot(wsURL(srv), nil)
	t.Cleanup(slot.Close)

	_, err := slot.Open(t.Context(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, channel.EventOpened, next(t, slot).Type)
	assert.Equal(t, channel.StateOpen, slot.State())

	require.NoError(t, slot.Send(t.Context(), domain.Outbound{Content: "Can I park here?", FileID: "f1.jpg"}))

	select {
	case got := <-ps.received:
		assert.Equal(t, domain.Outbound{Content: "Can I park here?", FileID: "f1.jpg"}, got)
	case <-time.After(waitTimeout):
		t.Fatal("server never received the message")
	}
}

func TestSlot_RequiresCloseBeforeOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&pushServer{hold: true})
	t.Cleanup(srv.Close)

	slot := channel.NewSlot(wsURL(srv), nil)
	t.Cleanup(slot.Close)

	firstGen, err := slot.Open(t.Context(), uuid.New())
	require.NoError(t, err)
	first := slot.Current()
	require.NotNil(t, first)
	assert.Equal(t, firstGen, first.Gen())

	_, err = slot.Open(t.Context(), uuid.New())
	assert.True(t, errors.Is(err, channel.ErrSlotBusy))

	slot.Close()
	assert.Nil(t, slot.Current())
	assert.Equal(t, channel.StateDisconnected, first.State())

	secondGen, err := slot.Open(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Greater(t, secondGen, firstGen)
	assert.Equal(t, secondGen, slot.Generation())

	select {
	case <-first.Done():
	case <-time.After(waitTimeout):
		t.Fatal("closed channel reader did not exit")
	}
}

func TestSlot_SendWithoutOpenChannel(t *testing.T) {
	t.Parallel()

	slot := channel.NewSlot("ws://127.0.0.1:1", nil)

	err := slot.Send(t.Context(), domain.Outbound{Content: "hi"})
	assert.True(t, errors.Is(err, domain.ErrChannelNotOpen))
	assert.Equal(t, channel.StateDisconnected, slot.State())
}

func TestSlot_DialFailureIsChannelError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	slot := channel.NewSlot(wsURL(srv), nil)
	t.Cleanup(slot.Close)

	_, err := slot.Open(t.Context(), uuid.New())
	require.NoError(t, err)

	ev := next(t, slot)
	assert.Equal(t, channel.EventClosed, ev.Type)
	assert.True(t, errors.Is(ev.Err, domain.ErrChannelError))

	err = slot.Send(t.Context(), domain.Outbound{Content: "hi"})
	assert.True(t, errors.Is(err, domain.ErrChannelNotOpen))
}

func TestSlot_AbruptServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&pushServer{abort: true})
	t.Cleanup(srv.Close)

	slot := channel.NewSlot(wsURL(srv), nil)
	t.Cleanup(slot.Close)

	_, err := slot.Open(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, channel.EventOpened, next(t, slot).Type)

	ev := next(t, slot)
	assert.Equal(t, channel.EventClosed, ev.Type)
	assert.True(t, errors.Is(ev.Err, domain.ErrChannelError))
}
