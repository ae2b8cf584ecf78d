package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roginn/towd-you-so/internal/attachment"
	"github.com/roginn/towd-you-so/internal/channel"
	"github.com/roginn/towd-you-so/internal/domain"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockAPI struct {
	mu        sync.Mutex
	createID  uuid.UUID
	createErr error
	creates   int
	entries   map[uuid.UUID][]domain.Entry
	listErr   error
}

func (m *mockAPI) CreateSession(_ context.Context) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return uuid.Nil, m.createErr
	}
	return m.createID, nil
}

func (m *mockAPI) ListEntries(_ context.Context, id uuid.UUID) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.entries[id], nil
}

type mockTransport struct {
	mu      sync.Mutex
	gen     uint64
	open    bool
	opened  []uuid.UUID
	closes  int
	sent    []domain.Outbound
	sendErr error
	events  chan channel.Event
}

func newMockTransport() *mockTransport {
	return &mockTransport{events: make(chan channel.Event, 16)}
}

func (m *mockTransport) Open(_ context.Context, id uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.open = true
	m.opened = append(m.opened, id)
	return m.gen, nil
}

func (m *mockTransport) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.open = false
}

func (m *mockTransport) Send(_ context.Context, msg domain.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockTransport) State() channel.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return channel.StateOpen
	}
	return channel.StateDisconnected
}

func (m *mockTransport) Events() <-chan channel.Event { return m.events }

func (m *mockTransport) Sent() []domain.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Outbound(nil), m.sent...)
}

type mockUploader struct {
	calls int
	ref   domain.FileRef
	err   error
}

func (m *mockUploader) Upload(_ context.Context, _ string, r io.Reader) (domain.FileRef, error) {
	m.calls++
	_, _ = io.Copy(io.Discard, r)
	return m.ref, m.err
}

type mockPreview struct{ releases int }

func (m *mockPreview) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("jpeg")), nil
}

func (m *mockPreview) Release() error {
	m.releases++
	return nil
}

type mockRefresher struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (m *mockRefresher) Refresh(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	return nil
}

type fixture struct {
	conv      *Conversation
	api       *mockAPI
	transport *mockTransport
	uploader  *mockUploader
	refresher *mockRefresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		api:       &mockAPI{createID: uuid.New(), entries: map[uuid.UUID][]domain.Entry{}},
		transport: newMockTransport(),
		uploader:  &mockUploader{ref: domain.FileRef{FileID: "f1.jpg", URL: "/uploads/f1.jpg"}},
		refresher: &mockRefresher{},
	}
	f.conv = New(f.api, f.transport, f.uploader, Options{Refresher: f.refresher})
	return f
}

// bind attaches the fixture to a fresh session and returns it with the
// channel generation the conversation expects.
func (f *fixture) bind(t *testing.T) (uuid.UUID, uint64) {
	t.Helper()

	id := uuid.New()
	require.NoError(t, f.conv.SwitchSession(t.Context(), id))
	return id, f.conv.gen
}

func frameEvent(gen uint64, id uuid.UUID, fr domain.Frame) channel.Event {
	return channel.Event{Gen: gen, SessionID: id, Type: channel.EventFrame, Frame: fr}
}

func entry(sessionID uuid.UUID, p domain.Payload) domain.Entry {
	return domain.NewEntry(uuid.New(), sessionID, p, time.Now().UTC())
}

func assistantTexts(v View) []string {
	var out []string
	for _, e := range v.Entries {
		if e.Kind == domain.KindAssistantMessage {
			out = append(out, e.Text())
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Session bootstrap
// ---------------------------------------------------------------------------

func TestSend_DeferredMessageFlushedExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.conv.Send(ctx, "hi"))

	assert.Equal(t, 1, f.api.creates)
	assert.Equal(t, []uuid.UUID{f.api.createID}, f.transport.opened)
	assert.Equal(t, f.api.createID, f.conv.SessionID())
	assert.Empty(t, f.transport.Sent(), "message waits for the channel")
	assert.True(t, f.conv.Awaiting())

	opened := channel.Event{Gen: f.conv.gen, SessionID: f.api.createID, Type: channel.EventOpened}
	f.conv.handleEvent(ctx, opened)
	f.conv.handleEvent(ctx, opened)

	assert.Equal(t, []domain.Outbound{{Content: "hi"}}, f.transport.Sent())
	assert.True(t, f.conv.Awaiting())
}

func TestSend_SessionCreateFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.api.createErr = domain.ErrSessionCreateFailed

	err := f.conv.Send(t.Context(), "hi")
	require.ErrorIs(t, err, domain.ErrSessionCreateFailed)

	v := f.conv.Snapshot()
	assert.Equal(t, uuid.Nil, v.SessionID)
	assert.False(t, v.Awaiting)
	assert.Empty(t, f.transport.opened)
	assert.Equal(t, []string{msgSessionFailed}, assistantTexts(v))

	// The user may retry.
	f.api.createErr = nil
	require.NoError(t, f.conv.Send(t.Context(), "hi"))
	assert.Equal(t, 2, f.api.creates)
}

func TestSend_ChannelNotOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bind(t)
	f.transport.sendErr = domain.ErrChannelNotOpen

	err := f.conv.Send(t.Context(), "hi")
	require.ErrorIs(t, err, domain.ErrChannelNotOpen)

	v := f.conv.Snapshot()
	assert.False(t, v.Awaiting)
	texts := assistantTexts(v)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "reload")
}

func TestSend_Guards(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bind(t)

	assert.ErrorIs(t, f.conv.Send(t.Context(), "   "), domain.ErrEmptyMessage)

	require.NoError(t, f.conv.Send(t.Context(), "first"))
	assert.ErrorIs(t, f.conv.Send(t.Context(), "second"), domain.ErrAwaitingReply)
	assert.Len(t, f.transport.Sent(), 1)
}

// ---------------------------------------------------------------------------
// Attachments
// ---------------------------------------------------------------------------

func TestSend_UploadFailureSendsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bind(t)
	f.uploader.err = &domain.UploadError{Status: 500, Reason: "Internal Server Error"}

	preview := &mockPreview{}
	f.conv.SelectAttachment(attachment.New("photo.jpg", preview))

	err := f.conv.Send(t.Context(), "Can I park here?")
	require.ErrorIs(t, err, domain.ErrUploadFailed)

	assert.Empty(t, f.transport.Sent())
	assert.Equal(t, 1, preview.releases)

	v := f.conv.Snapshot()
	assert.False(t, v.Awaiting)
	assert.Empty(t, v.Attachment)
	texts := assistantTexts(v)
	require.Len(t, texts, 1)
	assert.Contains(t, strings.ToLower(texts[0]), "upload")
}

func TestSend_UploadFailureBeforeSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.uploader.err = errors.New("connection refused")
	f.conv.SelectAttachment(attachment.New("photo.jpg", &mockPreview{}))

	err := f.conv.Send(t.Context(), "hi")
	require.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Zero(t, f.api.creates, "no session is created for a failed upload")
}

func TestSend_AttachmentReferenceReplacesFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bind(t)

	old, preview := &mockPreview{}, &mockPreview{}
	f.conv.SelectAttachment(attachment.New("old.jpg", old))
	f.conv.SelectAttachment(attachment.New("photo.jpg", preview))
	assert.Equal(t, 1, old.releases)
	assert.Equal(t, "photo.jpg", f.conv.Snapshot().Attachment)

	require.NoError(t, f.conv.Send(t.Context(), ""))

	assert.Equal(t, []domain.Outbound{{FileID: "f1.jpg"}}, f.transport.Sent())
	assert.Equal(t, 1, preview.releases)
	assert.Equal(t, 1, f.uploader.calls)
}

// ---------------------------------------------------------------------------
// Frame dispatch
// ---------------------------------------------------------------------------

func TestTurnComplete_ClearsPartialReasoning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, gen := f.bind(t)
	ctx := t.Context()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	f.conv.handleEvent(ctx, frameEvent(gen, id, domain.ReasoningDeltaFrame("partial")))

	v := f.conv.Snapshot()
	assert.True(t, v.ReasoningLive)
	assert.Equal(t, "partial", v.Reasoning)
	assert.True(t, v.Awaiting)

	f.conv.handleEvent(ctx, frameEvent(gen, id, domain.TurnCompleteFrame()))

	v = f.conv.Snapshot()
	assert.False(t, v.ReasoningLive)
	assert.Empty(t, v.Reasoning)
	assert.False(t, v.Awaiting)
	assert.Equal(t, []uuid.UUID{id}, f.refresher.calls)
}

func TestFrames_MergeIntoLog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, gen := f.bind(t)
	ctx := t.Context()
	apply := func(fr domain.Frame) { f.conv.handleEvent(ctx, frameEvent(gen, id, fr)) }

	user := entry(id, domain.UserMessage{Content: "Can I park here?"})
	call := entry(id, domain.ToolCall{CallID: "tc1", ToolName: "read_parking_sign"})
	call.Status = domain.StatusPending
	result := entry(id, domain.ToolResult{CallID: "tc1", Result: []byte(`{"allowed":false}`)})

	apply(domain.EntryFrame(user))
	apply(domain.ReasoningDeltaFrame("Looking "))
	apply(domain.ReasoningDeltaFrame("at the sign"))
	apply(domain.EntryFrame(entry(id, domain.Reasoning{Content: "Looking at the sign"})))
	apply(domain.EntryFrame(call))
	apply(domain.StatusFrame(call.ID, domain.StatusRunning))
	apply(domain.StatusFrame(uuid.New(), domain.StatusDone))
	apply(domain.EntryFrame(result))
	apply(domain.ContentDeltaFrame("No, "))

	v := f.conv.Snapshot()
	assert.False(t, v.ReasoningLive, "finalized reasoning clears its buffer")
	assert.True(t, v.ContentLive)
	assert.Equal(t, "No, ", v.Content)
	require.Len(t, v.Entries, 1, "normal mode shows messages only")
	assert.Equal(t, user.ID, v.Entries[0].ID)

	f.conv.SetDebug(true)
	v = f.conv.Snapshot()
	require.Len(t, v.Entries, 3, "debug mode hides results")
	assert.Equal(t, domain.KindToolCall, v.Entries[2].Kind)
	assert.Equal(t, domain.StatusRunning, v.Entries[2].Status)

	got, ok := v.Results.Lookup(v.Entries[2])
	require.True(t, ok)
	assert.Equal(t, result.ID, got.ID)

	apply(domain.EntryFrame(entry(id, domain.AssistantMessage{Content: "No, parking is not allowed."})))
	v = f.conv.Snapshot()
	assert.False(t, v.ContentLive)
	assert.Equal(t, []string{"No, parking is not allowed."}, assistantTexts(v))
}

func TestEvents_FromSupersededChannelAreDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	oldID, oldGen := f.bind(t)
	newID, newGen := f.bind(t)
	require.NotEqual(t, oldGen, newGen)
	ctx := t.Context()

	f.conv.handleEvent(ctx, frameEvent(oldGen, oldID, domain.EntryFrame(entry(oldID, domain.AssistantMessage{Content: "stale"}))))
	f.conv.handleEvent(ctx, frameEvent(oldGen, oldID, domain.ContentDeltaFrame("stale")))
	f.conv.handleEvent(ctx, frameEvent(newGen, newID, domain.EntryFrame(entry(newID, domain.AssistantMessage{Content: "fresh"}))))

	v := f.conv.Snapshot()
	assert.Equal(t, []string{"fresh"}, assistantTexts(v))
	assert.False(t, v.ContentLive)
	assert.Equal(t, 2, f.transport.closes)
}

func TestChannelClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		awaiting  bool
		err       error
		wantEntry bool
	}{
		{name: "failure while awaiting reply", awaiting: true, err: domain.ErrChannelError, wantEntry: true},
		{name: "failure while idle", awaiting: false, err: domain.ErrChannelError},
		{name: "normal close while awaiting", awaiting: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			id, gen := f.bind(t)
			ctx := t.Context()
			if tt.awaiting {
				require.NoError(t, f.conv.Send(ctx, "hi"))
			}

			f.conv.handleEvent(ctx, channel.Event{Gen: gen, SessionID: id, Type: channel.EventClosed, Err: tt.err})

			v := f.conv.Snapshot()
			assert.False(t, v.Awaiting)
			if tt.wantEntry {
				assert.Equal(t, []string{msgConnectionLost}, assistantTexts(v))
			} else {
				assert.Empty(t, assistantTexts(v))
			}
		})
	}
}

func TestChannelClosed_BeforeDeferredMessageSent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "dial failure", err: domain.ErrChannelError},
		{name: "clean close"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := t.Context()
			require.NoError(t, f.conv.Send(ctx, "hi"))
			id, gen := f.conv.SessionID(), f.conv.gen

			f.conv.handleEvent(ctx, channel.Event{Gen: gen, SessionID: id, Type: channel.EventClosed, Err: tt.err})
			f.conv.handleEvent(ctx, channel.Event{Gen: gen, SessionID: id, Type: channel.EventOpened})

			assert.Empty(t, f.transport.Sent(), "the dropped message is not sent by a late open")
			v := f.conv.Snapshot()
			assert.False(t, v.Awaiting)
			assert.Equal(t, []string{msgNotSent}, assistantTexts(v))
		})
	}
}

// ---------------------------------------------------------------------------
// Session switching
// ---------------------------------------------------------------------------

func TestSwitchSession_LoadsSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	snapshot := []domain.Entry{
		entry(id, domain.UserMessage{Content: "Can I park here?", ImageURL: "/uploads/a.jpg"}),
		entry(id, domain.AssistantMessage{Content: "Yes, until 6pm."}),
	}
	f.api.entries[id] = snapshot

	require.NoError(t, f.conv.SwitchSession(t.Context(), id))

	v := f.conv.Snapshot()
	assert.Equal(t, id, v.SessionID)
	assert.Equal(t, channel.StateOpen, v.State)
	require.Len(t, v.Entries, 2)
	assert.Equal(t, snapshot[0].ID, v.Entries[0].ID)
}

func TestSwitchSession_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.api.listErr = domain.ErrNotFound

	err := f.conv.SwitchSession(t.Context(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, uuid.Nil, f.conv.SessionID())
	assert.Empty(t, f.transport.opened)
}

func TestNewChat_Resets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, gen := f.bind(t)
	ctx := t.Context()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	f.conv.handleEvent(ctx, frameEvent(gen, id, domain.ContentDeltaFrame("partial")))
	preview := &mockPreview{}
	f.conv.SelectAttachment(attachment.New("a.jpg", preview))

	f.conv.NewChat()

	v := f.conv.Snapshot()
	assert.Equal(t, uuid.Nil, v.SessionID)
	assert.Empty(t, v.Entries)
	assert.False(t, v.ContentLive)
	assert.False(t, v.Awaiting)
	assert.Empty(t, v.Attachment)
	assert.Equal(t, 1, preview.releases)

	// A late frame from the old channel must not resurrect the session.
	f.conv.handleEvent(ctx, frameEvent(gen, id, domain.EntryFrame(entry(id, domain.AssistantMessage{Content: "late"}))))
	assert.Empty(t, f.conv.Snapshot().Entries)
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func TestRun_AppliesEventsUntilCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, gen := f.bind(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- f.conv.Run(ctx) }()

	f.transport.events <- frameEvent(gen, id, domain.EntryFrame(entry(id, domain.AssistantMessage{Content: "hello"})))

	require.Eventually(t, func() bool {
		return len(assistantTexts(f.conv.Snapshot())) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDeferredSlot(t *testing.T) {
	t.Parallel()

	var s deferredSlot
	_, ok := s.Take()
	assert.False(t, ok)

	s.Put(domain.Outbound{Content: "a"})
	s.Put(domain.Outbound{Content: "b"})

	msg, ok := s.Take()
	require.True(t, ok)
	assert.Equal(t, "b", msg.Content, "put overwrites, it does not queue")

	_, ok = s.Take()
	assert.False(t, ok)
}
