package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roginn/towd-you-so/internal/notify"
	"github.com/roginn/towd-you-so/internal/store/memory"
	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

// --- mocks ---

type published struct {
	channel string
	payload []byte
}

type mockPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, published{channel: channel, payload: payload})
	return nil
}

// --- Refresh tests ---

func TestNotifier_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("publishes on the refresh channel", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		pub := &mockPublisher{}
		sessionID := uuid.New()

		require.NoError(t, notify.New(pub).Refresh(ctx, sessionID))

		require.Len(t, pub.sent, 1)
		assert.Equal(t, redisstore.RefreshChannel(sessionID), pub.sent[0].channel)

		var notice notify.Notice
		require.NoError(t, json.Unmarshal(pub.sent[0].payload, &notice))
		assert.Equal(t, "turn_complete", notice.Type)
		assert.Equal(t, sessionID.String(), notice.SessionID)
	})

	t.Run("publish error wraps", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		boom := errors.New("redis down")
		err := notify.New(&mockPublisher{err: boom}).Refresh(ctx, uuid.New())

		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("does not reach frame subscribers", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()

		broker := memory.NewPubSub()
		defer broker.Close()
		sessionID := uuid.New()

		frames, cleanupFrames, err := broker.Subscribe(ctx, redisstore.SessionChannel(sessionID))
		require.NoError(t, err)
		defer cleanupFrames()
		notices, cleanupNotices, err := broker.Subscribe(ctx, redisstore.RefreshChannel(sessionID))
		require.NoError(t, err)
		defer cleanupNotices()

		require.NoError(t, notify.New(broker).Refresh(ctx, sessionID))

		assert.Len(t, notices, 1)
		assert.Empty(t, frames)
	})
}
