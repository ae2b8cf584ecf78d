package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	v1 "github.com/roginn/towd-you-so/internal/api/v1"
	"github.com/roginn/towd-you-so/internal/domain"
	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

// Subscriber abstracts the pub/sub subscribe operation. Both the Redis and
// the in-memory brokers satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// SessionLookup reports whether a session exists.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
}

// Hub manages session WebSocket connections backed by pub/sub.
type Hub struct {
	pubsub   Subscriber
	sessions SessionLookup
	messages v1.MessageHandler
	accept   *websocket.AcceptOptions
}

// NewHub creates a new WebSocket hub. opts may be nil.
func NewHub(pubsub Subscriber, sessions SessionLookup, messages v1.MessageHandler, opts *websocket.AcceptOptions) *Hub {
	return &Hub{pubsub: pubsub, sessions: sessions, messages: messages, accept: opts}
}

// ServeSession streams the frames of one session and forwards the client's
// messages to the assistant. Subscribes to channel "towd:session:<id>".
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := log.With().Str("session_id", sessionID.String()).Logger()
	channel := redisstore.SessionChannel(sessionID)

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		logger.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	go h.readLoop(ctx, cancel, conn, sessionID)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				logger.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

// readLoop hands every inbound message to the assistant. It cancels the
// connection context when the client goes away.
func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID uuid.UUID) {
	defer cancel()

	logger := log.With().Str("session_id", sessionID.String()).Logger()
	for {
		var in domain.Outbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		msg := domain.UserMessage{
			Content:  strings.TrimSpace(in.Content),
			FileID:   in.FileID,
			ImageURL: v1.FileURL(in.FileID),
		}
		if msg.Content == "" && msg.FileID == "" {
			logger.Debug().Msg("ignoring empty message")
			continue
		}

		if err := h.messages.HandleMessage(ctx, sessionID, msg); err != nil {
			logger.Warn().Err(err).Msg("message rejected")
		}
	}
}
