// Package notify tells interested parties that a session's turn finished so
// they can re-fetch derived views.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

// Publisher abstracts the pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notice is the payload published when a turn completes.
type Notice struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Notifier publishes turn-complete notices on the session's refresh channel.
type Notifier struct {
	pub Publisher
}

// New creates a Notifier publishing through pub.
func New(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// Refresh publishes a turn_complete notice for sessionID.
func (n *Notifier) Refresh(ctx context.Context, sessionID uuid.UUID) error {
	payload, err := json.Marshal(Notice{Type: "turn_complete", SessionID: sessionID.String()})
	if err != nil {
		return fmt.Errorf("notify.Notifier.Refresh: marshal: %w", err)
	}

	channel := redisstore.RefreshChannel(sessionID)
	if err := n.pub.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("notify.Notifier.Refresh: %w", err)
	}

	log.Debug().Str("channel", channel).Msg("refresh notice published")
	return nil
}
