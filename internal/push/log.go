package push

import (
	"context"

	"shukku-list-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// LogSender writes messages to the log instead of a provider. Every token counts as delivered.
type LogSender struct{}

// NewLogSender creates a log-only sender for development
func NewLogSender() *LogSender {
	return &LogSender{}
}

// SendMulticast logs the message once per batch
func (s *LogSender) SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*BatchResult, error) {
	msg = WithDefaults(msg)

	log.Info().
		Int("tokens", len(tokens)).
		Str("title", msg.Notification.Title).
		Str("body", msg.Notification.Body).
		Interface("data", msg.Data).
		Msg("Push notification (log sender)")

	return &BatchResult{SuccessCount: len(tokens)}, nil
}
