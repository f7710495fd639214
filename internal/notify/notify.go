// Package notify delivers game events to the platform adapter layer.
// Delivery is fire-and-forget: failures are logged and never block game
// progress.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notifier is the outbound contract. key is a stable message key the
// platform layer renders; data carries the message parameters.
type Notifier interface {
	Notify(ctx context.Context, playerID uuid.UUID, key string, data map[string]any)
	// NotifyOperators raises operator-facing events: stalled games, failed
	// jobs, flagged content.
	NotifyOperators(ctx context.Context, key string, data map[string]any)
}

// LogNotifier writes notifications to the log. It is the development
// fallback when no NATS server is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, playerID uuid.UUID, key string, data map[string]any) {
	log.Info().
		Str("player_id", playerID.String()).
		Str("key", key).
		Interface("data", data).
		Msg("notify")
}

func (LogNotifier) NotifyOperators(ctx context.Context, key string, data map[string]any) {
	log.Warn().
		Str("key", key).
		Interface("data", data).
		Msg("operator notice")
}
