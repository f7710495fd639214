package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	natsMaxReconnects = 10
	natsReconnectWait = 2 * time.Second

	playerSubjectPrefix   = "epyc.notify."
	operatorSubjectPrefix = "epyc.ops."
)

// Connect dials NATS with reconnect handling suitable for a long-lived
// service.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Message is the wire envelope the adapter layer consumes.
type Message struct {
	PlayerID *uuid.UUID     `json:"player_id,omitempty"`
	Key      string         `json:"key"`
	Data     map[string]any `json:"data,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// NATSNotifier publishes notifications to per-player and operator subjects.
type NATSNotifier struct {
	nc *nats.Conn
}

func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

func (n *NATSNotifier) Notify(ctx context.Context, playerID uuid.UUID, key string, data map[string]any) {
	n.publish(playerSubjectPrefix+playerID.String(), Message{
		PlayerID: &playerID,
		Key:      key,
		Data:     data,
		SentAt:   time.Now().UTC(),
	})
}

func (n *NATSNotifier) NotifyOperators(ctx context.Context, key string, data map[string]any) {
	n.publish(operatorSubjectPrefix+key, Message{
		Key:    key,
		Data:   data,
		SentAt: time.Now().UTC(),
	})
}

func (n *NATSNotifier) publish(subject string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("marshal notification")
		return
	}
	if err := n.nc.Publish(subject, payload); err != nil {
		log.Error().Err(err).Str("subject", subject).Str("key", msg.Key).Msg("publish notification")
	}
}
