package feed

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBridge relays change events between a Redis pub/sub topic space and a
// local hub, so a writer in another process can feed subscribers here. Events
// travel as JSON on "<prefix>.<channel>" topics.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	prefix string
	logger *zap.Logger
}

// NewRedisBridge constructs a bridge publishing into hub.
func NewRedisBridge(client *redis.Client, hub *Hub, prefix string, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client: client,
		hub:    hub,
		prefix: prefix,
		logger: logger,
	}
}

// Publish mirrors a local event out to Redis for other processes.
func (b *RedisBridge) Publish(ctx context.Context, event ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic(event.Channel), payload).Err()
}

// Run consumes the bridge's pattern subscription until ctx is done, forwarding
// decoded events into the hub. Decode failures are logged and skipped; the
// subscription itself is not re-established here, the caller owns restarts.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+".*")
	defer pubsub.Close() //nolint:errcheck

	if _, err := pubsub.Receive(ctx); err != nil {
		b.logger.Error("redis bridge subscription failed", zap.Error(err))
		return err
	}
	b.logger.Info("redis bridge subscribed", zap.String("pattern", b.prefix+".*"))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("redis bridge closed")
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				b.logger.Warn("redis bridge stream ended")
				return nil
			}
			var event ChangeEvent
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				b.logger.Warn("redis bridge received malformed event",
					zap.String("topic", message.Channel), zap.Error(err))
				continue
			}
			if event.Channel == "" {
				event.Channel = strings.TrimPrefix(message.Channel, b.prefix+".")
			}
			b.hub.Publish(event)
		}
	}
}

func (b *RedisBridge) topic(channel string) string {
	return b.prefix + "." + channel
}
