package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces per-recipient pub/sub channels.
const ChannelPrefix = "notifications:"

// Channel returns the pub/sub channel for a recipient.
func Channel(recipient string) string {
	return ChannelPrefix + recipient
}

// RedisTransport publishes notifications as JSON on the recipient's channel.
type RedisTransport struct {
	client redis.UniversalClient
}

func NewRedisTransport(client redis.UniversalClient) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := t.client.Publish(ctx, Channel(n.Recipient), body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogTransport writes notifications to the log. Used when Redis is not configured.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(ctx context.Context, n Notification) error {
	t.logger.InfoContext(ctx, "notification",
		"notification_id", n.ID.String(),
		"kind", string(n.Kind),
		"recipient", n.Recipient,
	)
	return nil
}
