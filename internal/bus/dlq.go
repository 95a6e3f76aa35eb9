package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmitToDLQ records an envelope that a producer failed to publish onto its
// normal channel, so it can be replayed or inspected later instead of silently
// vanishing.
func EmitToDLQ(ctx context.Context, client *redis.Client, log *zap.Logger, channel string, env Envelope, cause error) error {
	values := map[string]interface{}{
		"channel":    channel,
		"event_type": env.EventType,
		"event_id":   env.EventID,
		"error":      fmt.Sprintf("%v", cause),
	}
	if _, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "events:dlq", Values: values}).Result(); err != nil {
		if log != nil {
			log.Error("failed to emit to dead-letter stream", zap.Error(err), zap.String("channel", channel))
		}
		return err
	}
	return nil
}
