// Package bus wraps Redis pub/sub into the fire-and-forget event envelope used
// to decouple every producer (EventSub, OBS, OSC, music, game adapters) from
// every consumer (campaign aggregator, overlay multiplexer).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/metrics"
)

// Channel name taxonomy. Consumers subscribe to exactly these names; producers
// never invent a new channel at the call site.
const (
	ChannelTwitch      = "events:twitch"
	ChannelOBS         = "events:obs"
	ChannelLimitBreak  = "events:limitbreak"
	ChannelMusic       = "events:music"
	ChannelStatus      = "events:status"
	ChannelChat        = "events:chat"
	ChannelAudio       = "events:audio"
	ChannelCampaign    = "events:campaign"
	ChannelAds         = "events:ads"
	ChannelGamesFFBot  = "events:games:ffbot"
	ChannelGamesIronmon = "events:games:ironmon"
	ChannelBotAds      = "bot:ads"
)

// Envelope is the wire format every publisher writes and every subscriber
// reads back verbatim onto a client socket.
type Envelope struct {
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	EventID   string          `json:"event_id,omitempty"`
	MemberID  string          `json:"member_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Bus publishes and subscribes to envelopes on named channels.
type Bus interface {
	Publish(ctx context.Context, channel string, env Envelope) error
	Subscribe(ctx context.Context, channels ...string) Subscription
	Close() error
}

// Subscription streams decoded envelopes from one or more channels.
type Subscription interface {
	Channel() <-chan Envelope
	Unsubscribe(ctx context.Context, channels ...string) error
	Close() error
}

type redisBus struct {
	client *redis.Client
	log    *zap.Logger
}

// New constructs a Bus backed by client. log may be nil (a no-op logger is used).
func New(client *redis.Client, log *zap.Logger) Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisBus{client: client, log: log.With(zap.String("module", "bus"))}
}

func (b *redisBus) Publish(ctx context.Context, channel string, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Error("publish failed", zap.String("channel", channel), zap.Error(err))
		if dlqErr := EmitToDLQ(ctx, b.client, b.log, channel, env, err); dlqErr != nil {
			b.log.Error("dead-letter emit also failed", zap.String("channel", channel), zap.Error(dlqErr))
		}
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *redisBus) Subscribe(ctx context.Context, channels ...string) Subscription {
	ps := b.client.Subscribe(ctx, channels...)
	out := make(chan Envelope, 64)
	sub := &redisSubscription{ps: ps, out: out, log: b.log}
	go sub.pump(ctx)
	return sub
}

func (b *redisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Envelope
	log *zap.Logger
}

// pump decodes every incoming message into an Envelope. A malformed payload is
// logged and dropped; it never closes the subscription or blocks delivery of
// later frames.
func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn("dropping malformed bus message",
					zap.String("channel", msg.Channel), zap.Error(err))
				metrics.BusMalformedMessages.WithLabelValues(msg.Channel).Inc()
				continue
			}
			select {
			case s.out <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan Envelope {
	return s.out
}

func (s *redisSubscription) Unsubscribe(ctx context.Context, channels ...string) error {
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
