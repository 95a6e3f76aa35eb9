package campaign

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// Consumer is the aggregator's write-path entry point: it subscribes to
// events:twitch and turns viewer-interaction notifications into Service
// calls, the missing half of the aggregator described in spec.md §4.4 — the
// Service itself only exposes operations, something has to call them off the
// live stream.
type Consumer struct {
	svc *Service
	bus bus.Bus
	log *zap.Logger
}

func NewConsumer(svc *Service, b bus.Bus, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{svc: svc, bus: b, log: log.With(zap.String("module", "campaign.consumer"))}
}

// Run subscribes to events:twitch and dispatches every notification until ctx
// is cancelled or the subscription closes.
func (c *Consumer) Run(ctx context.Context) error {
	sub := c.bus.Subscribe(ctx, bus.ChannelTwitch)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			c.dispatch(ctx, env)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, env bus.Envelope) {
	var err error
	switch env.EventType {
	case "channel.chat.notification":
		err = c.handleChatNotification(ctx, env.Payload)
	case "channel.cheer":
		err = c.handleCheer(ctx, env.Payload)
	default:
		return
	}
	if err != nil {
		c.log.Warn("campaign mutation failed", zap.String("event_type", env.EventType), zap.Error(err))
	}
}

// chatNotification is the narrow slice of channel.chat.notification's payload
// the aggregator needs: which sub-type fired, who triggered it, and the
// nested tier/community-gift fields that differ per notice_type.
type chatNotification struct {
	NoticeType      string `json:"notice_type"`
	ChatterUserID   string `json:"chatter_user_id"`
	ChatterUserName string `json:"chatter_user_name"`
	Sub             struct {
		SubTier string `json:"sub_tier"`
	} `json:"sub"`
	Resub struct {
		SubTier string `json:"sub_tier"`
	} `json:"resub"`
	SubGift struct {
		SubTier         string `json:"sub_tier"`
		CommunityGiftID string `json:"community_gift_id"`
	} `json:"sub_gift"`
	CommunitySubGift struct {
		ID      string `json:"id"`
		Total   int64  `json:"total"`
		SubTier string `json:"sub_tier"`
	} `json:"community_sub_gift"`
}

// tierFromTwitch maps the platform's string tier ("1000"/"2000"/"3000") onto
// the 1/2/3 the Campaign/Gift schema stores.
func tierFromTwitch(s string) int {
	switch s {
	case "2000":
		return 2
	case "3000":
		return 3
	default:
		return 1
	}
}

// handleChatNotification applies the community-gift aggregation policy
// (spec.md §4.3) before ever calling into the Service: a community_sub_gift
// notice credits its total once; the per-recipient sub_gift echoes that
// carry the same community_gift_id are dropped here exactly as
// eventsub.ClassifyGift drops them before publish, so a gap in the
// producer-side filter can't double the count.
func (c *Consumer) handleChatNotification(ctx context.Context, payload json.RawMessage) error {
	var n chatNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil
	}

	switch n.NoticeType {
	case "sub":
		_, err := c.svc.ProcessSubscription(ctx, tierFromTwitch(n.Sub.SubTier), 1, false, "", "")
		return err
	case "resub":
		_, err := c.svc.ProcessResub(ctx)
		return err
	case "community_sub_gift":
		_, err := c.svc.ProcessCommunityGift(ctx, tierFromTwitch(n.CommunitySubGift.SubTier),
			n.CommunitySubGift.Total, n.ChatterUserID, n.ChatterUserName)
		return err
	case "sub_gift":
		if n.SubGift.CommunityGiftID != "" {
			return nil // per-recipient echo of an already-counted community gift
		}
		_, err := c.svc.ProcessSubscription(ctx, tierFromTwitch(n.SubGift.SubTier), 1, true, n.ChatterUserID, n.ChatterUserName)
		return err
	default:
		return nil
	}
}

type cheerPayload struct {
	Bits int64 `json:"bits"`
}

func (c *Consumer) handleCheer(ctx context.Context, payload json.RawMessage) error {
	var p cheerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil
	}
	_, err := c.svc.ProcessBits(ctx, p.Bits)
	return err
}
