package campaign

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

func TestTierFromTwitch(t *testing.T) {
	assert.Equal(t, 1, tierFromTwitch("1000"))
	assert.Equal(t, 2, tierFromTwitch("2000"))
	assert.Equal(t, 3, tierFromTwitch("3000"))
	assert.Equal(t, 1, tierFromTwitch("")) // unknown tier defaults to 1
}

// These guard-clause paths never touch c.svc, so a nil Service is safe here;
// mutation paths that do reach the Service require a live Postgres instance
// and are exercised there, not in this package's unit tests.
func nilConsumer() *Consumer {
	return &Consumer{svc: nil}
}

func TestHandleChatNotificationDropsCommunityGiftEcho(t *testing.T) {
	c := nilConsumer()
	payload := []byte(`{"notice_type":"sub_gift","sub_gift":{"sub_tier":"1000","community_gift_id":"g1"}}`)
	assert.NoError(t, c.handleChatNotification(context.Background(), payload))
}

func TestHandleChatNotificationIgnoresUnknownNoticeType(t *testing.T) {
	c := nilConsumer()
	payload := []byte(`{"notice_type":"announcement"}`)
	assert.NoError(t, c.handleChatNotification(context.Background(), payload))
}

func TestHandleChatNotificationIgnoresMalformedPayload(t *testing.T) {
	c := nilConsumer()
	assert.NoError(t, c.handleChatNotification(context.Background(), []byte(`not json`)))
}

func TestHandleCheerIgnoresMalformedPayload(t *testing.T) {
	c := nilConsumer()
	assert.NoError(t, c.handleCheer(context.Background(), []byte(`not json`)))
}

func TestDispatchIgnoresUnrelatedEventType(t *testing.T) {
	c := nilConsumer()
	assert.NotPanics(t, func() {
		c.dispatch(context.Background(), bus.Envelope{EventType: "channel.follow"})
	})
}
