package eventsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyGiftCommunityEventPublishes(t *testing.T) {
	action := ClassifyGift(GiftNotice{NoticeType: "community_sub_gift", CommunityGiftID: "g1"})
	assert.Equal(t, ActionPublish, action)
}

func TestClassifyGiftEchoIsDropped(t *testing.T) {
	action := ClassifyGift(GiftNotice{NoticeType: "sub_gift", CommunityGiftID: "g1"})
	assert.Equal(t, ActionDrop, action)
}

func TestClassifyGiftTargetedGiftPublishes(t *testing.T) {
	action := ClassifyGift(GiftNotice{NoticeType: "sub_gift"})
	assert.Equal(t, ActionPublish, action)
}
