package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLimitBreakUpdate(t *testing.T) {
	frames := Classify(Incoming{EventType: "limitbreak.update", Payload: json.RawMessage(`{}`)})
	require.Len(t, frames, 1)
	assert.Equal(t, "limitbreak:update", frames[0].Type)
}

func TestClassifyFollowAppendsThreeLayers(t *testing.T) {
	frames := Classify(Incoming{EventType: "channel.follow"})
	types := typesOf(frames)
	assert.Contains(t, types, "timeline:append")
	assert.Contains(t, types, "base:append")
	assert.Contains(t, types, "alerts:append")
}

func TestClassifyChatNotificationIncludedNoticeType(t *testing.T) {
	frames := Classify(Incoming{EventType: "channel.chat.notification", NoticeType: "resub"})
	assert.Contains(t, typesOf(frames), "timeline:append")
}

func TestClassifyChatNotificationExcludedNoticeType(t *testing.T) {
	frames := Classify(Incoming{EventType: "channel.chat.notification", NoticeType: "announcement"})
	assert.NotContains(t, typesOf(frames), "timeline:append")
}

func TestClassifySharedChatVariantExcluded(t *testing.T) {
	assert.False(t, IsTimelineNotice("shared_chat_sub"))
}

func TestClassifyCampaignSource(t *testing.T) {
	frames := Classify(Incoming{Source: "campaign", EventType: "update", Payload: json.RawMessage(`{"a":1}`)})
	require.Len(t, frames, 1)
	assert.Equal(t, "campaign:update", frames[0].Type)
}

func TestClassifyOBSSceneChange(t *testing.T) {
	frames := Classify(Incoming{Source: "obs", EventType: "obs.scene.changed"})
	types := typesOf(frames)
	assert.Contains(t, types, "obs:update")
	assert.Contains(t, types, "base:obs_scene_changed")
}

func TestClassifyFFBotStats(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"player": "p1", "member": "m1"})
	frames := Classify(Incoming{Source: "ffbot", FFBotType: "stats", Payload: payload})
	require.Len(t, frames, 1)
	assert.Equal(t, "ffbot:stats", frames[0].Type)
}

func TestClassifyFFBotEmptySubTypeIsEmpty(t *testing.T) {
	frames := classifyFFBot(Incoming{Source: "ffbot", FFBotType: ""})
	assert.Empty(t, frames)
}

func typesOf(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}
