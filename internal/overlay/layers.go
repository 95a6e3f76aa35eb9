package overlay

// Layer is one of the fixed overlay feeds multiplexed onto a single socket.
type Layer string

const (
	LayerBase          Layer = "base"
	LayerTimeline      Layer = "timeline"
	LayerTicker        Layer = "ticker"
	LayerAlerts        Layer = "alerts"
	LayerOBS           Layer = "obs"
	LayerAudioRME      Layer = "audio:rme"
	LayerAudioChannels Layer = "audio:channels"
	LayerCampaign      Layer = "campaign"
	LayerLimitBreak    Layer = "limitbreak"
	LayerMusic         Layer = "music"
	LayerStatus        Layer = "status"
	LayerFFBot         Layer = "ffbot"
	LayerChat          Layer = "chat"
)

// Layers is the fixed, ordered set synced on every new connection.
var Layers = []Layer{
	LayerBase, LayerTimeline, LayerTicker, LayerAlerts, LayerOBS,
	LayerAudioRME, LayerAudioChannels, LayerCampaign, LayerLimitBreak,
	LayerMusic, LayerStatus, LayerFFBot, LayerChat,
}

// timelineNoticeTypes is the include-list of chat-notification notice types
// that also append to the timeline and base/alerts layers.
var timelineNoticeTypes = map[string]bool{
	"sub": true, "resub": true, "sub_gift": true, "community_sub_gift": true,
	"gift_paid_upgrade": true, "prime_paid_upgrade": true, "pay_it_forward": true,
	"raid": true, "bits_badge_tier": true, "charity_donation": true,
}

// viewerInteractionTypes drives the base/alerts sync query and live routing.
var viewerInteractionTypes = map[string]bool{
	"channel.chat.notification":       true,
	"channel.follow":                  true,
	"channel.subscribe":               true,
	"channel.subscription.gift":       true,
	"channel.subscription.message":    true,
	"channel.cheer":                   true,
	"channel.raid":                    true,
}

// IsTimelineNotice reports whether a channel.chat.notification notice type
// belongs on the timeline (and base/alerts). Excluded: announcement, unraid,
// and every shared_chat_* variant.
func IsTimelineNotice(noticeType string) bool {
	return timelineNoticeTypes[noticeType]
}

// IsViewerInteraction reports whether eventType belongs to the catalogue used
// for the base-layer sync query and live base/alerts routing.
func IsViewerInteraction(eventType string) bool {
	return viewerInteractionTypes[eventType]
}
