package overlay

import (
	"encoding/json"
	"fmt"
)

// Frame is one outgoing multiplexed message; sequence is assigned by the
// connection, not by classification.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Incoming is the narrow shape classify needs from a bus envelope.
type Incoming struct {
	EventType  string
	Source     string
	NoticeType string // only set for channel.chat.notification
	FFBotType  string // only set when source == "ffbot"
	Payload    json.RawMessage
}

// Classify maps one bus envelope onto zero or more outgoing frames, per the
// routing table. The same incoming event can fan out to multiple layers (for
// example a follow appends to both timeline and base/alerts).
func Classify(in Incoming) []Frame {
	var frames []Frame

	switch in.EventType {
	case "limitbreak.update":
		frames = append(frames, Frame{Type: "limitbreak:update", Payload: in.Payload})
	case "limitbreak.executed":
		frames = append(frames, Frame{Type: "limitbreak:executed", Payload: in.Payload})
	case "music.update":
		frames = append(frames, Frame{Type: "music:update", Payload: in.Payload})
	case "music.sync":
		frames = append(frames, Frame{Type: "music:sync", Payload: in.Payload})
	case "status.update":
		frames = append(frames, Frame{Type: "status:update", Payload: in.Payload})
	case "audio.mic.mute":
		frames = append(frames, Frame{Type: "audio:rme:update", Payload: in.Payload})
	case "audio.channels.update":
		frames = append(frames, Frame{Type: "audio:channels:update", Payload: in.Payload})
	case "channel.chat.message":
		frames = append(frames, Frame{Type: "chat:message", Payload: in.Payload})
	case "channel.follow", "channel.cheer":
		frames = append(frames,
			Frame{Type: "timeline:append", Payload: in.Payload},
			Frame{Type: "base:append", Payload: in.Payload},
			Frame{Type: "alerts:append", Payload: in.Payload},
		)
	}

	if in.EventType == "channel.chat.notification" && IsTimelineNotice(in.NoticeType) {
		frames = append(frames,
			Frame{Type: "timeline:append", Payload: in.Payload},
			Frame{Type: "base:append", Payload: in.Payload},
			Frame{Type: "alerts:append", Payload: in.Payload},
		)
	}

	switch in.Source {
	case "ffbot":
		frames = append(frames, classifyFFBot(in)...)
	case "campaign":
		frames = append(frames, Frame{Type: fmt.Sprintf("campaign:%s", in.EventType), Payload: in.Payload})
	case "obs":
		frames = append(frames, Frame{Type: "obs:update", Payload: in.Payload})
		if in.EventType == "obs.scene.changed" {
			frames = append(frames, Frame{Type: "base:obs_scene_changed", Payload: in.Payload})
		}
	}

	return frames
}
