package wsgateway

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// MusicHandler is an inbound-only intake for third-party music agents (Apple
// Music / Rainwave style pollers running client-side). The first frame may
// identify the agent; every frame after that is a now-playing dictionary
// republished on events:music with source/timestamp filled in when absent.
type MusicHandler struct {
	bus bus.Bus
	log *zap.Logger
}

func NewMusicHandler(b bus.Bus, log *zap.Logger) *MusicHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MusicHandler{bus: b, log: log.With(zap.String("module", "wsgateway.music"))}
}

type agentIdentFrame struct {
	AgentType string `json:"agent_type"`
}

func (h *MusicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	agentType := ""
	first := true

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if first {
			first = false
			var ident agentIdentFrame
			if json.Unmarshal(data, &ident) == nil && ident.AgentType != "" {
				agentType = ident.AgentType
				continue
			}
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			h.log.Warn("dropping malformed music-agent frame", zap.Error(err))
			continue
		}
		if _, ok := payload["source"]; !ok {
			if agentType != "" {
				payload["source"] = agentType
			} else {
				payload["source"] = "music-agent"
			}
		}
		if _, ok := payload["timestamp"]; !ok {
			payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		env := bus.Envelope{EventType: "music.update", Source: "music-agent", Timestamp: time.Now().UTC(), Payload: raw}
		if err := h.bus.Publish(ctx, bus.ChannelMusic, env); err != nil {
			h.log.Warn("publish music-agent frame failed", zap.Error(err))
		}
	}
}
