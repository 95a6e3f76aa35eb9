package wsgateway

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
)

// AdsHandler forwards events:ads envelopes and answers the one client command
// this socket understands: {"command":"status"}.
type AdsHandler struct {
	bus bus.Bus
	kv  *kv.Store
	log *zap.Logger
}

func NewAdsHandler(b bus.Bus, kvStore *kv.Store, log *zap.Logger) *AdsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdsHandler{bus: b, kv: kvStore, log: log.With(zap.String("module", "wsgateway.ads"))}
}

type adsStatusPayload struct {
	Enabled        bool   `json:"enabled"`
	NextTime       string `json:"next_time,omitempty"`
	WarningActive  bool   `json:"warning_active"`
}

type adsStatusFrame struct {
	Type    string           `json:"type"`
	Payload adsStatusPayload `json:"payload"`
}

type clientCommand struct {
	Command string `json:"command"`
}

func (h *AdsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readCommands(ctx, cancel, conn)

	sub := h.bus.Subscribe(ctx, bus.ChannelAds)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Channel():
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				h.log.Warn("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *AdsHandler) readCommands(ctx context.Context, cancel context.CancelFunc, conn writer) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.log.Warn("dropping malformed ads client command", zap.Error(err))
			continue
		}
		if cmd.Command != "status" {
			continue
		}
		frame := h.statusFrame(ctx)
		if err := conn.WriteJSON(frame); err != nil {
			h.log.Warn("write failed", zap.Error(err))
			return
		}
	}
}

func (h *AdsHandler) statusFrame(ctx context.Context) adsStatusFrame {
	var payload adsStatusPayload
	enabled, _ := h.kv.GetString(ctx, kv.KeyAdsEnabled)
	payload.Enabled = enabled == "" || enabled == "true" || enabled == "1"
	nextTime, _ := h.kv.GetString(ctx, kv.KeyAdsNextTime)
	payload.NextTime = nextTime
	warning, _ := h.kv.GetString(ctx, kv.KeyAdsWarningActive)
	payload.WarningActive = warning == "true" || warning == "1"
	return adsStatusFrame{Type: "ads:status", Payload: payload}
}

// writer is the subset of *websocket.Conn this file needs, narrowed for
// testability.
type writer interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
}
