// Package ffbot accepts the FFBot game plugin's HTTP push, acknowledging
// immediately and doing member/bus work in the background.
package ffbot

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/store"
)

// event is the shape the plugin posts. Only "save" events omit Player.
type event struct {
	Type      string                 `json:"type"`
	Player    string                 `json:"player"`
	Timestamp float64                `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Character string                 `json:"character"`
	Cost      int                    `json:"cost"`
	From      string                 `json:"from"`
	To        string                 `json:"to"`
	PlayerCnt int                    `json:"player_count"`
}

// Handler implements the single intake endpoint.
type Handler struct {
	store *store.Queries
	bus   bus.Bus
	log   *zap.Logger
}

func NewHandler(s *store.Queries, b bus.Bus, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: s, bus: b, log: log.With(zap.String("module", "ffbot"))}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var ev event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if ev.Type == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})

	go h.process(context.Background(), ev)
}

func (h *Handler) process(ctx context.Context, ev event) {
	if ev.Type == "save" {
		h.publish(ctx, "ffbot.save", nil, ev, nil)
		return
	}
	if ev.Player == "" {
		h.log.Warn("ffbot event missing player", zap.String("type", ev.Type))
		return
	}

	member, err := h.store.UpsertMember(ctx, h.store.DB(), strings.ToLower(ev.Player), strings.ToLower(ev.Player), ev.Player)
	if err != nil {
		h.log.Warn("ffbot member upsert failed", zap.Error(err), zap.String("player", ev.Player))
		return
	}

	h.publish(ctx, "ffbot."+ev.Type, &member, ev, ev.Data)
}

func (h *Handler) publish(ctx context.Context, eventType string, member *store.Member, ev event, data map[string]interface{}) {
	payload := map[string]interface{}{
		"player": ev.Player,
		"data":   data,
	}
	if ev.Character != "" {
		payload["character"] = ev.Character
	}
	if ev.From != "" {
		payload["from"] = ev.From
	}
	if ev.To != "" {
		payload["to"] = ev.To
	}
	if ev.PlayerCnt != 0 {
		payload["player_count"] = ev.PlayerCnt
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}

	env := bus.Envelope{EventType: eventType, Source: "ffbot", Timestamp: time.Now().UTC(), Payload: raw}
	if member != nil {
		env.MemberID = member.ID
	}
	if err := h.bus.Publish(ctx, bus.ChannelGamesFFBot, env); err != nil {
		h.log.Warn("publish ffbot event failed", zap.Error(err))
	}
}
