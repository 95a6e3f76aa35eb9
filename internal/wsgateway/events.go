// Package wsgateway implements the simpler, single-purpose WebSocket
// endpoints that sit alongside the overlay multiplexer: a broadcast-only
// Twitch event forward, an ads-notification feed with one client command, an
// inbound-only music-agent intake, and a binary audio-chunk intake.
package wsgateway

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler forwards events:twitch envelopes verbatim to every connected
// client; it accepts no client input.
type EventsHandler struct {
	bus bus.Bus
	log *zap.Logger
}

func NewEventsHandler(b bus.Bus, log *zap.Logger) *EventsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsHandler{bus: b, log: log.With(zap.String("module", "wsgateway.events"))}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel)

	sub := h.bus.Subscribe(ctx, bus.ChannelTwitch)
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

// discardReads drains and discards client frames purely to detect
// disconnects; these endpoints are broadcast-only (or inbound-only, handled
// separately) by design.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
