// Package overlay implements the single WebSocket endpoint that multiplexes
// every overlay layer onto one connection: an initial per-layer snapshot
// followed by a live stream of classified bus events.
package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/metrics"
)

// channels fed into every overlay connection's bus subscription.
var subscribedChannels = []string{
	bus.ChannelTwitch, bus.ChannelOBS, bus.ChannelLimitBreak, bus.ChannelMusic,
	bus.ChannelStatus, bus.ChannelChat, bus.ChannelAudio, bus.ChannelCampaign,
	bus.ChannelAds, bus.ChannelGamesFFBot, bus.ChannelGamesIronmon,
}

// Snapshotter builds the initial sync payload for one layer. Implementations
// live alongside whatever owns that layer's persistent state (campaign
// aggregator, OBS adapter, OSC adapter, status service, ...).
type Snapshotter interface {
	Snapshot(ctx context.Context, layer Layer) (json.RawMessage, error)
}

// Server accepts overlay connections and streams classified bus frames to them.
type Server struct {
	bus     bus.Bus
	snap    Snapshotter
	log     *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(b bus.Bus, snap Snapshotter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		bus:  b,
		snap: snap,
		log:  log.With(zap.String("module", "overlay")),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(log),
		},
	}
}

// checkOrigin allows same-origin/non-browser clients and anything listed in
// WS_ALLOWED_ORIGINS (comma-separated hosts, "*" for any, "*.domain" for a
// wildcard suffix).
func checkOrigin(log *zap.Logger) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		allowed := os.Getenv("WS_ALLOWED_ORIGINS")
		if allowed == "" {
			allowed = "localhost,127.0.0.1"
		}
		host := origin
		if idx := strings.Index(host, "://"); idx >= 0 {
			host = host[idx+3:]
		}
		if idx := strings.Index(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		for _, candidate := range strings.Split(allowed, ",") {
			if candidate == "*" || candidate == host {
				return true
			}
			if strings.HasPrefix(candidate, "*.") && strings.HasSuffix(host, candidate[1:]) {
				return true
			}
		}
		if log != nil {
			log.Warn("rejected overlay connection", zap.String("origin", origin))
		}
		return false
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	c := &connection{
		id:   connID,
		conn: conn,
		send: make(chan Frame, 256),
		log:  s.log.With(zap.String("connection_id", connID)),
	}

	metrics.OverlayConnections.Inc()
	defer metrics.OverlayConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writeLoop(ctx)

	for _, layer := range Layers {
		payload, err := s.snap.Snapshot(ctx, layer)
		if err != nil {
			s.log.Warn("snapshot failed, syncing empty", zap.String("layer", string(layer)), zap.Error(err))
			payload = json.RawMessage(`null`)
		}
		c.enqueue(Frame{Type: string(layer) + ":sync", Payload: payload})
	}

	sub := s.bus.Subscribe(ctx, subscribedChannels...)
	defer sub.Close()

	go c.readLoop(ctx, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Channel():
			if !ok {
				return
			}
			for _, frame := range classifyEnvelope(env) {
				c.enqueue(frame)
			}
		}
	}
}

// classifyEnvelope adapts a bus.Envelope into the Incoming shape Classify
// expects, pulling out the notice_type / ffbot sub-type fields that live
// inside the raw payload for those event kinds.
func classifyEnvelope(env bus.Envelope) []Frame {
	in := Incoming{EventType: env.EventType, Source: env.Source, Payload: env.Payload}

	if env.EventType == "channel.chat.notification" {
		var probe struct {
			NoticeType string `json:"notice_type"`
		}
		_ = json.Unmarshal(env.Payload, &probe)
		in.NoticeType = probe.NoticeType
	}
	if env.Source == "ffbot" {
		// The ffbot intake publishes event_type as "ffbot.<sub-type>" rather
		// than stamping a "type" field inside the payload itself.
		in.FFBotType = strings.TrimPrefix(env.EventType, "ffbot.")
	}

	return Classify(in)
}

// connection owns one socket: a single writer goroutine draining `send`, so
// concurrent WriteJSON calls never race, and a local sequence counter
// assigned only by that goroutine.
type connection struct {
	id       string
	conn     *websocket.Conn
	send     chan Frame
	sequence uint64
	mu       sync.Mutex
	log      *zap.Logger
}

func (c *connection) enqueue(f Frame) {
	select {
	case c.send <- f:
	default:
		// The classifier goroutine runs ahead of the writer so a slow client
		// blocks delivery to itself, never the shared bus subscription; a
		// full buffer here means this one socket is hopelessly behind.
		c.log.Warn("dropping frame for slow overlay client")
		layer := f.Type
		if idx := strings.Index(layer, ":"); idx >= 0 {
			layer = layer[:idx]
		}
		metrics.OverlayFramesDropped.WithLabelValues(layer).Inc()
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	defer c.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			out := struct {
				Type      string          `json:"type"`
				Payload   json.RawMessage `json:"payload"`
				Timestamp time.Time       `json:"timestamp"`
				Sequence  uint64          `json:"sequence"`
			}{
				Type:      frame.Type,
				Payload:   frame.Payload,
				Timestamp: time.Now().UTC(),
				Sequence:  c.sequence,
			}
			c.sequence++
			c.mu.Lock()
			err := c.conn.WriteJSON(out)
			c.mu.Unlock()
			if err != nil {
				c.log.Warn("write failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop drains and discards client frames (the overlay socket is
// broadcast-only in the original design) but still needs to read to detect
// disconnects and respond to pings.
func (c *connection) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
