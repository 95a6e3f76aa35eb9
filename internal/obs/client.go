// Package obs is a WebSocket client for the scene compositor's own protocol
// (obs-websocket v5: an envelope carrying an opcode plus a typed data blob).
// No client library for this protocol exists anywhere in the retrieved
// corpus, so framing is hand-rolled over gorilla/websocket.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// opcode values from the obs-websocket v5 protocol.
const (
	opHello               = 0
	opIdentify            = 1
	opIdentified          = 2
	opReidentify          = 3
	opEvent               = 5
	opRequest             = 6
	opRequestResponse     = 7
	requestedRPCVersion   = 1
	eventSubAll           = (1 << 11) - 1 // every non-high-volume category (0x7FF)
)

type envelope struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

type helloData struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion        int    `json:"rpcVersion"`
	Authentication    string `json:"authentication,omitempty"`
	EventSubscriptions int   `json:"eventSubscriptions"`
}

type eventData struct {
	EventType   string          `json:"eventType"`
	EventData   json.RawMessage `json:"eventData"`
	EventIntent int             `json:"eventIntent"`
}

// Client maintains a single long-lived connection to the compositor and
// republishes every event it receives onto the bus.
type Client struct {
	url      string
	password string
	bus      bus.Bus
	log      *zap.Logger

	autoRefreshBrowserSources bool

	mu    sync.Mutex
	state State
}

// State is the overlay obs-layer sync snapshot: connectivity plus the last
// known scene/recording/streaming flags.
type State struct {
	Connected bool   `json:"connected"`
	Scene     string `json:"scene,omitempty"`
	Recording bool   `json:"recording"`
	Streaming bool   `json:"streaming"`
}

func NewClient(url, password string, b bus.Bus, log *zap.Logger, autoRefreshBrowserSources bool) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url: url, password: password, bus: b,
		log: log.With(zap.String("module", "obs")),
		autoRefreshBrowserSources: autoRefreshBrowserSources,
	}
}

// Run connects and reconnects with backoff until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.connectAndServe(ctx); err != nil {
			c.log.Warn("obs connection dropped", zap.Error(err))
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		bo.Reset()
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var hd helloData
	if err := json.Unmarshal(hello.Data, &hd); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	id := identifyData{RPCVersion: requestedRPCVersion, EventSubscriptions: eventSubAll}
	if hd.Authentication != nil {
		id.Authentication = authString(c.password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}
	idPayload, _ := json.Marshal(id)
	if err := conn.WriteJSON(envelope{Op: opIdentify, Data: idPayload}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var identified envelope
	if err := conn.ReadJSON(&identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("unexpected opcode %d awaiting identified", identified.Op)
	}

	if c.autoRefreshBrowserSources {
		c.refreshBrowserSources(ctx, conn)
	}

	c.setConnected(true)
	defer c.setConnected(false)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if env.Op != opEvent {
			continue
		}
		var ev eventData
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.log.Warn("dropping malformed obs event frame", zap.Error(err))
			continue
		}
		c.publish(ctx, ev)
	}
}

func (c *Client) publish(ctx context.Context, ev eventData) {
	eventType := translateEventType(ev.EventType)
	if eventType == "" {
		return
	}
	c.applyState(eventType, ev.EventData)
	out := bus.Envelope{EventType: eventType, Source: "obs", Timestamp: time.Now().UTC(), Payload: ev.EventData}
	if err := c.bus.Publish(ctx, bus.ChannelOBS, out); err != nil {
		c.log.Warn("publish obs event failed", zap.Error(err))
	}
}

// applyState updates the cached snapshot state from a translated event so
// the overlay's obs-layer sync reflects the most recently observed values.
func (c *Client) applyState(eventType string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch eventType {
	case "obs.scene.changed":
		var d struct {
			SceneName string `json:"sceneName"`
		}
		if json.Unmarshal(data, &d) == nil {
			c.state.Scene = d.SceneName
		}
	case "obs.recording.changed":
		var d struct {
			OutputActive bool `json:"outputActive"`
		}
		if json.Unmarshal(data, &d) == nil {
			c.state.Recording = d.OutputActive
		}
	case "obs.streaming.changed":
		var d struct {
			OutputActive bool `json:"outputActive"`
		}
		if json.Unmarshal(data, &d) == nil {
			c.state.Streaming = d.OutputActive
		}
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	c.state.Connected = connected
	c.mu.Unlock()
}

// Snapshot implements the overlay's obs-layer sync.
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func translateEventType(raw string) string {
	switch raw {
	case "CurrentProgramSceneChanged":
		return "obs.scene.changed"
	case "RecordStateChanged":
		return "obs.recording.changed"
	case "StreamStateChanged":
		return "obs.streaming.changed"
	case "InputMuteStateChanged":
		return "obs.input.muted"
	default:
		return ""
	}
}

// refreshBrowserSources is called on a fresh connect when auto-refresh is
// enabled. It sends no requests, so no browser source is refreshed.
func (c *Client) refreshBrowserSources(_ context.Context, _ *websocket.Conn) {}

// authString implements the obs-websocket v5 challenge/response scheme:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authString(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secretBase64 := base64.StdEncoding.EncodeToString(secretHash[:])
	authHash := sha256.Sum256([]byte(secretBase64 + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}
