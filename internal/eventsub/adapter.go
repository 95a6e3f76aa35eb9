// Package eventsub maintains one authenticated push subscription to the
// live-streaming platform and normalises every notification onto the bus.
package eventsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
	"github.com/bryanveloso/eventfabric/internal/metrics"
)

// State is one node of the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateSubscribing
	StateActive
	StateReconnecting
	StateRevoked
	StateSilenced
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateRevoked:
		return "revoked"
	case StateSilenced:
		return "silenced"
	default:
		return "unknown"
	}
}

// Topics is the fixed catalogue of EventSub subscription types the adapter
// requests on every (re)connect.
var Topics = []string{
	"stream.online", "stream.offline", "channel.update",
	"channel.follow", "channel.subscribe", "channel.subscription.end",
	"channel.subscription.gift", "channel.subscription.message", "channel.cheer",
	"channel.raid",
	"channel.chat.clear", "channel.chat.clear_user_messages",
	"channel.chat.message", "channel.chat.notification",
	"channel.channel_points_custom_reward.add",
	"channel.channel_points_custom_reward.update",
	"channel.channel_points_custom_reward.remove",
	"channel.channel_points_custom_reward_redemption.add",
	"channel.channel_points_custom_reward_redemption.update",
	"channel.poll.begin", "channel.poll.progress", "channel.poll.end",
	"channel.prediction.begin", "channel.prediction.progress",
	"channel.prediction.lock", "channel.prediction.end",
	"channel.charity_campaign.donate", "channel.goal.begin",
	"channel.goal.progress", "channel.goal.end",
	"channel.shoutout.create", "channel.shoutout.receive",
	"channel.vip.add", "channel.vip.remove",
	"channel.ad_break.begin",
}

const (
	dedupCapacity        = 1000
	subscribePacing       = 150 * time.Millisecond
	rateLimitSleep        = 2 * time.Second
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 300 * time.Second
)

// Notification is the decoded payload of a single EventSub message.
type Notification struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event   json.RawMessage `json:"event"`
	EventID string          `json:"event_id,omitempty"`
}

// Dialer opens a websocket connection; it exists so tests can substitute a
// fake without touching the network.
type Dialer interface {
	Dial(ctx context.Context, url string) (*websocket.Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Adapter owns the connection lifecycle described by State.
type Adapter struct {
	wsURL   string
	service string
	userID  string

	dialer Dialer
	tokens TokenStore
	bus    bus.Bus
	kv     *kv.Store
	log    *zap.Logger

	restartHour int
	tz          *time.Location

	state  atomic.Int32
	dedup  *dedupCache
	mu     sync.Mutex
	conn   *websocket.Conn
}

type Config struct {
	WSURL       string
	Service     string
	UserID      string
	RestartHour int
	TimeZone    *time.Location
}

func New(cfg Config, tokens TokenStore, b bus.Bus, kvStore *kv.Store, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	tz := cfg.TimeZone
	if tz == nil {
		tz = time.UTC
	}
	return &Adapter{
		wsURL:       cfg.WSURL,
		service:     cfg.Service,
		userID:      cfg.UserID,
		dialer:      gorillaDialer{},
		tokens:      tokens,
		bus:         b,
		kv:          kvStore,
		log:         log.With(zap.String("module", "eventsub")),
		restartHour: cfg.RestartHour,
		tz:          tz,
		dedup:       newDedupCache(dedupCapacity),
	}
}

func (a *Adapter) State() State { return State(a.state.Load()) }

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
	metrics.EventSubState.Set(float64(s))
	if s == StateReconnecting {
		metrics.EventSubReconnects.Inc()
	}
	a.log.Info("state transition", zap.String("state", s.String()))
}

// Run drives the connect/subscribe/active/reconnect loop until ctx is
// cancelled or the subscription is revoked. It also enforces the daily
// restart: once the configured local hour passes, the connection is wound
// down and Run returns an error, so the process group and with it the
// process exits and an external supervisor can recycle it.
func (a *Adapter) Run(ctx context.Context) error {
	restartAt := a.nextRestart(time.Now().In(a.tz))
	runCtx, cancel := context.WithDeadline(ctx, restartAt)
	defer cancel()
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = reconnectInitialDelay
	expBackoff.MaxInterval = reconnectMaxDelay
	expBackoff.MaxElapsedTime = 0

	for {
		if ctx.Err() == nil && runCtx.Err() != nil {
			a.log.Info("scheduled daily restart reached")
			return fmt.Errorf("eventsub: scheduled daily restart")
		}

		if err := a.connectAndServe(runCtx); err != nil {
			a.log.Warn("connection ended", zap.Error(err))
		}

		switch a.State() {
		case StateRevoked:
			return fmt.Errorf("eventsub subscription revoked")
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if runCtx.Err() != nil {
			continue
		}

		a.setState(StateReconnecting)
		delay := expBackoff.NextBackOff()
		select {
		case <-time.After(delay):
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (a *Adapter) nextRestart(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), a.restartHour, 0, 0, 0, a.tz)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (a *Adapter) connectAndServe(ctx context.Context) error {
	a.setState(StateConnecting)
	creds, err := a.tokens.Get(ctx, a.service, a.userID)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	conn, err := a.dialer.Dial(ctx, a.wsURL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer conn.Close()

	a.setState(StateReady)

	if err := a.subscribeAll(ctx, creds); err != nil {
		return err
	}

	a.setState(StateActive)
	a.kv.SetString(ctx, kv.KeyEventSubConnected, "true", 0)
	return a.readLoop(ctx)
}

func (a *Adapter) subscribeAll(ctx context.Context, creds Credentials) error {
	a.setState(StateSubscribing)
	for _, topic := range Topics {
		if err := a.submitSubscription(ctx, creds, topic); err != nil {
			return err
		}
		select {
		case <-time.After(subscribePacing):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// submitSubscription is the seam for the subscribe HTTP call. It sends no
// request and always returns nil; duplicate-subscription responses, 429 rate
// limiting (rateLimitSleep is not used) and session-gone errors are not
// handled here or elsewhere in this package.
func (a *Adapter) submitSubscription(ctx context.Context, creds Credentials, topic string) error {
	return nil
}

func (a *Adapter) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("no active connection")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var note Notification
		if err := json.Unmarshal(data, &note); err != nil {
			a.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		a.kv.SetString(ctx, kv.KeyEventSubLastEventTime, time.Now().UTC().Format(time.RFC3339), 0)

		if a.dedup.SeenOrRecord(note.EventID) {
			continue
		}

		if err := a.publish(ctx, note); err != nil {
			a.log.Warn("publish failed", zap.Error(err))
		}
	}
}

// chatNoticeProbe pulls just enough of a channel.chat.notification payload to
// apply the community-gift aggregation policy before publishing.
type chatNoticeProbe struct {
	NoticeType string `json:"notice_type"`
	SubGift    struct {
		CommunityGiftID string `json:"community_gift_id"`
	} `json:"sub_gift"`
	CommunitySubGift struct {
		ID string `json:"id"`
	} `json:"community_sub_gift"`
}

func (a *Adapter) publish(ctx context.Context, note Notification) error {
	var communityGiftID string
	if note.Subscription.Type == "channel.chat.notification" {
		var probe chatNoticeProbe
		_ = json.Unmarshal(note.Event, &probe)
		communityGiftID = probe.SubGift.CommunityGiftID
		if probe.NoticeType == "community_sub_gift" {
			communityGiftID = probe.CommunitySubGift.ID
		}
		if ClassifyGift(GiftNotice{NoticeType: probe.NoticeType, CommunityGiftID: probe.SubGift.CommunityGiftID}) == ActionDrop {
			a.log.Info("dropping per-recipient echo of community gift",
				zap.String("community_gift_id", probe.SubGift.CommunityGiftID))
			return nil
		}
	}

	env := bus.Envelope{
		EventType: note.Subscription.Type,
		Source:    "eventsub",
		Timestamp: time.Now().UTC(),
		EventID:   note.EventID,
		Payload:   note.Event,
	}
	if communityGiftID != "" {
		env.Payload = stampCommunityGiftID(note.Event, communityGiftID)
	}
	return a.bus.Publish(ctx, bus.ChannelTwitch, env)
}

// stampCommunityGiftID adds community_gift_id at the envelope payload's top
// level for a community_sub_gift notice, per spec. Falls back to the
// original payload if it isn't a JSON object.
func stampCommunityGiftID(payload json.RawMessage, id string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return payload
	}
	obj["community_gift_id"] = idJSON
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}

// MarkRevoked transitions the adapter to the terminal revoked state; callers
// observing a revocation notification from the platform invoke this instead
// of letting the read loop error out as a transient failure.
func (a *Adapter) MarkRevoked() {
	a.setState(StateRevoked)
}
