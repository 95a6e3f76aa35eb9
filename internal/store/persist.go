package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// Persister is the write side of the data model's append-only Event log and
// day-scoped Session container (spec.md §3): it subscribes to events:twitch
// and, for every notification, upserts the day's Session, resolves the
// originating Member when the payload identifies one, and appends an Event
// row — the only writer of either table in the running system.
type Persister struct {
	store *Queries
	bus   bus.Bus
	log   *zap.Logger
}

func NewPersister(q *Queries, b bus.Bus, log *zap.Logger) *Persister {
	if log == nil {
		log = zap.NewNop()
	}
	return &Persister{store: q, bus: b, log: log.With(zap.String("module", "store.persister"))}
}

// Run subscribes to events:twitch and persists every notification until ctx
// is cancelled or the subscription closes.
func (p *Persister) Run(ctx context.Context) error {
	sub := p.bus.Subscribe(ctx, bus.ChannelTwitch)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			p.handle(ctx, env)
		}
	}
}

// notificationIdentity is the narrow slice of user-identity fields present,
// under one name or another, on most EventSub notification payloads.
type notificationIdentity struct {
	UserID           string `json:"user_id"`
	UserLogin        string `json:"user_login"`
	UserName         string `json:"user_name"`
	ChatterUserID    string `json:"chatter_user_id"`
	ChatterUserLogin string `json:"chatter_user_login"`
	ChatterUserName  string `json:"chatter_user_name"`
}

// handle upserts the day's Session, flips its online/offline flag for
// stream.online/stream.offline, and appends the Event row. Persistence
// failures are logged and dropped rather than propagated: a dead bus
// consumer must never take the live fan-out down with it.
func (p *Persister) handle(ctx context.Context, env bus.Envelope) {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	session, err := p.store.UpsertSession(ctx, p.store.DB(), ts)
	if err != nil {
		p.log.Warn("session upsert failed", zap.String("event_type", env.EventType), zap.Error(err))
		return
	}

	switch env.EventType {
	case "stream.online":
		if _, err := p.store.SetSessionOnline(ctx, p.store.DB(), session.ID); err != nil {
			p.log.Warn("set session online failed", zap.Error(err))
		}
	case "stream.offline":
		if _, err := p.store.SetSessionOffline(ctx, p.store.DB(), session.ID); err != nil {
			p.log.Warn("set session offline failed", zap.Error(err))
		}
	}

	memberID := p.resolveMember(ctx, env.Payload)

	if _, err := p.store.InsertEvent(ctx, p.store.DB(), Event{
		Source:        env.Source,
		EventType:     env.EventType,
		MemberID:      memberID,
		SessionID:     sql.NullString{String: session.ID, Valid: true},
		Payload:       env.Payload,
		Timestamp:     ts,
		SourceEventID: sql.NullString{String: env.EventID, Valid: env.EventID != ""},
	}); err != nil {
		p.log.Warn("event insert failed", zap.String("event_type", env.EventType), zap.Error(err))
	}
}

// resolveMember upserts a Member from whichever identity fields the payload
// carries (a plain user_* triple, or chatter_user_* for chat events),
// returning an invalid/empty NullString when the event names no one (for
// example stream.online has no associated user).
func (p *Persister) resolveMember(ctx context.Context, payload json.RawMessage) sql.NullString {
	var n notificationIdentity
	if err := json.Unmarshal(payload, &n); err != nil {
		return sql.NullString{}
	}
	id, login, name := n.UserID, n.UserLogin, n.UserName
	if id == "" {
		id, login, name = n.ChatterUserID, n.ChatterUserLogin, n.ChatterUserName
	}
	if id == "" {
		return sql.NullString{}
	}

	member, err := p.store.UpsertMember(ctx, p.store.DB(), id, login, name)
	if err != nil {
		p.log.Warn("member upsert failed", zap.Error(err))
		return sql.NullString{}
	}
	return sql.NullString{String: member.ID, Valid: true}
}
