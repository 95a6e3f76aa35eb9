// Package status tracks the single broadcaster presence value the overlay's
// status layer snapshots on connect: a short state label plus an optional
// human-readable message, persisted as the sole entry under the status key.
package status

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
)

// Known state labels. Callers may also set an arbitrary state string; these
// are just the ones the overlay chrome styles specially.
const (
	StateOnline = "online"
	StateAway   = "away"
	StateBusy   = "busy"
	StateBRB    = "brb"
	StateFocus  = "focus"
)

type Status struct {
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service is the presence singleton: one Redis-backed value, broadcast over
// the bus whenever it changes.
type Service struct {
	kv  *kv.Store
	bus bus.Bus
	log *zap.Logger
}

func New(kvStore *kv.Store, b bus.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{kv: kvStore, bus: b, log: log.With(zap.String("module", "status"))}
}

// Set updates the broadcaster status and publishes the change.
func (s *Service) Set(ctx context.Context, state, message string) error {
	st := Status{State: state, Message: message, UpdatedAt: time.Now().UTC()}
	if err := s.kv.Set(ctx, kv.KeyBroadcasterStatus, st, 0); err != nil {
		return err
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	env := bus.Envelope{EventType: "status.update", Source: "status", Timestamp: st.UpdatedAt, Payload: payload}
	if err := s.bus.Publish(ctx, bus.ChannelStatus, env); err != nil {
		s.log.Warn("publish status update failed", zap.Error(err))
	}
	return nil
}

// Get returns the current status, defaulting to "offline" if never set; that
// sentinel sits outside the five styled states since it means "no status
// event has ever been published", not a broadcaster-chosen presence.
func (s *Service) Get(ctx context.Context) (Status, error) {
	var st Status
	if err := s.kv.Get(ctx, kv.KeyBroadcasterStatus, &st); err != nil {
		return Status{State: "offline"}, nil
	}
	return st, nil
}

// Snapshot implements overlay.Snapshotter for the status layer.
func (s *Service) Snapshot(ctx context.Context) (json.RawMessage, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}
