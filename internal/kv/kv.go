// Package kv wraps the small set of Redis key-value operations shared state
// needs: simple get/set, TTL'd counters, and NX+EX distributed locks. Adapted
// from the cache helper used throughout the service layer, narrowed to the
// operations this system actually calls.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Reserved key names, matching the authoritative list. Adapters and the
// scheduler read/write exactly these.
const (
	KeyAdsEnabled        = "ads:enabled"
	KeyAdsNextTime       = "ads:next_time"
	KeyAdsWarningActive  = "ads:warning_active"
	KeyAdsWarningLock    = "ads:warning_lock"

	KeyEventSubConnected           = "eventsub:connected"
	KeyEventSubLastEventTime       = "eventsub:last_event_time"
	KeyEventSubSecondsSinceEvent   = "eventsub:seconds_since_last_event"
	KeyEventSubReconnectAttempts   = "eventsub:reconnect_attempts"
	KeyEventSubRestartRequested    = "eventsub:restart_requested"
	KeyEventSubRestartRequestedAt  = "eventsub:restart_requested_at"

	KeyOBSPerfPrevOutputSkipped = "obs:performance:prev_output_skipped"
	KeyOBSPerfPrevOutputTotal   = "obs:performance:prev_output_total"
	KeyOBSPerfPrevRenderSkipped = "obs:performance:prev_render_skipped"
	KeyOBSPerfPrevRenderTotal   = "obs:performance:prev_render_total"
	KeyOBSPerfWarningActive     = "obs:performance:warning_active"

	KeyIronmonCurrentState = "ironmon:current_state"
	KeyBroadcasterStatus   = "broadcaster:status"

	HelixCacheTTL         = 30 * time.Second
	HelixCacheFallbackTTL = 1 * time.Hour
)

// LimitBreakKey returns the counter key for a channel-point reward.
func LimitBreakKey(rewardID string) string { return fmt.Sprintf("limitbreak:count:%s", rewardID) }

// LimitBreakFallbackKey returns the longer-lived fallback counter key.
func LimitBreakFallbackKey(rewardID string) string {
	return fmt.Sprintf("limitbreak:count:%s:fallback", rewardID)
}

// Store is the narrow Redis surface shared state needs.
type Store struct {
	client *redis.Client
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log.With(zap.String("module", "kv"))}
}

// Set stores value (JSON-encoded) with an optional ttl (0 = no expiry).
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.log.Error("set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Get decodes the JSON value stored at key into dest. Returns redis.Nil if absent.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// GetString returns the raw string stored at key, or "" if absent.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// SetString stores a raw string value with an optional ttl.
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Incr increments an integer counter, returning the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// AcquireLock attempts to take a named lock for ttl using SET NX EX. It
// returns true if the caller now holds the lock.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		s.log.Error("lock acquisition failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return ok, nil
}

// ReleaseLock drops a held lock early.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
