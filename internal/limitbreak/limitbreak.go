// Package limitbreak tracks the three-bar channel-points gauge recovered
// from original_source's reward-redemption counters: a running total, kept
// in Redis under the limitbreak:count:<reward_id> key taxonomy, split across
// three equal-capacity bars for the overlay's limitbreak layer.
package limitbreak

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
)

// Snapshot is the overlay's limitbreak-layer payload: a computed count plus
// the three bar fractions (0..1) and a maxed-out flag.
type Snapshot struct {
	Count   int64   `json:"count"`
	Bar1    float64 `json:"bar1"`
	Bar2    float64 `json:"bar2"`
	Bar3    float64 `json:"bar3"`
	IsMaxed bool    `json:"is_maxed"`
}

// Service computes the gauge from the configured reward IDs' Redis counters
// and republishes on redemption.
type Service struct {
	kv             *kv.Store
	bus            bus.Bus
	log            *zap.Logger
	rewardIDs      []string
	capacityPerBar int64
}

func New(kvStore *kv.Store, b bus.Bus, rewardIDs []string, capacityPerBar int64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if capacityPerBar <= 0 {
		capacityPerBar = 100
	}
	return &Service{
		kv: kvStore, bus: b, log: log.With(zap.String("module", "limitbreak")),
		rewardIDs: rewardIDs, capacityPerBar: capacityPerBar,
	}
}

// Snapshot implements the overlay's limitbreak-layer sync.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	total, err := s.total(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.compute(total), nil
}

func (s *Service) total(ctx context.Context) (int64, error) {
	var total int64
	for _, id := range s.rewardIDs {
		raw, err := s.kv.GetString(ctx, kv.LimitBreakKey(id))
		if err != nil || raw == "" {
			raw, err = s.kv.GetString(ctx, kv.LimitBreakFallbackKey(id))
			if err != nil || raw == "" {
				continue
			}
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func (s *Service) compute(total int64) Snapshot {
	frac := func(bar int64) float64 {
		lo := float64(bar-1) * float64(s.capacityPerBar)
		val := float64(total) - lo
		if val < 0 {
			val = 0
		}
		if val > float64(s.capacityPerBar) {
			val = float64(s.capacityPerBar)
		}
		return val / float64(s.capacityPerBar)
	}
	return Snapshot{
		Count:   total,
		Bar1:    frac(1),
		Bar2:    frac(2),
		Bar3:    frac(3),
		IsMaxed: total >= s.capacityPerBar*3,
	}
}

// RecordRedemption increments rewardID's counter by count, refreshes both the
// short and fallback TTLs, and publishes limitbreak.update (or
// limitbreak.executed when the gauge just maxed out) on the bus.
func (s *Service) RecordRedemption(ctx context.Context, rewardID string, count int64) error {
	key := kv.LimitBreakKey(rewardID)
	existing, _ := s.kv.GetString(ctx, key)
	var current int64
	if existing != "" {
		current, _ = strconv.ParseInt(existing, 10, 64)
	}
	prevTotal, _ := s.total(ctx)
	next := current + count
	nextStr := strconv.FormatInt(next, 10)
	if err := s.kv.SetString(ctx, key, nextStr, kv.HelixCacheTTL); err != nil {
		return err
	}
	if err := s.kv.SetString(ctx, kv.LimitBreakFallbackKey(rewardID), nextStr, kv.HelixCacheFallbackTTL); err != nil {
		s.log.Warn("limitbreak fallback counter write failed", zap.Error(err))
	}

	total, err := s.total(ctx)
	if err != nil {
		return err
	}
	snap := s.compute(total)
	payload, _ := json.Marshal(snap)

	eventType := "limitbreak.update"
	wasMaxed := s.compute(prevTotal).IsMaxed
	if snap.IsMaxed && !wasMaxed {
		eventType = "limitbreak.executed"
	}
	env := bus.Envelope{EventType: eventType, Source: "limitbreak", Timestamp: time.Now().UTC(), Payload: payload}
	if err := s.bus.Publish(ctx, bus.ChannelLimitBreak, env); err != nil {
		s.log.Warn("publish limitbreak event failed", zap.Error(err))
	}
	return nil
}
