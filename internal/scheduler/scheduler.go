// Package scheduler drives the recurring ad-break warning tick and the
// EventSub liveness probe, following the cron.New(cron.WithSeconds())
// registration style used across the service layer.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
)

const (
	warningWindow     = 60 * time.Second
	warningLockTTL    = 10 * time.Second
	adIntervalDefault = 30 * time.Minute
	adRetryDefault    = 5 * time.Minute
	adDurationDefault = 90 * time.Second

	maxSilenceDefault = 4 * time.Hour
	restartRequestTTL = 10 * time.Minute
)

// CommercialStarter calls the platform's start-commercial API.
type CommercialStarter interface {
	StartCommercial(ctx context.Context, durationSeconds int) error
}

// Scheduler owns the cron registrations for ad warnings and health probing.
type Scheduler struct {
	cron *cron.Cron
	kv   *kv.Store
	bus  bus.Bus
	ads  CommercialStarter
	log  *zap.Logger

	streamingHoursGate func(time.Time) bool
	probeGroup         singleflight.Group
}

func New(kvStore *kv.Store, b bus.Bus, ads CommercialStarter, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		kv:   kvStore,
		bus:  b,
		ads:  ads,
		log:  log.With(zap.String("module", "scheduler")),
		streamingHoursGate: func(time.Time) bool { return true },
	}
}

// Start registers the recurring jobs and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("*/10 * * * * *", func() { s.adTick(ctx) }); err != nil {
		return fmt.Errorf("register ad tick: %w", err)
	}
	if _, err := s.cron.AddFunc("*/30 * * * * *", func() { s.healthProbe(ctx) }); err != nil {
		return fmt.Errorf("register health probe: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// adTick implements the ad-schedule tick: countdown warnings then the
// start-commercial call, gated by a distributed lock so only one process
// fires the warning even with multiple schedulers running.
func (s *Scheduler) adTick(ctx context.Context) {
	enabled, _ := s.kv.GetString(ctx, kv.KeyAdsEnabled)
	if enabled != "true" {
		return
	}

	nextTimeStr, err := s.kv.GetString(ctx, kv.KeyAdsNextTime)
	if err != nil || nextTimeStr == "" {
		return
	}
	nextTime, err := time.Parse(time.RFC3339, nextTimeStr)
	if err != nil {
		// next_time stored without a zone offset: self-protect by disabling ads
		// rather than guessing a timezone.
		s.log.Warn("ads:next_time is not zone-aware, disabling ads")
		s.kv.SetString(ctx, kv.KeyAdsEnabled, "false", 0)
		return
	}

	secondsUntil := time.Until(nextTime)
	warningActive, _ := s.kv.GetString(ctx, kv.KeyAdsWarningActive)

	switch decideAdAction(secondsUntil, warningActive == "true") {
	case adActionFire:
		s.fireCommercial(ctx, nextTime)
	case adActionOpenWarning:
		acquired, err := s.kv.AcquireLock(ctx, kv.KeyAdsWarningLock, warningLockTTL)
		if err != nil || !acquired {
			return
		}
		s.kv.SetString(ctx, kv.KeyAdsWarningActive, "true", 0)
		s.publishAdsWarning(ctx, int(warningWindow.Seconds()))
	case adActionCheckpoint:
		if cp, ok := matchCheckpoint(secondsUntil); ok {
			s.publishAdsWarning(ctx, cp)
		}
	case adActionNone:
	}
}

type adAction int

const (
	adActionNone adAction = iota
	adActionFire
	adActionOpenWarning
	adActionCheckpoint
)

var warningCheckpoints = []int{60, 30, 10, 5}

// decideAdAction is the pure decision core of the ad-schedule tick: given how
// long until the next break and whether the warning window is already open,
// it says what (if anything) the caller should do next.
func decideAdAction(secondsUntil time.Duration, warningActive bool) adAction {
	if secondsUntil <= 0 {
		return adActionFire
	}
	if secondsUntil <= warningWindow && !warningActive {
		return adActionOpenWarning
	}
	if warningActive {
		return adActionCheckpoint
	}
	return adActionNone
}

// matchCheckpoint reports whether secondsUntil lands exactly on one of the
// countdown announcement points.
func matchCheckpoint(secondsUntil time.Duration) (int, bool) {
	remaining := int(secondsUntil.Seconds())
	for _, checkpoint := range warningCheckpoints {
		if remaining == checkpoint {
			return checkpoint, true
		}
	}
	return 0, false
}

func (s *Scheduler) fireCommercial(ctx context.Context, scheduledAt time.Time) {
	err := s.ads.StartCommercial(ctx, int(adDurationDefault.Seconds()))
	next := scheduledAt.Add(adIntervalDefault)
	if err != nil {
		s.log.Warn("start commercial failed, rescheduling short retry", zap.Error(err))
		next = scheduledAt.Add(adRetryDefault)
	}
	s.kv.SetString(ctx, kv.KeyAdsNextTime, next.Format(time.RFC3339), 0)
	s.kv.SetString(ctx, kv.KeyAdsWarningActive, "false", 0)
	s.kv.ReleaseLock(ctx, kv.KeyAdsWarningLock)
}

// publishAdsWarning notifies both the continuous events:ads stream overlays
// consume and bot:ads, the channel the chat bot listens on to narrate the
// countdown.
func (s *Scheduler) publishAdsWarning(ctx context.Context, secondsRemaining int) {
	payload, _ := json.Marshal(map[string]interface{}{"seconds_remaining": secondsRemaining})
	env := bus.Envelope{EventType: "ads.warning", Source: "scheduler", Timestamp: time.Now().UTC(), Payload: payload}
	if err := s.bus.Publish(ctx, bus.ChannelAds, env); err != nil {
		s.log.Warn("publish ads warning failed", zap.Error(err))
	}
	if err := s.bus.Publish(ctx, bus.ChannelBotAds, env); err != nil {
		s.log.Warn("publish bot ads warning failed", zap.Error(err))
	}
}

// HealthProber reports whether the EventSub adapter is currently considered
// connected, independent of this scheduler's own state.
type HealthProber interface {
	SecondsSinceLastEvent(ctx context.Context) (time.Duration, bool, error)
}

// healthProbe checks for silent EventSub failure and marks/alerts when the
// gap since the last observed event exceeds maxSilenceDefault during
// streaming hours. Routed through a singleflight group so a probe that runs
// long (a slow Redis round trip) can't stack a second overlapping run on top
// of itself on the next tick.
func (s *Scheduler) healthProbe(ctx context.Context) {
	_, _, _ = s.probeGroup.Do("health", func() (interface{}, error) {
		s.doHealthProbe(ctx)
		return nil, nil
	})
}

func (s *Scheduler) doHealthProbe(ctx context.Context) {
	lastStr, err := s.kv.GetString(ctx, kv.KeyEventSubLastEventTime)
	if err != nil || lastStr == "" {
		return
	}
	last, err := time.Parse(time.RFC3339, lastStr)
	if err != nil {
		return
	}
	since := time.Since(last)
	s.kv.SetString(ctx, kv.KeyEventSubSecondsSinceEvent, fmt.Sprintf("%.0f", since.Seconds()), 0)

	if since > maxSilenceDefault && s.streamingHoursGate(time.Now()) {
		reason := fmt.Sprintf("silenced: %.0fs since last event", since.Seconds())
		s.kv.SetString(ctx, kv.KeyEventSubRestartRequested, reason, restartRequestTTL)
		s.kv.SetString(ctx, kv.KeyEventSubRestartRequestedAt, time.Now().UTC().Format(time.RFC3339), restartRequestTTL)
		s.kv.SetString(ctx, kv.KeyEventSubConnected, "false", 0)
		s.log.Warn("eventsub silenced, requesting supervisor restart", zap.Duration("since_last_event", since))
	}
}
