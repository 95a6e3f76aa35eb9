// Package campaign implements the atomic counter, timer, milestone-unlock,
// and gift-leaderboard state machine described for fundraising/goal periods.
// Every mutating operation runs inside one transaction: lock the Metric row,
// apply field-expression increments, unlock milestones, commit, then publish
// — so a bus failure can never roll back a committed mutation.
package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/metrics"
	"github.com/bryanveloso/eventfabric/internal/store"
	"github.com/bryanveloso/eventfabric/internal/xerrors"
)

// Service mutates campaign state and republishes the result on the bus.
type Service struct {
	store *store.Queries
	bus   bus.Bus
	log   *zap.Logger
}

func New(s *store.Queries, b bus.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: s, bus: b, log: log.With(zap.String("module", "campaign"))}
}

// Result is the outcome of a mutating operation; it is empty (DomainNoOp) when
// there was no active campaign to mutate.
type Result struct {
	Campaign          store.Campaign
	Metric            store.Metric
	Milestone         *store.Milestone
	TimerSecondsAdded int64
}

func (s *Service) activeCampaign(ctx context.Context, db store.Querier) (store.Campaign, bool, error) {
	c, err := s.store.GetActiveCampaign(ctx, db)
	if err == xerrors.ErrCampaignNotFound {
		return store.Campaign{}, false, nil
	}
	if err != nil {
		return store.Campaign{}, false, err
	}
	return c, true, nil
}

// ProcessSubscription increments total_subs by count, optionally adds timer
// seconds (also scaled by count) and a gift-leaderboard credit, and checks
// for a milestone unlock. With no active campaign this is a no-op
// (DomainNoOp), returning an empty Result.
//
// count is almost always 1 (one subscribe/resub-gift/targeted-gift
// notification), except for a community-gift burst: the platform's single
// "community_sub_gift" notice carries a total covering every recipient in
// the batch, and per §4.3 that total must land on total_subs exactly once —
// the per-recipient "sub_gift" echoes sharing its community_gift_id are
// dropped before they ever reach this method (see ProcessCommunityGift).
// count <= 0 is treated as 1.
func (s *Service) ProcessSubscription(ctx context.Context, tier int, count int64, isGift bool, gifterID, gifterName string) (Result, error) {
	if count <= 0 {
		count = 1
	}
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		m, err := s.store.IncrSubs(ctx, tx, c.ID, count)
		if err != nil {
			return err
		}

		var secondsAdded int64
		if c.TimerMode && m.TimerStartedAt.Valid {
			delta := c.TierSeconds(tier) * count
			var maxSeconds int64
			if c.MaxTimerSeconds.Valid {
				maxSeconds = c.MaxTimerSeconds.Int64
			}
			newRemaining := AddSeconds(m.TimerSecondsRemaining, delta, maxSeconds)
			secondsAdded = newRemaining - m.TimerSecondsRemaining
			m, err = s.store.SetTimerSeconds(ctx, tx, c.ID, newRemaining, false, false)
			if err != nil {
				return err
			}
		}

		if isGift && gifterID != "" {
			if _, err := s.store.UpsertGift(ctx, tx, gifterID, c.ID, tier, count); err != nil {
				return err
			}
		}

		milestone, unlocked, err := s.store.UnlockNextMilestone(ctx, tx, c.ID, m.TotalSubs)
		if err != nil {
			return err
		}

		res = Result{Campaign: c, Metric: m, TimerSecondsAdded: secondsAdded}
		if unlocked {
			res.Milestone = &milestone
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Campaign.ID == "" {
		return res, nil // DomainNoOp
	}

	s.publishUpdate(ctx, res)
	if res.Milestone != nil {
		s.publishMilestone(ctx, res.Campaign, *res.Milestone)
	}
	return res, nil
}

// ProcessCommunityGift applies a community-gift burst's total in one call:
// total_subs += total, the gifter's Gift.tierN_count += total, and timer
// seconds scale by total — the single counted event for a
// "community_sub_gift" notice per §4.3. Callers must not additionally call
// ProcessSubscription for the per-recipient "sub_gift" echoes that carry the
// same community_gift_id; those are dropped before reaching the aggregator.
func (s *Service) ProcessCommunityGift(ctx context.Context, tier int, total int64, gifterID, gifterName string) (Result, error) {
	return s.ProcessSubscription(ctx, tier, total, true, gifterID, gifterName)
}

// ProcessResub increments total_resubs. DomainNoOp with no active campaign.
func (s *Service) ProcessResub(ctx context.Context) (Result, error) {
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		m, err := s.store.IncrResubs(ctx, tx, c.ID, 1)
		if err != nil {
			return err
		}
		res = Result{Campaign: c, Metric: m}
		return nil
	})
	if err != nil || res.Campaign.ID == "" {
		return res, err
	}
	s.publishUpdate(ctx, res)
	return res, nil
}

// ProcessBits increments total_bits by bits (bits >= 0). DomainNoOp with no
// active campaign.
func (s *Service) ProcessBits(ctx context.Context, bitsAmount int64) (Result, error) {
	if bitsAmount < 0 {
		return Result{}, fmt.Errorf("process bits: negative amount %d", bitsAmount)
	}
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		m, err := s.store.IncrBits(ctx, tx, c.ID, bitsAmount)
		if err != nil {
			return err
		}
		res = Result{Campaign: c, Metric: m}
		return nil
	})
	if err != nil || res.Campaign.ID == "" {
		return res, err
	}
	s.publishUpdate(ctx, res)
	return res, nil
}

// UpdateVote applies extra_data.ffxiv_votes[option] += votes additively.
func (s *Service) UpdateVote(ctx context.Context, option string, votes int64) (Result, error) {
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		m, err := s.store.UpdateVote(ctx, tx, c.ID, option, votes)
		if err != nil {
			return err
		}
		res = Result{Campaign: c, Metric: m}
		return nil
	})
	if err != nil || res.Campaign.ID == "" {
		return res, err
	}
	s.publishUpdate(ctx, res)
	return res, nil
}

// StartTimer requires timer_mode. If the timer has never started, remaining
// is set to timer_initial_seconds; otherwise timer_initial_seconds is added
// on top of whatever remains (a resume-with-bonus semantics). Either way
// timer_started_at resets to now and timer_paused_at clears.
func (s *Service) StartTimer(ctx context.Context) (Result, error) {
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		if !c.TimerMode {
			return fmt.Errorf("start timer: %w", xerrors.ErrTimerNotRunning)
		}
		locked, err := s.store.LockMetric(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		var remaining int64
		if !locked.TimerStartedAt.Valid {
			remaining = c.TimerInitialSeconds
		} else {
			remaining = locked.TimerSecondsRemaining + c.TimerInitialSeconds
		}
		if c.MaxTimerSeconds.Valid && remaining > c.MaxTimerSeconds.Int64 {
			remaining = c.MaxTimerSeconds.Int64
		}
		m, err := s.store.SetTimerSeconds(ctx, tx, c.ID, remaining, true, false)
		if err != nil {
			return err
		}
		res = Result{Campaign: c, Metric: m}
		return nil
	})
	if err != nil || res.Campaign.ID == "" {
		return res, err
	}
	s.publishEvent(ctx, "timer:started", res)
	return res, nil
}

// PauseTimer requires timer_mode; stamps timer_paused_at without touching the
// remaining count.
func (s *Service) PauseTimer(ctx context.Context) (Result, error) {
	var res Result
	err := s.withActiveCampaign(ctx, func(tx *sql.Tx, c store.Campaign) error {
		if !c.TimerMode {
			return fmt.Errorf("pause timer: %w", xerrors.ErrTimerNotRunning)
		}
		m, err := s.store.PauseTimer(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		res = Result{Campaign: c, Metric: m}
		return nil
	})
	if err != nil || res.Campaign.ID == "" {
		return res, err
	}
	s.publishEvent(ctx, "timer:paused", res)
	return res, nil
}

// Snapshot is the overlay's campaign:sync payload: the active campaign with
// its metric and full milestone list, or nil when none is active.
type Snapshot struct {
	Campaign   store.Campaign    `json:"campaign"`
	Metric     store.Metric      `json:"metric"`
	Milestones []store.Milestone `json:"milestones"`
}

// Snapshot returns the active campaign's current state, or nil if no
// campaign is active (the overlay omits the campaign layer in that case).
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	c, ok, err := s.activeCampaign(ctx, s.store.DB())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	m, err := s.store.GetMetric(ctx, s.store.DB(), c.ID)
	if err != nil {
		return nil, err
	}
	milestones, err := s.store.GetMilestones(ctx, s.store.DB(), c.ID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Campaign: c, Metric: m, Milestones: milestones}, nil
}

// GetGiftLeaderboard is read-only: rank by total_count desc, ties by
// last_gift_at asc, capped at limit (clamped to [1, 100]).
func (s *Service) GetGiftLeaderboard(ctx context.Context, campaignID string, limit int) ([]store.Gift, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.GetGiftLeaderboard(ctx, s.store.DB(), campaignID, limit)
}

// withActiveCampaign resolves the current active campaign and, if one exists,
// runs fn inside a transaction. With no active campaign fn is never called and
// err is nil, leaving the caller's Result zero-valued (DomainNoOp).
func (s *Service) withActiveCampaign(ctx context.Context, fn func(tx *sql.Tx, c store.Campaign) error) error {
	return s.store.WithTx(ctx, func(tx *sql.Tx) error {
		c, ok, err := s.activeCampaign(ctx, tx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return fn(tx, c)
	})
}

func (s *Service) publishUpdate(ctx context.Context, res Result) {
	payload, _ := json.Marshal(map[string]interface{}{
		"campaign_id":          res.Campaign.ID,
		"total_subs":           res.Metric.TotalSubs,
		"total_resubs":         res.Metric.TotalResubs,
		"total_bits":           res.Metric.TotalBits,
		"timer_seconds_added":  res.TimerSecondsAdded,
		"timer_seconds_remain": res.Metric.TimerSecondsRemaining,
	})
	s.publishRaw(ctx, "update", payload)
}

func (s *Service) publishMilestone(ctx context.Context, c store.Campaign, m store.Milestone) {
	payload, _ := json.Marshal(map[string]interface{}{
		"campaign_id": c.ID,
		"milestone":   m.ID,
		"threshold":   m.Threshold,
		"title":       m.Title,
	})
	s.publishRaw(ctx, "milestone", payload)
}

// publishEvent publishes an envelope whose event_type is the overlay
// sub-type (e.g. "timer:started"); classify.go prepends the "campaign:"
// layer prefix, so callers must not include it here.
func (s *Service) publishEvent(ctx context.Context, subType string, res Result) {
	payload, _ := json.Marshal(map[string]interface{}{
		"campaign_id":          res.Campaign.ID,
		"timer_seconds_remain": res.Metric.TimerSecondsRemaining,
	})
	s.publishRaw(ctx, subType, payload)
}

func (s *Service) publishRaw(ctx context.Context, eventType string, payload json.RawMessage) {
	metrics.CampaignMutations.WithLabelValues(eventType).Inc()
	if s.bus == nil {
		return
	}
	env := bus.Envelope{
		EventType: eventType,
		Source:    "campaign",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.bus.Publish(ctx, bus.ChannelCampaign, env); err != nil {
		s.log.Warn("publish failed after committed mutation", zap.String("event_type", eventType), zap.Error(err))
	}
}

