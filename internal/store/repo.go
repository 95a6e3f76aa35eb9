package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/bryanveloso/eventfabric/internal/xerrors"
	"github.com/bryanveloso/eventfabric/pkg/utils"
)

// Queries is the repository surface for every table this system owns. It
// wraps a plain *sql.DB; no ORM, every statement is a parameterized SQL
// string, matching the rest of the data-access layer.
type Queries struct {
	db *sql.DB
}

func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// DB exposes the underlying connection pool as a Querier, for read paths that
// run outside any transaction (leaderboard reads, health checks).
func (q *Queries) DB() Querier {
	return q.db
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Querier is satisfied by *sql.DB and *sql.Tx, so repository methods that only
// read can be reused inside an in-flight transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on any error or panic.
func (q *Queries) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// --- Member ---------------------------------------------------------------

// UpsertMember creates a Member on first observation or updates display
// fields when they change, keyed on (platform_tag, external_id) via the
// twitch_id unique constraint.
func (q Queries) UpsertMember(ctx context.Context, db Querier, twitchID, login, displayName string) (Member, error) {
	var m Member
	err := db.QueryRowContext(ctx, `
		INSERT INTO members (id, twitch_id, login, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (twitch_id) DO UPDATE SET
			login = EXCLUDED.login,
			display_name = EXCLUDED.display_name,
			updated_at = now()
		RETURNING id, twitch_id, login, display_name, created_at, updated_at
	`, utils.NewUUIDOrDefault(), twitchID, login, displayName).Scan(
		&m.ID, &m.TwitchID, &m.Login, &m.DisplayName, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Member{}, fmt.Errorf("upsert member: %w", err)
	}
	return m, nil
}

// --- Session ---------------------------------------------------------------

// UpsertSession returns the day-scoped Session for date, creating it on first
// observation. A concurrent creation race is resolved by re-reading the
// existing row rather than erroring (PersistenceConflict).
func (q Queries) UpsertSession(ctx context.Context, db Querier, date time.Time) (Session, error) {
	day := date.Truncate(24 * time.Hour)
	var s Session
	err := db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, date, duration_secs)
		VALUES ($1, $2, 0)
		ON CONFLICT (date) DO UPDATE SET date = EXCLUDED.date
		RETURNING id, date, started_at, ended_at, duration_secs
	`, utils.NewUUIDOrDefault(), day).Scan(&s.ID, &s.Date, &s.StartedAt, &s.EndedAt, &s.DurationSecs)
	if err != nil {
		return Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return s, nil
}

// SetSessionOnline stamps started_at = now() on stream.online, leaving
// ended_at untouched (a session already ended today re-opening is a data
// anomaly the aggregator doesn't try to repair beyond recording it).
func (q Queries) SetSessionOnline(ctx context.Context, db Querier, sessionID string) (Session, error) {
	return q.scanSession(ctx, db, `
		UPDATE sessions SET started_at = now() WHERE id = $1
		RETURNING id, date, started_at, ended_at, duration_secs
	`, sessionID)
}

// SetSessionOffline stamps ended_at = now() and accumulates duration_secs
// from started_at, implementing stream.offline.
func (q Queries) SetSessionOffline(ctx context.Context, db Querier, sessionID string) (Session, error) {
	return q.scanSession(ctx, db, `
		UPDATE sessions SET ended_at = now(),
			duration_secs = duration_secs + GREATEST(0, EXTRACT(EPOCH FROM (now() - started_at))::bigint)
		WHERE id = $1
		RETURNING id, date, started_at, ended_at, duration_secs
	`, sessionID)
}

func (q Queries) scanSession(ctx context.Context, db Querier, query string, args ...interface{}) (Session, error) {
	var s Session
	err := db.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.Date, &s.StartedAt, &s.EndedAt, &s.DurationSecs)
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	return s, nil
}

// --- Event -------------------------------------------------------------------

// InsertEvent appends an immutable observed-fact record. A repeated
// source_event_id is treated as DuplicateEvent: the existing row is returned
// rather than erroring.
func (q Queries) InsertEvent(ctx context.Context, db Querier, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = utils.NewUUIDOrDefault()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO events (id, source, event_type, member_id, session_id, payload, timestamp, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_event_id) WHERE source_event_id IS NOT NULL DO UPDATE SET source_event_id = events.source_event_id
		RETURNING id, source, event_type, member_id, session_id, payload, timestamp, source_event_id
	`, ev.ID, ev.Source, ev.EventType, ev.MemberID, ev.SessionID, ev.Payload, ev.Timestamp, ev.SourceEventID).Scan(
		&ev.ID, &ev.Source, &ev.EventType, &ev.MemberID, &ev.SessionID, &ev.Payload, &ev.Timestamp, &ev.SourceEventID)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// viewerInteractionTypes is the fixed catalogue the base/timeline sync
// queries filter on.
var viewerInteractionTypes = []string{
	"channel.chat.notification", "channel.follow", "channel.subscribe",
	"channel.subscription.gift", "channel.subscription.message",
	"channel.cheer", "channel.raid",
}

// GetLastViewerInteraction returns the most recent event in the viewer
// interaction catalogue, for the overlay's base:sync snapshot.
func (q Queries) GetLastViewerInteraction(ctx context.Context, db Querier) (Event, bool, error) {
	var e Event
	err := db.QueryRowContext(ctx, `
		SELECT id, source, event_type, member_id, session_id, payload, timestamp, source_event_id
		FROM events WHERE event_type = ANY($1)
		ORDER BY timestamp DESC LIMIT 1
	`, viewerInteractionTypes).Scan(&e.ID, &e.Source, &e.EventType, &e.MemberID, &e.SessionID,
		&e.Payload, &e.Timestamp, &e.SourceEventID)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("get last viewer interaction: %w", err)
	}
	return e, true, nil
}

// timelineNoticeTypes restricts a chat-notification row to the include-list
// of notice types that belong on the timeline.
var timelineNoticeTypes = []string{
	"sub", "resub", "sub_gift", "community_sub_gift", "gift_paid_upgrade",
	"prime_paid_upgrade", "pay_it_forward", "raid", "bits_badge_tier", "charity_donation",
}

// GetRecentTimelineEvents returns the most recent timeline-worthy events
// (follows/cheers, plus chat notifications whose notice_type is on the
// include-list), newest first, capped at limit.
func (q Queries) GetRecentTimelineEvents(ctx context.Context, db Querier, limit int) ([]Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, source, event_type, member_id, session_id, payload, timestamp, source_event_id
		FROM events
		WHERE event_type IN ('channel.follow', 'channel.cheer')
		   OR (event_type = 'channel.chat.notification' AND payload->>'notice_type' = ANY($1))
		ORDER BY timestamp DESC
		LIMIT $2
	`, timelineNoticeTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent timeline events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Source, &e.EventType, &e.MemberID, &e.SessionID,
			&e.Payload, &e.Timestamp, &e.SourceEventID); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Campaign ---------------------------------------------------------------

// GetActiveCampaign returns the first active campaign by creation order, the
// deterministic tie-break when more than one is marked active.
func (q Queries) GetActiveCampaign(ctx context.Context, db Querier) (Campaign, error) {
	var c Campaign
	err := db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, start_date, end_date, is_active,
			timer_mode, timer_initial_seconds, timer_tier1_seconds, timer_tier2_seconds, timer_tier3_seconds,
			max_timer_seconds, created_at, updated_at
		FROM campaigns
		WHERE is_active = true
		ORDER BY created_at ASC
		LIMIT 1
	`).Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.StartDate, &c.EndDate, &c.IsActive,
		&c.TimerMode, &c.TimerInitialSeconds, &c.TimerTier1Seconds, &c.TimerTier2Seconds, &c.TimerTier3Seconds,
		&c.MaxTimerSeconds, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Campaign{}, xerrors.ErrCampaignNotFound
	}
	if err != nil {
		return Campaign{}, fmt.Errorf("get active campaign: %w", err)
	}
	return c, nil
}

// CreateCampaign inserts a new campaign row, translating a unique-slug
// violation into ErrCampaignExists the same way the rest of the layer does.
func (q Queries) CreateCampaign(ctx context.Context, db Querier, c Campaign) (Campaign, error) {
	err := db.QueryRowContext(ctx, `
		INSERT INTO campaigns (
			id, name, slug, description, start_date, end_date, is_active,
			timer_mode, timer_initial_seconds, timer_tier1_seconds, timer_tier2_seconds, timer_tier3_seconds,
			max_timer_seconds, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.Slug, c.Description, c.StartDate, c.EndDate, c.IsActive,
		c.TimerMode, c.TimerInitialSeconds, c.TimerTier1Seconds, c.TimerTier2Seconds, c.TimerTier3Seconds,
		c.MaxTimerSeconds).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return Campaign{}, xerrors.ErrCampaignExists
		}
		return Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// --- Metric -----------------------------------------------------------------

// LockMetric reads the Metric row for campaignID under a row-level exclusive
// lock. Must be called inside a transaction; the lock is held until commit.
func (q Queries) LockMetric(ctx context.Context, tx *sql.Tx, campaignID string) (Metric, error) {
	var m Metric
	err := tx.QueryRowContext(ctx, `
		SELECT campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
		FROM metrics WHERE campaign_id = $1 FOR UPDATE
	`, campaignID).Scan(&m.CampaignID, &m.TotalSubs, &m.TotalResubs, &m.TotalBits, &m.TotalDonations,
		&m.TimerSecondsRemaining, &m.TimerStartedAt, &m.TimerPausedAt, &m.ExtraData)
	if err != nil {
		return Metric{}, fmt.Errorf("lock metric: %w", err)
	}
	return m, nil
}

// GetMetric reads the Metric row for campaignID without locking, for
// read-only snapshot paths (overlay campaign:sync).
func (q Queries) GetMetric(ctx context.Context, db Querier, campaignID string) (Metric, error) {
	var m Metric
	err := db.QueryRowContext(ctx, `
		SELECT campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
		FROM metrics WHERE campaign_id = $1
	`, campaignID).Scan(&m.CampaignID, &m.TotalSubs, &m.TotalResubs, &m.TotalBits, &m.TotalDonations,
		&m.TimerSecondsRemaining, &m.TimerStartedAt, &m.TimerPausedAt, &m.ExtraData)
	if err != nil {
		return Metric{}, fmt.Errorf("get metric: %w", err)
	}
	return m, nil
}

// IncrSubs applies total_subs += n as a field expression, never a
// read-modify-write, so concurrent mutators compose correctly.
func (q Queries) IncrSubs(ctx context.Context, tx *sql.Tx, campaignID string, n int64) (Metric, error) {
	return q.scanMetric(ctx, tx, `
		UPDATE metrics SET total_subs = total_subs + $2 WHERE campaign_id = $1
		RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
	`, campaignID, n)
}

func (q Queries) IncrResubs(ctx context.Context, tx *sql.Tx, campaignID string, n int64) (Metric, error) {
	return q.scanMetric(ctx, tx, `
		UPDATE metrics SET total_resubs = total_resubs + $2 WHERE campaign_id = $1
		RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
	`, campaignID, n)
}

func (q Queries) IncrBits(ctx context.Context, tx *sql.Tx, campaignID string, n int64) (Metric, error) {
	return q.scanMetric(ctx, tx, `
		UPDATE metrics SET total_bits = total_bits + $2 WHERE campaign_id = $1
		RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
	`, campaignID, n)
}

// SetTimerSeconds writes an explicitly computed remaining value (the cap has
// already been applied by the caller) and, when starting is true, stamps
// timer_started_at and clears timer_paused_at.
func (q Queries) SetTimerSeconds(ctx context.Context, tx *sql.Tx, campaignID string, remaining int64, starting, pausing bool) (Metric, error) {
	query := `UPDATE metrics SET timer_seconds_remaining = $2`
	if starting {
		query += `, timer_started_at = now(), timer_paused_at = NULL`
	}
	if pausing {
		query += `, timer_paused_at = now()`
	}
	query += ` WHERE campaign_id = $1 RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data`
	return q.scanMetric(ctx, tx, query, campaignID, remaining)
}

// PauseTimer stamps timer_paused_at = now() without touching the remaining count.
func (q Queries) PauseTimer(ctx context.Context, tx *sql.Tx, campaignID string) (Metric, error) {
	return q.scanMetric(ctx, tx, `
		UPDATE metrics SET timer_paused_at = now() WHERE campaign_id = $1
		RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
	`, campaignID)
}

// UpdateVote applies extra_data.ffxiv_votes[option] += votes using jsonb
// arithmetic so concurrent calls are additive.
func (q Queries) UpdateVote(ctx context.Context, tx *sql.Tx, campaignID, option string, votes int64) (Metric, error) {
	return q.scanMetric(ctx, tx, `
		UPDATE metrics SET extra_data = jsonb_set(
			coalesce(extra_data, '{}'::jsonb),
			ARRAY['ffxiv_votes', $2],
			to_jsonb(coalesce((extra_data #>> ARRAY['ffxiv_votes', $2])::bigint, 0) + $3),
			true
		) WHERE campaign_id = $1
		RETURNING campaign_id, total_subs, total_resubs, total_bits, total_donations,
			timer_seconds_remaining, timer_started_at, timer_paused_at, extra_data
	`, campaignID, option, votes)
}

func (q Queries) scanMetric(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (Metric, error) {
	var m Metric
	err := tx.QueryRowContext(ctx, query, args...).Scan(
		&m.CampaignID, &m.TotalSubs, &m.TotalResubs, &m.TotalBits, &m.TotalDonations,
		&m.TimerSecondsRemaining, &m.TimerStartedAt, &m.TimerPausedAt, &m.ExtraData)
	if err != nil {
		return Metric{}, fmt.Errorf("update metric: %w", err)
	}
	return m, nil
}

// --- Milestone ---------------------------------------------------------------

// UnlockNextMilestone fetches the highest-threshold locked milestone that
// totalSubs has now crossed and unlocks it. Returns (Milestone{}, false, nil)
// when nothing newly qualifies.
func (q Queries) UnlockNextMilestone(ctx context.Context, tx *sql.Tx, campaignID string, totalSubs int64) (Milestone, bool, error) {
	var m Milestone
	err := tx.QueryRowContext(ctx, `
		UPDATE milestones SET is_unlocked = true, unlocked_at = now()
		WHERE id = (
			SELECT id FROM milestones
			WHERE campaign_id = $1 AND threshold <= $2 AND is_unlocked = false
			ORDER BY threshold DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, campaign_id, threshold, title, description, media_url, is_unlocked, unlocked_at
	`, campaignID, totalSubs).Scan(&m.ID, &m.CampaignID, &m.Threshold, &m.Title, &m.Description,
		&m.MediaURL, &m.IsUnlocked, &m.UnlockedAt)
	if err == sql.ErrNoRows {
		return Milestone{}, false, nil
	}
	if err != nil {
		return Milestone{}, false, fmt.Errorf("unlock milestone: %w", err)
	}
	return m, true, nil
}

// GetMilestones returns every milestone for campaignID ordered by threshold,
// for the overlay's campaign:sync snapshot.
func (q Queries) GetMilestones(ctx context.Context, db Querier, campaignID string) ([]Milestone, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, campaign_id, threshold, title, description, media_url, is_unlocked, unlocked_at
		FROM milestones WHERE campaign_id = $1 ORDER BY threshold ASC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("get milestones: %w", err)
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.Threshold, &m.Title, &m.Description,
			&m.MediaURL, &m.IsUnlocked, &m.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan milestone row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Gift ---------------------------------------------------------------

// UpsertGift increments the per-tier and total counters for (memberID,
// campaignID), creating the row on first gift.
func (q Queries) UpsertGift(ctx context.Context, tx *sql.Tx, memberID, campaignID string, tier int, count int64) (Gift, error) {
	col := tierColumn(tier)
	var g Gift
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO gifts (id, member_id, campaign_id, %s, total_count, first_gift_at, last_gift_at)
		VALUES ($1, $2, $3, $4, $4, now(), now())
		ON CONFLICT (member_id, campaign_id) DO UPDATE SET
			%s = gifts.%s + $4,
			total_count = gifts.total_count + $4,
			last_gift_at = now()
		RETURNING id, member_id, campaign_id, tier1_count, tier2_count, tier3_count, total_count, first_gift_at, last_gift_at
	`, col, col, col), utils.NewUUIDOrDefault(), memberID, campaignID, count).Scan(
		&g.ID, &g.MemberID, &g.CampaignID, &g.Tier1Count, &g.Tier2Count, &g.Tier3Count,
		&g.TotalCount, &g.FirstGiftAt, &g.LastGiftAt)
	if err != nil {
		return Gift{}, fmt.Errorf("upsert gift: %w", err)
	}
	return g, nil
}

func tierColumn(tier int) string {
	switch tier {
	case 2:
		return "tier2_count"
	case 3:
		return "tier3_count"
	default:
		return "tier1_count"
	}
}

// GetGiftLeaderboard ranks gifters by total_count desc, ties broken by
// last_gift_at ascending (earliest tie-breaker wins), capped at limit rows.
func (q Queries) GetGiftLeaderboard(ctx context.Context, db Querier, campaignID string, limit int) ([]Gift, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, member_id, campaign_id, tier1_count, tier2_count, tier3_count, total_count, first_gift_at, last_gift_at
		FROM gifts
		WHERE campaign_id = $1
		ORDER BY total_count DESC, last_gift_at ASC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("gift leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Gift
	for rows.Next() {
		var g Gift
		if err := rows.Scan(&g.ID, &g.MemberID, &g.CampaignID, &g.Tier1Count, &g.Tier2Count, &g.Tier3Count,
			&g.TotalCount, &g.FirstGiftAt, &g.LastGiftAt); err != nil {
			return nil, fmt.Errorf("scan gift row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
