// Package store holds the relational data model and the raw-SQL repository
// that backs it, following the direct database/sql + lib/pq style used across
// the repository layer (no ORM, parameterized queries, explicit transactions).
package store

import (
	"database/sql"
	"time"
)

// Member is a distinct human or bot identity observed by the system.
type Member struct {
	ID          string
	TwitchID    string
	Login       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a day-scoped container for a single broadcast.
type Session struct {
	ID           string
	Date         time.Time
	StartedAt    sql.NullTime
	EndedAt      sql.NullTime
	DurationSecs int64
}

// IsLive reports the derived liveness invariant: started, not yet ended.
func (s Session) IsLive() bool {
	return s.StartedAt.Valid && !s.EndedAt.Valid
}

// Event is an immutable record of an observed external fact.
type Event struct {
	ID            string
	Source        string
	EventType     string
	MemberID      sql.NullString
	SessionID     sql.NullString
	Payload       []byte // raw JSON
	Timestamp     time.Time
	SourceEventID sql.NullString
}

// Campaign is a named fundraising/goal period.
type Campaign struct {
	ID          string
	Name        string
	Slug        string
	Description string
	StartDate   time.Time
	EndDate     sql.NullTime
	IsActive    bool

	TimerMode            bool
	TimerInitialSeconds  int64
	TimerTier1Seconds    int64
	TimerTier2Seconds    int64
	TimerTier3Seconds    int64
	MaxTimerSeconds      sql.NullInt64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TierSeconds returns the per-subscription-tier second increment for a gift/sub.
func (c Campaign) TierSeconds(tier int) int64 {
	switch tier {
	case 2:
		return c.TimerTier2Seconds
	case 3:
		return c.TimerTier3Seconds
	default:
		return c.TimerTier1Seconds
	}
}

// Metric is one-to-one with a Campaign: the live counters and timer state.
type Metric struct {
	CampaignID string

	TotalSubs      int64
	TotalResubs    int64
	TotalBits      int64
	TotalDonations int64

	TimerSecondsRemaining int64
	TimerStartedAt        sql.NullTime
	TimerPausedAt         sql.NullTime

	ExtraData []byte // raw JSON, e.g. {"ffxiv_votes": {...}}
}

// Milestone belongs to a Campaign and unlocks once total_subs crosses threshold.
type Milestone struct {
	ID          string
	CampaignID  string
	Threshold   int64
	Title       string
	Description string
	MediaURL    sql.NullString
	IsUnlocked  bool
	UnlockedAt  sql.NullTime
}

// Gift belongs to (Member gifter, Campaign): per-tier gift-sub counters.
type Gift struct {
	ID          string
	MemberID    string
	CampaignID  string
	Tier1Count  int64
	Tier2Count  int64
	Tier3Count  int64
	TotalCount  int64
	FirstGiftAt time.Time
	LastGiftAt  time.Time
}

// Status is the broadcaster-presence singleton.
type Status struct {
	State   string // online|away|busy|brb|focus
	Message string
}
