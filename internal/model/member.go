package model

import (
	"fmt"
	"strings"
	"time"
)

// MemberID is the platform user id. Stable and unique.
type MemberID string

// RankTier is an ordered rank category. Higher values rank higher.
type RankTier int

const (
	TierRecruit RankTier = iota
	TierProspect
	TierRegular
	TierStarter
	TierCaptain
	TierVeteran
)

var tierNames = map[RankTier]string{
	TierRecruit:  "recruit",
	TierProspect: "prospect",
	TierRegular:  "regular",
	TierStarter:  "starter",
	TierCaptain:  "captain",
	TierVeteran:  "veteran",
}

// String returns the lowercase tier name.
func (t RankTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier resolves a tier name (case-insensitive).
func ParseTier(s string) (RankTier, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for tier, name := range tierNames {
		if name == want {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown rank tier %q", s)
}

// DayLayout is the calendar-day key format stored in Counters.LastDay.
const DayLayout = "2006-01-02"

// Counters is the embedded reputation state of a member.
//
// LastDay is the calendar day the daily counters belong to. LastAppliedAt
// and AppliedKinds form the replay guard: an activity whose timestamp is
// older than LastAppliedAt, or equal to it with a kind already listed in
// AppliedKinds, has already been counted.
type Counters struct {
	Score                int64          `json:"score"`
	LifetimeMessages     int64          `json:"lifetime_messages"`
	DailyMessages        int64          `json:"daily_messages"`
	AvgDailyMessages     float64        `json:"avg_daily_messages"`
	ActiveDays           int64          `json:"active_days"`
	Responses            int64          `json:"responses"`
	Tags                 int64          `json:"tags"`
	LifetimeVoiceMinutes int64          `json:"lifetime_voice_minutes"`
	DailyVoiceMinutes    int64          `json:"daily_voice_minutes"`
	VoiceActiveDays      int64          `json:"voice_active_days"`
	LastDay              string         `json:"last_day,omitempty"`
	LastAppliedAt        time.Time      `json:"last_applied_at"`
	AppliedKinds         []ActivityKind `json:"applied_kinds,omitempty"`
}

// Member is the durable record of a community member.
//
// Version increases by one on every successful write and is the
// compare-and-swap token for conditional updates.
type Member struct {
	ID          MemberID  `json:"id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
	Tier        RankTier  `json:"tier"`
	Counters    Counters  `json:"counters"`
	Version     int64     `json:"version"`
}

// NewMember builds the initial record for a first-seen member.
func NewMember(id MemberID, displayName string, joinedAt time.Time) Member {
	return Member{
		ID:          id,
		DisplayName: NormalizeName(displayName),
		JoinedAt:    joinedAt.UTC(),
		Tier:        TierRecruit,
	}
}

// ActivityKind classifies an activity event.
type ActivityKind string

const (
	ActivityMessage   ActivityKind = "message"
	ActivityResponse  ActivityKind = "response"
	ActivityTag       ActivityKind = "tag"
	ActivityVoiceTick ActivityKind = "voice_tick"
)

// MaxMagnitude bounds the count a single activity event may carry.
// Larger values are rejected as malformed input.
const MaxMagnitude int64 = 100_000

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityMessage, ActivityResponse, ActivityTag, ActivityVoiceTick:
		return true
	default:
		return false
	}
}
