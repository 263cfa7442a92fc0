package reputation

import (
	"fmt"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

// Weights holds one coefficient per counter that contributes to the score.
// Used both for weights and for per-term caps; a cap of 0 means uncapped.
type Weights struct {
	Messages     int64 `yaml:"messages" json:"messages"`
	Responses    int64 `yaml:"responses" json:"responses"`
	Tags         int64 `yaml:"tags" json:"tags"`
	VoiceMinutes int64 `yaml:"voiceMinutes" json:"voice_minutes"`
	ActiveDays   int64 `yaml:"activeDays" json:"active_days"`
	VoiceDays    int64 `yaml:"voiceDays" json:"voice_days"`
}

// Tier binds a rank tier to its platform role and score threshold.
type Tier struct {
	Tier     model.RankTier
	Role     string
	MinScore int64
}

// Config parameterizes scoring and tiering.
type Config struct {
	Weights  Weights
	Caps     Weights
	DeadZone int64
	// Tiers in ascending MinScore order. Tiers[0] is the entry tier.
	Tiers    []Tier
	Location *time.Location
}

// DefaultConfig returns the stock tier ladder.
func DefaultConfig() Config {
	return Config{
		Weights:  Weights{Messages: 1, Responses: 3, Tags: 2, VoiceMinutes: 1, ActiveDays: 5, VoiceDays: 5},
		Caps:     Weights{Messages: 5000, Responses: 3000, Tags: 1000, VoiceMinutes: 3000, ActiveDays: 2500, VoiceDays: 1500},
		DeadZone: 5,
		Location: time.UTC,
		Tiers: []Tier{
			{Tier: model.TierRecruit, Role: "Recruit", MinScore: 0},
			{Tier: model.TierProspect, Role: "Prospect", MinScore: 100},
			{Tier: model.TierRegular, Role: "Regular", MinScore: 500},
			{Tier: model.TierStarter, Role: "Starter", MinScore: 1500},
			{Tier: model.TierCaptain, Role: "Captain", MinScore: 4000},
			{Tier: model.TierVeteran, Role: "Veteran", MinScore: 10000},
		},
	}
}

// Validate checks that thresholds are usable with the dead-zone.
// Adjacent thresholds must be more than two dead-zones apart so that the
// promotion and demotion bands of neighbouring tiers never overlap.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("reputation: at least one tier required")
	}
	if c.DeadZone < 0 {
		return fmt.Errorf("reputation: negative dead-zone %d", c.DeadZone)
	}
	for i := 1; i < len(c.Tiers); i++ {
		prev, cur := c.Tiers[i-1], c.Tiers[i]
		if cur.Tier <= prev.Tier {
			return fmt.Errorf("reputation: tier %s listed after %s", cur.Tier, prev.Tier)
		}
		if cur.MinScore-prev.MinScore <= 2*c.DeadZone {
			return fmt.Errorf("reputation: threshold of %s (%d) too close to %s (%d) for dead-zone %d",
				cur.Tier, cur.MinScore, prev.Tier, prev.MinScore, c.DeadZone)
		}
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// entry returns the lowest configured tier.
func (c Config) entry() Tier {
	return c.Tiers[0]
}

// role returns the platform role of t, or "" if t is not configured.
func (c Config) role(t model.RankTier) string {
	for _, tier := range c.Tiers {
		if tier.Tier == t {
			return tier.Role
		}
	}
	return ""
}
