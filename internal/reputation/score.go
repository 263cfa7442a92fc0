package reputation

import (
	"math"
	"time"

	"github.com/lwidev/therockqc/internal/model"
)

// maxFoldDays bounds how many skipped days a single rollover folds.
// After this many zero days the average is already flattened.
const maxFoldDays = 400

// Activity is one qualifying event for a member.
type Activity struct {
	MemberID  model.MemberID
	Kind      model.ActivityKind
	Magnitude int64
	At        time.Time
}

// Score computes the saturating weighted sum of the lifetime counters.
// Every term and the total clamp at math.MaxInt64 instead of wrapping.
func Score(cfg Config, c model.Counters) int64 {
	w, caps := cfg.Weights, cfg.Caps
	var total int64
	for _, v := range []int64{
		term(w.Messages, c.LifetimeMessages, caps.Messages),
		term(w.Responses, c.Responses, caps.Responses),
		term(w.Tags, c.Tags, caps.Tags),
		term(w.VoiceMinutes, c.LifetimeVoiceMinutes, caps.VoiceMinutes),
		term(w.ActiveDays, c.ActiveDays, caps.ActiveDays),
		term(w.VoiceDays, c.VoiceActiveDays, caps.VoiceDays),
	} {
		total = addSat(total, v)
	}
	return total
}

// term is min(weight*counter, limit), with limit 0 meaning uncapped.
// The cap is checked by division so the product is never formed when it
// would exceed the cap.
func term(weight, counter, limit int64) int64 {
	if weight <= 0 || counter <= 0 {
		return 0
	}
	if limit > 0 {
		if counter > limit/weight {
			return limit
		}
		return weight * counter
	}
	if counter > math.MaxInt64/weight {
		return math.MaxInt64
	}
	return weight * counter
}

// addSat adds two non-negative values, clamping at math.MaxInt64.
func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// TierFor returns the tier a member at current should hold with score.
//
// Promotion to a tier requires MinScore+DeadZone; demotion out of the
// current tier requires dropping below MinScore-DeadZone. Scores inside a
// band keep the current tier.
func TierFor(cfg Config, current model.RankTier, score int64) model.RankTier {
	idx := 0
	for i, t := range cfg.Tiers {
		if t.Tier == current {
			idx = i
			break
		}
	}

	for idx+1 < len(cfg.Tiers) && score >= cfg.Tiers[idx+1].MinScore+cfg.DeadZone {
		idx++
	}
	for idx > 0 && score < cfg.Tiers[idx].MinScore-cfg.DeadZone {
		idx--
	}
	return cfg.Tiers[idx].Tier
}

// fold rolls the daily counters of c over to day.
// Every day from c.LastDay up to the day before day is folded into the
// rolling average, the first with the recorded counts and the rest as zero.
func fold(c *model.Counters, day string) {
	if c.LastDay == "" || day <= c.LastDay {
		return
	}
	from, errFrom := time.Parse(model.DayLayout, c.LastDay)
	to, errTo := time.Parse(model.DayLayout, day)
	days := 1
	if errFrom == nil && errTo == nil {
		days = int(to.Sub(from).Hours() / 24)
	}
	if days < 1 {
		days = 1
	}
	if days > maxFoldDays {
		days = maxFoldDays
	}

	msgs, voice := c.DailyMessages, c.DailyVoiceMinutes
	for i := 0; i < days; i++ {
		if msgs > 0 {
			c.ActiveDays++
		}
		if c.ActiveDays > 0 {
			c.AvgDailyMessages += (float64(msgs) - c.AvgDailyMessages) / float64(c.ActiveDays)
		}
		if voice > 0 {
			c.VoiceActiveDays++
		}
		msgs, voice = 0, 0
	}

	c.DailyMessages = 0
	c.DailyVoiceMinutes = 0
	c.LastDay = day
}

// alreadyApplied reports whether a has been counted into c.
func alreadyApplied(c model.Counters, a Activity) bool {
	if c.LastAppliedAt.IsZero() {
		return false
	}
	if a.At.Before(c.LastAppliedAt) {
		return true
	}
	if a.At.Equal(c.LastAppliedAt) {
		for _, k := range c.AppliedKinds {
			if k == a.Kind {
				return true
			}
		}
	}
	return false
}

// Apply folds a into m. It is a pure function of its inputs.
// Returns applied=false, and m unchanged, when a was already counted.
// The returned effects hold the role change if the tier moved.
func Apply(cfg Config, m model.Member, a Activity) (next model.Member, effects []model.Effect, applied bool) {
	if alreadyApplied(m.Counters, a) {
		return m, nil, false
	}

	next = m
	c := &next.Counters
	c.AppliedKinds = append([]model.ActivityKind(nil), c.AppliedKinds...)

	day := a.At.In(cfg.location()).Format(model.DayLayout)
	sameDay := true
	switch {
	case c.LastDay == "":
		c.LastDay = day
	case day > c.LastDay:
		fold(c, day)
	case day < c.LastDay:
		// Rolled over by the scheduler before this event arrived.
		sameDay = false
	}

	switch a.Kind {
	case model.ActivityMessage:
		c.LifetimeMessages = addSat(c.LifetimeMessages, a.Magnitude)
		if sameDay {
			c.DailyMessages = addSat(c.DailyMessages, a.Magnitude)
		}
	case model.ActivityVoiceTick:
		c.LifetimeVoiceMinutes = addSat(c.LifetimeVoiceMinutes, a.Magnitude)
		if sameDay {
			c.DailyVoiceMinutes = addSat(c.DailyVoiceMinutes, a.Magnitude)
		}
	case model.ActivityResponse:
		c.Responses = addSat(c.Responses, a.Magnitude)
	case model.ActivityTag:
		c.Tags = addSat(c.Tags, a.Magnitude)
	}

	if a.At.After(c.LastAppliedAt) {
		c.LastAppliedAt = a.At.UTC()
		c.AppliedKinds = []model.ActivityKind{a.Kind}
	} else {
		c.AppliedKinds = append(c.AppliedKinds, a.Kind)
	}

	return next, retier(cfg, &next), true
}

// retier recomputes score and tier in place and returns the role change.
// Score never decreases, even if weights were lowered since the last write.
func retier(cfg Config, m *model.Member) []model.Effect {
	if s := Score(cfg, m.Counters); s > m.Counters.Score {
		m.Counters.Score = s
	}
	old := m.Tier
	m.Tier = TierFor(cfg, old, m.Counters.Score)
	if m.Tier == old {
		return nil
	}
	return []model.Effect{{
		Kind:     model.EffectRoleChange,
		MemberID: m.ID,
		From:     cfg.role(old),
		Target:   cfg.role(m.Tier),
		Body:     "rank " + old.String() + " -> " + m.Tier.String(),
	}}
}
