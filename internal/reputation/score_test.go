package reputation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwidev/therockqc/internal/model"
)

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Weights:  Weights{Messages: 1, Responses: 1, Tags: 1, VoiceMinutes: 1},
		Caps:     Weights{Messages: 1000},
		DeadZone: 5,
		Location: time.UTC,
		Tiers: []Tier{
			{Tier: model.TierRecruit, Role: "Recruit", MinScore: 0},
			{Tier: model.TierProspect, Role: "Prospect", MinScore: 100},
			{Tier: model.TierRegular, Role: "Regular", MinScore: 500},
		},
	}
}

func msg(at time.Time, n int64) Activity {
	return Activity{MemberID: "A", Kind: model.ActivityMessage, Magnitude: n, At: at}
}

func TestScore_SaturatesPerTerm(t *testing.T) {
	cfg := testConfig()
	c := model.Counters{LifetimeMessages: 5000, Responses: 7, Tags: 3}

	assert.Equal(t, int64(1000+7+3), Score(cfg, c))
}

func TestScore_CapHoldsForHugeCounters(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, cfg.Caps.Responses, Score(cfg, model.Counters{Responses: math.MaxInt64 / 2}))
	assert.Equal(t, cfg.Caps.Messages, Score(cfg, model.Counters{LifetimeMessages: math.MaxInt64}))
}

func TestScore_UncappedClampsInsteadOfWrapping(t *testing.T) {
	cfg := testConfig()
	c := model.Counters{Responses: math.MaxInt64 - 1, Tags: math.MaxInt64 - 1}

	assert.Equal(t, int64(math.MaxInt64), Score(cfg, c))
}

func TestApply_CountersSaturate(t *testing.T) {
	cfg := testConfig()
	m := model.NewMember("A", "a", day1)
	m.Counters.LifetimeMessages = math.MaxInt64 - 1
	m.Counters.Responses = math.MaxInt64

	m, _, applied := Apply(cfg, m, msg(day1, 5))
	require.True(t, applied)
	m, _, applied = Apply(cfg, m, Activity{MemberID: "A", Kind: model.ActivityResponse, Magnitude: 1, At: day1.Add(time.Second)})
	require.True(t, applied)

	assert.Equal(t, int64(math.MaxInt64), m.Counters.LifetimeMessages)
	assert.Equal(t, int64(math.MaxInt64), m.Counters.Responses)
	assert.GreaterOrEqual(t, m.Counters.Score, int64(0))
}

func TestScore_Monotone(t *testing.T) {
	cfg := DefaultConfig()
	prev := int64(0)
	c := model.Counters{}
	for i := 0; i < 200; i++ {
		c.LifetimeMessages += 37
		c.Responses += 3
		c.ActiveDays++
		s := Score(cfg, c)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestTierFor_DeadZoneAroundThreshold(t *testing.T) {
	cfg := testConfig()

	changes := 0
	tier := model.TierRecruit
	for i := 0; i < 20; i++ {
		score := int64(99)
		if i%2 == 1 {
			score = 101
		}
		next := TierFor(cfg, tier, score)
		if next != tier {
			changes++
		}
		tier = next
	}
	assert.LessOrEqual(t, changes, 1)
	assert.Equal(t, model.TierRecruit, tier)
}

func TestTierFor_NoFlapAfterPromotion(t *testing.T) {
	cfg := testConfig()

	tier := TierFor(cfg, model.TierRecruit, 105)
	require.Equal(t, model.TierProspect, tier)

	for _, score := range []int64{99, 101, 96, 104, 95} {
		assert.Equal(t, model.TierProspect, TierFor(cfg, tier, score), "score %d", score)
	}
	assert.Equal(t, model.TierRecruit, TierFor(cfg, tier, 94))
}

func TestTierFor_SkipsTiers(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, model.TierRegular, TierFor(cfg, model.TierRecruit, 900))
}

func TestApply_RollingAverage(t *testing.T) {
	cfg := testConfig()
	m := model.NewMember("A", "a", day1)

	// 5 messages on day 1, none on day 2, 10 on day 3.
	m, _, ok := Apply(cfg, m, msg(day1, 5))
	require.True(t, ok)
	m, _, ok = Apply(cfg, m, msg(day1.AddDate(0, 0, 2), 10))
	require.True(t, ok)

	c := m.Counters
	fold(&c, "2026-03-04")

	assert.InDelta(t, (5.0+0+10)/3, c.AvgDailyMessages, 1e-9)
	assert.Equal(t, int64(2), c.ActiveDays)
	assert.Equal(t, int64(0), c.DailyMessages)
	assert.Equal(t, int64(15), c.LifetimeMessages)
	assert.Equal(t, "2026-03-04", c.LastDay)
}

func TestApply_ReplayIsIdempotent(t *testing.T) {
	cfg := testConfig()
	events := []Activity{
		msg(day1, 3),
		{MemberID: "A", Kind: model.ActivityTag, Magnitude: 1, At: day1},
		{MemberID: "A", Kind: model.ActivityVoiceTick, Magnitude: 5, At: day1.Add(time.Hour)},
		msg(day1.AddDate(0, 0, 1), 2),
		{MemberID: "A", Kind: model.ActivityResponse, Magnitude: 1, At: day1.AddDate(0, 0, 1).Add(time.Minute)},
	}

	once := model.NewMember("A", "a", day1)
	for _, e := range events {
		once, _, _ = Apply(cfg, once, e)
	}

	twice := once
	for _, e := range events {
		var applied bool
		twice, _, applied = Apply(cfg, twice, e)
		assert.False(t, applied)
	}

	assert.Equal(t, once.Counters, twice.Counters)
	assert.Equal(t, int64(5), once.Counters.LifetimeMessages)
	assert.Equal(t, int64(1), once.Counters.Tags)
	assert.Equal(t, int64(1), once.Counters.VoiceActiveDays)
}

func TestApply_LateEventCountsLifetimeOnly(t *testing.T) {
	cfg := testConfig()
	m := model.NewMember("A", "a", day1)
	m, _, _ = Apply(cfg, m, msg(day1, 1))

	// The scheduler already moved the counters to day 2.
	fold(&m.Counters, "2026-03-02")
	m, _, ok := Apply(cfg, m, msg(day1.Add(time.Hour), 4))

	require.True(t, ok)
	assert.Equal(t, int64(5), m.Counters.LifetimeMessages)
	assert.Equal(t, int64(0), m.Counters.DailyMessages)
}

func TestApply_EmitsSingleRoleChange(t *testing.T) {
	cfg := testConfig()
	m := model.NewMember("A", "a", day1)

	var effects []model.Effect
	for i := 0; i < 120; i++ {
		var e []model.Effect
		m, e, _ = Apply(cfg, m, msg(day1.Add(time.Duration(i)*time.Second), 1))
		effects = append(effects, e...)
	}

	require.Len(t, effects, 1)
	assert.Equal(t, model.EffectRoleChange, effects[0].Kind)
	assert.Equal(t, "Recruit", effects[0].From)
	assert.Equal(t, "Prospect", effects[0].Target)
	assert.Equal(t, model.TierProspect, m.Tier)
}

func TestFold_CapsSkippedDays(t *testing.T) {
	c := model.Counters{LastDay: "2020-01-01", DailyMessages: 4}
	fold(&c, "2026-01-01")

	assert.Equal(t, int64(1), c.ActiveDays)
	assert.Equal(t, "2026-01-01", c.LastDay)
	assert.InDelta(t, 0, c.AvgDailyMessages, 1e-9)
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := testConfig()
	cfg.DeadZone = 50
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Tiers[2].Tier = model.TierRecruit
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Tiers = nil
	assert.Error(t, cfg.Validate())
}
