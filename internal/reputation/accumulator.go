// Package reputation accumulates per-member activity into counters, a
// saturating score and a rank tier with hysteresis.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/keylock"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/store"
)

// Accumulator applies activity to member records.
//
// Every public method takes the member's lock for its whole read-modify-
// write, and writes the record together with its effects in one store
// transaction. Methods never call each other while holding a lock.
type Accumulator struct {
	store  *store.Store
	locks  *keylock.Locker
	cfg    Config
	retry  errs.RetryPolicy
	logger *slog.Logger
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p errs.RetryPolicy) Option {
	return func(a *Accumulator) { a.retry = p }
}

// New creates an Accumulator.
func New(s *store.Store, locks *keylock.Locker, cfg Config, opts ...Option) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Accumulator{
		store:  s,
		locks:  locks,
		cfg:    cfg,
		retry:  errs.DefaultRetryPolicy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the scoring configuration.
func (a *Accumulator) Config() Config { return a.cfg }

// Today returns the calendar-day key of now in the configured timezone.
func (a *Accumulator) Today(now time.Time) string {
	return now.In(a.cfg.location()).Format(model.DayLayout)
}

// Registration is the outcome of Register.
type Registration struct {
	Member  model.Member
	Created bool
	Effects []model.Effect
}

// Register creates the member record if absent and grants the entry tier
// role. A duplicate join returns the stored record with Created=false and
// no effects.
func (a *Accumulator) Register(ctx context.Context, id model.MemberID, displayName string, joinedAt time.Time) (Registration, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	m := model.NewMember(id, displayName, joinedAt)
	entry := a.cfg.entry()
	m.Tier = entry.Tier

	var effects []model.Effect
	if entry.Role != "" {
		effects = append(effects, model.Effect{
			Kind:     model.EffectRoleGrant,
			MemberID: id,
			Target:   entry.Role,
		})
	}

	reg, err := errs.RetryValue(ctx, a.retry, func(ctx context.Context) (Registration, error) {
		stored, inserted, err := a.store.InsertMember(ctx, m, effects...)
		if err != nil {
			return Registration{}, err
		}
		if !inserted {
			return Registration{Member: stored}, nil
		}
		return Registration{Member: stored, Created: true, Effects: effects}, nil
	})
	if err != nil {
		return Registration{}, fmt.Errorf("register %s: %w", id, err)
	}

	if reg.Created {
		a.logger.Info("member registered", "member_id", id, "tier", reg.Member.Tier.String())
	} else {
		a.logger.Debug("duplicate join ignored", "member_id", id)
	}
	return reg, nil
}

// Result is the outcome of RecordActivity.
type Result struct {
	Member  model.Member
	Applied bool
	Effects []model.Effect
}

// RecordActivity applies one activity event.
//
// Replaying an event already counted is a no-op with Applied=false.
// Returns errs.NotFound if the member has no record; callers route that
// through the join path first.
func (a *Accumulator) RecordActivity(ctx context.Context, act Activity) (Result, error) {
	if !act.Kind.Valid() {
		return Result{}, fmt.Errorf("record activity: unknown kind %q", act.Kind)
	}
	if act.Magnitude < 0 || act.Magnitude > model.MaxMagnitude {
		return Result{}, fmt.Errorf("record activity: magnitude %d outside [0, %d]", act.Magnitude, model.MaxMagnitude)
	}
	if act.Magnitude == 0 {
		act.Magnitude = 1
	}

	unlock := a.locks.Lock(act.MemberID)
	defer unlock()

	res, err := a.mutate(ctx, act.MemberID, "record activity", func(m model.Member) (model.Member, []model.Effect, bool) {
		return Apply(a.cfg, m, act)
	})
	if err != nil {
		return Result{}, err
	}
	if res.Applied {
		a.logger.Debug("activity recorded",
			"member_id", act.MemberID,
			"kind", string(act.Kind),
			"magnitude", act.Magnitude,
			"score", res.Member.Counters.Score)
	}
	a.logChanges(res)
	return res, nil
}

// Rollover folds the member's daily counters into the rolling average if
// they belong to a day before today. Running it twice for the same day is
// a no-op.
func (a *Accumulator) Rollover(ctx context.Context, id model.MemberID, today string) (Result, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	res, err := a.mutate(ctx, id, "rollover", func(m model.Member) (model.Member, []model.Effect, bool) {
		if m.Counters.LastDay == "" || m.Counters.LastDay >= today {
			return m, nil, false
		}
		next := m
		fold(&next.Counters, today)
		return next, retier(a.cfg, &next), true
	})
	if err != nil {
		return Result{}, err
	}
	a.logChanges(res)
	return res, nil
}

// RolloverAll rolls over every member whose daily counters are stale at
// now. One member's failure does not stop the others.
func (a *Accumulator) RolloverAll(ctx context.Context, now time.Time) (rolled int, effects []model.Effect, err error) {
	today := a.Today(now)
	ids, err := a.store.MembersDueRollover(ctx, today)
	if err != nil {
		return 0, nil, fmt.Errorf("rollover: %w", err)
	}

	var failures []error
	for _, id := range ids {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		res, err := a.Rollover(ctx, id, today)
		if err != nil {
			a.logger.Warn("rollover failed", "member_id", id, "error", err)
			failures = append(failures, err)
			continue
		}
		if res.Applied {
			rolled++
			effects = append(effects, res.Effects...)
		}
	}
	a.logger.Info("daily rollover complete", "day", today, "due", len(ids), "rolled", rolled)
	return rolled, effects, errors.Join(failures...)
}

// mutate runs a read-modify-write of one member under the caller's lock.
// A lost compare-and-swap is retried once after re-reading.
func (a *Accumulator) mutate(ctx context.Context, id model.MemberID, op string,
	change func(model.Member) (model.Member, []model.Effect, bool)) (Result, error) {

	var res Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		res, err = errs.RetryValue(ctx, a.retry, func(ctx context.Context) (Result, error) {
			m, err := a.store.GetMember(ctx, id)
			if err != nil {
				return Result{}, err
			}
			next, effects, applied := change(m)
			if !applied {
				return Result{Member: m}, nil
			}
			stored, err := a.store.UpdateMember(ctx, next, effects...)
			if err != nil {
				return Result{}, err
			}
			return Result{Member: stored, Applied: true, Effects: effects}, nil
		})
		if !errs.IsConflict(err) {
			break
		}
		a.logger.Debug("member write conflict, re-reading", "member_id", id, "op", op)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s %s: %w", op, id, err)
	}
	return res, nil
}

func (a *Accumulator) logChanges(res Result) {
	for _, e := range res.Effects {
		a.logger.Info("rank changed",
			"member_id", e.MemberID,
			"from_role", e.From,
			"to_role", e.Target,
			"tier", res.Member.Tier.String())
	}
}
