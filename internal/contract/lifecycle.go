// Package contract manages simulated player contracts: entry issuance,
// the scheduled Active -> ExpiringSoon -> Expired progression, and renewal.
package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/keylock"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/store"
)

// ErrNoLiveContract is returned by Renew when the member holds no Active
// or ExpiringSoon contract.
var ErrNoLiveContract = errors.New("no live contract")

// Lifecycle is the contract state machine.
//
// Each public method holds the member's lock for its read-check-write.
// Status changes are additionally guarded by a compare-and-swap on the
// expected prior status, and the store refuses a second live contract.
type Lifecycle struct {
	store  *store.Store
	locks  *keylock.Locker
	cfg    Config
	ids    IDGenerator
	now    func() time.Time
	retry  errs.RetryPolicy
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(lc *Lifecycle) {
		if l != nil {
			lc.logger = l
		}
	}
}

// WithIDGenerator overrides the UUIDv7 contract id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(lc *Lifecycle) {
		if g != nil {
			lc.ids = g
		}
	}
}

// WithNow sets the wall clock. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(lc *Lifecycle) {
		if now != nil {
			lc.now = now
		}
	}
}

// WithSeed makes team and salary draws reproducible.
func WithSeed(seed uint64) Option {
	return func(lc *Lifecycle) {
		lc.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p errs.RetryPolicy) Option {
	return func(lc *Lifecycle) { lc.retry = p }
}

// New creates a Lifecycle.
func New(s *store.Store, locks *keylock.Locker, cfg Config, opts ...Option) (*Lifecycle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lc := &Lifecycle{
		store:  s,
		locks:  locks,
		cfg:    cfg,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		retry:  errs.DefaultRetryPolicy,
		logger: slog.Default(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc, nil
}

// Config returns the lifecycle configuration.
func (lc *Lifecycle) Config() Config { return lc.cfg }

// draw picks a team and a salary uniformly.
func (lc *Lifecycle) draw() (string, int64) {
	lc.rngMu.Lock()
	defer lc.rngMu.Unlock()
	team := lc.cfg.Teams[lc.rng.IntN(len(lc.cfg.Teams))]
	salary := lc.cfg.SalaryMin + lc.rng.Int64N(lc.cfg.SalaryMax-lc.cfg.SalaryMin+1)
	return team, salary
}

func (lc *Lifecycle) salary() int64 {
	_, s := lc.draw()
	return s
}

// Current returns the member's current contract, see store.GetContract.
// ok is false if the member never held one.
func (lc *Lifecycle) Current(ctx context.Context, memberID model.MemberID) (c model.Contract, ok bool, err error) {
	c, err = errs.RetryValue(ctx, lc.retry, func(ctx context.Context) (model.Contract, error) {
		return lc.store.GetContract(ctx, memberID)
	})
	if errs.IsNotFound(err) {
		return model.Contract{}, false, nil
	}
	if err != nil {
		lc.logInvariant(memberID, err)
		return model.Contract{}, false, err
	}
	return c, true, nil
}

// Issue is the outcome of IssueEntryContract.
type Issue struct {
	Contract model.Contract
	Created  bool
	Effects  []model.Effect
}

// IssueEntryContract issues an entry contract unless the member already
// holds a contract that has not expired, in which case that contract is
// returned unchanged with Created=false.
func (lc *Lifecycle) IssueEntryContract(ctx context.Context, memberID model.MemberID) (Issue, error) {
	unlock := lc.locks.Lock(memberID)
	defer unlock()

	issue, err := errs.RetryValue(ctx, lc.retry, func(ctx context.Context) (Issue, error) {
		existing, err := lc.store.GetContract(ctx, memberID)
		switch {
		case err == nil && existing.Status != model.ContractExpired:
			return Issue{Contract: existing}, nil
		case err != nil && !errs.IsNotFound(err):
			return Issue{}, err
		}

		start := lc.now().UTC()
		team, salary := lc.draw()
		c := model.Contract{
			ID:            lc.ids.Generate(),
			MemberID:      memberID,
			Team:          team,
			Salary:        salary,
			DurationYears: lc.cfg.DurationYears,
			StartDate:     start,
			ExpiresAt:     model.ExpirationFor(start, lc.cfg.DurationYears),
			Status:        model.ContractActive,
		}
		effects := []model.Effect{{
			Kind:     model.EffectDirectMessage,
			MemberID: memberID,
			Target:   "welcome:" + c.ID,
			Body:     EntryNotice(c),
		}}

		inserted, err := lc.store.InsertContract(ctx, c, effects...)
		if err != nil {
			return Issue{}, err
		}
		if !inserted {
			// Another writer issued first; hand back what it stored.
			existing, err := lc.store.GetContract(ctx, memberID)
			if err != nil {
				return Issue{}, err
			}
			return Issue{Contract: existing}, nil
		}
		c.Version = 1
		return Issue{Contract: c, Created: true, Effects: effects}, nil
	})
	if err != nil {
		lc.logInvariant(memberID, err)
		return Issue{}, fmt.Errorf("issue entry contract %s: %w", memberID, err)
	}

	if issue.Created {
		lc.logger.Info("entry contract issued",
			"member_id", memberID,
			"contract_id", issue.Contract.ID,
			"team", issue.Contract.Team,
			"salary", issue.Contract.Salary,
			"expires_at", issue.Contract.ExpiresAt)
	}
	return issue, nil
}

// Transition is the outcome of advancing one contract.
type Transition struct {
	Contract model.Contract
	From     model.ContractStatus
	To       model.ContractStatus
	Moved    bool
	Effects  []model.Effect
}

// target returns the status c should have at now, or "" if it stays put.
// Expiration passed strictly before now wins over the warning window.
func (lc *Lifecycle) target(c model.Contract, now time.Time) model.ContractStatus {
	if !c.Status.Live() {
		return ""
	}
	if c.ExpiresAt.Before(now) {
		return model.ContractExpired
	}
	if c.Status == model.ContractActive && c.ExpiresAt.Sub(now) <= lc.cfg.WarningWindow {
		return model.ContractExpiringSoon
	}
	return ""
}

// Due reports whether c would move if advanced at now.
func (lc *Lifecycle) Due(c model.Contract, now time.Time) bool {
	return lc.target(c, now) != ""
}

// AdvanceContract moves c to the status it should have at now.
//
// The write is conditional on c.Status, so a contract already moved by a
// concurrent scan or renewal is left alone and reported with Moved=false.
func (lc *Lifecycle) AdvanceContract(ctx context.Context, c model.Contract, now time.Time) (Transition, error) {
	unlock := lc.locks.Lock(c.MemberID)
	defer unlock()

	to := lc.target(c, now)
	if to == "" {
		return Transition{Contract: c, From: c.Status}, nil
	}

	var effect model.Effect
	switch to {
	case model.ContractExpired:
		effect = model.Effect{
			Kind:     model.EffectDirectMessage,
			MemberID: c.MemberID,
			Target:   "expired:" + c.ID,
			Body:     ExpiredNotice(c),
		}
	case model.ContractExpiringSoon:
		effect = model.Effect{
			Kind:     model.EffectDirectMessage,
			MemberID: c.MemberID,
			Target:   "expiring:" + c.ID,
			Body:     ExpiringNotice(c, now),
		}
	}

	moved, err := errs.RetryValue(ctx, lc.retry, func(ctx context.Context) (bool, error) {
		return lc.store.TransitionContract(ctx, c.ID, c.Status, to, effect)
	})
	if err != nil {
		return Transition{}, fmt.Errorf("advance contract %s: %w", c.ID, err)
	}
	if !moved {
		lc.logger.Debug("contract already moved", "member_id", c.MemberID, "contract_id", c.ID, "expected", string(c.Status))
		return Transition{Contract: c, From: c.Status}, nil
	}

	next := c
	next.Status = to
	next.Version++
	lc.logger.Info("contract advanced",
		"member_id", c.MemberID,
		"contract_id", c.ID,
		"from", string(c.Status),
		"to", string(to))
	return Transition{Contract: next, From: c.Status, To: to, Moved: true, Effects: []model.Effect{effect}}, nil
}

// Report summarizes one expiration scan.
type Report struct {
	Scanned      int
	ExpiringSoon []string
	Expired      []string
	Effects      []model.Effect
	Failed       int
}

// CheckExpiringContracts scans live contracts and advances every one that
// is due. Running it twice without time passing moves nothing the second
// time. A failure on one contract does not stop the scan; the failures are
// joined into the returned error. Cancelling ctx abandons the remainder.
func (lc *Lifecycle) CheckExpiringContracts(ctx context.Context) (Report, error) {
	now := lc.now()
	contracts, err := errs.RetryValue(ctx, lc.retry, func(ctx context.Context) ([]model.Contract, error) {
		return lc.store.QueryContracts(ctx, model.LiveStatuses...)
	})
	if err != nil {
		return Report{}, fmt.Errorf("check expiring contracts: %w", err)
	}
	return lc.advanceAll(ctx, contracts, now)
}

func (lc *Lifecycle) advanceAll(ctx context.Context, contracts []model.Contract, now time.Time) (Report, error) {
	report := Report{Scanned: len(contracts)}
	var failures []error
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if !lc.Due(c, now) {
			continue
		}
		tr, err := lc.AdvanceContract(ctx, c, now)
		if err != nil {
			report.Failed++
			failures = append(failures, err)
			lc.logger.Warn("contract advance failed", "member_id", c.MemberID, "contract_id", c.ID, "error", err)
			continue
		}
		if !tr.Moved {
			continue
		}
		switch tr.To {
		case model.ContractExpiringSoon:
			report.ExpiringSoon = append(report.ExpiringSoon, c.ID)
		case model.ContractExpired:
			report.Expired = append(report.Expired, c.ID)
		}
		report.Effects = append(report.Effects, tr.Effects...)
	}

	lc.logger.Info("contract scan complete",
		"scanned", report.Scanned,
		"expiring_soon", len(report.ExpiringSoon),
		"expired", len(report.Expired),
		"failed", report.Failed)
	return report, errors.Join(failures...)
}

// Renewal is the outcome of Renew.
type Renewal struct {
	Previous model.Contract
	Contract model.Contract
	Effects  []model.Effect
}

// Renew replaces the member's live contract with a fresh Active one for
// the same team at a newly drawn salary, starting now. The prior contract
// is marked Renewed in the same transaction.
func (lc *Lifecycle) Renew(ctx context.Context, memberID model.MemberID) (Renewal, error) {
	unlock := lc.locks.Lock(memberID)
	defer unlock()

	var renewal Renewal
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		renewal, err = errs.RetryValue(ctx, lc.retry, func(ctx context.Context) (Renewal, error) {
			return lc.renewOnce(ctx, memberID)
		})
		if !errs.IsConflict(err) {
			break
		}
	}
	if err != nil {
		lc.logInvariant(memberID, err)
		return Renewal{}, fmt.Errorf("renew contract %s: %w", memberID, err)
	}

	lc.logger.Info("contract renewed",
		"member_id", memberID,
		"previous_id", renewal.Previous.ID,
		"contract_id", renewal.Contract.ID,
		"salary", renewal.Contract.Salary)
	return renewal, nil
}

func (lc *Lifecycle) renewOnce(ctx context.Context, memberID model.MemberID) (Renewal, error) {
	prev, err := lc.store.GetContract(ctx, memberID)
	if errs.IsNotFound(err) {
		return Renewal{}, ErrNoLiveContract
	}
	if err != nil {
		return Renewal{}, err
	}
	if !prev.Status.Live() {
		return Renewal{}, ErrNoLiveContract
	}

	start := lc.now().UTC()
	next := model.Contract{
		ID:            lc.ids.Generate(),
		MemberID:      memberID,
		Team:          prev.Team,
		Salary:        lc.salary(),
		DurationYears: lc.cfg.DurationYears,
		StartDate:     start,
		ExpiresAt:     model.ExpirationFor(start, lc.cfg.DurationYears),
		Status:        model.ContractActive,
		PreviousID:    prev.ID,
		Version:       1,
	}
	effect := model.Effect{
		Kind:     model.EffectDirectMessage,
		MemberID: memberID,
		Target:   "renewed:" + next.ID,
		Body:     RenewedNotice(prev, next),
	}

	ok, err := lc.store.RenewContract(ctx, prev, next, effect)
	if err != nil {
		return Renewal{}, err
	}
	if !ok {
		return Renewal{}, errs.Conflict("renew contract", memberID)
	}
	prev.Status = model.ContractRenewed
	prev.Version++
	return Renewal{Previous: prev, Contract: next, Effects: []model.Effect{effect}}, nil
}

func (lc *Lifecycle) logInvariant(memberID model.MemberID, err error) {
	if errs.IsInvariant(err) {
		lc.logger.Error("contract invariant violated",
			"event", "invariant_violation",
			"member_id", memberID,
			"error", err)
	}
}
