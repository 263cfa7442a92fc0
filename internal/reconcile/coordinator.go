// Package reconcile brings persisted state back in line with the live
// roster after the service was disconnected.
//
// A pass runs Snapshot -> Diff -> Replay -> Commit. Snapshot and Diff only
// read. Replay routes every action through the same community entry points
// as live events, which take the per-member locks. Commit flushes the
// outbox once the whole diff has been persisted.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lwidev/therockqc/internal/community"
	"github.com/lwidev/therockqc/internal/effect"
	"github.com/lwidev/therockqc/internal/errs"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/store"
)

// ErrDeferred is returned when the roster cannot be fetched because the
// platform connection is not ready. The pass runs again on the next ready
// signal.
var ErrDeferred = errors.New("reconciliation deferred: platform not ready")

// Cursor is the ephemeral state of the last successful pass.
// It is never persisted and never used to compute a diff.
type Cursor struct {
	Live    model.IDSet
	LastSeq int64
	At      time.Time
}

// Result summarizes one pass.
type Result struct {
	Diff     Diff
	Joined   []model.MemberID
	Repaired []model.MemberID
	Expired  []string
	Failed   []model.MemberID
	Flushed  effect.Summary
	Duration time.Duration
}

// Coordinator runs reconciliation passes, one at a time.
type Coordinator struct {
	svc     *community.Service
	store   *store.Store
	roster  gateway.RosterSource
	guildID string
	now     func() time.Time
	seq     func() int64
	retry   errs.RetryPolicy
	logger  *slog.Logger
	metrics *reconcileMetrics

	passMu sync.Mutex

	cursorMu sync.Mutex
	cursor   Cursor
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNow sets the wall clock. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSeq sets the source of the engine's logical time for the cursor.
func WithSeq(seq func() int64) Option {
	return func(c *Coordinator) { c.seq = seq }
}

// WithRegisterer registers reconciliation metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) { c.metrics = initReconcileMetrics(reg) }
}

// WithRetryPolicy overrides the transient-error retry policy for reads.
func WithRetryPolicy(p errs.RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

// New creates a Coordinator for guildID.
func New(svc *community.Service, s *store.Store, roster gateway.RosterSource, guildID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		svc:     svc,
		store:   s,
		roster:  roster,
		guildID: guildID,
		now:     time.Now,
		retry:   errs.DefaultRetryPolicy,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = initReconcileMetrics(nil)
	}
	return c
}

// Cursor returns a copy of the cursor of the last successful pass.
func (c *Coordinator) Cursor() Cursor {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	cur := c.cursor
	cur.Live = model.NewIDSet(c.cursor.Live.Sorted()...)
	return cur
}

// Snapshot fetches the live roster and the persisted id sets.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{At: c.now()}

	live, err := errs.RetryValue(ctx, c.retry, func(ctx context.Context) ([]gateway.RosterMember, error) {
		return c.roster.LiveRoster(ctx, c.guildID)
	})
	if errors.Is(err, gateway.ErrNotReady) {
		return Snapshot{}, ErrDeferred
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot roster: %w", err)
	}
	snap.Live = live

	err = errs.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		if snap.Persisted, err = c.store.ListAllMemberIDs(ctx); err != nil {
			return err
		}
		if snap.WithContracts, err = c.store.ListContractMemberIDs(ctx); err != nil {
			return err
		}
		snap.LiveContracts, err = c.store.QueryContracts(ctx, model.LiveStatuses...)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot store: %w", err)
	}
	return snap, nil
}

// Run performs one full pass.
//
// A failure for one member is logged and recorded in Result.Failed; the
// pass continues with the others and returns the joined errors. Cancelling
// ctx abandons the remaining replay; the next pass recomputes it.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	started := time.Now()
	snap, err := c.Snapshot(ctx)
	if errors.Is(err, ErrDeferred) {
		c.metrics.passes.WithLabelValues("deferred").Inc()
		c.logger.Warn("reconciliation deferred: roster not available")
		return Result{}, err
	}
	if err != nil {
		c.metrics.passes.WithLabelValues("error").Inc()
		return Result{}, err
	}

	diff := ComputeDiff(snap)
	res := Result{Diff: diff}
	c.logger.Info("reconciliation diff",
		"live", len(snap.Live),
		"persisted", len(snap.Persisted),
		"missed_joins", len(diff.MissedJoins),
		"missing_contracts", len(diff.MissingContracts),
		"overdue", len(diff.Overdue),
		"departed", len(diff.Departed))
	for _, id := range diff.Departed {
		c.logger.Debug("persisted member not on roster, left untouched", "member_id", id)
	}

	failures := c.replay(ctx, snap, diff, &res)

	if ctx.Err() == nil {
		flushed, err := c.svc.Dispatcher().Flush(ctx)
		res.Flushed = flushed
		if err != nil {
			failures = append(failures, fmt.Errorf("commit: %w", err))
		}
	}

	res.Duration = time.Since(started)
	err = errors.Join(failures...)
	switch {
	case ctx.Err() != nil:
		c.metrics.passes.WithLabelValues("cancelled").Inc()
		err = errors.Join(err, ctx.Err())
	case err != nil:
		c.metrics.passes.WithLabelValues("partial").Inc()
	default:
		c.metrics.passes.WithLabelValues("ok").Inc()
		c.metrics.duration.Observe(res.Duration.Seconds())
		c.commitCursor(snap)
	}

	c.logger.Info("reconciliation complete",
		"joined", len(res.Joined),
		"repaired", len(res.Repaired),
		"expired", len(res.Expired),
		"failed", len(res.Failed),
		"delivered", res.Flushed.Delivered,
		"dropped", res.Flushed.Dropped,
		"duration", res.Duration)
	return res, err
}

// replay drives each diff entry through the shared entry points.
func (c *Coordinator) replay(ctx context.Context, snap Snapshot, diff Diff, res *Result) []error {
	var failures []error
	fail := func(id model.MemberID, step string, err error) {
		res.Failed = append(res.Failed, id)
		failures = append(failures, err)
		c.logger.Warn("reconciliation step failed", "member_id", id, "step", step, "error", err)
	}

	for _, m := range diff.MissedJoins {
		if ctx.Err() != nil {
			return failures
		}
		joined, err := c.svc.Join(ctx, m.ID, m.DisplayName, m.JoinedAt)
		if err != nil {
			fail(m.ID, "missed_join", err)
			continue
		}
		if joined.MemberCreated {
			res.Joined = append(res.Joined, m.ID)
			c.metrics.actions.WithLabelValues("missed_join").Inc()
		}
	}

	for _, id := range diff.MissingContracts {
		if ctx.Err() != nil {
			return failures
		}
		joined, err := c.svc.Join(ctx, id, "", time.Time{})
		if err != nil {
			fail(id, "missing_contract", err)
			continue
		}
		if joined.ContractCreated {
			res.Repaired = append(res.Repaired, id)
			c.metrics.actions.WithLabelValues("missing_contract").Inc()
		}
	}

	for _, ct := range diff.Overdue {
		if ctx.Err() != nil {
			return failures
		}
		tr, err := c.svc.Lifecycle().AdvanceContract(ctx, ct, snap.At)
		if err != nil {
			fail(ct.MemberID, "overdue_contract", err)
			continue
		}
		if tr.Moved {
			res.Expired = append(res.Expired, ct.ID)
			c.metrics.actions.WithLabelValues("overdue_contract").Inc()
		}
	}
	return failures
}

func (c *Coordinator) commitCursor(snap Snapshot) {
	live := model.NewIDSet()
	for _, m := range snap.Live {
		live.Add(m.ID)
	}
	var seq int64
	if c.seq != nil {
		seq = c.seq()
	}
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	c.cursor = Cursor{Live: live, LastSeq: seq, At: snap.At}
}

// Serve runs a pass on every ready signal until ctx is done. A deferred or
// failed pass waits for the next signal. Signals arriving during a pass
// coalesce in the channel's buffer into one follow-up pass.
func (c *Coordinator) Serve(ctx context.Context, ready <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ready:
			if !ok {
				return nil
			}
			if _, err := c.Run(ctx); err != nil && !errors.Is(err, ErrDeferred) && ctx.Err() == nil {
				c.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}
