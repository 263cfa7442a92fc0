// Package effect delivers persisted side effects to the platform.
//
// Effects reach the outbox in the same transaction as the state change that
// produced them. The Dispatcher claims an entry (pending -> sending) before
// sending, so a key is sent at most once even when a live path and a
// reconciliation flush race for it. Failed sends are retried a bounded
// number of times, then dropped with a log line; effects are best-effort
// and never roll back state.
package effect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/store"
)

const (
	// DefaultMaxAttempts is one send plus one retry.
	DefaultMaxAttempts = 2
	// DefaultTimeout bounds each outbound call.
	DefaultTimeout = 5 * time.Second
	// DefaultBackoff is the pause before a retry.
	DefaultBackoff = 200 * time.Millisecond

	flushBatch = 100
)

// Config bounds delivery.
type Config struct {
	MaxAttempts uint
	Timeout     time.Duration
	Backoff     time.Duration
}

// DefaultConfig returns the stock delivery bounds.
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, Timeout: DefaultTimeout, Backoff: DefaultBackoff}
}

// Summary counts the outcome of one Deliver or Flush call.
type Summary struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}

func (s *Summary) add(o Summary) {
	s.Delivered += o.Delivered
	s.Dropped += o.Dropped
	s.Skipped += o.Skipped
}

// Dispatcher applies outbox entries through a gateway.Outbound.
type Dispatcher struct {
	store   *store.Store
	out     gateway.Outbound
	cfg     Config
	logger  *slog.Logger
	metrics *dispatchMetrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRegisterer registers delivery metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.metrics = initDispatchMetrics(reg) }
}

// New creates a Dispatcher. Zero fields of cfg take their defaults.
func New(s *store.Store, out gateway.Outbound, cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	d := &Dispatcher{
		store:  s,
		out:    out,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = initDispatchMetrics(nil)
	}
	return d
}

// Apply enqueues e and delivers it. An e whose key was seen before is
// not sent again.
func (d *Dispatcher) Apply(ctx context.Context, e model.Effect) (Summary, error) {
	if err := d.store.EnqueueEffects(ctx, e); err != nil {
		return Summary{}, fmt.Errorf("apply %s: %w", e, err)
	}
	return d.Deliver(ctx, e.Key())
}

// Deliver sends the pending entries with the given keys, in order.
// Keys already claimed by another caller, or already finished, are
// skipped. Only store errors are returned; send failures end as dropped.
func (d *Dispatcher) Deliver(ctx context.Context, keys ...string) (Summary, error) {
	var sum Summary
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		claimed, err := d.store.ClaimEffect(ctx, key)
		if err != nil {
			return sum, fmt.Errorf("claim effect %s: %w", key, err)
		}
		if !claimed {
			sum.Skipped++
			continue
		}
		entry, err := d.store.GetEffect(ctx, key)
		if err != nil {
			return sum, fmt.Errorf("load effect %s: %w", key, err)
		}
		delivered, err := d.deliverClaimed(ctx, entry)
		if err != nil {
			return sum, err
		}
		if delivered {
			sum.Delivered++
		} else {
			sum.Dropped++
		}
	}
	return sum, nil
}

// Flush delivers every pending entry in enqueue order.
func (d *Dispatcher) Flush(ctx context.Context) (Summary, error) {
	var total Summary
	for {
		entries, err := d.store.ListEffects(ctx, flushBatch, model.EffectPending)
		if err != nil {
			return total, fmt.Errorf("flush: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.Key
		}
		sum, err := d.Deliver(ctx, keys...)
		total.add(sum)
		if err != nil {
			return total, fmt.Errorf("flush: %w", err)
		}
		if len(entries) < flushBatch {
			break
		}
	}
	if total.Delivered+total.Dropped > 0 {
		d.logger.Info("outbox flushed", "delivered", total.Delivered, "dropped", total.Dropped, "skipped", total.Skipped)
	}
	return total, nil
}

// AbandonInFlight drops entries left in sending by a previous process.
// Whether the platform saw them is unknown, and resending could deliver
// twice, so they are recorded as dropped.
func (d *Dispatcher) AbandonInFlight(ctx context.Context) (int, error) {
	entries, err := d.store.ListEffects(ctx, 0, model.EffectSending)
	if err != nil {
		return 0, fmt.Errorf("abandon in-flight: %w", err)
	}
	for _, e := range entries {
		if err := d.store.FinishEffect(ctx, e.Key, model.EffectDropped, e.Attempts, "interrupted by restart"); err != nil {
			return 0, fmt.Errorf("abandon in-flight %s: %w", e.Key, err)
		}
		d.metrics.abandoned.Inc()
		d.logger.Warn("effect abandoned mid-send", "effect_key", e.Key, "effect", e.Effect.String())
	}
	return len(entries), nil
}

// deliverClaimed sends a claimed entry with bounded retries and records
// the final state.
func (d *Dispatcher) deliverClaimed(ctx context.Context, entry model.OutboxEntry) (bool, error) {
	attempts := 0
	_, sendErr := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		d.metrics.attempts.Inc()
		return struct{}{}, d.send(ctx, entry.Effect)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.cfg.Backoff)),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
	)

	kind := string(entry.Effect.Kind)
	if sendErr == nil {
		if err := d.store.FinishEffect(ctx, entry.Key, model.EffectDelivered, attempts, ""); err != nil {
			return true, fmt.Errorf("finish effect %s: %w", entry.Key, err)
		}
		d.metrics.dispatched.WithLabelValues(kind, "delivered").Inc()
		d.logger.Debug("effect delivered", "effect_key", entry.Key, "effect", entry.Effect.String(), "attempts", attempts)
		return true, nil
	}

	// Record the drop even if the caller's context is done.
	finishCtx := context.WithoutCancel(ctx)
	if err := d.store.FinishEffect(finishCtx, entry.Key, model.EffectDropped, attempts, sendErr.Error()); err != nil {
		return false, fmt.Errorf("finish effect %s: %w", entry.Key, err)
	}
	d.metrics.dispatched.WithLabelValues(kind, "dropped").Inc()
	d.logger.Warn("effect dropped",
		"effect_key", entry.Key,
		"effect", entry.Effect.String(),
		"member_id", entry.Effect.MemberID,
		"attempts", attempts,
		"error", sendErr)
	return false, nil
}

// send performs one attempt. Each outbound call is bounded by the timeout.
func (d *Dispatcher) send(ctx context.Context, e model.Effect) error {
	call := func(f func(context.Context) error) error {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
		return f(callCtx)
	}

	switch e.Kind {
	case model.EffectRoleGrant:
		return call(func(ctx context.Context) error { return d.out.GrantRole(ctx, e.MemberID, e.Target) })
	case model.EffectRoleRevoke:
		return call(func(ctx context.Context) error { return d.out.RevokeRole(ctx, e.MemberID, e.Target) })
	case model.EffectDirectMessage:
		return call(func(ctx context.Context) error { return d.out.SendDirectMessage(ctx, e.MemberID, e.Body) })
	case model.EffectRoleChange:
		if e.From != "" {
			if err := call(func(ctx context.Context) error { return d.out.RevokeRole(ctx, e.MemberID, e.From) }); err != nil {
				return err
			}
		}
		if e.Target == "" {
			return nil
		}
		return call(func(ctx context.Context) error { return d.out.GrantRole(ctx, e.MemberID, e.Target) })
	default:
		return backoff.Permanent(fmt.Errorf("unknown effect kind %q", e.Kind))
	}
}
