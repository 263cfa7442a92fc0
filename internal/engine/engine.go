package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/keylock"
	"github.com/lwidev/therockqc/internal/model"
)

// DefaultWorkers is the shard count used when New is given workers <= 0.
const DefaultWorkers = 8

// Handler applies one event. Implemented by community.Service.
type Handler interface {
	HandleEvent(ctx context.Context, ev gateway.Event) ([]model.Effect, error)
}

// Engine routes platform events to per-member worker loops.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called exactly once
//   - Stop(): safe from any goroutine; lets workers drain their queues
type Engine struct {
	handler   Handler
	clock     *Clock
	queues    []*eventQueue
	processed atomic.Int64
	lastSeq   atomic.Int64
	logger    *slog.Logger
	events    *prometheus.CounterVec
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRegisterer registers engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.events = newEventCounter(reg) }
}

func newEventCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	return promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "therockqc_events_processed_total",
			Help: "platform events handled by the engine, by type and outcome",
		},
		[]string{"type", "outcome"},
	)
}

// New creates an Engine with workers shard loops.
func New(h Handler, workers int, opts ...Option) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	e := &Engine{
		handler: h,
		clock:   NewClock(),
		queues:  make([]*eventQueue, workers),
		logger:  slog.Default(),
	}
	for i := range e.queues {
		e.queues[i] = newEventQueue()
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = newEventCounter(nil)
	}
	return e
}

// Enqueue submits an event for processing.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev gateway.Event) bool {
	q := e.queues[keylock.ShardOf(ev.MemberID, len(e.queues))]
	return q.Enqueue(envelope{Seq: e.clock.Next(), Event: ev})
}

// Processed returns the number of events handled so far.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// LastSeq returns the highest seq among the events handled so far, or 0
// before the first one. Events still queued do not count.
func (e *Engine) LastSeq() int64 {
	return e.lastSeq.Load()
}

// markProcessed raises lastSeq to seq. Shards finish out of seq order, so
// a lower seq never moves it back.
func (e *Engine) markProcessed(seq int64) {
	for {
		cur := e.lastSeq.Load()
		if seq <= cur || e.lastSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Pending returns the number of queued, unprocessed events.
func (e *Engine) Pending() int {
	n := 0
	for _, q := range e.queues {
		n += q.Len()
	}
	return n
}

// Run starts one worker per shard and blocks until ctx is cancelled or
// Stop has been called and every queue is drained.
//
// ERROR HANDLING: a failed event is logged with full event context and
// processing continues. The handler's own writes are idempotent, so an
// operator can replay a logged event safely.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "workers", len(e.queues))

	var wg sync.WaitGroup
	for i, q := range e.queues {
		wg.Add(1)
		go func(shard int, q *eventQueue) {
			defer wg.Done()
			e.work(ctx, shard, q)
		}(i, q)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.logger.Info("engine stopping: context cancelled", "abandoned", e.Pending())
		return err
	}
	e.logger.Info("engine stopping: queues drained", "processed", e.Processed())
	return nil
}

// Stop closes every queue. Workers finish the events already queued, then
// Run returns.
func (e *Engine) Stop() {
	for _, q := range e.queues {
		q.Close()
	}
}

func (e *Engine) work(ctx context.Context, shard int, q *eventQueue) {
	for {
		if ctx.Err() != nil {
			return
		}
		if env, ok := q.TryDequeue(); ok {
			e.process(ctx, shard, env)
			continue
		}
		if q.Drained() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-q.Wait():
			// Loop back to TryDequeue. A closed queue keeps this case
			// ready, and Drained ends the loop once it is empty.
		}
	}
}

func (e *Engine) process(ctx context.Context, shard int, env envelope) {
	ev := env.Event
	_, err := e.handler.HandleEvent(ctx, ev)
	e.processed.Add(1)
	e.markProcessed(env.Seq)
	if err != nil {
		e.events.WithLabelValues(string(ev.Type), "error").Inc()
		e.logger.Error("event processing failed",
			"seq", env.Seq,
			"shard", shard,
			"type", string(ev.Type),
			"member_id", ev.MemberID,
			"at", ev.At,
			"error", err)
		return
	}
	e.events.WithLabelValues(string(ev.Type), "ok").Inc()
	e.logger.Debug("event processed", "seq", env.Seq, "shard", shard, "type", string(ev.Type), "member_id", ev.MemberID)
}
