// Package app builds the application context once and runs it.
//
// Every component is constructed here and handed its collaborators
// explicitly; nothing in the service reaches for a package-level instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lwidev/therockqc/internal/community"
	"github.com/lwidev/therockqc/internal/config"
	"github.com/lwidev/therockqc/internal/contract"
	"github.com/lwidev/therockqc/internal/effect"
	"github.com/lwidev/therockqc/internal/engine"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/keylock"
	"github.com/lwidev/therockqc/internal/reconcile"
	"github.com/lwidev/therockqc/internal/reputation"
	"github.com/lwidev/therockqc/internal/schedule"
	"github.com/lwidev/therockqc/internal/store"
)

// shutdownTimeout bounds the final outbox flush and the metrics server
// shutdown.
const shutdownTimeout = 10 * time.Second

// Gateway is the platform connection: roster reads and outbound effects.
type Gateway interface {
	gateway.RosterSource
	gateway.Outbound
}

// Options are the inputs of New. Zero values select production defaults.
type Options struct {
	Config config.Config
	Logger *slog.Logger
	Now    func() time.Time
	// Gateway defaults to a simulated gateway that logs outbound calls.
	Gateway Gateway
	IDs     contract.IDGenerator
	// Seed fixes the contract draw when non-zero.
	Seed uint64
	// After replaces time.After in the schedulers.
	After func(time.Duration) <-chan time.Time
}

// App is the application context.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Store       *store.Store
	Locks       *keylock.Locker
	Accumulator *reputation.Accumulator
	Lifecycle   *contract.Lifecycle
	Dispatcher  *effect.Dispatcher
	Service     *community.Service
	Engine      *engine.Engine
	Coordinator *reconcile.Coordinator
	Scheduler   *schedule.Scheduler
	Gateway     Gateway

	now func() time.Time
}

// New opens the store and wires every component.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	repCfg, err := cfg.ReputationConfig()
	if err != nil {
		return nil, err
	}

	s, err := store.Open(cfg.DatabasePath, store.WithTimeout(cfg.StoreTimeout), store.WithNow(now))
	if err != nil {
		return nil, err
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Store:    s,
		Locks:    keylock.New(keylock.DefaultShards),
		Gateway:  opts.Gateway,
		now:      now,
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.Gateway == nil {
		a.Gateway = gateway.NewSimulated(cfg.GuildID, logger.With("component", "gateway"))
	}

	a.Accumulator, err = reputation.New(s, a.Locks, repCfg, reputation.WithLogger(logger.With("component", "reputation")))
	if err != nil {
		s.Close()
		return nil, err
	}

	lcOpts := []contract.Option{
		contract.WithLogger(logger.With("component", "contract")),
		contract.WithNow(now),
	}
	if opts.IDs != nil {
		lcOpts = append(lcOpts, contract.WithIDGenerator(opts.IDs))
	}
	if opts.Seed != 0 {
		lcOpts = append(lcOpts, contract.WithSeed(opts.Seed))
	}
	a.Lifecycle, err = contract.New(s, a.Locks, cfg.ContractConfig(), lcOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	a.Dispatcher = effect.New(s, a.Gateway, cfg.EffectConfig(),
		effect.WithLogger(logger.With("component", "effect")),
		effect.WithRegisterer(a.Registry))
	a.Service = community.New(a.Accumulator, a.Lifecycle, a.Dispatcher, now, logger.With("component", "community"))
	a.Engine = engine.New(a.Service, cfg.Workers,
		engine.WithLogger(logger.With("component", "engine")),
		engine.WithRegisterer(a.Registry))
	a.Coordinator = reconcile.New(a.Service, s, a.Gateway, cfg.GuildID,
		reconcile.WithLogger(logger.With("component", "reconcile")),
		reconcile.WithNow(now),
		reconcile.WithSeq(a.Engine.LastSeq),
		reconcile.WithRegisterer(a.Registry))
	a.Scheduler = schedule.New(
		schedule.WithLogger(logger.With("component", "schedule")),
		schedule.WithNow(now),
		schedule.WithAfter(opts.After))
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// MetricsHandler serves the application registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// Run drives the service until ctx is cancelled or the engine has been
// stopped and drained. It runs the event engine, reconciliation on every
// ready signal, the contract scan and the daily rollover. Cancellation is
// a clean shutdown and returns nil.
func (a *App) Run(ctx context.Context, ready <-chan struct{}) error {
	abandoned, err := a.Dispatcher.AbandonInFlight(ctx)
	if err != nil {
		return err
	}
	if abandoned > 0 {
		a.Logger.Warn("dropped effects interrupted by a previous run", "count", abandoned)
	}
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A drained engine ends the run.
		defer cancel()
		return ignoreCancel(a.Engine.Run(gctx))
	})
	g.Go(func() error {
		return a.Coordinator.Serve(gctx, ready)
	})
	g.Go(func() error {
		return a.Scheduler.Every(gctx, "contract_scan", a.Config.Contracts.ScanInterval, func(ctx context.Context, _ time.Time) {
			if _, err := a.Service.Scan(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("contract scan failed", "error", err)
			}
		})
	})
	g.Go(func() error {
		return a.Scheduler.Daily(gctx, "rollover", loc, func(ctx context.Context, _ time.Time) {
			if _, err := a.Service.Rollover(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("daily rollover failed", "error", err)
			}
		})
	})
	if a.Config.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx)
		})
	}

	err = g.Wait()

	flushCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if _, ferr := a.Dispatcher.Flush(flushCtx); ferr != nil {
		a.Logger.Warn("final outbox flush incomplete", "error", ferr)
	}
	return err
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.MetricsHandler())
	srv := &http.Server{Addr: a.Config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("metrics listening", "addr", a.Config.MetricsAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
