package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lwidev/therockqc/internal/app"
	"github.com/lwidev/therockqc/internal/config"
	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/reconcile"
	"github.com/lwidev/therockqc/internal/testutil"
)

// Default league of a scenario: one team and a fixed salary, so that
// every notice is reproducible.
const (
	defaultTeam   = "Remparts"
	defaultSalary = 100_000_00
)

// Harness is the scenario execution context.
type Harness struct {
	app    *app.App
	gw     *gateway.Simulated
	clock  *testutil.ManualClock
	logger *slog.Logger
	seen   int
}

// Options adjusts how scenarios run.
type Options struct {
	// Logger receives the service logs. Defaults to discarding them.
	Logger *slog.Logger
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(scenario, Options{})
}

// RunWithOptions executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// An error is returned only when the scenario could not be set up; step
// and assertion failures are reported in the Result.
func RunWithOptions(scenario *Scenario, opts Options) (*Result, error) {
	h, err := newHarness(scenario, opts)
	if err != nil {
		return nil, err
	}
	defer h.app.Close()

	ctx := context.Background()
	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	result := NewResult()
	result.Scenario = scenario.Name
	for i, step := range scenario.Steps {
		err := h.executeStep(ctx, step)
		h.collect(i, step.Action(), result)
		checkStepError(i, step, err, result)
	}

	actx := &AssertionContext{App: h.app, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, opts Options) (*Harness, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	start := s.Start
	if start.IsZero() {
		start = DefaultStart
	}
	seed := s.Seed
	if seed == 0 {
		seed = 1
	}

	cfg := config.Default()
	cfg.DatabasePath = ":memory:"
	cfg.Contracts.Teams = []string{defaultTeam}
	cfg.Contracts.SalaryMin, cfg.Contracts.SalaryMax = defaultSalary, defaultSalary
	cfg.Dispatch.Backoff = time.Millisecond
	if l := s.League; l != nil {
		if len(l.Teams) > 0 {
			cfg.Contracts.Teams = l.Teams
		}
		if l.Salary > 0 {
			cfg.Contracts.SalaryMin, cfg.Contracts.SalaryMax = l.Salary, l.Salary
		}
		if l.DurationYears > 0 {
			cfg.Contracts.DurationYears = l.DurationYears
		}
		if l.WarningWindow != "" {
			w, err := ParseSpan(l.WarningWindow)
			if err != nil {
				return nil, err
			}
			cfg.Contracts.WarningWindow = w
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := testutil.NewManualClock(start)
	gw := gateway.NewSimulated(cfg.GuildID, logger)
	gw.SetRoster(s.Roster...)
	gw.SetReady(s.Ready)

	a, err := app.New(app.Options{
		Config:  cfg,
		Logger:  logger,
		Now:     clock.Now,
		Gateway: gw,
		IDs:     testutil.NewSequenceIDs("c"),
		Seed:    seed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build app: %w", err)
	}
	return &Harness{app: a, gw: gw, clock: clock, logger: logger}, nil
}

// seed persists the scenario's initial records without effects.
func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for _, sm := range s.Persisted.Members {
		joined := sm.JoinedAt
		if joined.IsZero() {
			joined = h.clock.Now()
		}
		m := model.NewMember(sm.ID, sm.Name, joined)
		if sm.Tier != "" {
			tier, err := model.ParseTier(sm.Tier)
			if err != nil {
				return err
			}
			m.Tier = tier
		}
		m.Counters.LifetimeMessages = sm.Messages
		m.Counters.LastDay = sm.LastDay
		if err := h.app.Store.UpsertMember(ctx, m); err != nil {
			return err
		}
	}
	lc := h.app.Config.ContractConfig()
	for _, sc := range s.Persisted.Contracts {
		c := model.Contract{
			ID:            sc.ID,
			MemberID:      sc.Member,
			Team:          sc.Team,
			Salary:        sc.Salary,
			DurationYears: lc.DurationYears,
			StartDate:     sc.StartDate,
			ExpiresAt:     sc.ExpiresAt,
			Status:        model.ContractStatus(sc.Status),
		}
		if c.Team == "" {
			c.Team = lc.Teams[0]
		}
		if c.Salary == 0 {
			c.Salary = lc.SalaryMin
		}
		if c.Status == "" {
			c.Status = model.ContractActive
		}
		if c.StartDate.IsZero() {
			c.StartDate = model.ExpirationFor(c.ExpiresAt, -c.DurationYears)
		}
		if err := h.app.Store.UpsertContract(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// executeStep performs one step against the application context.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	svc := h.app.Service
	switch {
	case step.Event != nil:
		ev := *step.Event
		if ev.At.IsZero() {
			ev.At = h.clock.Now()
		}
		_, err := svc.HandleEvent(ctx, ev)
		return err
	case step.Reconcile:
		_, err := h.app.Coordinator.Run(ctx)
		return err
	case step.Scan:
		_, err := svc.Scan(ctx)
		return err
	case step.Rollover:
		_, err := svc.Rollover(ctx)
		return err
	case step.Renew != "":
		_, err := svc.Renew(ctx, step.Renew)
		return err
	case step.Advance != "":
		d, err := ParseSpan(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil
	case step.Roster != nil:
		h.gw.SetRoster(*step.Roster...)
		return nil
	case step.Ready != nil:
		h.gw.SetReady(*step.Ready)
		return nil
	default:
		return fmt.Errorf("step has no action")
	}
}

// collect appends the outbound calls made since the previous step.
func (h *Harness) collect(step int, action string, result *Result) {
	calls := h.gw.Calls()
	for _, c := range calls[h.seen:] {
		result.Trace = append(result.Trace, TraceEvent{
			Step:     step,
			Action:   action,
			Op:       c.Op,
			MemberID: c.MemberID,
			Value:    c.Value,
		})
	}
	h.seen = len(calls)
}

func checkStepError(i int, step Step, err error, result *Result) {
	switch {
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none", i, step.Action(), step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %v", i, step.Action(), step.ExpectError, err))
	case step.ExpectError == "" && err != nil && !errors.Is(err, reconcile.ErrDeferred):
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action(), err))
	}
}
