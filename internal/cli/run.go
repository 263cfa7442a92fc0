package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/app"
	"github.com/lwidev/therockqc/internal/gateway"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Events      string // JSONL event file, "-" for stdin
	Roster      string // roster snapshot YAML
	MetricsAddr string
}

// RunSummary is the outcome of a run that consumed an event stream.
type RunSummary struct {
	Enqueued  int   `json:"enqueued"`
	Processed int64 `json:"processed"`
}

// RenderText implements textRenderer.
func (r RunSummary) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Processed %d of %d events\n", r.Processed, r.Enqueued)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the service",
		Long: `Run the event engine, reconciliation, the contract scan and the daily
rollover until interrupted.

With --events, platform events are read as JSON lines from the file (or
stdin for "-") and the run ends once every event has been processed.
With --roster, the simulated gateway serves that roster snapshot and
reconciliation runs against it at startup.

Example:
  therockqc run --db ./league.db --roster roster.yaml
  therockqc run --events events.jsonl --metrics-addr :9090
  cat events.jsonl | therockqc run --events -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", `JSONL event file to process ("-" for stdin)`)
	cmd.Flags().StringVar(&opts.Roster, "roster", "", "roster snapshot YAML served by the simulated gateway")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	var input io.Reader
	switch opts.Events {
	case "":
	case "-":
		input = cmd.InOrStdin()
	default:
		f, err := os.Open(opts.Events)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open events", err)
		}
		defer f.Close()
		input = f
	}

	a, gw, err := opts.openApp(cmd, opts.Roster)
	if err != nil {
		return err
	}
	defer closeApp(a)
	if opts.MetricsAddr != "" {
		a.Config.MetricsAddr = opts.MetricsAddr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var enqueued int
	feedErr := make(chan error, 1)
	if input != nil {
		go func() {
			n, err := feedEvents(ctx, a, input)
			enqueued = n
			feedErr <- err
			// Ends the run once the queued events are processed.
			a.Engine.Stop()
		}()
	}

	a.Logger.Info("service starting", "db", a.Config.DatabasePath, "guild", a.Config.GuildID, "workers", a.Config.Workers)
	if err := a.Run(ctx, gw.Ready()); err != nil {
		return WrapExitError(ExitFailure, "service error", err)
	}
	a.Logger.Info("service stopped gracefully")

	if input == nil {
		return nil
	}
	select {
	case err := <-feedErr:
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read events", err)
		}
	default:
		// Interrupted while the stream was still being read.
		return nil
	}
	return opts.formatter(cmd).Success(RunSummary{Enqueued: enqueued, Processed: a.Engine.Processed()})
}

// feedEvents decodes JSON events from r and enqueues them. Events without
// a timestamp are stamped with the current time.
func feedEvents(ctx context.Context, a *app.App, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	n := 0
	for ctx.Err() == nil {
		var ev gateway.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("event %d: %w", n+1, err)
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		if !a.Engine.Enqueue(ev) {
			return n, errors.New("engine stopped")
		}
		n++
	}
	return n, ctx.Err()
}
