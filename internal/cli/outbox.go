package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/model"
)

// OutboxOptions holds flags for the outbox command.
type OutboxOptions struct {
	*RootOptions
	States []string
	Limit  int
}

// OutboxReport lists outbox entries with per-state totals.
type OutboxReport struct {
	Entries []model.OutboxEntry       `json:"entries"`
	Counts  map[model.EffectState]int `json:"counts"`
}

var outboxStates = []model.EffectState{
	model.EffectPending, model.EffectSending, model.EffectDelivered, model.EffectDropped,
}

// RenderText implements textRenderer.
func (r OutboxReport) RenderText(w io.Writer) {
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%s  %-9s %-14s %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.State, e.Effect.Kind, describeEffect(e.Effect))
		if e.LastError != "" {
			fmt.Fprintf(w, "  (attempts %d: %s)", e.Attempts, e.LastError)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nTotals:")
	for _, st := range outboxStates {
		fmt.Fprintf(w, " %s=%d", st, r.Counts[st])
	}
	fmt.Fprintln(w)
}

// NewOutboxCommand creates the outbox command.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutboxOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List outbox entries",
		Long: `List outbox entries in the order they were recorded.

Examples:
  therockqc outbox
  therockqc outbox --state pending --state dropped
  therockqc outbox --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutbox(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.States, "state", nil, "filter by state (pending|sending|delivered|dropped)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 for all)")

	return cmd
}

func runOutbox(opts *OutboxOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	states := make([]model.EffectState, 0, len(opts.States))
	for _, s := range opts.States {
		st := model.EffectState(s)
		if !slices.Contains(outboxStates, st) {
			return out.Fail(ExitCommandError, ErrCodeInput, fmt.Errorf("unknown outbox state %q", s))
		}
		states = append(states, st)
	}

	a, _, err := opts.openApp(cmd, "")
	if err != nil {
		return err
	}
	defer closeApp(a)

	entries, err := a.Store.ListEffects(cmd.Context(), opts.Limit, states...)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}
	counts, err := a.Store.CountEffects(cmd.Context())
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeStore, err)
	}
	return out.Success(OutboxReport{Entries: orEmpty(entries), Counts: counts})
}
