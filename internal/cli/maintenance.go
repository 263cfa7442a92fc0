package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/reconcile"
)

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	Joined   []model.MemberID `json:"joined"`
	Departed []model.MemberID `json:"departed"`
	Repaired []model.MemberID `json:"repaired"`
	Expired  []string         `json:"expired"`
	Failed   []model.MemberID `json:"failed"`
	Flushed  int              `json:"flushed"`
	Dropped  int              `json:"dropped"`
}

func newReconcileReport(r reconcile.Result) ReconcileReport {
	return ReconcileReport{
		Joined:   orEmpty(r.Joined),
		Departed: orEmpty(r.Diff.Departed),
		Repaired: orEmpty(r.Repaired),
		Expired:  orEmpty(r.Expired),
		Failed:   orEmpty(r.Failed),
		Flushed:  r.Flushed.Delivered,
		Dropped:  r.Flushed.Dropped,
	}
}

// RenderText implements textRenderer.
func (r ReconcileReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Joined:   %s\n", joinIDs(r.Joined))
	fmt.Fprintf(w, "Departed: %s\n", joinIDs(r.Departed))
	fmt.Fprintf(w, "Repaired: %s\n", joinIDs(r.Repaired))
	fmt.Fprintf(w, "Expired:  %s\n", joinIDs(r.Expired))
	if len(r.Failed) > 0 {
		fmt.Fprintf(w, "Failed:   %s\n", joinIDs(r.Failed))
	}
	fmt.Fprintf(w, "Outbox:   %d delivered, %d dropped\n", r.Flushed, r.Dropped)
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var rosterPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile persisted state against a roster snapshot",
		Long: `Run one reconciliation pass against a roster snapshot.

Members on the roster without a record are joined, members without a
contract are issued one, and overdue contracts are advanced. Members no
longer on the roster are reported and left untouched.

Example:
  therockqc reconcile --roster roster.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, rosterPath)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Coordinator.Run(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(newReconcileReport(res))
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "roster snapshot YAML (required)")
	_ = cmd.MarkFlagRequired("roster")

	return cmd
}

// ScanReport is the outcome of a contract scan.
type ScanReport struct {
	Scanned      int      `json:"scanned"`
	ExpiringSoon []string `json:"expiring_soon"`
	Expired      []string `json:"expired"`
	Failed       int      `json:"failed"`
}

// RenderText implements textRenderer.
func (r ScanReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Scanned %d live contract(s)\n", r.Scanned)
	fmt.Fprintf(w, "Expiring soon: %s\n", joinIDs(r.ExpiringSoon))
	fmt.Fprintf(w, "Expired:       %s\n", joinIDs(r.Expired))
	if r.Failed > 0 {
		fmt.Fprintf(w, "Failed:        %d\n", r.Failed)
	}
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run the contract expiration scan once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			report, err := a.Service.Scan(cmd.Context())
			res := ScanReport{
				Scanned:      report.Scanned,
				ExpiringSoon: orEmpty(report.ExpiringSoon),
				Expired:      orEmpty(report.Expired),
				Failed:       report.Failed,
			}
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(res)
		},
	}
}

// RolloverReport is the outcome of a daily rollover.
type RolloverReport struct {
	Rolled int `json:"rolled"`
}

// RenderText implements textRenderer.
func (r RolloverReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Rolled over %d member(s)\n", r.Rolled)
}

// NewRolloverCommand creates the rollover command.
func NewRolloverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Fold stale daily counters into the rolling averages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			rolled, err := a.Service.Rollover(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(RolloverReport{Rolled: rolled})
		},
	}
}

// FlushReport is the outcome of an outbox flush.
type FlushReport struct {
	Abandoned int `json:"abandoned"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

// RenderText implements textRenderer.
func (r FlushReport) RenderText(w io.Writer) {
	if r.Abandoned > 0 {
		fmt.Fprintf(w, "Dropped %d effect(s) interrupted mid-send\n", r.Abandoned)
	}
	fmt.Fprintf(w, "Delivered %d, dropped %d\n", r.Delivered, r.Dropped)
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Deliver every pending outbox entry",
		Long: `Deliver every pending outbox entry through the gateway.

Entries left mid-send by a crashed run are dropped first: they may
already have reached the platform and are never sent twice.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			a, _, err := rootOpts.openApp(cmd, "")
			if err != nil {
				return err
			}
			defer closeApp(a)

			abandoned, err := a.Dispatcher.AbandonInFlight(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			sum, err := a.Dispatcher.Flush(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, ErrCodeStore, err)
			}
			return out.Success(FlushReport{Abandoned: abandoned, Delivered: sum.Delivered, Dropped: sum.Dropped})
		},
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func joinIDs[T ~string](ids []T) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
