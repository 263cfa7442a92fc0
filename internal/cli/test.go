package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Golden string // golden trace directory
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// TestResult holds the overall test result.
type TestResult struct {
	*harness.SuiteResult
	Goldens []GoldenResult `json:"goldens,omitempty"`
}

// GoldenResult is the trace comparison of one scenario.
type GoldenResult struct {
	Scenario string `json:"scenario"`
	Path     string `json:"path"`
	Status   string `json:"status"` // "match", "mismatch", "missing" or "updated"
}

// RenderText implements textRenderer.
func (r TestResult) RenderText(w io.Writer) {
	for _, f := range r.Failures {
		name := f.Scenario
		if name == "" {
			name = f.Path
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range f.Errors {
			for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	for _, g := range r.Goldens {
		if g.Status != "match" {
			fmt.Fprintf(w, "golden %s: %s (%s)\n", g.Scenario, g.Status, g.Path)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	if r.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-paths...>",
		Short: "Run scenario files against an in-memory service",
		Long: `Run scenario files end to end against a fresh in-memory service with a
simulated gateway and a manual clock, checking each scenario's
assertions. With --golden, each outbound trace is also compared with
<golden>/<scenario>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  therockqc test ./scenarios
  therockqc test ./scenarios --filter "contract_*"
  therockqc test ./scenarios --golden ./scenarios/golden --update
  therockqc test ./scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "directory of golden trace files")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.Update && opts.Golden == "" {
		return out.Fail(ExitCommandError, ErrCodeInput, fmt.Errorf("--update requires --golden"))
	}

	files, err := harness.CollectScenarios(paths)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}
	if len(files) == 0 {
		if opts.Format == "json" {
			return out.Success(TestResult{SuiteResult: &harness.SuiteResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = opts.logger(cmd.ErrOrStderr())
	}
	summary, results, err := harness.RunSuite(files, harness.Options{Logger: logger})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeInput, err)
	}
	result := TestResult{SuiteResult: summary}

	if opts.Golden != "" {
		for _, f := range files {
			r, ok := results[f]
			if !ok {
				continue
			}
			g, err := checkGolden(opts.Golden, r, opts.Update)
			if err != nil {
				return out.Fail(ExitCommandError, ErrCodeInput, err)
			}
			result.Goldens = append(result.Goldens, g)
			if g.Status == "mismatch" || g.Status == "missing" {
				markGoldenFailure(summary, f, g)
			}
		}
	}

	if summary.Failed > 0 {
		if opts.Format == "json" {
			if err := out.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error:  &CLIError{Code: "E_TEST_FAILED", Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed)},
			}); err != nil {
				return err
			}
		} else {
			result.RenderText(out.Writer)
		}
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return out.Success(result)
}

// filterScenarios keeps the files whose base name (without extension)
// matches pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		base := filepath.Base(f)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// checkGolden compares (or with update, rewrites) the golden trace of r.
func checkGolden(dir string, r *harness.Result, update bool) (GoldenResult, error) {
	path := filepath.Join(dir, r.Scenario+".golden")
	g := GoldenResult{Scenario: r.Scenario, Path: path}

	current, err := harness.MarshalTrace(r.Scenario, r.Trace)
	if err != nil {
		return g, fmt.Errorf("failed to marshal trace: %w", err)
	}

	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return g, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, current, 0o644); err != nil {
			return g, fmt.Errorf("failed to write golden file: %w", err)
		}
		g.Status = "updated"
		return g, nil
	}

	want, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		g.Status = "missing"
	case err != nil:
		return g, fmt.Errorf("failed to read golden file: %w", err)
	case bytes.Equal(want, current):
		g.Status = "match"
	default:
		g.Status = "mismatch"
	}
	return g, nil
}

// markGoldenFailure moves a passing scenario to the failures.
func markGoldenFailure(summary *harness.SuiteResult, path string, g GoldenResult) {
	msg := fmt.Sprintf("golden trace %s: %s", g.Status, g.Path)
	for i := range summary.Failures {
		if summary.Failures[i].Path == path {
			summary.Failures[i].Errors = append(summary.Failures[i].Errors, msg)
			return
		}
	}
	summary.Passed--
	summary.Failed++
	summary.Failures = append(summary.Failures, harness.SuiteFailure{Scenario: g.Scenario, Path: path, Errors: []string{msg}})
}
