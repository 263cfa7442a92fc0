package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/gateway"
	"github.com/lwidev/therockqc/internal/harness"
)

// ValidationError is one problem found in a file.
type ValidationError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Checked []string          `json:"checked"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// RenderText implements textRenderer.
func (r ValidationResult) RenderText(w io.Writer) {
	for _, e := range r.Errors {
		fmt.Fprintf(w, "✗ %s: %s\n", e.File, e.Message)
	}
	if r.Valid {
		fmt.Fprintf(w, "✓ %d file(s) valid\n", len(r.Checked))
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var rosterPath string

	cmd := &cobra.Command{
		Use:   "validate [scenario-paths...]",
		Short: "Validate configuration, roster and scenario files",
		Long: `Validate the configuration (file and environment), an optional roster
snapshot and scenario files without opening the database or running
anything. Directories are searched for *.yaml and *.yml scenarios.

Example:
  therockqc validate --config league.yaml
  therockqc validate --roster roster.yaml ./scenarios`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, rosterPath, args, cmd)
		},
	}

	cmd.Flags().StringVar(&rosterPath, "roster", "", "roster snapshot YAML to validate")

	return cmd
}

func runValidate(opts *RootOptions, rosterPath string, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	result := ValidationResult{Checked: []string{}}
	fail := func(file string, err error) {
		result.Errors = append(result.Errors, ValidationError{File: file, Message: err.Error()})
	}

	configName := opts.ConfigPath
	if configName == "" {
		configName = "(defaults)"
	}
	result.Checked = append(result.Checked, configName)
	if _, err := opts.loadConfig(); err != nil {
		fail(configName, err)
	}

	if rosterPath != "" {
		result.Checked = append(result.Checked, rosterPath)
		if _, _, err := gateway.LoadRoster(rosterPath); err != nil {
			fail(rosterPath, err)
		}
	}

	if len(paths) > 0 {
		files, err := harness.CollectScenarios(paths)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeInput, err)
		}
		for _, f := range files {
			opts.formatter(cmd).VerboseLog("validating %s", f)
			result.Checked = append(result.Checked, f)
			if _, err := harness.LoadScenario(f); err != nil {
				fail(f, err)
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	if !result.Valid {
		if err := out.Error(ErrCodeInvalid, fmt.Sprintf("%d invalid file(s)", len(result.Errors)), result.Errors); err != nil {
			return err
		}
		if out.Format != "json" {
			result.RenderText(out.Writer)
		}
		return NewExitError(ExitFailure, "validation failed")
	}
	return out.Success(result)
}
