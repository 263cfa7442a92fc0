package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/lwidev/therockqc/internal/app"
	"github.com/lwidev/therockqc/internal/config"
	"github.com/lwidev/therockqc/internal/gateway"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "text" | "json"
	ConfigPath string
	Database   string // overrides the configured database path when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the therockqc CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "therockqc",
		Short: "therockqc - community league manager",
		Long: `Tracks member reputation and league contracts for a community server.

Activity events raise reputation and move members between rank tiers.
Every member holds a contract that warns, expires and can be renewed.
Changes reach the platform through a durable outbox.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEventCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))
	cmd.AddCommand(NewRolloverCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewMemberCommand(opts))
	cmd.AddCommand(NewContractCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger builds the structured logger writing to w.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if o.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// loadConfig reads the config file (if any), the environment and the
// --db override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.DatabasePath = o.Database
	}
	return cfg, nil
}

// openApp loads the configuration and builds the application context
// around a simulated gateway. With rosterPath set, the gateway serves that
// roster snapshot and reports itself ready. Logs go to the command's stderr.
func (o *RootOptions) openApp(cmd *cobra.Command, rosterPath string) (*app.App, *gateway.Simulated, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := o.logger(cmd.ErrOrStderr())

	gw := gateway.NewSimulated(cfg.GuildID, logger.With("component", "gateway"))
	if rosterPath != "" {
		guild, members, err := gateway.LoadRoster(rosterPath)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to load roster", err)
		}
		if guild != "" && guild != cfg.GuildID {
			return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("roster is for guild %q, configured guild is %q", guild, cfg.GuildID))
		}
		gw.SetRoster(members...)
		gw.SetReady(true)
	}

	a, err := app.New(app.Options{
		Config:  cfg,
		Logger:  logger,
		Gateway: gw,
	})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open application", err)
	}
	return a, gw, nil
}

// closeApp closes a and logs a failure.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Error("error closing database", "error", err)
	}
}
