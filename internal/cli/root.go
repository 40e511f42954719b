package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ddt/internal/config"
	"github.com/roach88/ddt/internal/pipeline"
	"github.com/roach88/ddt/internal/session"
	"github.com/roach88/ddt/internal/timezone"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DataDir    string

	// IDGenerator overrides session IDs (for testing). Nil means UUIDv7.
	IDGenerator session.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// DefaultConfigPath returns ~/.config/ddt/config.yaml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ddt", "config.yaml")
}

// NewRootCommand creates the root command for the DDT CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ddt",
		Short: "DDT - data download tool",
		Long: `Merge machine data-download fragments into one store and decode the
incident log, time series and download report it holds.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", DefaultConfigPath(), "path to config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory (overrides config)")

	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewIncidentsCommand(opts))
	cmd.AddCommand(NewPointsCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCleanCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setupLogging installs a text handler on w, at debug level when verbose.
func setupLogging(verbose bool, w io.Writer) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	return cfg, nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// environment is what every data command needs.
type environment struct {
	cfg  *config.Config
	pipe *pipeline.Pipeline
	out  *OutputFormatter
}

// openEnvironment configures logging, loads config and opens a session.
// The caller must call env.close.
func (o *RootOptions) openEnvironment(cmd *cobra.Command) (*environment, error) {
	setupLogging(o.Verbose, cmd.ErrOrStderr())

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	sess := session.New(cfg, o.IDGenerator)
	pipe, err := pipeline.New(sess)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	slog.Debug("session started", "session", sess.ID, "data_dir", cfg.DataDir)

	return &environment{cfg: cfg, pipe: pipe, out: o.formatter(cmd)}, nil
}

func (e *environment) close() {
	if err := e.pipe.Close(); err != nil {
		slog.Error("error closing session", "error", err)
	}
}

// offsetFlags selects how the time zone offset is resolved.
type offsetFlags struct {
	hours    int
	noPrompt bool
}

func (f *offsetFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.hours, "offset", 0, "time zone offset in hours, skipping lookup")
	cmd.Flags().BoolVar(&f.noPrompt, "no-prompt", false, "do not ask for an offset the data does not hold")
}

// apply publishes an explicit offset, or installs a prompter on stdin.
func (f *offsetFlags) apply(cmd *cobra.Command, env *environment) error {
	if err := f.validate(cmd); err != nil {
		return err
	}
	if cmd.Flags().Changed("offset") {
		env.pipe.Session().Resolver.Publish(timezone.FromHours(f.hours))
		return nil
	}
	if !f.noPrompt {
		env.pipe.Prompter = timezone.NewLinePrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	return nil
}

// validate checks --offset without touching the session.
func (f *offsetFlags) validate(cmd *cobra.Command) error {
	if cmd.Flags().Changed("offset") && (f.hours < timezone.MinHours || f.hours > timezone.MaxHours) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--offset must be between %d and %d", timezone.MinHours, timezone.MaxHours))
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
