package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagBaseURLs   []string
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles the resolved config and logger, built once in
// PersistentPreRunE so RunE handlers never repeat config resolution.
type CLIContext struct {
	Config   *FileConfig
	BaseURLs []string
	Logger   *slog.Logger
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// cliContextFrom extracts the CLIContext from the command's context.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message. Every command under root goes through PersistentPreRunE, so a
// nil context here is always a programmer error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — PersistentPreRunE did not run")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "callguard",
		Short:   "Resilient multi-backend HTTP call client",
		Long:    "callguard dispatches HTTP requests against a pool of equivalent backend URLs, retrying and failing over on transient and QoS failures.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadCLIConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringArrayVar(&flagBaseURLs, "base-url", nil, "backend base URL (repeatable; overrides the config file's base_urls)")
	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (attempt dispatch, classification, backoff)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newCallCmd())
	cmd.AddCommand(newSoakCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIConfig resolves the config file and effective base URL list and
// stores the result in the command's context for use by subcommands.
func loadCLIConfig(cmd *cobra.Command) error {
	logger := buildLogger()

	cfg, err := LoadConfig(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	baseURLs, err := resolveBaseURLs(flagBaseURLs, cfg.BaseURLs)
	if err != nil && cmd.Name() != "show" {
		// "config show" is useful even with no base URLs configured yet.
		return err
	}

	cc := &CLIContext{Config: cfg, BaseURLs: baseURLs, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from CLI flags. --verbose, --debug,
// and --quiet are mutually exclusive (enforced by Cobra), so exactly one
// of them (or none, for the default Warn floor) applies.
func buildLogger() *slog.Logger {
	level := slog.LevelWarn

	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	case flagQuiet:
		level = slog.LevelError
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	if flagJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

// isInteractive reports whether stderr is attached to a terminal. Used to
// gate progress notes that would otherwise clutter piped output.
func isInteractive() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
