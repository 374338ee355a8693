package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mailsync/mailsync/pkg/client"
	"github.com/mailsync/mailsync/pkg/credential"
	"github.com/mailsync/mailsync/pkg/report"
	"github.com/mailsync/mailsync/pkg/settings"
	"github.com/mailsync/mailsync/pkg/telemetry"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// app carries what PersistentPreRunE resolves for every command.
type app struct {
	build      BuildInfo
	configPath string

	settings  *settings.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger

	// openCredentials is replaced in tests.
	openCredentials func() (*credential.Store, error)
}

// Execute runs the root command.
func Execute(ctx context.Context, build BuildInfo) error {
	a := newApp(build)
	defer a.shutdown()
	return newRootCommand(a).ExecuteContext(ctx)
}

func newApp(build BuildInfo) *app {
	return &app{
		build:  build,
		logger: zerolog.Nop(),
		openCredentials: func() (*credential.Store, error) {
			return credential.Open("")
		},
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mailsync",
		Short: "mailsync - declarative email routing",
		Long: `mailsync reconciles email routing with a desired-state document.

A document declares endpoints (webhooks, Slack, Discord, email forwards and
groups), domain catch-alls and email addresses. mailsync fetches the remote
state, computes the difference and applies it in dependency order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.build.Version, a.build.Commit, a.build.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file path (default ~/.config/mailsync/config.yaml)")
	flags.String("profile", "", "credential profile")
	flags.String("base-url", "", "remote API base URL")
	flags.String("api-key", "", "remote API key")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")
	flags.String("journal", "", "SQLite run journal path")
	flags.String("redis-addr", "", "redis address for the run lock")
	flags.StringSlice("policy", nil, "Rego policy file or directory (repeatable)")
	flags.String("metrics-file", "", "write metrics to this node_exporter textfile")
	flags.String("trace-exporter", "", "trace exporter (none, stdout, otlp)")

	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newDiffCommand(a))
	rootCmd.AddCommand(newPushCommand(a))
	rootCmd.AddCommand(newLoginCommand(a))
	rootCmd.AddCommand(newLogoutCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newDevCommand(a))

	return rootCmd
}

// setup resolves settings and telemetry for the command being run.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := settings.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(s.Telemetry(a.build.Version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	a.settings = s
	a.telemetry = tel
	a.logger = tel.Logger.NewComponentLogger("cli").Zerolog()
	log.Logger = a.logger
	zerolog.SetGlobalLevel(telemetry.ParseLevel(s.Log.Level))

	a.logger.Debug().
		Str("config", s.ConfigFile).
		Str("base_url", s.BaseURL).
		Str("profile", s.Profile).
		Msg("Settings loaded")

	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

// shutdown flushes telemetry, which also writes the metrics textfile.
func (a *app) shutdown() {
	if a.telemetry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// client builds the remote API client, falling back to the keyring for the
// API key.
func (a *app) client() (*client.Client, error) {
	s := a.settings
	if s.APIKey == "" {
		store, err := a.openCredentials()
		if err != nil {
			a.logger.Debug().Err(err).Msg("Keyring unavailable")
		} else if err := s.ResolveAPIKey(store); err != nil {
			return nil, err
		}
	}
	if s.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	a.logger.Debug().Str("source", s.APIKeySource).Msg("Using API key")

	return client.New(s.BaseURL, s.APIKey,
		client.WithTimeout(s.RequestTimeout),
		client.WithLogger(a.logger),
		client.WithTracer(a.telemetry.Tracer.Tracer()),
		client.WithMetrics(a.telemetry.Metrics),
	)
}

// reporter builds a report writer for cmd's output. Color is enabled only
// for text output to a terminal.
func (a *app) reporter(cmd *cobra.Command, format report.Format, verbose bool) *report.Reporter {
	out := cmd.OutOrStdout()
	return report.New(out, report.Options{
		Format:  format,
		Verbose: verbose,
		Color:   format == report.FormatText && isTerminal(out),
	})
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// outputFormat resolves --output, with --json as a shorthand.
func outputFormat(output string, jsonOutput bool) (report.Format, error) {
	if jsonOutput {
		return report.FormatJSON, nil
	}
	return report.ParseFormat(output)
}
