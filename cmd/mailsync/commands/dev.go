package commands

import (
	"github.com/spf13/cobra"

	"github.com/mailsync/mailsync/pkg/devserver"
)

func newDevCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development mode commands",
		Long: `Commands for local development and testing.

These commands run an in-memory remote so documents can be pushed and
diffed without a real account.`,
	}

	cmd.AddCommand(newDevServeCommand(a))

	return cmd
}

func newDevServeCommand(a *app) *cobra.Command {
	var (
		addr   string
		apiKey string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory remote API",
		Long: `Serve the remote resource API from memory until interrupted.

State is lost on exit. Request counts are exposed on /metrics.`,
		Example: `  # Start the server
  mailsync dev serve --addr 127.0.0.1:8787 --api-key dev

  # Push to it from another shell
  mailsync push -f mail.yaml --base-url http://127.0.0.1:8787 --api-key dev --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []devserver.Option{
				devserver.WithLogger(a.logger),
				devserver.WithMetrics(a.telemetry.Metrics),
			}
			if apiKey != "" {
				opts = append(opts, devserver.WithAPIKey(apiKey))
			} else {
				a.logger.Warn().Msg("No --api-key given: the dev server accepts any request")
			}

			return devserver.New(opts...).ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	// Shadows the global --api-key: this is the key the server expects.
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key required from clients (empty accepts any)")

	return cmd
}
