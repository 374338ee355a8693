package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/mailsync/mailsync/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit      int
		output     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded push runs",
		Long: `List push runs recorded in the run journal, newest first. With a run ID,
show that run and the outcome of each of its changes.

The journal is enabled by setting journal.path or --journal.`,
		Example: `  # Last 20 runs
  mailsync history --journal ~/.local/share/mailsync/journal.db

  # One run with its changes
  mailsync history 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output, jsonOutput)
			if err != nil {
				return err
			}

			path := a.settings.Journal.Path
			if path == "" {
				return errors.New("no run journal configured: set journal.path or pass --journal")
			}

			ctx := cmd.Context()
			journal, err := stores.Open(ctx, path)
			if err != nil {
				return err
			}
			defer journal.Close()

			rep := a.reporter(cmd, format, false)
			if len(args) == 1 {
				run, err := journal.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return rep.Run(run)
			}

			runs, err := journal.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			return rep.Runs(runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
