package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsync/mailsync/pkg/client"
	"github.com/mailsync/mailsync/pkg/config"
	"github.com/mailsync/mailsync/pkg/policy"
	"github.com/mailsync/mailsync/pkg/report"
	"github.com/mailsync/mailsync/pkg/telemetry"
)

func newDiffCommand(a *app) *cobra.Command {
	var (
		file       string
		output     string
		jsonOutput bool
		verbose    bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show what a push would change",
		Long: `Compare a routing document with the remote state and print the changes
a push would make. Nothing is modified.

Changes are listed as endpoints, then domain catch-alls, then email
addresses, each sorted by key. Policy warnings and denials are shown
under the plan.`,
		Example: `  # Show pending changes
  mailsync diff -f mail.yaml

  # Include full before and after payloads
  mailsync diff -f mail.yaml --verbose

  # Machine-readable output
  mailsync diff -f mail.yaml --json

  # Re-diff whenever the document or a policy changes
  mailsync diff -f mail.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(output, jsonOutput)
			if err != nil {
				return err
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			rep := a.reporter(cmd, format, verbose)
			ctx := cmd.Context()

			if err := a.runDiff(ctx, c, rep, file); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			paths := append([]string{file}, a.settings.Policy.Paths...)
			a.logger.Info().Strs("paths", paths).Msg("Watching for changes (Ctrl+C to stop)")

			return config.NewWatcher(a.logger).Watch(ctx, paths, func() {
				fmt.Fprintln(cmd.OutOrStdout())
				if err := a.runDiff(ctx, c, rep, file); err != nil {
					a.logger.Error().Err(err).Msg("Diff failed")
				}
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "routing document (.yaml, .json or .cue)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include full before and after payloads")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run when the document or policies change")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (a *app) runDiff(ctx context.Context, c *client.Client, rep *report.Reporter, file string) (err error) {
	op := telemetry.StartOperation(ctx, "diff", telemetry.AttrDocument.String(file))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	_, desired, err := loadDesired(file)
	if err != nil {
		return err
	}
	diff, err := a.plan(ctx, c, desired)
	if err != nil {
		return err
	}
	if err := rep.Diff(diff); err != nil {
		return err
	}
	if !diff.HasChanges {
		return nil
	}

	_, err = a.checkPolicies(ctx, rep, diff, policy.Context{
		Document: file,
		Target:   c.Host(),
		DryRun:   true,
	})
	return err
}
