package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mailsync/mailsync/pkg/engine"
	"github.com/mailsync/mailsync/pkg/lock"
	"github.com/mailsync/mailsync/pkg/policy"
	"github.com/mailsync/mailsync/pkg/report"
	"github.com/mailsync/mailsync/pkg/stores"
	"github.com/mailsync/mailsync/pkg/telemetry"
)

type pushOptions struct {
	file       string
	output     string
	jsonOutput bool
	dryRun     bool
	force      bool
	verbose    bool
}

func newPushCommand(a *app) *cobra.Command {
	var opts pushOptions

	cmd := &cobra.Command{
		Use:     "push",
		Aliases: []string{"apply"},
		Short:   "Apply a routing document to the remote",
		Long: `Reconcile the remote with a routing document.

The push:
  - Validates the document
  - Takes the run lock (when a redis address is configured)
  - Fetches the remote state and computes the diff
  - Evaluates policies; any denial stops the push
  - Asks for confirmation unless --force or --dry-run is given
  - Applies changes in dependency order: endpoints are created before
    anything references them and deleted after nothing does
  - Records the run in the journal (when configured)

A failed change does not stop the others. Re-running the push converges.`,
		Example: `  # Preview without changing anything
  mailsync push -f mail.yaml --dry-run

  # Apply after confirmation
  mailsync push -f mail.yaml

  # Apply from CI
  mailsync push -f mail.yaml --force --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.push(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "routing document (.yaml, .json or .cue)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format (text, json, yaml)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show what would be applied without changing anything")
	cmd.Flags().BoolVar(&opts.force, "force", false, "skip the confirmation prompt")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "include full before and after payloads")
	// Bound to the concurrency setting; read through a.settings.
	cmd.Flags().Int("concurrency", 4, "maximum concurrent mutations per phase")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (a *app) push(cmd *cobra.Command, opts pushOptions) (err error) {
	op := telemetry.StartOperation(cmd.Context(), "push",
		telemetry.AttrDocument.String(opts.file),
		attribute.Bool("dry_run", opts.dryRun),
	)
	defer func() { op.End(err) }()
	ctx := op.Ctx

	format, err := outputFormat(opts.output, opts.jsonOutput)
	if err != nil {
		return err
	}
	rep := a.reporter(cmd, format, opts.verbose)

	// The document is read once. Validation happens before the lock or the
	// network are touched, and the same desired state is applied.
	_, desired, err := loadDesired(opts.file)
	if err != nil {
		return err
	}

	c, err := a.client()
	if err != nil {
		return err
	}

	release, err := a.acquireLock(ctx, c.Host())
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	diff, err := a.plan(ctx, c, desired)
	if err != nil {
		return err
	}
	// Structured output carries the changes in the apply report, so only
	// one document is written.
	if !diff.HasChanges || rep.Format() == report.FormatText {
		if err := rep.Diff(diff); err != nil {
			return err
		}
	}
	if !diff.HasChanges {
		return nil
	}

	result, err := a.checkPolicies(ctx, rep, diff, policy.Context{
		Document: opts.file,
		Target:   c.Host(),
		DryRun:   opts.dryRun,
	})
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %d denial(s)", ErrPolicyDenied, len(result.Denials))
	}

	if !opts.dryRun && !opts.force {
		if err := confirm(cmd, diff, c.Host()); err != nil {
			return err
		}
	}

	var progressMu sync.Mutex
	orch := engine.NewOrchestrator(c,
		engine.WithConcurrency(a.settings.Concurrency),
		engine.WithRetryPolicy(a.settings.RetryPolicy()),
		engine.WithLogger(a.logger),
		engine.WithTracer(a.telemetry.Tracer.Tracer()),
		engine.WithMetrics(a.telemetry.Metrics),
		engine.WithObserver(func(res engine.ChangeResult) {
			progressMu.Lock()
			defer progressMu.Unlock()
			rep.Progress(res)
		}),
	)

	applyReport, applyErr := orch.Apply(ctx, diff, engine.ApplyOptions{
		DryRun: opts.dryRun,
		Force:  opts.force,
	})

	op.Span.SetAttributes(
		telemetry.AttrRunID.String(applyReport.RunID),
		telemetry.AttrRunStatus.String(string(applyReport.Status)),
	)
	op.Logger.WithDocument(opts.file).WithRunID(applyReport.RunID).Info("Push finished")

	if err := rep.Summary(applyReport); err != nil {
		return err
	}

	a.recordRun(ctx, applyReport, stores.RunMeta{Document: opts.file, Target: c.Host()})

	if applyErr != nil {
		return applyErr
	}
	if applyReport.Summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrChangesFailed, applyReport.Summary.Failed, len(applyReport.Results))
	}
	return nil
}

// acquireLock takes the run lock for host. Without a redis address the lock
// is a no-op.
func (a *app) acquireLock(ctx context.Context, host string) (lock.ReleaseFunc, error) {
	var locker lock.Locker = lock.NopLocker{}
	closeRedis := func() error { return nil }

	if addr := a.settings.Lock.RedisAddr; addr != "" {
		rl, rdb, err := lock.NewRedisLocker(ctx, addr, a.settings.Lock.TTL)
		if err != nil {
			return nil, err
		}
		locker = rl
		closeRedis = rdb.Close
	}

	key := lock.Key(host)
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		_ = closeRedis()
		return nil, err
	}
	a.logger.Debug().Str("key", key).Msg("Run lock acquired")

	return func(ctx context.Context) error {
		return errors.Join(release(ctx), closeRedis())
	}, nil
}

// recordRun updates run metrics and writes the journal. Journal failures are
// logged; the push result stands.
func (a *app) recordRun(ctx context.Context, r *engine.ApplyReport, meta stores.RunMeta) {
	if !r.DryRun {
		a.telemetry.Metrics.RecordRun(string(r.Status), r.Duration())
	}
	for _, res := range r.Results {
		if res.Error != nil {
			a.telemetry.Metrics.RecordError(string(res.Error.Class), res.Error.Code)
		}
	}

	path := a.settings.Journal.Path
	if path == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	journal, err := stores.Open(ctx, path)
	if err != nil {
		a.logger.Warn().Err(err).Str("journal", path).Msg("Failed to open run journal")
		return
	}
	defer journal.Close()

	if err := journal.RecordRun(ctx, r, meta); err != nil {
		a.logger.Warn().Err(err).Str("run_id", r.RunID).Msg("Failed to record run")
		return
	}
	a.logger.Debug().Str("run_id", r.RunID).Str("journal", path).Msg("Run recorded")
}

// confirm asks the user to approve the diff. It refuses to prompt when stdin
// is not a terminal.
func confirm(cmd *cobra.Command, diff *engine.DiffResult, host string) error {
	if !isTerminal(cmd.InOrStdin()) {
		return ErrNonInteractive
	}

	var approved bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Apply %d change(s) to %s?", diff.Summary.Total(), host)).
		Description(fmt.Sprintf("%d to create, %d to update, %d to delete",
			diff.Summary.Create, diff.Summary.Update, diff.Summary.Delete)).
		Affirmative("Apply").
		Negative("Cancel").
		Value(&approved).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrNotConfirmed
	}
	if err != nil {
		return fmt.Errorf("confirmation prompt: %w", err)
	}
	if !approved {
		return ErrNotConfirmed
	}
	return nil
}
