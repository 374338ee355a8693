package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultConcurrency is the number of mutations run at once within a phase.
const DefaultConcurrency = 4

// Orchestrator applies a DiffResult to the remote in six barrier-separated
// phases: upserts of endpoints, domains and addresses, then deletes of
// addresses, domains and endpoints. Changes within a phase touch disjoint
// keys and run on a bounded worker pool.
//
// A failed change never stops its siblings or later phases. The exception is
// an authentication failure, after which no further mutation is attempted.
// There is no rollback; re-running a diff against the remote converges.
type Orchestrator struct {
	client      StateClient
	concurrency int
	retry       RetryPolicy
	logger      zerolog.Logger
	tracer      trace.Tracer
	metrics     MetricsRecorder
	observer    Observer
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the per-phase worker count. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.concurrency = n
	}
}

// WithRetryPolicy sets the retry policy for retryable mutation errors.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer used for run, phase and change spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics records one observation per change outcome.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithObserver registers a callback for each final ChangeResult.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// NewOrchestrator creates an orchestrator mutating the remote through client.
func NewOrchestrator(client StateClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:      client,
		concurrency: DefaultConcurrency,
		retry:       DefaultRetryPolicy(),
		logger:      zerolog.Nop(),
		tracer:      noop.NewTracerProvider().Tracer("mailsync/engine"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the mutable state of a single Apply call.
type run struct {
	report *ApplyReport

	mu      sync.Mutex
	authErr error
}

func (r *run) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.authErr == nil {
		r.authErr = err
	}
}

func (r *run) aborted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authErr
}

// Apply executes every change of diff and returns a report holding one
// result per change, in diff order.
//
// The returned error is non-nil only when the run stopped early: it is the
// authentication error that aborted the run, or ctx.Err() after
// cancellation. Changes that were never started are reported as skipped.
// Per-change failures are reported in the ApplyReport, not as an error.
func (o *Orchestrator) Apply(ctx context.Context, diff *DiffResult, opts ApplyOptions) (*ApplyReport, error) {
	if diff == nil {
		diff = &DiffResult{}
	}

	report := &ApplyReport{
		RunID:     uuid.New().String(),
		DryRun:    opts.DryRun,
		StartedAt: o.now(),
		Results:   make([]ChangeResult, len(diff.Changes)),
	}
	for i, c := range diff.Changes {
		report.Results[i].Change = c
	}

	logger := o.logger.With().Str("run_id", report.RunID).Logger()

	if opts.DryRun {
		for i := range report.Results {
			o.skip(report, i, "dry run", false)
		}
		o.finish(report, false)
		logger.Info().Int("changes", len(diff.Changes)).Msg("dry run: no changes applied")
		return report, nil
	}

	ctx, span := o.tracer.Start(ctx, "apply.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("changes", len(diff.Changes)),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	logger.Info().Int("changes", len(diff.Changes)).Msg("apply started")

	byPhase := make(map[Phase][]int)
	for i, c := range diff.Changes {
		p := PhaseOf(c)
		if p == 0 {
			o.skip(report, i, "nothing to apply", true)
			continue
		}
		byPhase[p] = append(byPhase[p], i)
	}

	state := &run{report: report}
	for _, phase := range Phases {
		indices := byPhase[phase]
		if len(indices) == 0 {
			continue
		}
		if ctx.Err() != nil || state.aborted() != nil {
			break
		}
		o.runPhase(ctx, logger, state, phase, indices)
	}

	authErr := state.aborted()
	for i := range report.Results {
		if report.Results[i].Outcome != "" {
			continue
		}
		switch {
		case authErr != nil:
			o.skip(report, i, "aborted: authentication failed", true)
		default:
			o.skip(report, i, "cancelled", true)
		}
	}

	cancelled := authErr == nil && ctx.Err() != nil
	o.finish(report, cancelled)

	span.SetAttributes(
		attribute.String("status", string(report.Status)),
		attribute.Int("applied", report.Summary.Applied),
		attribute.Int("failed", report.Summary.Failed),
		attribute.Int("skipped", report.Summary.Skipped),
	)

	logger.Info().
		Str("status", string(report.Status)).
		Int("applied", report.Summary.Applied).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Dur("duration", report.Duration()).
		Msg("apply finished")

	switch {
	case authErr != nil:
		span.SetStatus(codes.Error, authErr.Error())
		return report, authErr
	case cancelled:
		span.SetStatus(codes.Error, "cancelled")
		return report, ctx.Err()
	}
	return report, nil
}

// runPhase applies the changes at indices with a bounded worker pool and
// returns when all of them, including retries, have resolved.
func (o *Orchestrator) runPhase(
	ctx context.Context,
	logger zerolog.Logger,
	state *run,
	phase Phase,
	indices []int,
) {
	ctx, span := o.tracer.Start(ctx, "apply.phase", trace.WithAttributes(
		attribute.String("phase", phase.String()),
		attribute.Int("changes", len(indices)),
	))
	defer span.End()

	logger.Debug().Str("phase", phase.String()).Int("changes", len(indices)).Msg("phase started")

	workerCount := o.concurrency
	if len(indices) < workerCount {
		workerCount = len(indices)
	}

	workQueue := make(chan int, len(indices))
	for _, i := range indices {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				// Unstarted changes are left unresolved and skipped by Apply.
				if ctx.Err() != nil || state.aborted() != nil {
					continue
				}
				o.applyChange(ctx, logger, state, phase, i)
			}
		}()
	}
	wg.Wait()
}

// applyChange runs one mutation with retries and records its result.
// Each worker writes only the result slot of the index it dequeued.
func (o *Orchestrator) applyChange(
	ctx context.Context,
	logger zerolog.Logger,
	state *run,
	phase Phase,
	i int,
) {
	res := &state.report.Results[i]
	change := res.Change

	ctx, span := o.tracer.Start(ctx, "apply.change", trace.WithAttributes(
		attribute.String("resource", string(change.Resource)),
		attribute.String("key", change.Key),
		attribute.String("change", string(change.Type)),
	))
	defer span.End()

	log := logger.With().
		Str("phase", phase.String()).
		Str("resource", string(change.Resource)).
		Str("key", change.Key).
		Str("change", string(change.Type)).
		Logger()

	start := o.now()
	attempts, err := o.retry.Do(ctx, func(ctx context.Context) error {
		return o.mutate(ctx, change)
	}, func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying change")
	})
	res.Attempts = attempts
	res.Duration = o.now().Sub(start)

	switch {
	case err == nil:
		res.Outcome = OutcomeApplied
		log.Info().Int("attempt", attempts).Msg("change applied")
	case attempts == 0:
		// Cancelled before the first attempt; Apply marks it skipped.
		return
	default:
		res.Outcome = OutcomeFailed
		res.Error = classifyError(change, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsAuth(err) {
			state.abort(err)
			log.Error().Err(err).Msg("authentication failed, aborting run")
		} else {
			log.Error().Err(err).Int("attempt", attempts).Msg("change failed")
		}
	}

	o.record(*res)
}

// mutate issues the State Client call for one change.
func (o *Orchestrator) mutate(ctx context.Context, c Change) error {
	switch c.Resource {
	case ResourceEndpoint:
		switch c.Type {
		case ChangeCreate:
			if c.Desired == nil || c.Desired.Endpoint == nil {
				return missingSnapshot(c)
			}
			_, err := o.client.CreateEndpoint(ctx, c.Key, *c.Desired.Endpoint)
			return err
		case ChangeUpdate:
			if c.Desired == nil || c.Desired.Endpoint == nil {
				return missingSnapshot(c)
			}
			return o.client.UpdateEndpoint(ctx, c.RemoteID(), c.Key, *c.Desired.Endpoint)
		case ChangeDelete:
			return o.client.DeleteEndpoint(ctx, c.RemoteID())
		}
	case ResourceDomain:
		switch c.Type {
		case ChangeCreate:
			if c.Desired == nil || c.Desired.Binding == nil {
				return missingSnapshot(c)
			}
			return o.client.CreateDomainCatchAll(ctx, c.Key, *c.Desired.Binding)
		case ChangeUpdate:
			if c.Desired == nil || c.Desired.Binding == nil {
				return missingSnapshot(c)
			}
			return o.client.UpdateDomainCatchAll(ctx, c.Key, *c.Desired.Binding)
		case ChangeDelete:
			return o.client.DeleteDomainCatchAll(ctx, c.Key)
		}
	case ResourceEmailAddress:
		switch c.Type {
		case ChangeCreate:
			if c.Desired == nil || c.Desired.Binding == nil {
				return missingSnapshot(c)
			}
			_, err := o.client.CreateEmailAddress(ctx, c.Key, *c.Desired.Binding)
			return err
		case ChangeUpdate:
			if c.Desired == nil || c.Desired.Binding == nil {
				return missingSnapshot(c)
			}
			return o.client.UpdateEmailAddress(ctx, c.RemoteID(), *c.Desired.Binding)
		case ChangeDelete:
			return o.client.DeleteEmailAddress(ctx, c.RemoteID())
		}
	}
	return NewPermanentError(fmt.Sprintf("unsupported change %s on %s", c.Type, c.Resource), nil).
		WithCode(ErrCodeInternal).
		WithResource(c.ID())
}

func missingSnapshot(c Change) error {
	return NewPermanentError("change has no desired state", nil).
		WithCode(ErrCodeInternal).
		WithResource(c.ID())
}

// skip resolves result i as skipped and notifies observers.
func (o *Orchestrator) skip(report *ApplyReport, i int, reason string, record bool) {
	res := &report.Results[i]
	res.Outcome = OutcomeSkipped
	res.SkipReason = reason
	if record {
		o.record(*res)
	} else if o.observer != nil {
		o.observer(*res)
	}
}

func (o *Orchestrator) record(res ChangeResult) {
	if o.metrics != nil {
		o.metrics.RecordMutation(string(res.Change.Resource), string(res.Change.Type),
			string(res.Outcome), res.Attempts, res.Duration)
	}
	if o.observer != nil {
		o.observer(res)
	}
}

// finish computes the summary and final status of report.
func (o *Orchestrator) finish(report *ApplyReport, cancelled bool) {
	var summary ApplySummary
	for _, res := range report.Results {
		switch res.Outcome {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}
	report.Summary = summary
	report.CompletedAt = o.now()

	switch {
	case report.DryRun:
		report.Status = RunStatusDryRun
	case cancelled:
		report.Status = RunStatusCancelled
	case summary.Failed > 0 && summary.Applied > 0:
		report.Status = RunStatusPartial
	case summary.Failed > 0:
		report.Status = RunStatusFailed
	default:
		report.Status = RunStatusSucceeded
	}
}

// classifyError converts a mutation error to an EngineError carrying the
// change identity. Unclassified errors are permanent.
func classifyError(c Change, err error) *EngineError {
	if err == nil {
		return nil
	}

	var classified EngineError
	var engineErr *EngineError
	switch {
	case errors.As(err, &engineErr):
		classified = *engineErr
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		classified = *NewTransientError("mutation interrupted", err).WithCode(ErrCodeCancelled)
	default:
		classified = *NewPermanentError("mutation failed", err).WithCode(ErrCodeInternal)
	}
	if classified.Resource == "" {
		classified.Resource = c.ID()
	}
	if classified.Operation == "" {
		classified.Operation = string(c.Type)
	}
	return &classified
}
