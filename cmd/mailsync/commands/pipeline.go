package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/mailsync/mailsync/pkg/client"
	"github.com/mailsync/mailsync/pkg/config"
	"github.com/mailsync/mailsync/pkg/engine"
	"github.com/mailsync/mailsync/pkg/policy"
	"github.com/mailsync/mailsync/pkg/report"
)

// loadDesired reads a document and resolves it to canonical desired state.
// No network access happens here.
func loadDesired(path string) (*config.Document, *engine.DesiredState, error) {
	doc, err := config.LoadDocument(path)
	if err != nil {
		return nil, nil, err
	}
	desired, err := doc.Resolve()
	if err != nil {
		return nil, nil, err
	}
	return doc, desired, nil
}

// plan fetches remote state and diffs desired against it.
func (a *app) plan(ctx context.Context, c *client.Client, desired *engine.DesiredState) (*engine.DiffResult, error) {
	current, err := c.FetchCurrentState(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching remote state: %w", err)
	}

	diff := engine.Diff(desired, current)
	for _, change := range diff.Changes {
		a.telemetry.Metrics.RecordPlanned(string(change.Resource), string(change.Type))
	}

	a.logger.Debug().
		Int("create", diff.Summary.Create).
		Int("update", diff.Summary.Update).
		Int("delete", diff.Summary.Delete).
		Msg("Diff computed")
	return diff, nil
}

// checkPolicies evaluates the built-in policies and those under the
// configured paths, and renders their messages.
func (a *app) checkPolicies(ctx context.Context, rep *report.Reporter, diff *engine.DiffResult, pctx policy.Context) (*policy.Result, error) {
	pe, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if err := pe.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
		return nil, err
	}

	pctx.Timestamp = time.Now().UTC()
	result, err := pe.Evaluate(ctx, diff, pctx)
	if err != nil {
		return nil, err
	}

	rep.Policy(result.WarnMessages(), result.DenyMessages())
	return result, nil
}
