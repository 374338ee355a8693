// Package telemetry wires zerolog, OpenTelemetry and Prometheus for mailsync.
//
// The CLI builds one Telemetry from settings before any command runs and
// shuts it down on exit:
//
//	tel, err := telemetry.NewTelemetry(s.Telemetry(version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Commands wrap their work in StartOperation, which opens a span and a
// logger tagged with the operation name and trace ID. The engine emits
// apply.run, apply.phase and apply.change spans below it, and the HTTP
// client emits state.fetch.
//
// A push is a short batch job, so metrics are not scraped. Shutdown
// writes the registry to a node_exporter textfile when
// Metrics.TextfilePath is set. The dev server exposes the same registry
// on /metrics.
//
//	mailsync_changes_planned_total{resource,type}
//	mailsync_changes_applied_total{resource,type,outcome}
//	mailsync_mutation_duration_seconds{resource,type}
//	mailsync_mutation_retries_total{resource}
//	mailsync_runs_total{status}
//	mailsync_run_duration_seconds{status}
//	mailsync_errors_total{class,code}
//	mailsync_api_requests_total{method,code}
package telemetry
