package telemetry_test

import (
	"context"
	"os"
	"time"

	"github.com/mailsync/mailsync/pkg/telemetry"
)

// Example_structuredLogging demonstrates structured logging with run fields.
func Example_structuredLogging() {
	logger := telemetry.NewWriterLogger(os.Stdout, telemetry.LoggingConfig{
		Level:  "debug",
		Format: "json",
	})

	logger.NewComponentLogger("push").WithRunID("run-123").Info("apply finished")

	// Output can vary, so we don't specify output for this example
}

// Example_metricsCollection demonstrates recording a run. Without a
// textfile path WriteTextfile is a no-op.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		panic(err)
	}

	metrics.RecordPlanned("endpoint", "create")
	metrics.RecordMutation("endpoint", "create", "applied", 2, 120*time.Millisecond)
	metrics.RecordRun("succeeded", time.Second)

	if err := metrics.WriteTextfile(); err != nil {
		panic(err)
	}
}

// Example_instrumentedOperation demonstrates a traced operation.
func Example_instrumentedOperation() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stdout"
	cfg.Logging.Format = "json"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	op := telemetry.StartOperation(tel.WithContext(context.Background()), "state.fetch",
		telemetry.AttrDocument.String("mail.yaml"))
	op.Logger.Debug("fetching remote state")
	op.End(nil)
}
