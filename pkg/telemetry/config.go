package telemetry

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects where mailsync sends logs, spans and metrics.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn or error.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path. Empty means stderr.
	Output string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is none, stdout or otlp.
	Exporter string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// SamplingRate is the fraction of root spans kept, 0 to 1.
	SamplingRate float64

	// Insecure dials the collector without TLS.
	Insecure bool
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string

	// TextfilePath, when set, is where WriteTextfile writes the registry
	// in the node_exporter textfile format.
	TextfilePath string

	// DurationBuckets are the histogram buckets in seconds. Empty means
	// prometheus.DefBuckets.
	DurationBuckets []float64
}

// DefaultConfig returns the configuration the CLI starts from.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mailsync",
		ServiceVersion: "dev",
		Logging:        LoggingConfig{Level: "info", Format: "console", Output: "stderr"},
		Tracing:        TracingConfig{Exporter: "none", SamplingRate: 1, Insecure: true},
		Metrics: MetricsConfig{
			Enabled:         true,
			Namespace:       "mailsync",
			DurationBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if lvl, err := zerolog.ParseLevel(c.Logging.Level); err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q (must be console or json)", c.Logging.Format)
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("otlp trace exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %q", c.Tracing.Exporter)
	}

	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got %g", r)
	}
	return nil
}
