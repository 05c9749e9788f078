package telemetry

import "time"

// LoggingConfig configures the zerolog-based logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level" yaml:"level"`

	// Format selects the output format: "json" or "console".
	Format string `json:"format" yaml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `json:"output" yaml:"output"`

	// EnableCaller adds file:line caller information to each entry.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`
}

// DefaultLoggingConfig returns the logging defaults used by the CLI.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	// Enabled turns metric collection on. When false all recording calls
	// are no-ops.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Namespace is the metric namespace prefix.
	Namespace string `json:"namespace" yaml:"namespace"`

	// ListenAddr is the optional address for the scrape endpoint
	// (e.g. ":9090"). Empty disables the HTTP listener.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "workstation",
	}
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled turns span export on. When false a no-op provider is used.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter selects the span exporter: "stdout", "otlp" or "none".
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `json:"insecure" yaml:"insecure"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	// ExportTimeout bounds a single batch export.
	ExportTimeout time.Duration `json:"export_timeout" yaml:"export_timeout"`
}

// DefaultTracingConfig returns the tracing defaults (disabled).
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:       false,
		Exporter:      "stdout",
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
}
