// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the provisioning engine.
//
// The Logger wraps zerolog with domain fields (installation_id, module,
// batch, service) so every component logs with consistent context. Metrics
// cover module outcomes, retry attempts, circuit breaker transitions,
// rollback actions and checkpoint writes. The Tracer emits spans around
// batches and module lifecycles, exported to stdout or an OTLP collector.
package telemetry
