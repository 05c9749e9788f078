// Package config loads and validates the YAML installation configuration:
// engine tunables, retry and circuit breaker settings, telemetry options
// and the module list. Validation failures are reported before anything
// touches the host.
package config
