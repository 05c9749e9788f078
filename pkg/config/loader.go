package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Loader parses and validates configuration files.
type Loader struct {
	validator *validator.Validate

	// knownModules restricts module names to the registered set. Nil
	// disables the check (used by tests).
	knownModules map[string]bool
}

// NewLoader creates a loader. knownModules lists the registered module
// names; entries referencing anything else are rejected.
func NewLoader(knownModules []string) *Loader {
	var known map[string]bool
	if knownModules != nil {
		known = make(map[string]bool, len(knownModules))
		for _, name := range knownModules {
			known[name] = true
		}
	}
	return &Loader{
		validator:    validator.New(),
		knownModules: known,
	}
}

// Load reads, decodes and validates a configuration file, filling defaults.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse decodes and validates configuration bytes, filling defaults.
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	l.applyDefaults(cfg)

	if err := l.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := l.checkModules(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-value fields before validation.
func (l *Loader) applyDefaults(cfg *Config) {
	if cfg.InstallationID == "" {
		cfg.InstallationID = uuid.New().String()
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.LargeCost == 0 {
		cfg.LargeCost = 80
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = Duration(1 * time.Second)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(30 * time.Second)
	}
	if cfg.Retry.ExponentialBase == 0 {
		cfg.Retry.ExponentialBase = 2.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = telemetry.DefaultLoggingConfig()
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = telemetry.DefaultMetricsConfig().Namespace
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = telemetry.DefaultTracingConfig().Exporter
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Tracing.ExportTimeout == 0 {
		cfg.Tracing.ExportTimeout = 30 * time.Second
	}
}

// checkModules rejects duplicate names, unknown module names and
// dependencies on entries that are not in the file at all. Dependency
// cycles are the scheduler's concern, not the loader's.
func (l *Loader) checkModules(cfg *Config) error {
	names := make(map[string]bool, len(cfg.Modules))
	for _, m := range cfg.Modules {
		if names[m.Name] {
			return fmt.Errorf("duplicate module entry %q", m.Name)
		}
		names[m.Name] = true

		if l.knownModules != nil && !l.knownModules[m.Name] {
			return fmt.Errorf("unknown module %q: not registered", m.Name)
		}
	}
	for _, m := range cfg.Modules {
		for _, dep := range m.DependsOn {
			if !names[dep] {
				return fmt.Errorf("module %q depends on %q, which is not configured", m.Name, dep)
			}
		}
	}
	return nil
}
