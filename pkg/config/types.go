package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/resilience"
	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// Duration decodes YAML duration strings ("30s", "2m") or plain integers
// (seconds) into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler. The node tag decides the form:
// an integer scalar would also decode into a string, so it must be picked
// off first.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration value at line %d", value.Line)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value at line %d", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level installation configuration.
type Config struct {
	// InstallationID identifies the provisioning effort across restarts.
	// Generated when empty.
	InstallationID string `yaml:"installation_id"`

	// MaxWorkers bounds the parallel worker pool. 0 means one worker per CPU.
	MaxWorkers int `yaml:"max_workers" validate:"min=0,max=128"`

	// DryRun restricts every module to its validation stage.
	DryRun bool `yaml:"dry_run"`

	// LargeCost is the module cost at or above which the sequential
	// pipeline path is taken.
	LargeCost int `yaml:"large_cost" validate:"min=0"`

	// StatePath is the SQLite database location.
	StatePath string `yaml:"state_path" validate:"required"`

	// Retry holds the default retry policy for network operations.
	Retry RetryConfig `yaml:"retry"`

	// Breakers holds per-service circuit breaker overrides.
	Breakers map[string]BreakerConfig `yaml:"breakers" validate:"dive"`

	// Logging, Metrics and Tracing configure telemetry.
	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`

	// Modules is the ordered module list.
	Modules []ModuleConfig `yaml:"modules" validate:"required,min=1,dive"`
}

// RetryConfig mirrors the retry policy with YAML-friendly durations.
type RetryConfig struct {
	MaxRetries      int      `yaml:"max_retries" validate:"min=0,max=20"`
	InitialDelay    Duration `yaml:"initial_delay"`
	MaxDelay        Duration `yaml:"max_delay"`
	ExponentialBase float64  `yaml:"exponential_base" validate:"omitempty,gte=1"`
	Jitter          bool     `yaml:"jitter"`
}

// Policy converts the retry configuration to the resilience policy.
func (r RetryConfig) Policy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:      r.MaxRetries,
		InitialDelay:    r.InitialDelay.Std(),
		MaxDelay:        r.MaxDelay.Std(),
		ExponentialBase: r.ExponentialBase,
		Jitter:          r.Jitter,
	}
}

// BreakerConfig mirrors per-service breaker tunables with YAML-friendly
// durations.
type BreakerConfig struct {
	Threshold   int      `yaml:"threshold" validate:"omitempty,min=1"`
	OpenTimeout Duration `yaml:"open_timeout"`
}

// Breaker converts to the resilience breaker configuration.
func (b BreakerConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Threshold:   b.Threshold,
		OpenTimeout: b.OpenTimeout.Std(),
	}
}

// ModuleConfig describes one module entry in the configuration file.
type ModuleConfig struct {
	Name            string                 `yaml:"name" validate:"required"`
	Enabled         *bool                  `yaml:"enabled"`
	Priority        int                    `yaml:"priority"`
	Mandatory       bool                   `yaml:"mandatory"`
	ForceSequential bool                   `yaml:"force_sequential"`
	DependsOn       []string               `yaml:"depends_on"`
	Cost            int                    `yaml:"cost" validate:"min=0"`
	Options         map[string]interface{} `yaml:"options"`
}

// Spec converts the entry to an engine module spec. Enabled defaults to
// true when omitted.
func (m ModuleConfig) Spec() engine.ModuleSpec {
	enabled := true
	if m.Enabled != nil {
		enabled = *m.Enabled
	}
	return engine.ModuleSpec{
		Name:            m.Name,
		Priority:        m.Priority,
		DependsOn:       m.DependsOn,
		Mandatory:       m.Mandatory,
		ForceSequential: m.ForceSequential,
		Enabled:         enabled,
		Cost:            m.Cost,
		Options:         m.Options,
	}
}

// Specs converts every module entry.
func (c *Config) Specs() []engine.ModuleSpec {
	specs := make([]engine.ModuleSpec, 0, len(c.Modules))
	for _, m := range c.Modules {
		specs = append(specs, m.Spec())
	}
	return specs
}

// BreakerConfigs converts the per-service breaker overrides.
func (c *Config) BreakerConfigs() map[string]resilience.BreakerConfig {
	if len(c.Breakers) == 0 {
		return nil
	}
	out := make(map[string]resilience.BreakerConfig, len(c.Breakers))
	for name, b := range c.Breakers {
		out[name] = b.Breaker()
	}
	return out
}
