package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the provisioning engine.
type Metrics struct {
	config MetricsConfig

	// Installation metrics
	installsStarted   *prometheus.CounterVec
	installsCompleted *prometheus.CounterVec
	installDuration   *prometheus.HistogramVec

	// Module metrics
	modulesExecuted *prometheus.CounterVec
	moduleDuration  *prometheus.HistogramVec

	// Resilience metrics
	retryAttempts      *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec

	// Rollback metrics
	rollbackActions *prometheus.CounterVec

	// Checkpoint metrics
	checkpointsWritten prometheus.Counter

	// System metrics
	activeModules prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		installsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_started_total",
				Help:      "Total number of installation runs started",
			},
			[]string{"resumed"},
		),
		installsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_completed_total",
				Help:      "Total number of installation runs completed",
			},
			[]string{"status"},
		),
		installDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "install_duration_seconds",
				Help:      "Duration of installation runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),

		modulesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "modules_executed_total",
				Help:      "Total number of modules executed by terminal status",
			},
			[]string{"module", "status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_duration_seconds",
				Help:      "Duration of module lifecycle execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module", "path"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"service", "state"},
		),
		breakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected by an open circuit breaker",
			},
			[]string{"service"},
		),

		rollbackActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_actions_total",
				Help:      "Total number of rollback actions replayed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		checkpointsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_written_total",
				Help:      "Total number of checkpoints written",
			},
		),

		activeModules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_modules",
				Help:      "Number of modules currently executing",
			},
		),
	}

	collectors := []prometheus.Collector{
		m.installsStarted,
		m.installsCompleted,
		m.installDuration,
		m.modulesExecuted,
		m.moduleDuration,
		m.retryAttempts,
		m.breakerTransitions,
		m.breakerRejections,
		m.rollbackActions,
		m.checkpointsWritten,
		m.activeModules,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Serve starts the optional metrics scrape endpoint. It returns immediately;
// the listener runs until Shutdown is called.
func (m *Metrics) Serve() error {
	if !m.config.Enabled || m.config.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown stops the metrics endpoint if it is running.
func (m *Metrics) Shutdown() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

// RecordInstallStarted records the start of an installation run.
func (m *Metrics) RecordInstallStarted(resumed bool) {
	if m == nil || m.installsStarted == nil {
		return
	}
	m.installsStarted.WithLabelValues(fmt.Sprintf("%t", resumed)).Inc()
}

// RecordInstallCompleted records a finished installation run.
func (m *Metrics) RecordInstallCompleted(status string, duration time.Duration) {
	if m == nil || m.installsCompleted == nil {
		return
	}
	m.installsCompleted.WithLabelValues(status).Inc()
	m.installDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordModuleExecuted records a module reaching a terminal status.
func (m *Metrics) RecordModuleExecuted(module, status, path string, duration time.Duration) {
	if m == nil || m.modulesExecuted == nil {
		return
	}
	m.modulesExecuted.WithLabelValues(module, status).Inc()
	m.moduleDuration.WithLabelValues(module, path).Observe(duration.Seconds())
}

// RecordRetryAttempt records one attempt inside the retry executor.
func (m *Metrics) RecordRetryAttempt(service, outcome string) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(service, outcome).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(service, state string) {
	if m == nil || m.breakerTransitions == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(service, state).Inc()
}

// RecordBreakerRejection records a call rejected by an open breaker.
func (m *Metrics) RecordBreakerRejection(service string) {
	if m == nil || m.breakerRejections == nil {
		return
	}
	m.breakerRejections.WithLabelValues(service).Inc()
}

// RecordRollbackAction records one replayed compensating action.
func (m *Metrics) RecordRollbackAction(kind, outcome string) {
	if m == nil || m.rollbackActions == nil {
		return
	}
	m.rollbackActions.WithLabelValues(kind, outcome).Inc()
}

// RecordCheckpointWritten records one checkpoint write.
func (m *Metrics) RecordCheckpointWritten() {
	if m == nil || m.checkpointsWritten == nil {
		return
	}
	m.checkpointsWritten.Inc()
}

// ModuleStarted increments the active module gauge.
func (m *Metrics) ModuleStarted() {
	if m == nil || m.activeModules == nil {
		return
	}
	m.activeModules.Inc()
}

// ModuleFinished decrements the active module gauge.
func (m *Metrics) ModuleFinished() {
	if m == nil || m.activeModules == nil {
		return
	}
	m.activeModules.Dec()
}
