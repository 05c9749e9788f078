package commands

import (
	"context"
	"fmt"

	"github.com/yunaamelia/debian-vps-workstation/pkg/config"
	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/modules"
	"github.com/yunaamelia/debian-vps-workstation/pkg/resilience"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
	"github.com/yunaamelia/debian-vps-workstation/pkg/stores"
	"github.com/yunaamelia/debian-vps-workstation/pkg/system"
	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// app bundles everything a command needs after configuration is loaded.
type app struct {
	cfg      *config.Config
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	registry *modules.Registry

	// store is nil until openStore is called; plan/validate never touch it.
	store *stores.SQLiteStore
}

// loadApp loads the configuration and sets up telemetry. The store is not
// opened; commands that need durable state call openStore.
func loadApp() (*app, error) {
	registry := modules.Builtin()

	loader := config.NewLoader(registry.Names())
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	log, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Tracing, "workstation", "")
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		tracer:   tracer,
		registry: registry,
	}, nil
}

// openStore opens and migrates the SQLite state database.
func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.StatePath})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return err
	}
	a.store = store
	return nil
}

// close releases every resource the app acquired.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.metrics.Shutdown()
	_ = a.tracer.Shutdown(ctx)
}

// buildRunContext wires the shared handles of one run. The returned context
// carries the host managers, the ledger over the opened store and the
// breaker-gated retry executor.
func (a *app) buildRunContext(ctx context.Context, dryRun, resume bool, workers int) (*engine.RunContext, error) {
	if a.store == nil {
		return nil, fmt.Errorf("state store not opened")
	}

	runner := system.NewExecRunner()
	apt := system.NewAptManager(runner)
	services := system.NewServiceManager(runner)
	users := system.NewUserManager(runner)
	undoer := system.NewHostUndoer(apt, services, users, runner)

	ledger, err := rollback.NewLedger(ctx, a.cfg.InstallationID, a.store, undoer, a.log, a.metrics)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakerSet(
		resilience.DefaultBreakerConfig(),
		a.cfg.BreakerConfigs(),
		func(service string, state resilience.BreakerState) {
			a.metrics.RecordBreakerTransition(service, string(state))
			a.log.WithService(service).Infof("circuit breaker now %s", state)
		},
	)
	retry := resilience.NewExecutor(breakers, a.cfg.Retry.Policy(), a.log, a.metrics)

	if workers <= 0 {
		workers = a.cfg.MaxWorkers
	}

	return &engine.RunContext{
		InstallationID: a.cfg.InstallationID,
		MaxWorkers:     workers,
		DryRun:         dryRun,
		Resume:         resume,
		LargeCost:      a.cfg.LargeCost,
		Ledger:         ledger,
		Retry:          retry,
		Checkpoints:    a.store,
		Audit:          a.store,
		Apt:            apt,
		Services:       services,
		Users:          users,
		Runner:         runner,
		Log:            a.log.WithInstallationID(a.cfg.InstallationID),
		Metrics:        a.metrics,
		Tracer:         a.tracer,
	}, nil
}
