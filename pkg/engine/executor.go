package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// HybridExecutor runs scheduled batches with two execution paths: a bounded
// worker pool for ordinary modules, and dedicated per-module goroutines for
// forced-sequential or high-cost modules. The batch boundary is the only
// synchronization point between modules.
type HybridExecutor struct {
	rc  *RunContext
	log *telemetry.Logger
}

// NewHybridExecutor creates an executor bound to a run context.
func NewHybridExecutor(rc *RunContext) *HybridExecutor {
	return &HybridExecutor{
		rc:  rc,
		log: rc.Log.WithInstallationID(rc.InstallationID),
	}
}

// Run executes the batches in order and returns the run report. The report
// is always non-nil; the error mirrors report.Err for convenience. Specs
// must cover every batch member, and modules must provide an implementation
// for every spec the batches reference.
func (e *HybridExecutor) Run(ctx context.Context, specs []ModuleSpec, batches []Batch, modules map[string]Module) (*RunReport, error) {
	rc := e.rc
	specByName := make(map[string]ModuleSpec, len(specs))
	for _, spec := range specs {
		specByName[spec.Name] = spec
	}

	report := &RunReport{
		InstallationID: rc.InstallationID,
		StartedAt:      time.Now(),
		Runs:           make(map[string]*ModuleRun),
		Skipped:        make(map[string]string),
	}
	for _, batch := range batches {
		for _, name := range batch.Members {
			if _, ok := modules[name]; !ok {
				report.Status = RunFailed
				report.Err = fmt.Errorf("no implementation registered for module %q", name)
				report.CompletedAt = time.Now()
				return report, report.Err
			}
			report.Runs[name] = &ModuleRun{Module: name, Status: StatusPending}
		}
	}

	e.audit(ctx, "run_started", fmt.Sprintf("%d batches, %d modules", len(batches), len(report.Runs)))
	rc.Metrics.RecordInstallStarted(rc.Resume)

	startIndex := 0
	if rc.Resume && !rc.DryRun && rc.Checkpoints != nil {
		idx, err := e.applyCheckpoint(ctx, report)
		if err != nil {
			report.Status = RunFailed
			report.Err = err
			report.CompletedAt = time.Now()
			return report, report.Err
		}
		startIndex = idx
	}

	for _, batch := range batches {
		if batch.Index < startIndex {
			continue
		}
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, report, RunCancelled, false, err)
		}

		e.runBatch(ctx, batch, specByName, modules, report)

		// Cancellation wins over a mandatory failure: a module aborted
		// mid-batch by the dying context must not be reported as a fatal
		// run failure.
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, report, RunCancelled, false, err)
		}
		if fatal := e.mandatoryFailure(batch, specByName, report); fatal != nil {
			return e.abort(ctx, report, RunFailed, true, fatal)
		}

		if !rc.DryRun && rc.Checkpoints != nil {
			if err := e.saveCheckpoint(ctx, batch.Index, report); err != nil {
				// Progress tracking is best effort once the batch itself
				// has landed; the run continues and resume falls back to
				// the previous checkpoint.
				e.log.WithError(err).WithBatch(batch.Index).Warn("failed to write checkpoint")
			}
		}
	}

	report.CompletedAt = time.Now()
	report.Status = RunSucceeded
	for _, run := range report.Runs {
		if run.Status != StatusSucceeded {
			report.Status = RunPartial
			break
		}
	}
	rc.Metrics.RecordInstallCompleted(string(report.Status), time.Since(report.StartedAt))
	e.audit(ctx, "run_finished", string(report.Status))
	e.log.Infof("run finished with status %s", report.Status)
	return report, nil
}

// runBatch resolves one batch to fully terminal. Members whose dependencies
// did not succeed are skipped up front; the rest are routed to the pipeline
// or parallel path and joined at the barrier.
func (e *HybridExecutor) runBatch(ctx context.Context, batch Batch, specs map[string]ModuleSpec, modules map[string]Module, report *RunReport) {
	rc := e.rc
	log := e.log.WithBatch(batch.Index)

	var span trace.Span
	if rc.Tracer != nil {
		ctx, span = rc.Tracer.StartBatch(ctx, rc.InstallationID, batch.Index)
		defer span.End()
	}

	var runnable []string
	for _, name := range batch.Members {
		if dep, ok := unmetDependency(specs[name], report); ok {
			run := report.Runs[name]
			run.Status = StatusSkipped
			run.Err = fmt.Errorf("dependency %q did not succeed", dep)
			report.Skipped[name] = dep
			log.WithModule(name).Warnf("skipping module, dependency %s did not succeed", dep)
			rc.Metrics.RecordModuleExecuted(name, string(StatusSkipped), "", 0)
			continue
		}
		runnable = append(runnable, name)
	}
	if len(runnable) == 0 {
		return
	}

	var pooled []string
	var wg sync.WaitGroup
	for _, name := range runnable {
		spec := specs[name]
		if spec.ForceSequential || (rc.LargeCost > 0 && spec.Cost >= rc.LargeCost) {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				e.runModule(ctx, modules[name], PathPipeline, report.Runs[name])
			}(name)
		} else {
			pooled = append(pooled, name)
		}
	}

	if len(pooled) > 0 {
		workers := rc.MaxWorkers
		if workers <= 0 {
			workers = 1
		}
		if workers > len(pooled) {
			workers = len(pooled)
		}
		queue := make(chan string, len(pooled))
		for _, name := range pooled {
			queue <- name
		}
		close(queue)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for name := range queue {
					e.runModule(ctx, modules[name], PathParallel, report.Runs[name])
				}
			}()
		}
	}

	wg.Wait()
}

// runModule drives one module lifecycle and settles its run record. A
// configure or verify failure replays the module's own ledger entries
// before the record goes terminal, so partial effects never outlive the
// batch.
func (e *HybridExecutor) runModule(ctx context.Context, mod Module, path ExecutionPath, run *ModuleRun) {
	rc := e.rc
	name := mod.Name()
	log := e.log.WithModule(name)

	var span trace.Span
	if rc.Tracer != nil {
		var sctx context.Context
		sctx, span = rc.Tracer.StartModule(ctx, name, string(path))
		ctx = sctx
	}

	run.Status = StatusRunning
	run.Path = path
	run.StartedAt = time.Now()
	rc.Metrics.ModuleStarted()
	defer rc.Metrics.ModuleFinished()

	err := runLifecycle(ctx, mod, rc)
	run.EndedAt = time.Now()

	if err == nil {
		run.Status = StatusSucceeded
		log.Infof("module succeeded in %s", run.Duration())
	} else {
		run.Status = StatusFailed
		run.Err = err
		log.WithError(err).Error("module failed")
		if !rc.DryRun && needsRollback(err) {
			run.RollbackErrs = e.rollbackModule(ctx, mod, name)
		}
	}

	rc.Metrics.RecordModuleExecuted(name, string(run.Status), string(path), run.Duration())
	if span != nil {
		telemetry.EndSpan(span, err)
	}
}

// rollbackModule undoes one failed module, preferring its own Rollback
// override over ledger replay. All replay failures are surfaced; none stops
// the others.
func (e *HybridExecutor) rollbackModule(ctx context.Context, mod Module, name string) []error {
	// Rollback still runs when the failure was a cancellation, so use a
	// fresh context detached from the run's.
	undoCtx := context.WithoutCancel(ctx)

	if rb, ok := mod.(Rollbacker); ok {
		if err := rb.Rollback(undoCtx, e.rc); err != nil {
			return []error{err}
		}
		// The override compensated for everything the module recorded, so
		// retire its ledger entries or a later whole-run replay would undo
		// the same work a second time.
		if err := e.rc.Ledger.Discard(undoCtx, name); err != nil {
			return []error{err}
		}
		return nil
	}
	return e.rc.Ledger.Undo(undoCtx, name)
}

// unmetDependency returns the first dependency of spec that is not in the
// Succeeded state. Skipped and failed dependencies both propagate the skip.
func unmetDependency(spec ModuleSpec, report *RunReport) (string, bool) {
	for _, dep := range spec.DependsOn {
		run, ok := report.Runs[dep]
		if !ok || run.Status != StatusSucceeded {
			return dep, true
		}
	}
	return "", false
}

// mandatoryFailure returns the abort cause when a mandatory member of the
// batch failed, or nil.
func (e *HybridExecutor) mandatoryFailure(batch Batch, specs map[string]ModuleSpec, report *RunReport) error {
	for _, name := range batch.Members {
		run := report.Runs[name]
		if run.Status == StatusFailed && specs[name].Mandatory {
			return fmt.Errorf("mandatory module %q failed: %w", name, run.Err)
		}
	}
	return nil
}

// abort finalizes the report on a fatal condition. Everything recorded so
// far is replayed in reverse and previously succeeded modules are marked
// rolled back, leaving the host as close to its initial state as the
// compensating actions allow.
func (e *HybridExecutor) abort(ctx context.Context, report *RunReport, status RunStatus, fatal bool, cause error) (*RunReport, error) {
	rc := e.rc
	report.Status = status
	report.Fatal = fatal
	report.Err = cause
	e.log.WithError(cause).Error("aborting run")

	if !rc.DryRun {
		undoCtx := context.WithoutCancel(ctx)
		e.audit(undoCtx, "rollback_started", cause.Error())
		if errs := rc.Ledger.UndoAll(undoCtx); len(errs) > 0 {
			report.RollbackErrors = append(report.RollbackErrors, errs...)
			e.log.WithError(errors.Join(errs...)).Error("rollback left unrecovered actions")
		}
		for _, run := range report.Runs {
			if run.Status == StatusSucceeded {
				run.Status = StatusRolledBack
			}
		}
		e.audit(undoCtx, "rollback_finished", fmt.Sprintf("%d unrecovered actions", len(report.RollbackErrors)))
	}

	report.CompletedAt = time.Now()
	rc.Metrics.RecordInstallCompleted(string(status), time.Since(report.StartedAt))
	e.audit(context.WithoutCancel(ctx), "run_finished", string(status))
	return report, cause
}

// applyCheckpoint loads the latest checkpoint and pre-marks the modules it
// covers, returning the first batch index left to run.
func (e *HybridExecutor) applyCheckpoint(ctx context.Context, report *RunReport) (int, error) {
	cp, err := e.rc.Checkpoints.LatestCheckpoint(ctx, e.rc.InstallationID)
	if err != nil {
		return 0, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp == nil {
		return 0, nil
	}
	completed := make(map[string]bool, len(cp.CompletedModules))
	for _, name := range cp.CompletedModules {
		completed[name] = true
	}
	for name, run := range report.Runs {
		if completed[name] {
			run.Status = StatusSucceeded
		}
	}
	e.log.Infof("resuming after batch %d (%d modules already completed)", cp.CompletedBatchIndex, len(cp.CompletedModules))
	return cp.CompletedBatchIndex + 1, nil
}

// saveCheckpoint records the batch as fully resolved together with every
// module succeeded so far.
func (e *HybridExecutor) saveCheckpoint(ctx context.Context, batchIndex int, report *RunReport) error {
	var completed []string
	for name, run := range report.Runs {
		if run.Status == StatusSucceeded {
			completed = append(completed, name)
		}
	}
	sort.Strings(completed)

	var ledgerRef int64
	if e.rc.Ledger != nil {
		ledgerRef = e.rc.Ledger.LastSequence()
	}
	cp := &Checkpoint{
		InstallationID:      e.rc.InstallationID,
		Timestamp:           time.Now(),
		CompletedBatchIndex: batchIndex,
		CompletedModules:    completed,
		LedgerSnapshotRef:   ledgerRef,
	}
	if err := e.rc.Checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	e.rc.Metrics.RecordCheckpointWritten()
	return nil
}

func (e *HybridExecutor) audit(ctx context.Context, action, detail string) {
	if e.rc.Audit == nil {
		return
	}
	if err := e.rc.Audit.RecordAudit(ctx, e.rc.InstallationID, action, detail); err != nil {
		e.log.WithError(err).Warn("failed to record audit event")
	}
}
