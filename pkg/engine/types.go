package engine

import (
	"time"

	"github.com/yunaamelia/debian-vps-workstation/pkg/resilience"
	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
	"github.com/yunaamelia/debian-vps-workstation/pkg/system"
	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// ModuleSpec is the immutable descriptor of one module, supplied by
// configuration.
type ModuleSpec struct {
	// Name is the unique module key.
	Name string `json:"name" yaml:"name"`

	// Priority orders modules within a scheduling round; lower runs earlier.
	Priority int `json:"priority" yaml:"priority"`

	// DependsOn lists modules that must complete in an earlier batch.
	DependsOn []string `json:"depends_on" yaml:"depends_on"`

	// Mandatory aborts the whole run when this module fails.
	Mandatory bool `json:"mandatory" yaml:"mandatory"`

	// ForceSequential makes the module the sole member of its batch.
	ForceSequential bool `json:"force_sequential" yaml:"force_sequential"`

	// Enabled excludes the module from scheduling when false.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Cost is a resource-cost hint; modules at or above the executor's
	// large-cost threshold take the pipeline path even in a shared batch.
	Cost int `json:"cost" yaml:"cost"`

	// Options carries module-specific configuration.
	Options map[string]interface{} `json:"options" yaml:"options"`
}

// Batch is an ordered-for-determinism set of module names scheduled for one
// execution round. Order within a batch is for logging only and carries no
// execution guarantee.
type Batch struct {
	// Index is the batch position in the run, starting at 0.
	Index int `json:"index"`

	// Members lists module names sorted by (priority, name).
	Members []string `json:"members"`
}

// ModuleStatus is the execution state of one module run.
type ModuleStatus string

const (
	StatusPending    ModuleStatus = "pending"
	StatusRunning    ModuleStatus = "running"
	StatusSucceeded  ModuleStatus = "succeeded"
	StatusFailed     ModuleStatus = "failed"
	StatusSkipped    ModuleStatus = "skipped_unmet_dependency"
	StatusRolledBack ModuleStatus = "rolled_back"
)

// IsTerminal reports whether the status is final.
func (s ModuleStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusRolledBack:
		return true
	default:
		return false
	}
}

// ExecutionPath is how a module's lifecycle was scheduled.
type ExecutionPath string

const (
	// PathParallel runs the lifecycle on the shared worker pool.
	PathParallel ExecutionPath = "parallel"

	// PathPipeline runs the lifecycle as an isolated sequential unit.
	PathPipeline ExecutionPath = "pipeline"
)

// ModuleRun is the mutable execution record for one module. Only the
// executor transitions its status.
type ModuleRun struct {
	// Module is the module name.
	Module string `json:"module"`

	// Status is the current execution state; terminal once
	// Succeeded/Failed/Skipped/RolledBack.
	Status ModuleStatus `json:"status"`

	// Path is the execution path the module took.
	Path ExecutionPath `json:"path,omitempty"`

	// StartedAt/EndedAt bound the lifecycle execution.
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Err is the failure cause, nil unless Status is Failed or Skipped.
	Err error `json:"-"`

	// RollbackErrs holds compensating-action failures from this module's
	// rollback, if any.
	RollbackErrs []error `json:"-"`
}

// Duration returns the wall-clock lifecycle duration.
func (r *ModuleRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// RunStatus summarizes a whole installation run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunReport is the final result of an installation run: every module's
// terminal status, the skipped dependents and any rollback failures, in one
// place.
type RunReport struct {
	// InstallationID identifies the run for checkpointing and the ledger.
	InstallationID string `json:"installation_id"`

	// Status is the overall outcome.
	Status RunStatus `json:"status"`

	// StartedAt/CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Runs maps module name to its execution record.
	Runs map[string]*ModuleRun `json:"runs"`

	// Skipped lists modules marked SkippedUnmetDependency, with the
	// dependency that caused each skip.
	Skipped map[string]string `json:"skipped,omitempty"`

	// RollbackErrors lists compensating actions that could not be undone
	// anywhere in the run. Non-empty means the host may be inconsistent.
	RollbackErrors []error `json:"-"`

	// Fatal is set when a mandatory module failed and the run aborted.
	Fatal bool `json:"fatal"`

	// Err is the run-level failure cause, if any.
	Err error `json:"-"`
}

// Summary returns per-status module counts.
func (r *RunReport) Summary() map[ModuleStatus]int {
	counts := make(map[ModuleStatus]int)
	for _, run := range r.Runs {
		counts[run.Status]++
	}
	return counts
}

// Checkpoint is a durable snapshot of run progress, written after every
// fully resolved batch and read once at process start to resume.
type Checkpoint struct {
	// InstallationID identifies the run.
	InstallationID string `json:"installation_id"`

	// Timestamp is when the checkpoint was written.
	Timestamp time.Time `json:"timestamp"`

	// CompletedBatchIndex is the highest batch whose members all reached a
	// terminal state.
	CompletedBatchIndex int `json:"completed_batch_index"`

	// CompletedModules lists every module that succeeded so far.
	CompletedModules []string `json:"completed_modules"`

	// LedgerSnapshotRef is the highest ledger sequence at checkpoint time.
	LedgerSnapshotRef int64 `json:"ledger_snapshot_ref"`
}

// RunContext carries the tunables and shared handles the executor and the
// modules consume. Shared synchronization lives in the handles themselves
// (ledger lock, package-manager mutex); RunContext only passes them around.
type RunContext struct {
	// InstallationID identifies the run across restarts.
	InstallationID string

	// MaxWorkers bounds the parallel-path worker pool.
	MaxWorkers int

	// DryRun restricts every module to its read-only validation stage; no
	// rollback actions are recorded and no checkpoint is written.
	DryRun bool

	// Resume skips batches covered by the latest checkpoint.
	Resume bool

	// LargeCost is the resource-cost threshold at or above which a module
	// takes the pipeline path.
	LargeCost int

	// Ledger is the shared rollback ledger.
	Ledger *rollback.Ledger

	// Retry wraps network operations with breaker-gated retries.
	Retry *resilience.Executor

	// Checkpoints persists run progress. Nil disables checkpointing.
	Checkpoints CheckpointStore

	// Audit records run-level audit events. Nil disables auditing.
	Audit AuditSink

	// Apt serializes package-manager invocations process-wide.
	Apt *system.AptManager

	// Services controls systemd units.
	Services *system.ServiceManager

	// Users manages local login users.
	Users *system.UserManager

	// Runner executes host commands for module-specific operations.
	Runner system.CommandRunner

	// Log is the run logger.
	Log *telemetry.Logger

	// Metrics collects engine metrics. Nil is a no-op.
	Metrics *telemetry.Metrics

	// Tracer emits execution spans. Nil disables tracing.
	Tracer *telemetry.Tracer
}
