package engine

import "context"

// Module is the three-stage lifecycle contract every provisioning module
// implements. The executor drives validate -> configure -> verify; a module
// performing a network operation must route it through rc.Retry under a
// caller-chosen service name so breaker state is shared across modules
// hitting the same backend.
type Module interface {
	// Name returns the unique module key, matching its ModuleSpec.
	Name() string

	// Validate checks preconditions read-only. Returning (false, nil) is a
	// precondition failure with no underlying error.
	Validate(ctx context.Context, rc *RunContext) (bool, error)

	// Configure applies the module's changes. Every mutation must be
	// preceded by a rollback ledger record.
	Configure(ctx context.Context, rc *RunContext) error

	// Verify checks that the applied configuration is effective.
	Verify(ctx context.Context, rc *RunContext) (bool, error)
}

// Rollbacker is the optional rollback override. Modules that do not
// implement it are undone by replaying their ledger entries.
type Rollbacker interface {
	Rollback(ctx context.Context, rc *RunContext) error
}

// CheckpointStore persists run progress for crash-safe resume.
type CheckpointStore interface {
	// SaveCheckpoint durably records one completed batch.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint for an
	// installation, or (nil, nil) when none exists.
	LatestCheckpoint(ctx context.Context, installationID string) (*Checkpoint, error)
}

// AuditSink records run-level audit events (run started, finished,
// rollback performed). Implementations serialize internally.
type AuditSink interface {
	RecordAudit(ctx context.Context, installationID, action, detail string) error
}
