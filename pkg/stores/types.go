package stores

import (
	"time"
)

// RunRecord is the persisted summary of one installation run.
type RunRecord struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// InstallationID groups runs, checkpoints and ledger entries that
	// belong to the same provisioning effort.
	InstallationID string `json:"installation_id"`

	// Status is the run outcome (running until finished).
	Status string `json:"status"`

	// DryRun marks validation-only runs.
	DryRun bool `json:"dry_run"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the run-level failure message, if any.
	Error *string `json:"error,omitempty"`

	// Summary is a JSON document of per-module terminal statuses.
	Summary *string `json:"summary,omitempty"`
}

// AuditEntry is one immutable audit log line.
type AuditEntry struct {
	ID             int64     `json:"id"`
	InstallationID string    `json:"installation_id"`
	Action         string    `json:"action"`
	Detail         string    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
}
