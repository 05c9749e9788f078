package policy

import (
	"time"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
)

// Severity is the weight of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run and flags an unsafe plan.
	SeverityCritical Severity = "critical"
)

// Policy is one Rego rule set with metadata.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source. The deny rule set of its package is
	// queried during evaluation.
	Rego string `json:"rego"`

	// Severity is the default severity when a violation carries none.
	Severity Severity `json:"severity"`

	// Enabled deactivates the policy without removing it.
	Enabled bool `json:"enabled"`
}

// Violation is one finding from policy evaluation.
type Violation struct {
	// Policy is the policy that produced the finding.
	Policy string `json:"policy"`

	// Module is the offending module, when attributable.
	Module string `json:"module,omitempty"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// Severity is the finding weight.
	Severity Severity `json:"severity"`
}

// Result is the outcome of gating one plan.
type Result struct {
	// Allowed is false when any error or critical violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists every finding, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt is when the gate ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Blocking returns only the violations that caused the plan to be denied.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			out = append(out, v)
		}
	}
	return out
}

// PlanInput is the document policies evaluate against.
type PlanInput struct {
	// InstallationID identifies the run.
	InstallationID string `json:"installation_id"`

	// DryRun marks validation-only runs.
	DryRun bool `json:"dry_run"`

	// MaxWorkers is the configured parallel pool size.
	MaxWorkers int `json:"max_workers"`

	// Modules lists every configured module, including disabled ones.
	Modules []engine.ModuleSpec `json:"modules"`

	// Batches is the scheduled plan.
	Batches []engine.Batch `json:"batches"`
}
