package engine

import (
	"fmt"
	"strings"
)

// DependencyCycleError reports a dependency cycle found at scheduling time.
// Fatal before any execution starts.
type DependencyCycleError struct {
	// Cycle is the module names along the cycle, first repeated last.
	Cycle []string
}

// Error implements the error interface.
func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownDependencyError reports a module depending on a name that is not
// an enabled module. Fatal before any execution starts.
type UnknownDependencyError struct {
	Module     string
	Dependency string
}

// Error implements the error interface.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("module %q depends on unknown or disabled module %q", e.Module, e.Dependency)
}

// Stage identifies a lifecycle stage.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageConfigure Stage = "configure"
	StageVerify    Stage = "verify"
)

// ModuleStageError reports a module lifecycle stage failure. Configure and
// verify failures trigger the module's rollback; validate failures do not
// (nothing has been recorded yet).
type ModuleStageError struct {
	Module string
	Stage  Stage
	Err    error
}

// Error implements the error interface.
func (e *ModuleStageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("module %q failed at %s", e.Module, e.Stage)
	}
	return fmt.Sprintf("module %q failed at %s: %v", e.Module, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModuleStageError) Unwrap() error {
	return e.Err
}

// NewValidationFailed reports a validate-stage failure.
func NewValidationFailed(module string, err error) *ModuleStageError {
	return &ModuleStageError{Module: module, Stage: StageValidate, Err: err}
}

// NewConfigureFailed reports a configure-stage failure.
func NewConfigureFailed(module string, err error) *ModuleStageError {
	return &ModuleStageError{Module: module, Stage: StageConfigure, Err: err}
}

// NewVerifyFailed reports a verify-stage failure.
func NewVerifyFailed(module string, err error) *ModuleStageError {
	return &ModuleStageError{Module: module, Stage: StageVerify, Err: err}
}
