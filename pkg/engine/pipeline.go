package engine

import (
	"context"
	"fmt"
)

// runLifecycle drives one module through validate -> configure -> verify,
// checking for cancellation at every stage boundary. In dry-run mode only
// the read-only validation stage runs. The returned error is always a
// *ModuleStageError (or the context error) so the caller can tell which
// stage failed and whether recorded actions need replaying.
func runLifecycle(ctx context.Context, mod Module, rc *RunContext) error {
	name := mod.Name()
	log := rc.Log.WithModule(name)

	if err := ctx.Err(); err != nil {
		return err
	}
	log.Debug("validating module")
	ok, err := mod.Validate(ctx, rc)
	if err != nil {
		return NewValidationFailed(name, err)
	}
	if !ok {
		return NewValidationFailed(name, fmt.Errorf("preconditions not met"))
	}

	if rc.DryRun {
		log.Info("dry run, skipping configure and verify")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	log.Info("configuring module")
	if err := mod.Configure(ctx, rc); err != nil {
		return NewConfigureFailed(name, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	log.Debug("verifying module")
	ok, err = mod.Verify(ctx, rc)
	if err != nil {
		return NewVerifyFailed(name, err)
	}
	if !ok {
		return NewVerifyFailed(name, fmt.Errorf("post-configuration check failed"))
	}
	return nil
}

// needsRollback reports whether a lifecycle error means recorded actions
// must be replayed. Validation failures happen before any mutation, so
// nothing is recorded for them; configure and verify failures may leave
// partial state behind.
func needsRollback(err error) bool {
	se, ok := err.(*ModuleStageError)
	return ok && se.Stage != StageValidate
}
