package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
)

func newRollbackCommand() *cobra.Command {
	var module string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Replay the rollback ledger",
		Long: `Undo recorded host mutations by replaying the rollback ledger in reverse
order. By default the whole ledger of the installation is replayed; with
--module only that module's actions are undone.

Replay is best effort: every action is attempted even when an earlier one
fails, and failures are listed for manual inspection. Actions that have
already been replayed are skipped.`,
		Example: `  workstation rollback
  workstation rollback --module container-runtime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.openStore(ctx); err != nil {
				return err
			}

			rc, err := a.buildRunContext(ctx, false, false, 0)
			if err != nil {
				return err
			}

			if err := rc.Audit.RecordAudit(ctx, a.cfg.InstallationID, "manual_rollback", module); err != nil {
				a.log.WithError(err).Warn("failed to record audit event")
			}

			var errs []error
			if module != "" {
				errs = rc.Ledger.Undo(ctx, module)
			} else {
				errs = rc.Ledger.UndoAll(ctx)
			}

			if len(errs) > 0 {
				for _, err := range errs {
					fmt.Printf("  failed: %v\n", err)
				}
				return rollback.PartialFailure(module, errs)
			}

			fmt.Println("Rollback complete.")
			return nil
		},
	}

	cmd.Flags().StringVar(&module, "module", "", "undo a single module's actions only")

	return cmd
}
