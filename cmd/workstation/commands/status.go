package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var auditLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run, checkpoint and audit trail",
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

			fmt.Printf("Installation: %s\n\n", a.cfg.InstallationID)

			run, err := a.store.LatestRun(ctx, a.cfg.InstallationID)
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Println("No runs recorded.")
			} else {
				fmt.Printf("Latest run:    %s\n", run.ID)
				fmt.Printf("  status:      %s\n", run.Status)
				fmt.Printf("  started:     %s\n", run.StartedAt.Format(time.RFC3339))
				if run.CompletedAt != nil {
					fmt.Printf("  completed:   %s\n", run.CompletedAt.Format(time.RFC3339))
				}
				if run.Error != nil {
					fmt.Printf("  error:       %s\n", *run.Error)
				}
				if run.Summary != nil {
					fmt.Printf("  summary:     %s\n", *run.Summary)
				}
			}

			cp, err := a.store.LatestCheckpoint(ctx, a.cfg.InstallationID)
			if err != nil {
				return err
			}
			if cp == nil {
				fmt.Println("\nNo checkpoint recorded.")
			} else {
				fmt.Printf("\nLatest checkpoint: batch %d at %s\n", cp.CompletedBatchIndex, cp.Timestamp.Format(time.RFC3339))
				fmt.Printf("  completed modules: %v\n", cp.CompletedModules)
				fmt.Printf("  ledger sequence:   %d\n", cp.LedgerSnapshotRef)
			}

			entries, err := a.store.ListAudit(ctx, a.cfg.InstallationID, auditLines)
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				fmt.Println("\nAudit trail (newest first):")
				for _, e := range entries {
					fmt.Printf("  %s  %-18s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, e.Detail)
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&auditLines, "audit", 10, "number of audit entries to show")

	return cmd
}
