package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workstation",
		Short: "Debian VPS workstation provisioning engine",
		Long: `workstation turns a fresh Debian VPS into a configured development
workstation. Modules are ordered by their dependencies into batches, run
in parallel where safe, and every host mutation is recorded in a rollback
ledger so a failed run can put the machine back the way it was.

Features:
  - Dependency-ordered batch scheduling with forced-sequential isolation
  - Hybrid parallel/pipeline execution with a bounded worker pool
  - Durable rollback ledger and crash-resumable checkpoints
  - Circuit-breaker guarded retries for network operations
  - Rego policy gate over every execution plan`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/workstation/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRollbackCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newModulesCommand())

	return rootCmd
}
