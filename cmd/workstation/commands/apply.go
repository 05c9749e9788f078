package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/policy"
	"github.com/yunaamelia/debian-vps-workstation/pkg/stores"
)

func newApplyCommand() *cobra.Command {
	var (
		dryRun  bool
		resume  bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision the host",
		Long: `Schedule the configured modules into dependency batches, gate the plan
through the policy engine and execute it.

Progress is checkpointed after every batch; a crashed or interrupted run
continues where it left off when --resume is set (the default). With
--dry-run only the read-only validation stage of each module runs and
nothing is written to the host or the state database.`,
		Example: `  # Provision with the default config
  workstation apply

  # Validate what would happen without touching the host
  workstation apply --dry-run

  # Start over, ignoring earlier checkpoints
  workstation apply --resume=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), dryRun, resume, workers)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run module validation only")
	cmd.Flags().BoolVar(&resume, "resume", true, "resume from the latest checkpoint")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel worker pool size (0 = config value)")

	return cmd
}

func runApply(ctx context.Context, dryRun, resume bool, workers int) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	specs := a.cfg.Specs()
	batches, err := engine.NewScheduler().Schedule(specs)
	if err != nil {
		return err
	}

	if err := gatePlan(ctx, a, specs, batches, dryRun); err != nil {
		return err
	}

	mods, err := a.registry.Build(specs)
	if err != nil {
		return err
	}

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.metrics.Serve(); err != nil {
		return err
	}

	rc, err := a.buildRunContext(ctx, dryRun, resume, workers)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if !dryRun {
		rec := &stores.RunRecord{
			ID:             runID,
			InstallationID: a.cfg.InstallationID,
			Status:         "running",
			DryRun:         dryRun,
			StartedAt:      time.Now().UTC(),
		}
		if err := a.store.CreateRun(ctx, rec); err != nil {
			return err
		}
	}

	report, runErr := engine.NewHybridExecutor(rc).Run(ctx, specs, batches, mods)

	if !dryRun {
		finishCtx := context.WithoutCancel(ctx)
		var errMsg *string
		if report.Err != nil {
			s := report.Err.Error()
			errMsg = &s
		}
		summary := summarizeReport(report)
		if err := a.store.FinishRun(finishCtx, runID, string(report.Status), errMsg, summary); err != nil {
			a.log.WithError(err).Warn("failed to persist run record")
		}
	}

	printReport(report)
	return runErr
}

// gatePlan evaluates the built-in policies against the scheduled plan.
// Warnings are printed; error or critical findings stop the run.
func gatePlan(ctx context.Context, a *app, specs []engine.ModuleSpec, batches []engine.Batch, dryRun bool) error {
	gate, err := policy.NewGate(a.log)
	if err != nil {
		return err
	}

	result, err := gate.EvaluatePlan(ctx, &policy.PlanInput{
		InstallationID: a.cfg.InstallationID,
		DryRun:         dryRun,
		MaxWorkers:     a.cfg.MaxWorkers,
		Modules:        specs,
		Batches:        batches,
	})
	if err != nil {
		return err
	}

	for _, v := range result.Violations {
		fmt.Printf("policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
	}
	if !result.Allowed {
		return fmt.Errorf("plan rejected by policy: %d blocking violations", len(result.Blocking()))
	}
	return nil
}

// summarizeReport renders the per-module outcome as a JSON document for the
// run record.
func summarizeReport(report *engine.RunReport) *string {
	type moduleSummary struct {
		Status   string `json:"status"`
		Path     string `json:"path,omitempty"`
		Duration string `json:"duration,omitempty"`
		Error    string `json:"error,omitempty"`
	}

	out := make(map[string]moduleSummary, len(report.Runs))
	for name, run := range report.Runs {
		ms := moduleSummary{Status: string(run.Status), Path: string(run.Path)}
		if d := run.Duration(); d > 0 {
			ms.Duration = d.Round(time.Millisecond).String()
		}
		if run.Err != nil {
			ms.Error = run.Err.Error()
		}
		out[name] = ms
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func printReport(report *engine.RunReport) {
	fmt.Printf("\nRun %s finished: %s\n", report.InstallationID, report.Status)
	for status, count := range report.Summary() {
		fmt.Printf("  %-26s %d\n", status, count)
	}
	for name, dep := range report.Skipped {
		fmt.Printf("  skipped %s (dependency %s did not succeed)\n", name, dep)
	}
	if len(report.RollbackErrors) > 0 {
		fmt.Printf("\nWARNING: %d compensating actions failed; the host may be inconsistent:\n", len(report.RollbackErrors))
		for _, err := range report.RollbackErrors {
			fmt.Printf("  - %v\n", err)
		}
	}
}
