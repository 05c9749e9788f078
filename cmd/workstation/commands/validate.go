package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
	"github.com/yunaamelia/debian-vps-workstation/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		watch     bool
		policyDir string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and plan",
		Long: `Load the configuration, schedule the modules and run the policy gate,
reporting every problem without touching the host. With --watch the
validation re-runs whenever the config file or a policy file changes.`,
		Example: `  workstation validate
  workstation validate --watch
  workstation validate --policy-dir /etc/workstation/policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOnce(cmd.Context(), policyDir); err != nil && !watch {
				return err
			}
			if !watch {
				fmt.Println("Configuration is valid.")
				return nil
			}
			return watchAndValidate(cmd.Context(), policyDir)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-validate when the config or policies change")
	cmd.Flags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego policies")

	return cmd
}

// validateOnce runs one full validation pass: config load, scheduling and
// the policy gate, including any user policies.
func validateOnce(ctx context.Context, policyDir string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close(ctx)

	specs := a.cfg.Specs()
	batches, err := engine.NewScheduler().Schedule(specs)
	if err != nil {
		return err
	}

	gate, err := policy.NewGate(a.log)
	if err != nil {
		return err
	}
	if policyDir != "" {
		policies, err := policy.NewLoader(a.log).LoadFromPaths([]string{policyDir})
		if err != nil {
			return err
		}
		if err := gate.AddPolicies(ctx, policies); err != nil {
			return err
		}
	}

	result, err := gate.EvaluatePlan(ctx, &policy.PlanInput{
		InstallationID: a.cfg.InstallationID,
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

// watchAndValidate re-runs validation whenever the config file or a policy
// file changes, with debouncing for editors that write in several steps.
func watchAndValidate(ctx context.Context, policyDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if policyDir != "" {
		if err := watcher.Add(policyDir); err != nil {
			return fmt.Errorf("failed to watch policy directory: %w", err)
		}
	}

	run := func() {
		if err := validateOnce(ctx, policyDir); err != nil {
			fmt.Printf("INVALID: %v\n", err)
			return
		}
		fmt.Println("Configuration is valid.")
	}

	run()
	fmt.Println("Watching for changes (ctrl-c to stop)...")

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if event.Name != configPath && !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, run)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("watch error: %v\n", err)
		}
	}
}
