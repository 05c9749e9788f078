package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yunaamelia/debian-vps-workstation/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var dotOutput bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan",
		Long: `Schedule the configured modules and print the resulting batches without
executing anything. With --dot the dependency graph is printed in Graphviz
format instead.`,
		Example: `  workstation plan
  workstation plan --dot | dot -Tsvg -o plan.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			specs := a.cfg.Specs()
			batches, err := engine.NewScheduler().Schedule(specs)
			if err != nil {
				return err
			}

			if dotOutput {
				fmt.Print(renderDot(specs))
				return nil
			}

			byName := make(map[string]engine.ModuleSpec, len(specs))
			for _, spec := range specs {
				byName[spec.Name] = spec
			}

			fmt.Printf("Installation %s: %d batches\n\n", a.cfg.InstallationID, len(batches))
			for _, batch := range batches {
				fmt.Printf("batch %d:\n", batch.Index)
				for _, name := range batch.Members {
					spec := byName[name]
					var notes []string
					if spec.ForceSequential {
						notes = append(notes, "sequential")
					}
					if spec.Cost >= a.cfg.LargeCost {
						notes = append(notes, "pipeline")
					}
					if spec.Mandatory {
						notes = append(notes, "mandatory")
					}
					suffix := ""
					if len(notes) > 0 {
						suffix = " (" + strings.Join(notes, ", ") + ")"
					}
					fmt.Printf("  - %s%s\n", name, suffix)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dotOutput, "dot", false, "print the dependency graph in Graphviz format")

	return cmd
}

// renderDot prints the enabled modules and their dependency edges.
func renderDot(specs []engine.ModuleSpec) string {
	var b strings.Builder
	b.WriteString("digraph modules {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		attrs := ""
		if spec.Mandatory {
			attrs = " [penwidth=2]"
		}
		fmt.Fprintf(&b, "  %q%s;\n", spec.Name, attrs)
		for _, dep := range spec.DependsOn {
			fmt.Fprintf(&b, "  %q -> %q;\n", dep, spec.Name)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
