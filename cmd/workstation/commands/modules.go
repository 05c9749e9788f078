package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yunaamelia/debian-vps-workstation/pkg/modules"
)

func newModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the registered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range modules.Builtin().Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
