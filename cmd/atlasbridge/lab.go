package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/labscenario"
)

var labFlags struct {
	All bool
}

var labCmd = &cobra.Command{
	Use:   "lab",
	Short: "Run in-process regression scenarios against the real internal stack",
}

var labRunCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Run one named scenario, or every built-in scenario with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all := labscenario.BuiltIn()

		var scenarios []labscenario.Scenario
		switch {
		case labFlags.All || len(args) == 0:
			scenarios = all
		default:
			name := args[0]
			for _, s := range all {
				if s.Name == name {
					scenarios = append(scenarios, s)
				}
			}
			if len(scenarios) == 0 {
				return fmt.Errorf("lab: no built-in scenario named %q", name)
			}
		}

		results := labscenario.RunAll(cmd.Context(), scenarios)
		fmt.Print(labscenario.Summarize(results))
		if labscenario.AnyFailed(results) {
			return fmt.Errorf("one or more scenarios failed")
		}
		return nil
	},
}

func init() {
	labRunCmd.Flags().BoolVar(&labFlags.All, "all", false, "run every built-in scenario regardless of a named argument")
	labCmd.AddCommand(labRunCmd)
}
