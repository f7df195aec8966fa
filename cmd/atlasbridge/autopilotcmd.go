package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Inspect or change the autopilot mode and kill switch",
}

var autopilotModeCmd = &cobra.Command{
	Use:       "mode [off|assist|full]",
	Short:     "Print the current autopilot mode, or set a new one",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"off", "assist", "full"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.CloseDB(db)
		st := store.New(db)

		if len(args) == 0 {
			current, err := st.LoadAutopilotState(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(current.Mode)
			return nil
		}

		mode := autopilot.Mode(args[0])
		current, err := st.LoadAutopilotState(cmd.Context())
		if err != nil {
			return err
		}
		if err := st.SaveAutopilotState(cmd.Context(), store.AutopilotState{Mode: string(mode), Paused: current.Paused}); err != nil {
			return err
		}
		fmt.Printf("autopilot mode set to %s\n", mode)
		return nil
	},
}

func autopilotSetPaused(cmd *cobra.Command, paused bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.CloseDB(db)
	st := store.New(db)

	current, err := st.LoadAutopilotState(cmd.Context())
	if err != nil {
		return err
	}
	if err := st.SaveAutopilotState(cmd.Context(), store.AutopilotState{Mode: current.Mode, Paused: paused}); err != nil {
		return err
	}
	if paused {
		fmt.Println("autopilot paused: every prompt now goes to a human")
	} else {
		fmt.Println("autopilot resumed")
	}
	return nil
}

var autopilotPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Engage the persistent kill switch: every prompt goes to a human regardless of mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return autopilotSetPaused(cmd, true)
	},
}

var autopilotResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Lift the kill switch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return autopilotSetPaused(cmd, false)
	},
}

func init() {
	autopilotCmd.AddCommand(autopilotModeCmd)
	autopilotCmd.AddCommand(autopilotPauseCmd)
	autopilotCmd.AddCommand(autopilotResumeCmd)
}
