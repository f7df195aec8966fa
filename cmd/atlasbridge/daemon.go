package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/daemonctl"
)

var stopFlags struct {
	TimeoutSec int
}

var startCmd = &cobra.Command{
	Use:   "start [tool] [args...]",
	Short: "Start atlasbridge as a background-friendly daemon supervising tool",
	Long: `start acquires the daemon pid file and runs the same supervision loop
as "run", in the foreground. Backgrounding is left to the caller's shell
("atlasbridge start claude &") or process supervisor, matching how a
plain Go binary without a fork-based daemonize step is conventionally run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pidFile, err := daemonctl.Acquire(cfg.PIDPath)
		if err != nil {
			return err
		}
		defer pidFile.Close()

		return runSupervised(cmd.Context(), args)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running atlasbridge daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		timeout := time.Duration(stopFlags.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		if err := daemonctl.Stop(cfg.PIDPath, timeout); err != nil {
			return err
		}
		fmt.Println("daemon stopped")
		return nil
	},
}

func init() {
	stopCmd.Flags().IntVar(&stopFlags.TimeoutSec, "timeout", 15, "seconds to wait for the daemon to exit after SIGTERM")
}
