// Command atlasbridge is the CLI surface for the human-in-the-loop
// prompt relay: supervise one child program (`run`), manage a
// background daemon (`start`/`stop`), inspect sessions and audit
// history, and operate the policy/autopilot layers. Grounded on
// rcourtman-Pulse's cmd/pulse/main.go rootCmd/init()/version wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/clihelp"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var globalFlags struct {
	DataDir       string
	Channel       string
	AutopilotMode string
}

var rootCmd = &cobra.Command{
	Use:           "atlasbridge",
	Short:         "atlasbridge relays interactive CLI prompts to a human, with optional policy-driven autopilot",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.PersistentFlags().StringVar(&globalFlags.DataDir, "data-dir", "", "override the data directory (default: $XDG_DATA_HOME/atlasbridge)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Channel, "channel", "", "override the configured delivery channel")
	rootCmd.PersistentFlags().StringVar(&globalFlags.AutopilotMode, "autopilot-mode", "", "override the configured autopilot mode (off|assist|full)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(autopilotCmd)
	rootCmd.AddCommand(labCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("atlasbridge %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(int(clihelp.ExitProcess(err)))
	}
}
