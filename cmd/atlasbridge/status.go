package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/daemonctl"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

var statusFlags struct {
	JSON  bool
	Watch bool
}

type statusReport struct {
	DaemonRunning bool   `json:"daemon_running"`
	DaemonPID     int    `json:"daemon_pid,omitempty"`
	ActiveCount   int    `json:"active_sessions"`
	AutopilotMode string `json:"autopilot_mode"`
	Paused        bool   `json:"autopilot_paused"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report daemon, session, and autopilot state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !statusFlags.Watch {
			report, err := buildStatusReport(cmd.Context(), cfg.DBPath, cfg.PIDPath)
			if err != nil {
				return err
			}
			return printStatusReport(report)
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			report, err := buildStatusReport(cmd.Context(), cfg.DBPath, cfg.PIDPath)
			if err != nil {
				return err
			}
			if err := printStatusReport(report); err != nil {
				return err
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print status as JSON")
	statusCmd.Flags().BoolVar(&statusFlags.Watch, "watch", false, "refresh status every 2 seconds until interrupted")
}

func buildStatusReport(ctx context.Context, dbPath, pidPath string) (statusReport, error) {
	report := statusReport{}

	if pid, err := daemonctl.ReadRunningPID(pidPath); err == nil {
		report.DaemonRunning = daemonctl.IsRunning(pidPath)
		report.DaemonPID = pid
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return report, err
	}
	defer store.CloseDB(db)
	st := store.New(db)

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return report, err
	}
	for _, s := range sessions {
		if s.EndedAt == nil {
			report.ActiveCount++
		}
	}

	apState, err := st.LoadAutopilotState(ctx)
	if err != nil {
		return report, err
	}
	report.AutopilotMode = apState.Mode
	report.Paused = apState.Paused

	return report, nil
}

func printStatusReport(report statusReport) error {
	if statusFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	running := "stopped"
	if report.DaemonRunning {
		running = fmt.Sprintf("running (pid %d)", report.DaemonPID)
	}
	pauseNote := ""
	if report.Paused {
		pauseNote = " (paused)"
	}
	fmt.Printf("daemon:    %s\n", running)
	fmt.Printf("sessions:  %d active\n", report.ActiveCount)
	fmt.Printf("autopilot: %s%s\n", report.AutopilotMode, pauseNote)
	return nil
}
