package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/daemonctl"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

var doctorFlags struct {
	Fix bool
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the data directory, pid file, schema, and audit chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var problems []string

		if pid, err := daemonctl.ReadRunningPID(cfg.PIDPath); err == nil && !daemonctl.IsRunning(cfg.PIDPath) {
			problems = append(problems, fmt.Sprintf("stale pid file at %s (pid %d is not running)", cfg.PIDPath, pid))
			if doctorFlags.Fix {
				if rmErr := os.Remove(cfg.PIDPath); rmErr == nil {
					fmt.Printf("fixed: removed stale pid file %s\n", cfg.PIDPath)
				} else {
					problems = append(problems, fmt.Sprintf("could not remove stale pid file: %v", rmErr))
				}
			}
		}

		if fi, err := os.Stat(cfg.DataDir); err == nil {
			if fi.Mode().Perm()&0o077 != 0 {
				problems = append(problems, fmt.Sprintf("data directory %s is group/world accessible (mode %04o)", cfg.DataDir, fi.Mode().Perm()))
				if doctorFlags.Fix {
					if chErr := os.Chmod(cfg.DataDir, 0o700); chErr == nil {
						fmt.Printf("fixed: tightened permissions on %s to 0700\n", cfg.DataDir)
					}
				}
			}
		}

		if db, err := store.Open(cfg.DBPath); err != nil {
			problems = append(problems, fmt.Sprintf("database at %s failed to open: %v", cfg.DBPath, err))
		} else {
			current, latest, verErr := store.SchemaVersion(db)
			if verErr != nil {
				problems = append(problems, fmt.Sprintf("could not read schema version: %v", verErr))
			} else if current != latest {
				problems = append(problems, fmt.Sprintf("schema at version %d, latest is %d (should have migrated on open)", current, latest))
			}
			_ = store.CloseDB(db)
		}

		if _, err := os.Stat(cfg.AuditLogPath); err == nil {
			result, verErr := auditlog.Verify(cfg.AuditLogPath)
			if verErr != nil {
				problems = append(problems, fmt.Sprintf("audit log verification failed: %v", verErr))
			} else if !result.Valid {
				problems = append(problems, fmt.Sprintf("audit log hash chain broken at sequence %d (%d entries read)", result.BrokenAt, result.EntryCount))
			}
		}

		if len(problems) == 0 {
			fmt.Println("no problems found")
			return nil
		}
		fmt.Println("problems found:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		if !doctorFlags.Fix {
			fmt.Println("\nrerun with --fix to repair what can be repaired automatically")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFlags.Fix, "fix", false, "attempt to repair fixable problems")
}
