package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

var sessionsFlags struct {
	JSON bool
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List supervised sessions recorded in the store",
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

		sessions, err := st.ListSessions(cmd.Context())
		if err != nil {
			return err
		}

		if sessionsFlags.JSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION ID\tTOOL\tSTATE\tLABEL\tSTARTED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.SessionID, s.Tool, s.State, s.Label, s.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var logsFlags struct {
	SessionID string
	Tail      int
	JSON      bool
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show audit log entries, optionally filtered by session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := readAuditEntries(cfg.AuditLogPath, logsFlags.SessionID, logsFlags.Tail)
		if err != nil {
			return err
		}
		if logsFlags.JSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-24s  session=%s  prompt=%s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Kind, e.SessionID, e.PromptID)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsFlags.JSON, "json", false, "print sessions as JSON")
	logsCmd.Flags().StringVar(&logsFlags.SessionID, "session", "", "only show entries for this session id")
	logsCmd.Flags().IntVar(&logsFlags.Tail, "tail", 0, "only show the last N matching entries (0 means all)")
	logsCmd.Flags().BoolVar(&logsFlags.JSON, "json", false, "print log entries as JSON")
}

// readAuditEntries loads path, filters by sessionID (when non-empty),
// and truncates to the last tail entries (when tail > 0).
func readAuditEntries(path, sessionID string, tail int) ([]auditlog.Entry, error) {
	raw, err := auditlog.Read(path)
	if err != nil {
		return nil, err
	}
	out := make([]auditlog.Entry, 0, len(raw))
	for _, e := range raw {
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		out = append(out, e)
	}
	if tail > 0 && len(out) > tail {
		out = out[len(out)-tail:]
	}
	return out, nil
}
