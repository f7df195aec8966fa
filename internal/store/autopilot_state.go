package store

import (
	"context"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// AutopilotState is the persisted kill-switch and mode row. It survives
// daemon restarts because it lives in the single-writer database rather
// than in process memory.
type AutopilotState struct {
	Mode   string
	Paused bool
}

// LoadAutopilotState reads the singleton autopilot_state row.
func (s *Store) LoadAutopilotState(ctx context.Context) (AutopilotState, error) {
	var mode string
	var paused int
	err := s.db.QueryRowContext(ctx, `SELECT mode, paused FROM autopilot_state WHERE id = 1`).Scan(&mode, &paused)
	if err != nil {
		return AutopilotState{}, &domain.StorageFatalError{Op: "load_autopilot_state", Err: err}
	}
	return AutopilotState{Mode: mode, Paused: paused != 0}, nil
}

// SaveAutopilotState persists mode and paused, overwriting the singleton row.
func (s *Store) SaveAutopilotState(ctx context.Context, st AutopilotState) error {
	err := RetryWithBackoff(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			UPDATE autopilot_state
			SET mode = ?, paused = ?, updated_at = ?
			WHERE id = 1`,
			st.Mode, boolToInt(st.Paused), time.Now().UTC().Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return &domain.StorageFatalError{Op: "save_autopilot_state", Err: err}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
