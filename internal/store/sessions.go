package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// CreateSession records a new supervised child run.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session) error {
	return RetryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_id, tool, label, state, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			sess.SessionID, sess.Tool, sess.Label, string(domain.SessionActive), sess.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return &domain.StorageFatalError{Op: "create_session", Err: err}
		}
		return nil
	})
}

// EndSession marks a session ended.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return RetryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET state = ?, ended_at = ? WHERE session_id = ?`,
			string(domain.SessionEnded), now, sessionID,
		)
		if err != nil {
			return &domain.StorageFatalError{Op: "end_session", Err: err}
		}
		return nil
	})
}

// ListSessions returns all sessions ordered by start time, most recent first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, tool, label, state, started_at, ended_at
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, &domain.StorageFatalError{Op: "list_sessions", Err: err}
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var sess domain.Session
		var startedAt string
		var endedAt sql.NullString
		var state string
		if err := rows.Scan(&sess.SessionID, &sess.Tool, &sess.Label, &state, &startedAt, &endedAt); err != nil {
			return nil, &domain.StorageFatalError{Op: "list_sessions_scan", Err: err}
		}
		sess.State = domain.SessionState(state)
		t, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, &domain.StorageFatalError{Op: "list_sessions_parse_time", Err: err}
		}
		sess.StartedAt = t
		if endedAt.Valid {
			et, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err == nil {
				sess.EndedAt = &et
			}
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageFatalError{Op: "list_sessions_iterate", Err: err}
	}
	return out, nil
}

// GetSession fetches a single session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, tool, label, state, started_at, ended_at
		FROM sessions WHERE session_id = ?`, sessionID)

	var sess domain.Session
	var startedAt string
	var endedAt sql.NullString
	var state string
	if err := row.Scan(&sess.SessionID, &sess.Tool, &sess.Label, &state, &startedAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, fmt.Errorf("session %s not found", sessionID)
		}
		return domain.Session{}, &domain.StorageFatalError{Op: "get_session", Err: err}
	}
	sess.State = domain.SessionState(state)
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return domain.Session{}, &domain.StorageFatalError{Op: "get_session_parse_time", Err: err}
	}
	sess.StartedAt = t
	if endedAt.Valid {
		et, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			sess.EndedAt = &et
		}
	}
	return sess, nil
}
