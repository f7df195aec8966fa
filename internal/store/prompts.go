package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// Store is the durable prompt and session store backed by SQLite. All
// writes go through the single *sql.DB connection configured by OpenDB,
// so there is never more than one writer in flight.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertPrompt records a newly detected prompt in CREATED state. A
// duplicate nonce (the detector re-firing on the same byte run after a
// restart) is reported as a DuplicateNonceError rather than a generic
// SQL error so callers can treat it as an expected, non-fatal outcome.
func (s *Store) InsertPrompt(ctx context.Context, p domain.PromptEvent) error {
	err := RetryWithBackoff(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO prompts
				(prompt_id, session_id, nonce, prompt_type, excerpt, confidence,
				 signal, state, created_at, ttl_seconds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PromptID, p.SessionID, p.Nonce, string(p.Type), p.Excerpt, string(p.Confidence),
			string(p.Signal), string(domain.PromptCreated), p.CreatedAt.UTC().Format(time.RFC3339Nano), p.TTLSeconds,
		)
		return execErr
	})
	if err != nil {
		if IsUniqueConstraintErr(err) {
			return &domain.DuplicateNonceError{Nonce: p.Nonce}
		}
		return &domain.StorageFatalError{Op: "insert_prompt", Err: err}
	}
	return nil
}

// Transition moves a prompt from one non-terminal state to another,
// guarded by a WHERE clause on the expected current state so a
// concurrent writer can never silently clobber another transition.
// Callers are responsible for checking statemachine.IsLegal first; this
// only guards against the race, not the lifecycle rules.
func (s *Store) Transition(ctx context.Context, promptID string, from, to domain.PromptState) error {
	var res sql.Result
	err := RetryWithBackoff(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `
			UPDATE prompts SET state = ? WHERE prompt_id = ? AND state = ?`,
			string(to), promptID, string(from),
		)
		return execErr
	})
	if err != nil {
		return &domain.StorageFatalError{Op: "transition", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StorageFatalError{Op: "transition_rows_affected", Err: err}
	}
	if n == 0 {
		return &domain.IllegalTransitionError{PromptID: promptID, From: from, To: to}
	}
	return nil
}

// DecidePrompt is the atomic decision guard from spec.md §4.1: it
// commits a reply to a prompt only if the prompt is still ROUTED or
// AWAITING_REPLY, belongs to the session the reply claims, and has not
// expired — all in a single UPDATE so two concurrent replies (or a
// reply racing a TTL sweep) can never both win. ROUTED is a valid
// starting state because a reply can legitimately arrive before the
// post-deliver Transition to AWAITING_REPLY has run (redelivery during
// RecoverPending, or simply a race between Deliver returning and the
// follow-up Transition call).
func (s *Store) DecidePrompt(ctx context.Context, r domain.Reply) (domain.CommitResult, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	var res sql.Result
	err := RetryWithBackoff(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `
			UPDATE prompts
			SET state = ?, decided_at = ?, decision = ?, reply_source = ?, reply_identity = ?
			WHERE prompt_id = ?
			  AND session_id = ?
			  AND state IN (?, ?)
			  AND julianday(created_at, '+' || ttl_seconds || ' seconds') > julianday(?)`,
			string(domain.PromptReplyReceived), nowStr, r.Value, string(r.Source), r.Identity,
			r.PromptID, r.SessionID, string(domain.PromptRouted), string(domain.PromptAwaitingReply), nowStr,
		)
		return execErr
	})
	if err != nil {
		return domain.CommitUnknown, &domain.StorageFatalError{Op: "decide_prompt", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.CommitUnknown, &domain.StorageFatalError{Op: "decide_prompt_rows_affected", Err: err}
	}
	if n == 1 {
		return domain.CommitAccepted, nil
	}

	// The guarded UPDATE affected no rows: classify why with a read-only
	// follow-up query so the router can log a precise cause.
	result, classifyErr := s.classifyDecisionFailure(ctx, r, now)
	if classifyErr != nil {
		return domain.CommitUnknown, &domain.StorageFatalError{Op: "decide_prompt_classify", Err: classifyErr}
	}
	return result, &domain.DecisionGuardError{Result: result, PromptID: r.PromptID}
}

func (s *Store) classifyDecisionFailure(ctx context.Context, r domain.Reply, now time.Time) (domain.CommitResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, state, created_at, ttl_seconds
		FROM prompts WHERE prompt_id = ?`, r.PromptID)

	var sessionID, state, createdAt string
	var ttlSeconds int64
	if err := row.Scan(&sessionID, &state, &createdAt, &ttlSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CommitUnknown, nil
		}
		return domain.CommitUnknown, err
	}

	if sessionID != r.SessionID {
		return domain.CommitWrongSession, nil
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err == nil && now.After(created.Add(time.Duration(ttlSeconds)*time.Second)) {
		return domain.CommitExpired, nil
	}
	switch domain.PromptState(state) {
	case domain.PromptRouted, domain.PromptAwaitingReply:
		// Still in a pre-decision state: the guarded UPDATE must have
		// failed for a reason not modeled above (e.g. a concurrent
		// writer moved the row between the read here and the guard's
		// own evaluation). No decision was made; don't claim one.
		return domain.CommitUnknown, nil
	default:
		return domain.CommitAlreadyDecided, nil
	}
}

// LoadPending returns every prompt not yet in a terminal state, ordered
// by creation time, for restart recovery (§4.1 load_pending).
func (s *Store) LoadPending(ctx context.Context) ([]domain.PromptEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt_id, session_id, nonce, prompt_type, excerpt, confidence,
		       signal, state, created_at, ttl_seconds
		FROM prompts
		WHERE state NOT IN (?, ?, ?, ?)
		ORDER BY created_at ASC`,
		string(domain.PromptResolved), string(domain.PromptExpired),
		string(domain.PromptCanceled), string(domain.PromptFailed),
	)
	if err != nil {
		return nil, &domain.StorageFatalError{Op: "load_pending", Err: err}
	}
	defer rows.Close()

	var out []domain.PromptEvent
	for rows.Next() {
		var p domain.PromptEvent
		var createdAt, ptype, confidence, signal, state string
		if err := rows.Scan(&p.PromptID, &p.SessionID, &p.Nonce, &ptype, &p.Excerpt, &confidence,
			&signal, &state, &createdAt, &p.TTLSeconds); err != nil {
			return nil, &domain.StorageFatalError{Op: "load_pending_scan", Err: err}
		}
		p.Type = domain.PromptType(ptype)
		p.Confidence = domain.Confidence(confidence)
		p.Signal = domain.Signal(signal)
		p.State = domain.PromptState(state)
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, &domain.StorageFatalError{Op: "load_pending_parse_time", Err: err}
		}
		p.CreatedAt = t
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageFatalError{Op: "load_pending_iterate", Err: err}
	}
	return out, nil
}

// SweepExpired transitions every ROUTED or AWAITING_REPLY prompt whose
// TTL has elapsed into EXPIRED, returning the prompt IDs moved so the
// caller can notify the channel and write an audit entry for each.
func (s *Store) SweepExpired(ctx context.Context) ([]string, error) {
	nowStr := time.Now().UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt_id FROM prompts
		WHERE state IN (?, ?)
		  AND julianday(created_at, '+' || ttl_seconds || ' seconds') <= julianday(?)`,
		string(domain.PromptRouted), string(domain.PromptAwaitingReply), nowStr,
	)
	if err != nil {
		return nil, &domain.StorageFatalError{Op: "sweep_expired_select", Err: err}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &domain.StorageFatalError{Op: "sweep_expired_scan", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &domain.StorageFatalError{Op: "sweep_expired_iterate", Err: err}
	}
	rows.Close()

	for _, id := range ids {
		err := RetryWithBackoff(ctx, func() error {
			res, execErr := s.db.ExecContext(ctx, `
				UPDATE prompts SET state = ?
				WHERE prompt_id = ? AND state IN (?, ?)
				  AND julianday(created_at, '+' || ttl_seconds || ' seconds') <= julianday(?)`,
				string(domain.PromptExpired), id, string(domain.PromptRouted), string(domain.PromptAwaitingReply), nowStr,
			)
			if execErr != nil {
				return execErr
			}
			_, execErr = res.RowsAffected()
			return execErr
		})
		if err != nil {
			return nil, &domain.StorageFatalError{Op: fmt.Sprintf("sweep_expired_update(%s)", id), Err: err}
		}
	}
	return ids, nil
}

// GetPrompt fetches a single prompt by ID.
func (s *Store) GetPrompt(ctx context.Context, promptID string) (domain.PromptEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT prompt_id, session_id, nonce, prompt_type, excerpt, confidence,
		       signal, state, created_at, ttl_seconds
		FROM prompts WHERE prompt_id = ?`, promptID)

	var p domain.PromptEvent
	var createdAt, ptype, confidence, signal, state string
	if err := row.Scan(&p.PromptID, &p.SessionID, &p.Nonce, &ptype, &p.Excerpt, &confidence,
		&signal, &state, &createdAt, &p.TTLSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PromptEvent{}, fmt.Errorf("prompt %s not found", promptID)
		}
		return domain.PromptEvent{}, &domain.StorageFatalError{Op: "get_prompt", Err: err}
	}
	p.Type = domain.PromptType(ptype)
	p.Confidence = domain.Confidence(confidence)
	p.Signal = domain.Signal(signal)
	p.State = domain.PromptState(state)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return domain.PromptEvent{}, &domain.StorageFatalError{Op: "get_prompt_parse_time", Err: err}
	}
	p.CreatedAt = t
	return p, nil
}
