// Package session tracks active supervised child runs: the in-memory
// registry the daemon consults to route output to the right detector
// and PTY, backed by the durable sessions table in internal/store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// Handle is one active session's in-memory bookkeeping: the durable
// record plus whatever the daemon needs to tear it down cleanly.
type Handle struct {
	domain.Session

	Cancel context.CancelFunc
}

// Manager is the daemon's session registry. CreateSession/EndSession
// keep the durable store and the in-memory map in lockstep; List/Get
// read the in-memory map since it always reflects what the daemon is
// actually supervising right now.
type Manager struct {
	mu     sync.RWMutex
	st     *store.Store
	active map[string]*Handle
}

// NewManager constructs an empty registry. Restart recovery (re-listing
// sessions left ACTIVE from a previous run) is the daemon's
// responsibility, not this constructor's — an ended-but-not-marked
// session should surface as a doctor warning, not silently resume.
func NewManager(st *store.Store) *Manager {
	return &Manager{st: st, active: make(map[string]*Handle)}
}

// Start registers a new session: generates a session id, persists the
// row, and tracks it as active with its cancellation function. cancel
// should tear down the session's PTY supervisor and peer tasks when
// called; the router/daemon owns constructing that closure.
func (m *Manager) Start(ctx context.Context, tool, label string, cancel context.CancelFunc) (*Handle, error) {
	id := ulid.Make().String()
	now := time.Now().UTC()
	rec := domain.Session{
		SessionID: id,
		Tool:      tool,
		Label:     label,
		StartedAt: now,
		State:     domain.SessionActive,
	}
	if err := m.st.CreateSession(ctx, rec); err != nil {
		return nil, err
	}

	h := &Handle{Session: rec, Cancel: cancel}
	m.mu.Lock()
	m.active[id] = h
	m.mu.Unlock()
	return h, nil
}

// End marks a session ended in the store and drops it from the active
// registry. It is idempotent: ending an already-ended or unknown
// session is not an error, since the child exit path and a signal
// handler can race to call it.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	if err := m.st.EndSession(ctx, sessionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	return nil
}

// Get returns the in-memory handle for an active session.
func (m *Manager) Get(sessionID string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.active[sessionID]
	return h, ok
}

// List returns every currently active session, ordered by no
// particular guarantee (callers that need order should sort).
func (m *Manager) List() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		out = append(out, h)
	}
	return out
}

// ListPersisted delegates to the store for `atlasbridge sessions`,
// which reports both active and recently ended sessions.
func (m *Manager) ListPersisted(ctx context.Context) ([]domain.Session, error) {
	return m.st.ListSessions(ctx)
}

// Shutdown cancels every active session's context, for daemon stop.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		if h.Cancel != nil {
			h.Cancel()
		}
	}
}

// MustExist returns an error string suitable for CLI output when a
// session id isn't currently active (e.g. `atlasbridge sessions` asked
// about one that already ended).
func MustExist(sessionID string, ok bool) error {
	if ok {
		return nil
	}
	return fmt.Errorf("session %q is not active", sessionID)
}
