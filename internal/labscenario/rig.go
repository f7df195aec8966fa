package labscenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/adapter"
	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/channel"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/router"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// recordingInjector stands in for *ptycore.Supervisor: it records the
// bytes the router would have written to a real child's stdin.
type recordingInjector struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordingInjector) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (r *recordingInjector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// countingSuppressor stands in for *detector.Detector's post-injection
// suppression window.
type countingSuppressor struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSuppressor) Suppress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *countingSuppressor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// rig bundles one scenario's isolated stack: an in-memory store, a
// temp-file audit log, a loopback channel, and recording fakes for the
// injector and suppressor.
type rig struct {
	router     *router.Router
	st         *store.Store
	auditPath  string
	loop       *channel.Loopback
	injector   *recordingInjector
	suppressor *countingSuppressor
	closers    []func() error
}

func newRig(ap *autopilot.Engine) (*rig, error) {
	db, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st := store.New(db)
	if err := st.CreateSession(context.Background(), domain.Session{SessionID: "sess-1", Tool: "generic", StartedAt: time.Now()}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	auditPath := filepath.Join(os.TempDir(), fmt.Sprintf("atlasbridge-lab-audit-%d.log", time.Now().UnixNano()))
	audit, err := auditlog.Open(auditPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	ad, err := adapter.Lookup("generic")
	if err != nil {
		_ = db.Close()
		_ = audit.Close()
		return nil, fmt.Errorf("lookup generic adapter: %w", err)
	}

	loop := channel.NewLoopback()
	inj := &recordingInjector{}
	sup := &countingSuppressor{}

	r := router.New(router.Config{
		Store:          st,
		Audit:          audit,
		Channel:        loop,
		Adapter:        ad,
		Autopilot:      ap,
		Injector:       inj,
		Suppressor:     sup,
		Allowlist:      []string{"operator"},
		DefaultTTLSecs: 60,
	})

	rg := &rig{
		router:     r,
		st:         st,
		auditPath:  auditPath,
		loop:       loop,
		injector:   inj,
		suppressor: sup,
	}
	rg.closers = append(rg.closers, audit.Close, db.Close, func() error { return os.Remove(auditPath) })
	return rg, nil
}

func (rg *rig) close() {
	for i := len(rg.closers) - 1; i >= 0; i-- {
		_ = rg.closers[i]()
	}
}

func newAutopilotEngine(mode autopilot.Mode, pol autopilot.PolicyProvider, window time.Duration) (*autopilot.Engine, func(), error) {
	db, err := store.Open(":memory:")
	if err != nil {
		return nil, nil, fmt.Errorf("open autopilot store: %w", err)
	}
	st := store.New(db)

	tracePath := filepath.Join(os.TempDir(), fmt.Sprintf("atlasbridge-lab-trace-%d.jsonl", time.Now().UnixNano()))
	trace, err := auditlog.Open(tracePath)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open decision trace: %w", err)
	}

	e, err := autopilot.New(context.Background(), st, pol, trace, window)
	if err != nil {
		_ = db.Close()
		_ = trace.Close()
		return nil, nil, fmt.Errorf("construct autopilot engine: %w", err)
	}
	if err := e.SetMode(context.Background(), mode); err != nil {
		_ = db.Close()
		_ = trace.Close()
		return nil, nil, fmt.Errorf("set autopilot mode: %w", err)
	}

	cleanup := func() {
		_ = trace.Close()
		_ = db.Close()
		_ = os.Remove(tracePath)
	}
	return e, cleanup, nil
}

func yesNoEvent(promptID, sessionID string) domain.PromptEvent {
	return domain.PromptEvent{
		PromptID:   promptID,
		SessionID:  sessionID,
		Nonce:      "nonce-" + promptID,
		Type:       domain.PromptYesNo,
		Excerpt:    "Overwrite existing file? [y/n]",
		Confidence: domain.ConfidenceHigh,
		Signal:     domain.SignalPattern,
	}
}

func expect(cond bool, format string, args ...interface{}) error {
	if !cond {
		return fmt.Errorf(format, args...)
	}
	return nil
}
