package router

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/adapter"
	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/channel"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// recordingInjector is a fake Injector that records every write for
// assertions, standing in for *ptycore.Supervisor.
type recordingInjector struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordingInjector) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]byte(nil), p...)
	r.writes = append(r.writes, cp)
	return len(p), nil
}

func (r *recordingInjector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// countingSuppressor is a fake Suppressor, standing in for
// *detector.Detector.
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

type harness struct {
	r          *Router
	st         *store.Store
	auditPath  string
	loop       *channel.Loopback
	injector   *recordingInjector
	suppressor *countingSuppressor
	clock      time.Time
}

func newHarness(t *testing.T, ap *autopilot.Engine) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	require.NoError(t, st.CreateSession(context.Background(), domain.Session{SessionID: "sess-1", Tool: "generic", StartedAt: time.Now()}))

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	audit, err := auditlog.Open(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	loop := channel.NewLoopback()
	inj := &recordingInjector{}
	sup := &countingSuppressor{}

	ad, err := adapter.Lookup("generic")
	require.NoError(t, err)

	h := &harness{st: st, auditPath: auditPath, loop: loop, injector: inj, suppressor: sup, clock: time.Now().UTC()}

	r := New(Config{
		Store:          st,
		Audit:          audit,
		Channel:        loop,
		Adapter:        ad,
		Autopilot:      ap,
		Injector:       inj,
		Suppressor:     sup,
		Allowlist:      []string{"operator"},
		DefaultTTLSecs: 60,
		Clock:          func() time.Time { return h.clock },
	})
	h.r = r
	return h
}

func (h *harness) auditKinds(t *testing.T, promptID string) []domain.AuditEventKind {
	t.Helper()
	entries, err := auditlog.Read(h.auditPath)
	require.NoError(t, err)
	var out []domain.AuditEventKind
	for _, e := range entries {
		if e.PromptID == promptID {
			out = append(out, e.Kind)
		}
	}
	return out
}

// yesNoEvent builds a test prompt event with an explicit nonce: Route
// only fills in PromptID/Nonce when they arrive empty, and the test
// needs to know the nonce up front to drive InjectReply.
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

// Scenario 1: a normal prompt is routed, a human replies, and the
// prompt reaches RESOLVED with the reply bytes written to the child.
func TestScenarioHappyPathResolvesPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	event := yesNoEvent("p-1", "sess-1")
	require.NoError(t, h.r.Route(ctx, event))

	_, delivered := h.loop.Delivered("p-1")
	require.True(t, delivered)

	require.NoError(t, h.loop.InjectReply("p-1", event.Nonce, "operator", "y"))

	got, err := h.st.GetPrompt(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, domain.PromptResolved, got.State)
	require.Equal(t, 1, h.injector.count())
}

// Scenario 2: echo loop. Injecting a reply suppresses the detector
// exactly once so the child's echo of the injected bytes never creates
// a second prompt.
func TestScenarioInjectionSuppressesEchoLoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	event := yesNoEvent("p-2", "sess-1")
	require.NoError(t, h.r.Route(ctx, event))
	require.NoError(t, h.loop.InjectReply("p-2", event.Nonce, "operator", "y"))

	require.Equal(t, 1, h.suppressor.count())
}

// Scenario 3: duplicate callback. The same reply delivered twice (a
// retried webhook, say) must only ever produce one accepted decision
// and one injection.
func TestScenarioDuplicateCallbackIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	event := yesNoEvent("p-3", "sess-1")
	require.NoError(t, h.r.Route(ctx, event))

	require.NoError(t, h.loop.InjectReply("p-3", event.Nonce, "operator", "y"))
	require.NoError(t, h.loop.InjectReply("p-3", event.Nonce, "operator", "y"))

	require.Equal(t, 1, h.injector.count())

	kinds := h.auditKinds(t, "p-3")
	injectedCount := 0
	for _, k := range kinds {
		if k == domain.EventPromptInjected {
			injectedCount++
		}
	}
	require.Equal(t, 1, injectedCount)
}

// Scenario 4: TTL expiry. A prompt whose TTL has elapsed is swept to
// EXPIRED, and a late reply is rejected with a channel notice rather
// than silently discarded.
func TestScenarioTTLExpirySweepsAndNotifiesLateReply(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// SweepExpired classifies expiry against real wall-clock time, not
	// the router's injectable Clock, so the prompt is seeded directly
	// in the store with a created_at far enough in the past that its
	// 1-second TTL has already elapsed.
	event := yesNoEvent("p-4", "sess-1")
	event.TTLSeconds = 1
	event.CreatedAt = time.Now().Add(-10 * time.Second)
	event.State = domain.PromptCreated
	require.NoError(t, h.st.InsertPrompt(ctx, event))
	require.NoError(t, h.st.Transition(ctx, "p-4", domain.PromptCreated, domain.PromptRouted))
	require.NoError(t, h.st.Transition(ctx, "p-4", domain.PromptRouted, domain.PromptAwaitingReply))

	ids, err := h.st.SweepExpired(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, "p-4")

	got, err := h.st.GetPrompt(ctx, "p-4")
	require.NoError(t, err)
	require.Equal(t, domain.PromptExpired, got.State)

	require.NoError(t, h.loop.InjectReply("p-4", event.Nonce, "operator", "y"))
	require.Equal(t, 0, h.injector.count())

	notice, ok := h.loop.Delivered("p-4")
	require.True(t, ok)
	require.Contains(t, notice.Excerpt, "expired")
}

// Scenario 5: restart crash-consistency. A prompt stuck in ROUTED (as
// if the daemon crashed before the channel delivery completed) is
// redelivered by RecoverPending without any duplicate effect once the
// human eventually replies.
func TestScenarioRestartRecoversPendingPrompt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	event := yesNoEvent("p-5", "sess-1")
	event.Nonce = "nonce-5"
	event.CreatedAt = h.clock
	event.TTLSeconds = 60
	event.State = domain.PromptCreated
	require.NoError(t, h.st.InsertPrompt(ctx, event))
	require.NoError(t, h.st.Transition(ctx, "p-5", domain.PromptCreated, domain.PromptRouted))

	_, delivered := h.loop.Delivered("p-5")
	require.False(t, delivered)

	require.NoError(t, h.r.RecoverPending(ctx))

	_, delivered = h.loop.Delivered("p-5")
	require.True(t, delivered)

	got, err := h.st.GetPrompt(ctx, "p-5")
	require.NoError(t, err)
	require.Equal(t, domain.PromptAwaitingReply, got.State)

	require.NoError(t, h.loop.InjectReply("p-5", "nonce-5", "operator", "y"))
	require.Equal(t, 1, h.injector.count())

	// A second recovery pass after the prompt resolved must not
	// redeliver or reinject.
	require.NoError(t, h.r.RecoverPending(ctx))
	require.Equal(t, 1, h.injector.count())
}

type fixedPolicy struct {
	decision domain.PolicyDecision
}

func (f fixedPolicy) Evaluate(event domain.PromptEvent) domain.PolicyDecision {
	return f.decision
}

// Scenario 6: autopilot deny. A deny rule match injects a synthetic
// negative reply immediately, with no channel round trip for the
// decision itself, and the audit trail records the autopilot as the
// reply's source and which rule matched.
func TestScenarioAutopilotDenyInjectsImmediately(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	require.NoError(t, st.CreateSession(context.Background(), domain.Session{SessionID: "sess-1", Tool: "generic", StartedAt: time.Now()}))

	tracePath := filepath.Join(t.TempDir(), "decisions.jsonl")
	trace, err := auditlog.Open(tracePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trace.Close() })

	pol := fixedPolicy{decision: domain.PolicyDecision{
		Action:        domain.ActionDeny,
		ReplyValue:    "n",
		MatchedRuleID: "deny-force-push",
	}}
	ap, err := autopilot.New(context.Background(), st, pol, trace, time.Second)
	require.NoError(t, err)
	require.NoError(t, ap.SetMode(context.Background(), autopilot.ModeAssist))

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	audit, err := auditlog.Open(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	loop := channel.NewLoopback()
	inj := &recordingInjector{}
	sup := &countingSuppressor{}

	ad, err := adapter.Lookup("generic")
	require.NoError(t, err)

	r := New(Config{
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

	event := domain.PromptEvent{
		PromptID:   "p-6",
		SessionID:  "sess-1",
		Type:       domain.PromptYesNo,
		Excerpt:    "git push --force origin main? [y/n]",
		Confidence: domain.ConfidenceHigh,
	}
	require.NoError(t, r.Route(context.Background(), event))

	require.Equal(t, 1, inj.count())
	require.Equal(t, []byte("n\n"), inj.writes[0])

	got, err := st.GetPrompt(context.Background(), "p-6")
	require.NoError(t, err)
	require.Equal(t, domain.PromptResolved, got.State)

	entries, err := auditlog.Read(auditPath)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Kind == domain.EventPromptDecided && e.PromptID == "p-6" {
			require.Equal(t, "autopilot", e.Detail["source"])
			require.Equal(t, "deny-force-push", e.Detail["matched_rule"])
			found = true
		}
	}
	require.True(t, found, "expected a prompt.reply_received audit entry sourced from autopilot")

	// Deny notifies the channel with a non-blocking notice.
	notice, ok := loop.Delivered("p-6")
	require.True(t, ok)
	require.Contains(t, notice.Excerpt, "deny-force-push")
}
