package autopilot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

type fakePolicy struct {
	decision domain.PolicyDecision
}

func (f fakePolicy) Evaluate(event domain.PromptEvent) domain.PolicyDecision {
	return f.decision
}

func newTestEngine(t *testing.T, pol PolicyProvider) *Engine {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	tracePath := filepath.Join(t.TempDir(), "decisions.jsonl")
	trace, err := auditlog.Open(tracePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trace.Close() })

	e, err := New(context.Background(), st, pol, trace, 10*time.Millisecond)
	require.NoError(t, err)
	return e
}

func TestOffModePassesThrough(t *testing.T) {
	e := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionAutoReply, ReplyValue: "y"}})
	v, err := e.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceHigh})
	require.NoError(t, err)
	require.Equal(t, VerdictPassThrough, v.Kind)
}

func TestAssistAutoReplySuggestsWithWindow(t *testing.T) {
	e := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionAutoReply, ReplyValue: "y", MatchedRuleID: "r1"}})
	require.NoError(t, e.SetMode(context.Background(), ModeAssist))

	v, err := e.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceHigh})
	require.NoError(t, err)
	require.Equal(t, VerdictSuggest, v.Kind)
	require.Equal(t, "y", v.ReplyValue)
	require.Greater(t, v.OverrideWindow, time.Duration(0))
}

func TestAssistDenyInjectsWithNoWindow(t *testing.T) {
	e := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionDeny, ReplyValue: "n", MatchedRuleID: "deny-1"}})
	require.NoError(t, e.SetMode(context.Background(), ModeAssist))

	v, err := e.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceHigh})
	require.NoError(t, err)
	require.Equal(t, VerdictInject, v.Kind)
	require.Equal(t, "n", v.ReplyValue)
	require.Equal(t, time.Duration(0), v.OverrideWindow)
}

func TestFullModeLowConfidenceRequiresHumanUnlessAllowed(t *testing.T) {
	e := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionAutoReply, ReplyValue: "y"}})
	require.NoError(t, e.SetMode(context.Background(), ModeFull))

	v, err := e.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceLow})
	require.NoError(t, err)
	require.Equal(t, VerdictPassThrough, v.Kind)

	e2 := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionAutoReply, ReplyValue: "y", AllowLowConfidence: true}})
	require.NoError(t, e2.SetMode(context.Background(), ModeFull))
	v2, err := e2.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceLow})
	require.NoError(t, err)
	require.Equal(t, VerdictInject, v2.Kind)
	require.True(t, v2.Notify)
}

func TestPauseOverridesModeRegardlessOfRuleMatch(t *testing.T) {
	e := newTestEngine(t, fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionAutoReply, ReplyValue: "y"}})
	require.NoError(t, e.SetMode(context.Background(), ModeFull))
	require.NoError(t, e.Pause(context.Background()))

	v, err := e.Decide(context.Background(), domain.PromptEvent{Confidence: domain.ConfidenceHigh})
	require.NoError(t, err)
	require.Equal(t, VerdictPassThrough, v.Kind)
}

func TestPauseSurvivesRestartViaStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	st := store.New(db)

	tracePath := filepath.Join(t.TempDir(), "decisions.jsonl")
	trace, err := auditlog.Open(tracePath)
	require.NoError(t, err)

	e, err := New(context.Background(), st, fakePolicy{}, trace, time.Second)
	require.NoError(t, err)
	require.NoError(t, e.SetMode(context.Background(), ModeFull))
	require.NoError(t, e.Pause(context.Background()))
	require.NoError(t, trace.Close())
	require.NoError(t, db.Close())

	db2, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db2.Close()
	st2 := store.New(db2)

	trace2, err := auditlog.Open(tracePath)
	require.NoError(t, err)
	defer trace2.Close()

	e2, err := New(context.Background(), st2, fakePolicy{}, trace2, time.Second)
	require.NoError(t, err)
	status := e2.Status()
	require.Equal(t, ModeFull, status.Mode)
	require.True(t, status.Paused)

	_ = os.Remove(dbPath)
}

func TestDecideWritesDecisionTrace(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tracePath := filepath.Join(t.TempDir(), "decisions.jsonl")
	trace, err := auditlog.Open(tracePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = trace.Close() })

	e, err := New(context.Background(), store.New(db), fakePolicy{decision: domain.PolicyDecision{Action: domain.ActionRequireHuman, MatchedRuleID: "", PolicyVersionHash: "abc123"}}, trace, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, e.SetMode(context.Background(), ModeAssist))

	_, err = e.Decide(context.Background(), domain.PromptEvent{PromptID: "p1", Excerpt: "Proceed?"})
	require.NoError(t, err)

	entries, err := auditlog.Read(tracePath)
	require.NoError(t, err)
	var found bool
	for _, entry := range entries {
		if entry.Kind == domain.EventAutopilotMatch && entry.PromptID == "p1" {
			require.Equal(t, "abc123", entry.Detail["policy_version_hash"])
			found = true
		}
	}
	require.True(t, found, "expected a decision trace entry for p1")
}
