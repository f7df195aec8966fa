package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func seedPrompt(t *testing.T, s *Store, promptID, sessionID string, ttl int64) domain.PromptEvent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, domain.Session{
		SessionID: sessionID, Tool: "claude", StartedAt: time.Now(),
	}))
	p := domain.PromptEvent{
		PromptID:   promptID,
		SessionID:  sessionID,
		Nonce:      promptID + "-nonce",
		Type:       domain.PromptYesNo,
		Excerpt:    "Proceed? (y/n)",
		Confidence: domain.ConfidenceHigh,
		Signal:     domain.SignalPattern,
		CreatedAt:  time.Now(),
		TTLSeconds: ttl,
	}
	require.NoError(t, s.InsertPrompt(ctx, p))
	require.NoError(t, s.Transition(ctx, promptID, domain.PromptCreated, domain.PromptRouted))
	require.NoError(t, s.Transition(ctx, promptID, domain.PromptRouted, domain.PromptAwaitingReply))
	return p
}

func TestInsertPromptDuplicateNonce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, domain.Session{SessionID: "s1", Tool: "claude", StartedAt: time.Now()}))

	p := domain.PromptEvent{
		PromptID: "p1", SessionID: "s1", Nonce: "dup-nonce",
		Type: domain.PromptYesNo, Excerpt: "ok?", Confidence: domain.ConfidenceHigh,
		Signal: domain.SignalPattern, CreatedAt: time.Now(), TTLSeconds: 60,
	}
	require.NoError(t, s.InsertPrompt(ctx, p))

	p2 := p
	p2.PromptID = "p2"
	err := s.InsertPrompt(ctx, p2)
	var dne *domain.DuplicateNonceError
	require.True(t, errors.As(err, &dne))
}

func TestDecidePromptAcceptsFirstReplyOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "p1", "s1", 60)

	result, err := s.DecidePrompt(ctx, domain.Reply{
		PromptID: "p1", SessionID: "s1", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.CommitAccepted, result)

	result2, err2 := s.DecidePrompt(ctx, domain.Reply{
		PromptID: "p1", SessionID: "s1", Value: "n", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
	})
	require.Error(t, err2)
	require.Equal(t, domain.CommitAlreadyDecided, result2)
}

func TestDecidePromptConcurrentRepliesOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "p1", "s1", 60)

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]domain.CommitResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, _ := s.DecidePrompt(ctx, domain.Reply{
				PromptID: "p1", SessionID: "s1", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
			})
			results[i] = r
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r == domain.CommitAccepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
}

func TestDecidePromptAcceptsReplyWhileStillRouted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, domain.Session{SessionID: "s1", Tool: "claude", StartedAt: time.Now()}))
	p := domain.PromptEvent{
		PromptID: "p1", SessionID: "s1", Nonce: "p1-nonce",
		Type: domain.PromptYesNo, Excerpt: "Proceed? (y/n)", Confidence: domain.ConfidenceHigh,
		Signal: domain.SignalPattern, CreatedAt: time.Now(), TTLSeconds: 60,
	}
	require.NoError(t, s.InsertPrompt(ctx, p))
	require.NoError(t, s.Transition(ctx, "p1", domain.PromptCreated, domain.PromptRouted))

	// A reply can legitimately arrive before the post-deliver Transition
	// to AWAITING_REPLY has run; decide_prompt must still accept it
	// rather than discarding the human's only reply as already decided.
	result, err := s.DecidePrompt(ctx, domain.Reply{
		PromptID: "p1", SessionID: "s1", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.CommitAccepted, result)

	got, err := s.GetPrompt(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, domain.PromptReplyReceived, got.State)
}

func TestDecidePromptWrongSessionRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "p1", "s1", 60)

	result, err := s.DecidePrompt(ctx, domain.Reply{
		PromptID: "p1", SessionID: "other-session", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
	})
	require.Error(t, err)
	require.Equal(t, domain.CommitWrongSession, result)
}

func TestDecidePromptExpiredRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "p1", "s1", 0) // expires immediately

	time.Sleep(10 * time.Millisecond)
	result, err := s.DecidePrompt(ctx, domain.Reply{
		PromptID: "p1", SessionID: "s1", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now(),
	})
	require.Error(t, err)
	require.Equal(t, domain.CommitExpired, result)
}

func TestSweepExpiredTransitionsOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "expired", "s1", 0)
	seedPrompt(t, s, "fresh", "s2", 3600)

	time.Sleep(10 * time.Millisecond)
	ids, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"expired"}, ids)

	p, err := s.GetPrompt(ctx, "expired")
	require.NoError(t, err)
	require.Equal(t, domain.PromptExpired, p.State)

	fresh, err := s.GetPrompt(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, domain.PromptAwaitingReply, fresh.State)
}

func TestLoadPendingExcludesTerminalStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "pending", "s1", 3600)
	seedPrompt(t, s, "done", "s2", 3600)
	_, err := s.DecidePrompt(ctx, domain.Reply{PromptID: "done", SessionID: "s2", Value: "y", Source: domain.ReplyFromHuman, ReceivedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, "done", domain.PromptReplyReceived, domain.PromptInjected))
	require.NoError(t, s.Transition(ctx, "done", domain.PromptInjected, domain.PromptResolved))

	pending, err := s.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "pending", pending[0].PromptID)
}

func TestTransitionRejectsWrongFromState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPrompt(t, s, "p1", "s1", 60)

	err := s.Transition(ctx, "p1", domain.PromptCreated, domain.PromptRouted)
	var ite *domain.IllegalTransitionError
	require.True(t, errors.As(err, &ite))
}
