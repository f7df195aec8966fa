// Package router couples detector output to the channel, and channel
// replies back to the reply injector, without ever bypassing the
// store's atomic decision guard (spec.md §4.8). It is the one
// component that touches store, channel, adapter, and autopilot
// together; every other package only knows its own slice.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atlasbridge/atlasbridge/internal/adapter"
	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/channel"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// Injector writes encoded reply bytes to the supervised child's stdin
// (satisfied by *ptycore.Supervisor).
type Injector interface {
	Write(p []byte) (int, error)
}

// Suppressor starts the detector's post-injection suppression window
// (satisfied by *detector.Detector).
type Suppressor interface {
	Suppress()
}

// Clock abstracts time.Now for deterministic restart/TTL tests.
type Clock func() time.Time

// Router is the central coupling component for one session. A daemon
// supervising multiple sessions runs one Router per session, all
// sharing the same *store.Store and *auditlog.Log (the store's single
// writer connection is the serialization point across sessions).
type Router struct {
	st           *store.Store
	audit        *auditlog.Log
	channel      channel.Channel
	adapter      adapter.Adapter
	autopilot    *autopilot.Engine // nil means Off
	injector     Injector
	suppress     Suppressor
	allowlist    []string
	defaultTTL   int64
	clock        Clock
	toolID       string
	sessionLabel string
}

// Config constructs a Router. Autopilot may be nil (Off mode, per
// spec.md §4.10: "the engine is not instantiated; the router goes
// directly to the channel").
type Config struct {
	Store          *store.Store
	Audit          *auditlog.Log
	Channel        channel.Channel
	Adapter        adapter.Adapter
	Autopilot      *autopilot.Engine
	Injector       Injector
	Suppressor     Suppressor
	Allowlist      []string
	DefaultTTLSecs int64
	Clock          Clock
	// ToolID and SessionLabel identify this router's single session for
	// policy rule matching (spec.md §4.10); stamped onto every event
	// before it reaches the policy evaluator.
	ToolID       string
	SessionLabel string
}

// New constructs a Router and registers it as the channel's reply callback.
func New(cfg Config) *Router {
	ttl := cfg.DefaultTTLSecs
	if ttl <= 0 {
		ttl = 60
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &Router{
		st:           cfg.Store,
		audit:        cfg.Audit,
		channel:      cfg.Channel,
		adapter:      cfg.Adapter,
		autopilot:    cfg.Autopilot,
		injector:     cfg.Injector,
		suppress:     cfg.Suppressor,
		allowlist:    cfg.Allowlist,
		defaultTTL:   ttl,
		clock:        clock,
		toolID:       cfg.ToolID,
		sessionLabel: cfg.SessionLabel,
	}
	r.channel.OnReply(r.HandleReply)
	return r
}

// Route is the forward path: a freshly detected prompt enters here.
// event.PromptID/Nonce/TTLSeconds are filled in if unset; CreatedAt,
// State, ToolID and SessionLabel are always set by the router.
func (r *Router) Route(ctx context.Context, event domain.PromptEvent) error {
	if event.PromptID == "" {
		event.PromptID = ulid.Make().String()
	}
	if event.Nonce == "" {
		event.Nonce = ulid.Make().String()
	}
	if event.TTLSeconds <= 0 {
		event.TTLSeconds = r.defaultTTL
	}
	event.CreatedAt = r.clock()
	event.State = domain.PromptCreated
	event.ToolID = r.toolID
	event.SessionLabel = r.sessionLabel

	if err := r.st.InsertPrompt(ctx, event); err != nil {
		return err
	}
	r.auditAppend(domain.EventPromptCreated, event.PromptID, event.SessionID, nil)

	if err := r.st.Transition(ctx, event.PromptID, domain.PromptCreated, domain.PromptRouted); err != nil {
		return err
	}
	event.State = domain.PromptRouted
	r.auditAppend(domain.EventPromptRouted, event.PromptID, event.SessionID, nil)

	if r.autopilot != nil {
		verdict, err := r.autopilot.Decide(ctx, event)
		if err != nil {
			return err
		}
		switch verdict.Kind {
		case autopilot.VerdictInject:
			return r.autopilotInject(ctx, event, verdict)
		case autopilot.VerdictSuggest:
			return r.autopilotSuggest(ctx, event, verdict)
		case autopilot.VerdictPassThrough:
			// fall through to normal channel delivery
		}
	}

	return r.deliver(ctx, event)
}

// deliver performs ROUTED -> channel.Deliver -> AWAITING_REPLY, the
// tail of the forward path shared by Route, autopilotSuggest, and
// restart recovery.
func (r *Router) deliver(ctx context.Context, event domain.PromptEvent) error {
	_, err := r.channel.Deliver(ctx, event, r.allowlist)
	if err != nil {
		_ = r.st.Transition(ctx, event.PromptID, domain.PromptRouted, domain.PromptFailed)
		r.auditAppend(domain.EventPromptFailed, event.PromptID, event.SessionID, map[string]string{"reason": err.Error()})
		return &domain.ChannelPermanentError{Channel: r.channel.Name(), Err: err}
	}
	if event.State == domain.PromptRouted {
		if err := r.st.Transition(ctx, event.PromptID, domain.PromptRouted, domain.PromptAwaitingReply); err != nil {
			return err
		}
	}
	r.auditAppend(domain.EventPromptAwaiting, event.PromptID, event.SessionID, nil)
	return nil
}

// autopilotInject handles Full-mode auto_reply/deny and Assist-mode
// deny: the synthetic reply goes straight through decide_prompt with
// no channel round trip, still arbitrated atomically like any other
// reply (spec.md §8 scenario 6).
func (r *Router) autopilotInject(ctx context.Context, event domain.PromptEvent, v autopilot.Verdict) error {
	if adapter.RejectsUnsafeDefault(event.Type, v.ReplyValue, domain.ReplyFromAutopilot, v.MatchedRuleID != "") {
		return r.deliver(ctx, event)
	}
	if err := r.st.Transition(ctx, event.PromptID, domain.PromptRouted, domain.PromptAwaitingReply); err != nil {
		return err
	}
	r.auditAppend(domain.EventPromptAwaiting, event.PromptID, event.SessionID, nil)

	result, _ := r.st.DecidePrompt(ctx, domain.Reply{
		PromptID:   event.PromptID,
		SessionID:  event.SessionID,
		Value:      v.ReplyValue,
		Source:     domain.ReplyFromAutopilot,
		Identity:   "autopilot:" + v.MatchedRuleID,
		ReceivedAt: r.clock(),
	})
	if result != domain.CommitAccepted {
		// A human reply raced in first; their reply already won
		// through decide_prompt's atomic guard, so there is nothing
		// left for the autopilot's synthetic reply to do.
		return nil
	}
	r.auditAppend(domain.EventPromptDecided, event.PromptID, event.SessionID, map[string]string{
		"source": string(domain.ReplyFromAutopilot), "matched_rule": v.MatchedRuleID, "action": string(v.Action),
	})

	if v.Notify {
		_, _ = r.channel.Deliver(ctx, noticeEvent(event, fmt.Sprintf("autopilot auto-replied %q (rule %s)", v.ReplyValue, v.MatchedRuleID)), r.allowlist)
	}

	return r.inject(ctx, event.PromptID, event.SessionID, event.Type, v.ReplyValue)
}

// autopilotSuggest delivers the prompt to the channel normally (so the
// human can confirm or override), then races a deferred synthetic
// reply against whatever the human sends: decide_prompt's atomic guard
// ensures only the first of the two wins, which implements confirm,
// override, and timeout with the same code path (spec.md §4.10).
func (r *Router) autopilotSuggest(ctx context.Context, event domain.PromptEvent, v autopilot.Verdict) error {
	if err := r.deliver(ctx, event); err != nil {
		return err
	}
	go func() {
		timer := time.NewTimer(v.OverrideWindow)
		defer timer.Stop()
		<-timer.C
		result, err := r.st.DecidePrompt(context.Background(), domain.Reply{
			PromptID:   event.PromptID,
			SessionID:  event.SessionID,
			Value:      v.ReplyValue,
			Source:     domain.ReplyFromAutopilot,
			Identity:   "autopilot:" + v.MatchedRuleID,
			ReceivedAt: r.clock(),
		})
		if err != nil || result != domain.CommitAccepted {
			return
		}
		r.auditAppend(domain.EventPromptDecided, event.PromptID, event.SessionID, map[string]string{
			"source": string(domain.ReplyFromAutopilot), "matched_rule": v.MatchedRuleID, "action": string(v.Action), "reason": "override_window_elapsed",
		})
		_ = r.inject(context.Background(), event.PromptID, event.SessionID, event.Type, v.ReplyValue)
	}()
	return nil
}

// HandleReply is the return path: registered as the channel's
// ReplyCallback (spec.md §4.8).
func (r *Router) HandleReply(promptID, nonce, identity, replyValue string) {
	ctx := context.Background()

	p, err := r.st.GetPrompt(ctx, promptID)
	if err != nil {
		r.auditAppend(domain.EventChannelDropped, promptID, "", map[string]string{"reason": "unknown_prompt_id"})
		return
	}
	if p.Nonce != nonce {
		r.auditAppend(domain.EventChannelDropped, promptID, p.SessionID, map[string]string{"reason": "nonce_mismatch"})
		return
	}
	if !channel.IsAllowed(identity, r.allowlist) {
		r.auditAppend(domain.EventChannelDropped, promptID, p.SessionID, map[string]string{"reason": "identity_not_allowlisted", "identity": identity})
		return
	}

	result, _ := r.st.DecidePrompt(ctx, domain.Reply{
		PromptID:   promptID,
		SessionID:  p.SessionID,
		Value:      replyValue,
		Source:     domain.ReplyFromHuman,
		Identity:   identity,
		ReceivedAt: r.clock(),
	})

	switch result {
	case domain.CommitAccepted:
		r.auditAppend(domain.EventPromptDecided, promptID, p.SessionID, map[string]string{"source": string(domain.ReplyFromHuman), "identity": identity})
		_ = r.inject(ctx, promptID, p.SessionID, p.Type, replyValue)
	case domain.CommitAlreadyDecided:
		// idempotent: the first reply already won, discard silently.
	case domain.CommitExpired:
		_, _ = r.channel.Deliver(ctx, noticeEvent(p, "this prompt has expired"), r.allowlist)
	case domain.CommitWrongSession:
		r.auditAppend(domain.EventChannelDropped, promptID, p.SessionID, map[string]string{"reason": "wrong_session"})
	default:
		r.auditAppend(domain.EventChannelDropped, promptID, p.SessionID, map[string]string{"reason": "unknown_commit_result"})
	}
}

// inject writes the encoded reply to the child's terminal and drives
// REPLY_RECEIVED -> INJECTED -> RESOLVED, suppressing the detector so
// the child's echo of the injected bytes never creates a second prompt
// (spec.md §8 scenario 2).
func (r *Router) inject(ctx context.Context, promptID, sessionID string, promptType domain.PromptType, replyValue string) error {
	if err := r.st.Transition(ctx, promptID, domain.PromptReplyReceived, domain.PromptInjected); err != nil {
		return err
	}

	encoded, err := r.adapter.Encode(promptType, replyValue)
	if err != nil {
		_ = r.st.Transition(ctx, promptID, domain.PromptInjected, domain.PromptFailed)
		r.auditAppend(domain.EventPromptFailed, promptID, sessionID, map[string]string{"reason": "encode: " + err.Error()})
		return &domain.InjectionFailedError{PromptID: promptID, Err: err}
	}

	if _, err := r.injector.Write(encoded); err != nil {
		_ = r.st.Transition(ctx, promptID, domain.PromptInjected, domain.PromptFailed)
		r.auditAppend(domain.EventPromptFailed, promptID, sessionID, map[string]string{"reason": "write: " + err.Error()})
		return &domain.InjectionFailedError{PromptID: promptID, Err: err}
	}
	if r.suppress != nil {
		r.suppress.Suppress()
	}
	r.auditAppend(domain.EventPromptInjected, promptID, sessionID, nil)

	if err := r.st.Transition(ctx, promptID, domain.PromptInjected, domain.PromptResolved); err != nil {
		return err
	}
	r.auditAppend(domain.EventPromptResolved, promptID, sessionID, nil)
	return nil
}

// RecoverPending implements restart crash-consistency (spec.md §8
// scenario 5): sweep anything whose TTL elapsed while the daemon was
// down, then re-attempt delivery for everything still non-terminal.
// Duplicate deliveries are tolerated because decide_prompt remains
// atomic across the restart.
func (r *Router) RecoverPending(ctx context.Context) error {
	if _, err := r.st.SweepExpired(ctx); err != nil {
		return err
	}
	pending, err := r.st.LoadPending(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		_ = r.recoverOne(ctx, p)
	}
	return nil
}

func (r *Router) recoverOne(ctx context.Context, p domain.PromptEvent) error {
	switch p.State {
	case domain.PromptCreated:
		if err := r.st.Transition(ctx, p.PromptID, domain.PromptCreated, domain.PromptRouted); err != nil {
			return err
		}
		p.State = domain.PromptRouted
		return r.deliver(ctx, p)
	case domain.PromptRouted, domain.PromptAwaitingReply:
		return r.deliver(ctx, p)
	default:
		return nil
	}
}

func (r *Router) auditAppend(kind domain.AuditEventKind, promptID, sessionID string, detail map[string]string) {
	_ = r.audit.Append(auditlog.Entry{Kind: kind, PromptID: promptID, SessionID: sessionID, Detail: detail})
}

func noticeEvent(p domain.PromptEvent, text string) domain.PromptEvent {
	return domain.PromptEvent{
		PromptID:  p.PromptID,
		SessionID: p.SessionID,
		Type:      domain.PromptFreeText,
		Excerpt:   text,
		Nonce:     p.Nonce,
	}
}
