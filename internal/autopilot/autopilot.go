// Package autopilot implements the policy-driven engine that may
// short-circuit the human step of the prompt relay. Structurally it is
// grounded on rcourtman-Pulse's internal/ai/circuit.Breaker: a small
// state machine guarded by one mutex, carrying a status snapshot and an
// onStateChange callback, except the states here are {Off, Assist,
// Full} crossed with {paused, active} rather than {closed, open,
// half-open}, and there is no automatic recovery timer — only an
// explicit pause/resume kill switch.
package autopilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// Mode is one of the three autopilot operating modes.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeAssist Mode = "assist"
	ModeFull   Mode = "full"
)

func (m Mode) valid() bool {
	switch m {
	case ModeOff, ModeAssist, ModeFull:
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of the engine's configuration.
type Status struct {
	Mode   Mode
	Paused bool
}

// VerdictKind tells the router what to do with the autopilot's output.
type VerdictKind string

const (
	// VerdictPassThrough means the router should treat this prompt as
	// if autopilot were Off: send straight to the channel.
	VerdictPassThrough VerdictKind = "pass_through"
	// VerdictSuggest means Assist mode matched auto_reply: send a
	// suggestion via the channel with an override window before
	// injecting the suggested reply.
	VerdictSuggest VerdictKind = "suggest"
	// VerdictInject means inject replyValue immediately, with no
	// override window (Assist deny, or any Full auto_reply/deny match).
	VerdictInject VerdictKind = "inject"
)

// Verdict is the engine's decision for one prompt.
type Verdict struct {
	Kind           VerdictKind
	ReplyValue     string
	MatchedRuleID  string
	Action         domain.PolicyAction
	OverrideWindow time.Duration
	Notify         bool
}

// PolicyProvider is the subset of policy.Policy (or policy.Watcher) the
// engine needs. Kept as an interface so the engine doesn't care whether
// hot-reload is in play.
type PolicyProvider interface {
	Evaluate(event domain.PromptEvent) domain.PolicyDecision
}

// Engine is the policy-driven short-circuit gate between the router and
// the channel.
type Engine struct {
	mu sync.Mutex

	st       *store.Store
	policy   PolicyProvider
	trace    *auditlog.Log
	window   time.Duration
	mode     Mode
	paused   bool
	onChange func(from, to Status)
}

// New constructs an Engine, resuming mode and paused state from the
// store so the kill switch survives a daemon restart.
func New(ctx context.Context, st *store.Store, pol PolicyProvider, trace *auditlog.Log, overrideWindow time.Duration) (*Engine, error) {
	if overrideWindow <= 0 {
		overrideWindow = 10 * time.Second
	}
	persisted, err := st.LoadAutopilotState(ctx)
	if err != nil {
		return nil, err
	}
	mode := Mode(persisted.Mode)
	if !mode.valid() {
		mode = ModeOff
	}
	return &Engine{
		st:     st,
		policy: pol,
		trace:  trace,
		window: overrideWindow,
		mode:   mode,
		paused: persisted.Paused,
	}, nil
}

// SetOnStateChange registers a callback fired whenever mode or paused changes.
func (e *Engine) SetOnStateChange(fn func(from, to Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Status returns the current mode and pause state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Mode: e.mode, Paused: e.paused}
}

// SetMode changes the operating mode and persists it.
func (e *Engine) SetMode(ctx context.Context, mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("autopilot: unknown mode %q", mode)
	}
	e.mu.Lock()
	from := Status{Mode: e.mode, Paused: e.paused}
	e.mode = mode
	to := Status{Mode: e.mode, Paused: e.paused}
	onChange := e.onChange
	e.mu.Unlock()

	if err := e.persist(ctx); err != nil {
		return err
	}
	if onChange != nil && from != to {
		onChange(from, to)
	}
	return nil
}

// Pause engages the persistent kill switch: every prompt goes to the
// human regardless of mode or rule matches, until Resume is called.
func (e *Engine) Pause(ctx context.Context) error {
	return e.setPaused(ctx, true)
}

// Resume lifts the kill switch.
func (e *Engine) Resume(ctx context.Context) error {
	return e.setPaused(ctx, false)
}

func (e *Engine) setPaused(ctx context.Context, paused bool) error {
	e.mu.Lock()
	from := Status{Mode: e.mode, Paused: e.paused}
	e.paused = paused
	to := Status{Mode: e.mode, Paused: e.paused}
	onChange := e.onChange
	e.mu.Unlock()

	if err := e.persist(ctx); err != nil {
		return err
	}
	if onChange != nil && from != to {
		onChange(from, to)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context) error {
	e.mu.Lock()
	st := store.AutopilotState{Mode: string(e.mode), Paused: e.paused}
	e.mu.Unlock()
	return e.st.SaveAutopilotState(ctx, st)
}

// Decide evaluates event against the current policy and mode, writes a
// decision trace entry, and returns the router's instruction. Callers
// should only invoke Decide when the engine is not Off; an Off engine
// is conventionally never instantiated per spec, but Decide degrades to
// VerdictPassThrough defensively if called anyway.
func (e *Engine) Decide(ctx context.Context, event domain.PromptEvent) (Verdict, error) {
	e.mu.Lock()
	mode := e.mode
	paused := e.paused
	window := e.window
	e.mu.Unlock()

	if paused || mode == ModeOff {
		return Verdict{Kind: VerdictPassThrough}, nil
	}

	decision := e.policy.Evaluate(event)

	if err := e.recordTrace(event, decision); err != nil {
		return Verdict{}, err
	}

	lowConfidenceBlocked := event.Confidence == domain.ConfidenceLow && !decision.AllowLowConfidence

	switch mode {
	case ModeAssist:
		switch decision.Action {
		case domain.ActionDeny:
			return Verdict{Kind: VerdictInject, ReplyValue: decision.ReplyValue, MatchedRuleID: decision.MatchedRuleID, Action: decision.Action, Notify: true}, nil
		case domain.ActionAutoReply:
			if event.Confidence == domain.ConfidenceLow {
				return Verdict{Kind: VerdictPassThrough}, nil
			}
			return Verdict{
				Kind:           VerdictSuggest,
				ReplyValue:     decision.ReplyValue,
				MatchedRuleID:  decision.MatchedRuleID,
				Action:         decision.Action,
				OverrideWindow: window,
			}, nil
		default:
			return Verdict{Kind: VerdictPassThrough}, nil
		}

	case ModeFull:
		switch decision.Action {
		case domain.ActionDeny:
			return Verdict{Kind: VerdictInject, ReplyValue: decision.ReplyValue, MatchedRuleID: decision.MatchedRuleID, Action: decision.Action, Notify: true}, nil
		case domain.ActionAutoReply:
			if lowConfidenceBlocked {
				return Verdict{Kind: VerdictPassThrough}, nil
			}
			return Verdict{Kind: VerdictInject, ReplyValue: decision.ReplyValue, MatchedRuleID: decision.MatchedRuleID, Action: decision.Action, Notify: true}, nil
		default:
			return Verdict{Kind: VerdictPassThrough}, nil
		}

	default:
		return Verdict{Kind: VerdictPassThrough}, nil
	}
}

func (e *Engine) recordTrace(event domain.PromptEvent, decision domain.PolicyDecision) error {
	return e.trace.Append(auditlog.Entry{
		Kind:      domain.EventAutopilotMatch,
		PromptID:  event.PromptID,
		SessionID: event.SessionID,
		Detail: map[string]string{
			"excerpt":             event.Excerpt,
			"matched_rule_id":     decision.MatchedRuleID,
			"action":              string(decision.Action),
			"risk_level":          decision.RiskLevel,
			"policy_version_hash": decision.PolicyVersionHash,
			"confidence":          string(event.Confidence),
		},
	})
}
