// Package domain holds the shared data model for the prompt relay: the
// types every other package passes between the detector, the store, the
// router, and the channel/adapter boundary.
package domain

import "time"

// SessionState is the lifecycle state of a supervised child run.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// Session is an active (or recently ended) supervised child run.
type Session struct {
	SessionID string
	Tool      string
	StartedAt time.Time
	EndedAt   *time.Time
	Label     string
	State     SessionState
}

// PromptType classifies the kind of answer a detected prompt expects.
type PromptType string

const (
	PromptYesNo        PromptType = "yes_no"
	PromptConfirmEnter PromptType = "confirm_enter"
	PromptMultiChoice  PromptType = "multiple_choice"
	PromptFreeText     PromptType = "free_text"
)

// Confidence is the detector's certainty that a given byte run is really a prompt.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Signal identifies which of the detector's three strategies fired.
type Signal string

const (
	SignalPattern     Signal = "pattern"
	SignalBlockedRead Signal = "blocked_read"
	SignalSilence     Signal = "silence"
)

// PromptState is a prompt's position in the lifecycle state machine
// (see statemachine.IsLegal for the transition table).
type PromptState string

const (
	PromptCreated        PromptState = "CREATED"
	PromptRouted         PromptState = "ROUTED"
	PromptAwaitingReply  PromptState = "AWAITING_REPLY"
	PromptReplyReceived  PromptState = "REPLY_RECEIVED"
	PromptInjected       PromptState = "INJECTED"
	PromptResolved       PromptState = "RESOLVED"
	PromptExpired        PromptState = "EXPIRED"
	PromptCanceled       PromptState = "CANCELED"
	PromptFailed         PromptState = "FAILED"
)

// IsTerminal reports whether the state cannot be left.
func (s PromptState) IsTerminal() bool {
	switch s {
	case PromptResolved, PromptExpired, PromptCanceled, PromptFailed:
		return true
	default:
		return false
	}
}

// PromptEvent is a detected request for human input.
type PromptEvent struct {
	PromptID   string
	SessionID  string
	Type       PromptType
	Excerpt    string
	Confidence Confidence
	Signal     Signal
	CreatedAt  time.Time
	TTLSeconds int64
	State      PromptState
	Nonce      string

	// ToolID and SessionLabel identify the session this prompt came
	// from for policy matching (spec.md §4.10's tool_id/session_label
	// predicate fields). Filled in by the router from its own
	// per-session configuration, not persisted on the prompts row.
	ToolID       string
	SessionLabel string

	DecidedAt    *time.Time
	Decision     string
	ReplySource  string
}

// ExpiresAt returns the instant after which the prompt is no longer decidable.
func (p PromptEvent) ExpiresAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TTLSeconds) * time.Second)
}

// ReplySource identifies who produced a Reply.
type ReplySource string

const (
	ReplyFromHuman     ReplySource = "human"
	ReplyFromAutopilot ReplySource = "autopilot"
	ReplyFromSynthetic ReplySource = "synthetic"
)

// Reply is a response intended for a specific prompt.
type Reply struct {
	PromptID   string
	SessionID  string
	Value      string
	Source     ReplySource
	Identity   string
	ReceivedAt time.Time
}

// AuditEventKind names the kind of a recorded audit/decision-trace entry.
type AuditEventKind string

const (
	EventPromptCreated  AuditEventKind = "prompt.created"
	EventPromptRouted   AuditEventKind = "prompt.routed"
	EventPromptAwaiting AuditEventKind = "prompt.awaiting_reply"
	EventPromptDecided  AuditEventKind = "prompt.reply_received"
	EventPromptInjected AuditEventKind = "prompt.injected"
	EventPromptResolved AuditEventKind = "prompt.resolved"
	EventPromptExpired  AuditEventKind = "prompt.expired"
	EventPromptCanceled AuditEventKind = "prompt.canceled"
	EventPromptFailed   AuditEventKind = "prompt.failed"
	EventChannelDropped AuditEventKind = "channel.reply_dropped"
	EventAutopilotMatch AuditEventKind = "autopilot.decision"
	EventChainRoot      AuditEventKind = "chain.root"
)

// PolicyAction is the effect a matched (or unmatched) policy rule produces.
type PolicyAction string

const (
	ActionAutoReply     PolicyAction = "auto_reply"
	ActionDeny          PolicyAction = "deny"
	ActionRequireHuman  PolicyAction = "require_human"
	ActionNotifyOnly    PolicyAction = "notify_only"
)

// PolicyDecision is the output of evaluating a prompt against a policy.
type PolicyDecision struct {
	MatchedRuleID       string
	Action              PolicyAction
	ReplyValue          string
	RiskLevel           string
	AllowLowConfidence  bool
	PolicyVersionHash   string
}
