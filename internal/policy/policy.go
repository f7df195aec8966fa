// Package policy evaluates prompts against an ordered, user-supplied
// rule list loaded from policy.yaml. Rule matching is grounded on
// rcourtman-Pulse's internal/ai/approval.AssessRiskLevel
// (highRiskPatterns/mediumRiskPatterns regex lists, first-match-wins),
// generalized from a fixed built-in pattern table to user-authored
// rules with an explicit action instead of an implicit risk level.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// MatchKind names how a Condition's pattern is interpreted. An empty
// MatchKind means the condition carries no text predicate at all (it
// matches on tool_id/session_label/prompt_type/confidence alone).
type MatchKind string

const (
	MatchTextContains MatchKind = "text_contains"
	MatchTextRegex    MatchKind = "text_regex"
)

// confidenceRank orders Confidence values so a rule can express a
// [min, max] band (spec.md §4.10) over what is otherwise a categorical type.
var confidenceRank = map[domain.Confidence]int{
	domain.ConfidenceLow:    0,
	domain.ConfidenceMedium: 1,
	domain.ConfidenceHigh:   2,
}

// Condition is the atomic match predicate from spec.md §4.10:
// (tool_id, session_label, prompt_type, confidence ∈ [min, max],
// text_contains, text_regex, any_of, none_of). A Rule embeds one
// Condition as its top-level predicate; AnyOf/NoneOf let that
// predicate combine nested Conditions.
type Condition struct {
	ToolID        string            `yaml:"tool_id,omitempty"`
	SessionLabel  string            `yaml:"session_label,omitempty"`
	PromptType    domain.PromptType `yaml:"prompt_type,omitempty"`
	ConfidenceMin domain.Confidence `yaml:"confidence_min,omitempty"`
	ConfidenceMax domain.Confidence `yaml:"confidence_max,omitempty"`
	Match         MatchKind         `yaml:"match,omitempty"`
	Pattern       string            `yaml:"pattern,omitempty"`
	AnyOf         []Condition       `yaml:"any_of,omitempty"`
	NoneOf        []Condition       `yaml:"none_of,omitempty"`

	compiled *regexp.Regexp
}

// Rule is one ordered entry in policy.yaml: a Condition plus the
// action to take when it matches.
type Rule struct {
	ID        string `yaml:"id"`
	Condition `yaml:",inline"`

	Action             domain.PolicyAction `yaml:"action"`
	ReplyValue         string              `yaml:"reply_value,omitempty"`
	RiskLevel          string              `yaml:"risk_level,omitempty"`
	AllowLowConfidence bool                `yaml:"allow_low_confidence,omitempty"`
}

// File is the top-level shape of policy.yaml.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Policy is a compiled, ready-to-evaluate rule set.
type Policy struct {
	rules       []Rule
	versionHash string
}

// Parse compiles raw policy.yaml bytes into a Policy, pre-compiling
// every text_regex pattern (including inside any_of/none_of) so
// Evaluate never compiles on the hot path.
func Parse(data []byte) (*Policy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("policy rule %d: missing id", i)
		}
		if err := compileCondition(&r.Condition, r.ID); err != nil {
			return nil, err
		}
		switch r.Action {
		case domain.ActionAutoReply, domain.ActionDeny, domain.ActionRequireHuman, domain.ActionNotifyOnly:
		default:
			return nil, fmt.Errorf("policy rule %q: unknown action %q", r.ID, r.Action)
		}
		rules = append(rules, r)
	}
	sum := sha256.Sum256(data)
	return &Policy{rules: rules, versionHash: hex.EncodeToString(sum[:])}, nil
}

func compileCondition(c *Condition, ruleID string) error {
	switch c.Match {
	case "", MatchTextContains:
	case MatchTextRegex:
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return fmt.Errorf("policy rule %q: compile regex %q: %w", ruleID, c.Pattern, err)
		}
		c.compiled = re
	default:
		return fmt.Errorf("policy rule %q: unknown match kind %q", ruleID, c.Match)
	}
	for i := range c.AnyOf {
		if err := compileCondition(&c.AnyOf[i], ruleID); err != nil {
			return err
		}
	}
	for i := range c.NoneOf {
		if err := compileCondition(&c.NoneOf[i], ruleID); err != nil {
			return err
		}
	}
	return nil
}

// VersionHash identifies the exact rule set a decision was made under,
// recorded in every autopilot decision trace entry so an audit reader
// can tell which policy.yaml content produced a given action.
func (p *Policy) VersionHash() string {
	return p.versionHash
}

// Evaluate runs the prompt against every rule in order and returns the
// first match (deterministic first-match-wins semantics). A prompt
// matching no rule gets domain.ActionRequireHuman, the fail-safe
// default: policy silence never implies auto-reply.
func (p *Policy) Evaluate(event domain.PromptEvent) domain.PolicyDecision {
	for _, r := range p.rules {
		if !conditionMatches(r.Condition, event) {
			continue
		}
		return domain.PolicyDecision{
			MatchedRuleID:      r.ID,
			Action:             r.Action,
			ReplyValue:         r.ReplyValue,
			RiskLevel:          r.RiskLevel,
			AllowLowConfidence: r.AllowLowConfidence,
			PolicyVersionHash:  p.versionHash,
		}
	}
	return domain.PolicyDecision{Action: domain.ActionRequireHuman, PolicyVersionHash: p.versionHash}
}

// conditionMatches evaluates one Condition (a rule's top-level
// predicate, or a nested any_of/none_of entry) against event. Every
// field present on c narrows the match; an empty/zero field imposes
// no constraint on that dimension.
func conditionMatches(c Condition, event domain.PromptEvent) bool {
	if c.ToolID != "" && c.ToolID != event.ToolID {
		return false
	}
	if c.SessionLabel != "" && c.SessionLabel != event.SessionLabel {
		return false
	}
	if c.PromptType != "" && c.PromptType != event.Type {
		return false
	}
	if (c.ConfidenceMin != "" || c.ConfidenceMax != "") && !confidenceInRange(event.Confidence, c.ConfidenceMin, c.ConfidenceMax) {
		return false
	}
	if c.Match != "" && !textMatches(c, event.Excerpt) {
		return false
	}
	if len(c.AnyOf) > 0 {
		matched := false
		for _, sub := range c.AnyOf {
			if conditionMatches(sub, event) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, sub := range c.NoneOf {
		if conditionMatches(sub, event) {
			return false
		}
	}
	return true
}

func confidenceInRange(c, min, max domain.Confidence) bool {
	rank, ok := confidenceRank[c]
	if !ok {
		return false
	}
	if min != "" {
		if minRank, ok := confidenceRank[min]; ok && rank < minRank {
			return false
		}
	}
	if max != "" {
		if maxRank, ok := confidenceRank[max]; ok && rank > maxRank {
			return false
		}
	}
	return true
}

func textMatches(c Condition, excerpt string) bool {
	switch c.Match {
	case MatchTextContains:
		return containsFold(excerpt, c.Pattern)
	case MatchTextRegex:
		return c.compiled.MatchString(excerpt)
	default:
		return true
	}
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	hl := len(haystack)
	nl := len(needle)
	if nl > hl {
		return false
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Rules returns the compiled rule set, for `atlasbridge policy validate/test`.
func (p *Policy) Rules() []Rule {
	return p.rules
}
