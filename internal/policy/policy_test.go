package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func TestParseRejectsMissingID(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - match: text_contains
    pattern: "yes"
    action: auto_reply
`))
	require.Error(t, err)
}

func TestParseRejectsBadRegex(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - id: bad-regex
    match: text_regex
    pattern: "(unclosed"
    action: deny
`))
	require.Error(t, err)
}

func TestParseRejectsUnknownAction(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - id: r1
    match: text_contains
    pattern: "yes"
    action: do_something_weird
`))
	require.Error(t, err)
}

func TestParseRejectsUnknownMatchKind(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - id: r1
    match: fuzzy
    pattern: "yes"
    action: deny
`))
	require.Error(t, err)
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: allow-install
    match: text_contains
    pattern: "install package"
    action: auto_reply
    reply_value: "y"
  - id: deny-everything-else
    match: text_regex
    pattern: ".*"
    action: deny
`))
	require.NoError(t, err)

	d := pol.Evaluate(domain.PromptEvent{Excerpt: "Do you want to install package foo? (y/n)"})
	require.Equal(t, "allow-install", d.MatchedRuleID)
	require.Equal(t, domain.ActionAutoReply, d.Action)
	require.Equal(t, "y", d.ReplyValue)

	d2 := pol.Evaluate(domain.PromptEvent{Excerpt: "rm -rf /"})
	require.Equal(t, "deny-everything-else", d2.MatchedRuleID)
	require.Equal(t, domain.ActionDeny, d2.Action)
}

func TestEvaluatePromptTypeFilter(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: only-yes-no
    prompt_type: yes_no
    match: text_contains
    pattern: "proceed"
    action: auto_reply
    reply_value: "y"
`))
	require.NoError(t, err)

	matched := pol.Evaluate(domain.PromptEvent{Type: domain.PromptYesNo, Excerpt: "proceed?"})
	require.Equal(t, "only-yes-no", matched.MatchedRuleID)

	unmatched := pol.Evaluate(domain.PromptEvent{Type: domain.PromptFreeText, Excerpt: "proceed?"})
	require.Equal(t, domain.ActionRequireHuman, unmatched.Action)
	require.Empty(t, unmatched.MatchedRuleID)
}

func TestEvaluateNoRuleMatchesFailsSafe(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: only-specific
    match: text_contains
    pattern: "something very specific"
    action: auto_reply
    reply_value: "y"
`))
	require.NoError(t, err)

	d := pol.Evaluate(domain.PromptEvent{Excerpt: "totally unrelated text"})
	require.Equal(t, domain.ActionRequireHuman, d.Action)
}

func TestEvaluateToolIDAndSessionLabelFilter(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: claude-only
    tool_id: claude
    session_label: prod
    action: auto_reply
    reply_value: "y"
`))
	require.NoError(t, err)

	matched := pol.Evaluate(domain.PromptEvent{ToolID: "claude", SessionLabel: "prod"})
	require.Equal(t, "claude-only", matched.MatchedRuleID)

	wrongTool := pol.Evaluate(domain.PromptEvent{ToolID: "aider", SessionLabel: "prod"})
	require.Equal(t, domain.ActionRequireHuman, wrongTool.Action)

	wrongLabel := pol.Evaluate(domain.PromptEvent{ToolID: "claude", SessionLabel: "staging"})
	require.Equal(t, domain.ActionRequireHuman, wrongLabel.Action)
}

func TestEvaluateConfidenceRangeFilter(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: medium-or-high
    confidence_min: medium
    confidence_max: high
    action: auto_reply
    reply_value: "y"
`))
	require.NoError(t, err)

	require.Equal(t, "medium-or-high", pol.Evaluate(domain.PromptEvent{Confidence: domain.ConfidenceMedium}).MatchedRuleID)
	require.Equal(t, "medium-or-high", pol.Evaluate(domain.PromptEvent{Confidence: domain.ConfidenceHigh}).MatchedRuleID)

	low := pol.Evaluate(domain.PromptEvent{Confidence: domain.ConfidenceLow})
	require.Equal(t, domain.ActionRequireHuman, low.Action)
	require.Empty(t, low.MatchedRuleID)
}

func TestEvaluateAnyOfNoneOfCombinators(t *testing.T) {
	pol, err := Parse([]byte(`
rules:
  - id: npm-or-yarn-but-not-force
    any_of:
      - match: text_contains
        pattern: "npm install"
      - match: text_contains
        pattern: "yarn add"
    none_of:
      - match: text_contains
        pattern: "--force"
    action: auto_reply
    reply_value: "y"
`))
	require.NoError(t, err)

	require.Equal(t, "npm-or-yarn-but-not-force", pol.Evaluate(domain.PromptEvent{Excerpt: "run npm install now?"}).MatchedRuleID)
	require.Equal(t, "npm-or-yarn-but-not-force", pol.Evaluate(domain.PromptEvent{Excerpt: "run yarn add now?"}).MatchedRuleID)

	blocked := pol.Evaluate(domain.PromptEvent{Excerpt: "run npm install --force now?"})
	require.Equal(t, domain.ActionRequireHuman, blocked.Action)

	noMatch := pol.Evaluate(domain.PromptEvent{Excerpt: "run pip install now?"})
	require.Equal(t, domain.ActionRequireHuman, noMatch.Action)
}

func TestContainsFoldCaseInsensitive(t *testing.T) {
	require.True(t, containsFold("Do You Want To PROCEED?", "proceed"))
	require.False(t, containsFold("short", "much longer needle"))
	require.True(t, containsFold("anything", ""))
}
