// Package statemachine holds the prompt lifecycle transition table. It is
// pure: no I/O, no locks, just a predicate over (from, to) pairs so the
// store and router can both ask "is this move legal" without duplicating
// the table.
package statemachine

import "github.com/atlasbridge/atlasbridge/internal/domain"

// edges maps each non-terminal state to the set of states it may move to.
// Terminal states (Resolved/Expired/Canceled/Failed) have no outgoing
// edges; every non-terminal state can reach Expired, Canceled or Failed
// directly, matching spec.md's "terminal states reachable from any
// non-terminal state" rule.
var edges = map[domain.PromptState]map[domain.PromptState]bool{
	domain.PromptCreated: {
		domain.PromptRouted:  true,
		domain.PromptExpired:  true,
		domain.PromptFailed:  true,
		domain.PromptCanceled: true,
	},
	domain.PromptRouted: {
		domain.PromptAwaitingReply: true,
		domain.PromptExpired:       true,
		domain.PromptCanceled:      true,
		domain.PromptFailed:        true,
	},
	domain.PromptAwaitingReply: {
		domain.PromptReplyReceived: true,
		domain.PromptExpired:       true,
		domain.PromptCanceled:      true,
		domain.PromptFailed:        true,
	},
	domain.PromptReplyReceived: {
		domain.PromptInjected: true,
		domain.PromptExpired:  true,
		domain.PromptCanceled: true,
		domain.PromptFailed:   true,
	},
	domain.PromptInjected: {
		domain.PromptResolved: true,
		domain.PromptExpired:  true,
		domain.PromptCanceled: true,
		domain.PromptFailed:   true,
	},
}

// IsLegal reports whether a transition from one prompt state to another
// is permitted by the lifecycle. Terminal states always return false:
// there is no move out of RESOLVED/EXPIRED/CANCELED/FAILED.
func IsLegal(from, to domain.PromptState) bool {
	if from.IsTerminal() {
		return false
	}
	targets, ok := edges[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Reachable returns the set of states legally reachable in one hop from
// the given state, in no particular order.
func Reachable(from domain.PromptState) []domain.PromptState {
	targets, ok := edges[from]
	if !ok {
		return nil
	}
	out := make([]domain.PromptState, 0, len(targets))
	for s := range targets {
		out = append(out, s)
	}
	return out
}
