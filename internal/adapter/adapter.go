// Package adapter defines the per-child-program contract: the ordered
// prompt patterns a tool's prompts match against, and how to encode a
// Reply back into bytes for that tool's stdin conventions. Grounded on
// the pty.Detector/Cleaner contract split in the wider pack (detection
// vs. cleanup as separate small interfaces) and on the claude-agent-sdk
// example's message-type registry for the shape of a built-in adapter
// that understands one specific CLI tool's conventions.
package adapter

import (
	"fmt"
	"regexp"

	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/detector"
)

// Adapter is the capability set a child-program integration exposes to
// the core (spec.md §4.6).
type Adapter interface {
	// Name identifies the adapter, e.g. "claude" or "generic".
	Name() string
	// PromptPatterns returns the ordered (type, regex) pairs the
	// detector's pattern signal matches against.
	PromptPatterns() []detector.PatternRule
	// Encode turns a reply value into the bytes written to the child's
	// stdin for the given prompt type.
	Encode(promptType domain.PromptType, replyValue string) ([]byte, error)
}

// Factory constructs an Adapter, used by the registry for hot-pluggable
// lookup by name (the `run` command's tool argument, or config.toml's
// `default_tool` field).
type Factory func() Adapter

// registry is the process-wide map of adapter name -> constructor.
var registry = map[string]Factory{}

// Register adds a Factory under name. Called from each built-in
// adapter's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// Lookup constructs the named adapter, or an error if no adapter is
// registered under that name.
func Lookup(name string) (Adapter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("adapter: no adapter registered for %q", name)
	}
	return f(), nil
}

// Names returns every registered adapter name, in no particular order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// unsafeDefaultYesNo matches a reply value an adapter must never emit
// automatically for a yes_no prompt without an explicit policy rule
// authorizing it (spec.md §4.6: "yes_no with auto-default 'y' is not
// permitted except via explicit policy rule").
var unsafeDefaultYesNo = regexp.MustCompile(`^(?i)y(es)?$`)

// RejectsUnsafeDefault reports whether replyValue is an auto-default
// "yes" answer to a yes_no prompt that arrived without explicit policy
// authorization. Human replies are never rejected here: the human
// saw the actual prompt. Autopilot/synthetic replies are rejected
// unless policyAuthorized is true, meaning a specific policy rule
// matched and explicitly permitted this exact auto-reply value.
func RejectsUnsafeDefault(promptType domain.PromptType, replyValue string, source domain.ReplySource, policyAuthorized bool) bool {
	if promptType != domain.PromptYesNo {
		return false
	}
	if source == domain.ReplyFromHuman || policyAuthorized {
		return false
	}
	return unsafeDefaultYesNo.MatchString(replyValue)
}
