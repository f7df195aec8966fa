// Package channel defines the external messaging contract (spec.md
// §4.7): deliver a prompt to humans out-of-process, and receive their
// replies asynchronously. Grounded on rcourtman-Pulse's
// internal/websocket.Hub (NewHub/Run/HandleWebSocket/broadcast
// channel) for the wsconsole implementation's shape.
package channel

import (
	"context"
	"fmt"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// ReplyCallback is invoked by a Channel implementation when a reply
// arrives. identity is the channel-side sender identifier, checked by
// the router against the session's allowlist before any store
// mutation happens.
type ReplyCallback func(promptID, nonce, identity, replyValue string)

// Channel is the capability set a messaging transport exposes to the
// router (spec.md §4.7). Implementations own their own transport,
// retry, and rate-limiting, and report permanent delivery failures
// back to the router rather than retrying forever.
type Channel interface {
	Name() string
	// Deliver sends a prompt to every identity in allowlist and returns
	// an opaque token the channel can use to reconstruct delivery state
	// after a restart (e.g. a message ID). allowlist may be empty to
	// mean "broadcast to all currently subscribed identities".
	Deliver(ctx context.Context, event domain.PromptEvent, allowlist []string) (deliverToken string, err error)
	// OnReply registers the callback invoked for every reply this
	// channel instance receives, for as long as the channel runs.
	OnReply(cb ReplyCallback)
}

// Factory constructs a Channel, used by the registry for hot-pluggable
// lookup by name (config.toml's `channel` field).
type Factory func(cfg map[string]string) (Channel, error)

var registry = map[string]Factory{}

// Register adds a Factory under name. Called from each built-in
// channel's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// Lookup constructs the named channel with cfg, or an error if no
// channel is registered under that name.
func Lookup(name string, cfg map[string]string) (Channel, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("channel: no channel registered for %q", name)
	}
	return f(cfg)
}

// Names returns every registered channel name.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// IsAllowed reports whether identity appears in allowlist. An empty
// allowlist denies everyone, so the router accepts no replies until at
// least one identity is configured. Delivery is the channel's own
// business: wsconsole broadcasts to every client when the allowlist
// is empty.
func IsAllowed(identity string, allowlist []string) bool {
	for _, id := range allowlist {
		if id == identity {
			return true
		}
	}
	return false
}
