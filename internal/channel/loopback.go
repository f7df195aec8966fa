package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func init() {
	Register("loopback", func(cfg map[string]string) (Channel, error) {
		return NewLoopback(), nil
	})
}

// Loopback is an in-process Channel with no real transport: Deliver
// records the event, and tests/lab scenarios drive replies directly
// via InjectReply. Used by the six end-to-end scenarios in
// internal/router's tests and by `atlasbridge lab run`.
type Loopback struct {
	mu        sync.Mutex
	delivered map[string]domain.PromptEvent
	cb        ReplyCallback
	seq       int64
}

// NewLoopback constructs an empty Loopback channel.
func NewLoopback() *Loopback {
	return &Loopback{delivered: make(map[string]domain.PromptEvent)}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Deliver(ctx context.Context, event domain.PromptEvent, allowlist []string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	token := fmt.Sprintf("loopback-%d", l.seq)
	l.delivered[event.PromptID] = event
	return token, nil
}

func (l *Loopback) OnReply(cb ReplyCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

// InjectReply simulates a human (or test fixture) replying to a
// previously delivered prompt. It is a no-op error if no callback has
// been registered yet.
func (l *Loopback) InjectReply(promptID, nonce, identity, replyValue string) error {
	l.mu.Lock()
	cb := l.cb
	l.mu.Unlock()
	if cb == nil {
		return fmt.Errorf("loopback: no reply callback registered")
	}
	cb(promptID, nonce, identity, replyValue)
	return nil
}

// Delivered returns whether a given prompt was delivered through this
// channel, for test assertions.
func (l *Loopback) Delivered(promptID string) (domain.PromptEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.delivered[promptID]
	return e, ok
}
