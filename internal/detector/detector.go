// Package detector classifies recent child output bytes into prompt
// events using three independent signals (pattern match, blocked read,
// silence), each carrying a fixed confidence. It is adapted from the
// Detector/Cleaner contract shape used by PTY-supervising agent
// runners in the wider pack (the pty.Detector/Cleaner interfaces) and
// generalized to rcourtman-Pulse's notion of a confidence-scored,
// time-windowed classifier (internal/ai/patterns.Detector).
package detector

import (
	"time"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// bufferCap is the sliding window size in bytes. Older bytes age out as
// new ones are appended (§3 invariant: bounded at 4096 bytes).
const bufferCap = 4096

// analysisBudget is the maximum time Analyze may spend in the pattern
// layer before it logs a warning and falls through to the silence
// layer only.
const analysisBudget = 5 * time.Millisecond

// PatternRule pairs a prompt type with a compiled, backtracking-free
// regular expression supplied by the adapter (§4.6).
type PatternRule struct {
	Type  domain.PromptType
	Regex Matcher
	// TailBytes bounds how much of the buffer's tail the regex is
	// applied to; 0 means the whole buffer.
	TailBytes int
}

// Matcher is satisfied by *regexp.Regexp; kept as an interface so tests
// can supply fakes without importing regexp in every call site.
type Matcher interface {
	FindStringIndex(s string) []int
}

// BlockedReader reports whether the supervised child currently appears
// blocked waiting on input — an OS-dependent inference the Pty
// contract provides (e.g. the child's controlling process is blocked
// in a read syscall).
type BlockedReader interface {
	IsBlockedOnRead() bool
}

// Detector holds the rolling output buffer and suppression state for
// one session. Not safe for concurrent use; the Pty Supervisor's four
// tasks call it from a single serializing goroutine (the output
// reader) except for the stall watchdog, which only reads timestamps
// guarded by the same mutex as Analyze.
type Detector struct {
	buf []byte

	rules       []PatternRule
	silenceMS   int64
	suppressMS  int64
	turnStarted time.Time
	lastByteAt  time.Time
	suppressAt  time.Time

	warnf func(format string, args ...any)
}

// Config configures a Detector instance.
type Config struct {
	Rules               []PatternRule
	SilenceMS           int64 // default 2000
	PostInjectSuppressMS int64 // default 500
	Warnf               func(format string, args ...any)
}

// New constructs a Detector, filling in the spec's documented defaults
// for zero-valued Config fields.
func New(cfg Config) *Detector {
	if cfg.SilenceMS <= 0 {
		cfg.SilenceMS = 2000
	}
	if cfg.PostInjectSuppressMS <= 0 {
		cfg.PostInjectSuppressMS = 500
	}
	if cfg.Warnf == nil {
		cfg.Warnf = func(string, ...any) {}
	}
	return &Detector{
		rules:      cfg.Rules,
		silenceMS:  cfg.SilenceMS,
		suppressMS: cfg.PostInjectSuppressMS,
		warnf:      cfg.Warnf,
	}
}

// Feed appends freshly read child output to the sliding window,
// trimming from the front once the buffer exceeds bufferCap.
func (d *Detector) Feed(chunk []byte) {
	now := time.Now()
	if d.turnStarted.IsZero() {
		d.turnStarted = now
	}
	d.lastByteAt = now

	d.buf = append(d.buf, chunk...)
	if len(d.buf) > bufferCap {
		d.buf = d.buf[len(d.buf)-bufferCap:]
	}
}

// Suppress starts the post-injection suppression window; Analyze
// unconditionally returns "no prompt" until it elapses, preventing the
// child's own echo of the injected reply from re-triggering detection.
func (d *Detector) Suppress() {
	d.suppressAt = time.Now()
}

// Suppressed reports whether the post-injection suppression window is
// still active, for callers (the PTY input relay) that need a plain
// bool rather than the Suppressor interface's fire-and-forget Suppress.
func (d *Detector) Suppressed() bool {
	return d.suppressed()
}

// suppressed reports whether the suppression window is still active.
func (d *Detector) suppressed() bool {
	if d.suppressAt.IsZero() {
		return false
	}
	return time.Since(d.suppressAt) < time.Duration(d.suppressMS)*time.Millisecond
}

// Result is the outcome of one Analyze call.
type Result struct {
	Fired      bool
	Type       domain.PromptType
	Excerpt    string
	Confidence domain.Confidence
	Signal     domain.Signal
}

// Analyze runs the three signals in priority order (pattern, blocked
// read, silence) and returns at most one prompt event. blocked may be
// nil if the Pty contract can't provide the inference on this
// platform, in which case the blocked-read signal never fires.
func (d *Detector) Analyze(blocked BlockedReader) Result {
	if d.suppressed() {
		return Result{}
	}

	if r, ok := d.analyzePattern(); ok {
		return r
	}
	if r, ok := d.analyzeBlockedRead(blocked); ok {
		return r
	}
	return d.analyzeSilence()
}

func (d *Detector) analyzePattern() (Result, bool) {
	start := time.Now()
	text := stripANSI(normalizeNewlines(string(d.buf)))

	for _, rule := range d.rules {
		if time.Since(start) > analysisBudget {
			d.warnf("detector: pattern layer exceeded %s budget, falling through to silence layer", analysisBudget)
			return Result{}, false
		}
		tail := text
		if rule.TailBytes > 0 && len(tail) > rule.TailBytes {
			tail = tail[len(tail)-rule.TailBytes:]
		}
		loc := rule.Regex.FindStringIndex(tail)
		if loc == nil {
			continue
		}
		return Result{
			Fired:      true,
			Type:       rule.Type,
			Excerpt:    tail[loc[0]:loc[1]],
			Confidence: domain.ConfidenceHigh,
			Signal:     domain.SignalPattern,
		}, true
	}
	return Result{}, false
}

func (d *Detector) analyzeBlockedRead(blocked BlockedReader) (Result, bool) {
	if blocked == nil || !blocked.IsBlockedOnRead() {
		return Result{}, false
	}
	text := stripANSI(normalizeNewlines(string(d.buf)))
	if text == "" || text[len(text)-1] == '\n' {
		return Result{}, false
	}
	return Result{
		Fired:      true,
		Type:       domain.PromptFreeText,
		Excerpt:    trailingLine(text),
		Confidence: domain.ConfidenceMedium,
		Signal:     domain.SignalBlockedRead,
	}, true
}

func (d *Detector) analyzeSilence() Result {
	if d.lastByteAt.IsZero() {
		return Result{}
	}
	if time.Since(d.lastByteAt) < time.Duration(d.silenceMS)*time.Millisecond {
		return Result{}
	}
	text := stripANSI(normalizeNewlines(string(d.buf)))
	if text == "" {
		return Result{}
	}
	return Result{
		Fired:      true,
		Type:       domain.PromptFreeText,
		Excerpt:    trailingLine(text),
		Confidence: domain.ConfidenceLow,
		Signal:     domain.SignalSilence,
	}
}

func trailingLine(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return s[i+1:]
		}
	}
	return s
}
