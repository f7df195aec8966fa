package ptycore

import (
	"context"
	"time"
)

// StallWatchdog fires tick every silenceMS/4 until ctx is cancelled,
// matching spec.md §4.5's "stall watchdog" task: a fixed-interval
// nudge so the detector's silence signal gets evaluated even when the
// output reader has nothing new to feed it.
func StallWatchdog(ctx context.Context, silenceMS int64, tick func()) {
	if silenceMS <= 0 {
		silenceMS = 2000
	}
	interval := time.Duration(silenceMS/4) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
