// Package labscenario implements `atlasbridge lab run`: a curated set
// of deterministic regression scenarios that exercise the real
// internal stack (store, router, autopilot, the loopback channel, and
// the generic adapter) in-process, the same combination
// `internal/router`'s own tests drive, so an operator can smoke-test a
// built binary's behavior without a real child program attached.
package labscenario

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of running one Scenario.
type Result struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Detail   string
}

// Scenario is one named, self-contained regression check. Run
// constructs its own store, audit log, and router from scratch so
// scenarios never share state and can run in any order.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context) error
}

// RunAll executes every scenario in order, continuing past failures so
// one broken scenario doesn't hide the rest.
func RunAll(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		start := time.Now()
		err := sc.Run(ctx)
		r := Result{Name: sc.Name, Duration: time.Since(start)}
		if err != nil {
			r.Detail = err.Error()
		} else {
			r.Passed = true
		}
		results = append(results, r)
	}
	return results
}

// Summarize renders results as a plain-text report for CLI output.
func Summarize(results []Result) string {
	out := ""
	passCount := 0
	for _, r := range results {
		status := "FAIL"
		if r.Passed {
			status = "PASS"
			passCount++
		}
		out += fmt.Sprintf("[%s] %-40s %s\n", status, r.Name, r.Duration.Round(time.Microsecond))
		if !r.Passed {
			out += fmt.Sprintf("       %s\n", r.Detail)
		}
	}
	out += fmt.Sprintf("\n%d/%d scenarios passed\n", passCount, len(results))
	return out
}

// AnyFailed reports whether at least one scenario failed, for the
// CLI's exit code decision.
func AnyFailed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
