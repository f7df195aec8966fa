package labscenario

import (
	"context"
	"strings"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// BuiltIn returns all six of spec.md §8's end-to-end scenarios, which `atlasbridge lab run` replays against the real
// internal stack. These share the same fixtures (the loopback channel,
// the generic adapter, a yes_no prompt shape) as internal/router's own
// tests; lab run exists for operators who want a smoke test against
// one built binary, not a substitute for package-level tests.
func BuiltIn() []Scenario {
	return []Scenario{
		happyPathScenario(),
		echoSuppressionScenario(),
		duplicateCallbackScenario(),
		ttlExpiryScenario(),
		restartRecoveryScenario(),
		autopilotDenyScenario(),
	}
}

func happyPathScenario() Scenario {
	return Scenario{
		Name:        "happy_path_resolves",
		Description: "a routed yes_no prompt reaches RESOLVED once the human replies",
		Run: func(ctx context.Context) error {
			rg, err := newRig(nil)
			if err != nil {
				return err
			}
			defer rg.close()

			event := yesNoEvent("lab-1", "sess-1")
			if err := rg.router.Route(ctx, event); err != nil {
				return err
			}
			if _, ok := rg.loop.Delivered("lab-1"); !ok {
				return expect(false, "expected prompt to be delivered to the channel")
			}
			if err := rg.loop.InjectReply("lab-1", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			got, err := rg.st.GetPrompt(ctx, "lab-1")
			if err != nil {
				return err
			}
			if err := expect(got.State == domain.PromptResolved, "expected RESOLVED, got %s", got.State); err != nil {
				return err
			}
			return expect(rg.injector.count() == 1, "expected exactly one injected write, got %d", rg.injector.count())
		},
	}
}

func echoSuppressionScenario() Scenario {
	return Scenario{
		Name:        "echo_loop_suppressed",
		Description: "injecting a reply arms the detector's suppression window exactly once",
		Run: func(ctx context.Context) error {
			rg, err := newRig(nil)
			if err != nil {
				return err
			}
			defer rg.close()

			event := yesNoEvent("lab-2", "sess-1")
			if err := rg.router.Route(ctx, event); err != nil {
				return err
			}
			if err := rg.loop.InjectReply("lab-2", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			return expect(rg.suppressor.count() == 1, "expected suppression to fire once, got %d", rg.suppressor.count())
		},
	}
}

func duplicateCallbackScenario() Scenario {
	return Scenario{
		Name:        "duplicate_callback_idempotent",
		Description: "the same reply delivered twice injects exactly once",
		Run: func(ctx context.Context) error {
			rg, err := newRig(nil)
			if err != nil {
				return err
			}
			defer rg.close()

			event := yesNoEvent("lab-3", "sess-1")
			if err := rg.router.Route(ctx, event); err != nil {
				return err
			}
			if err := rg.loop.InjectReply("lab-3", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			if err := rg.loop.InjectReply("lab-3", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			return expect(rg.injector.count() == 1, "expected exactly one injected write across both callbacks, got %d", rg.injector.count())
		},
	}
}

func ttlExpiryScenario() Scenario {
	return Scenario{
		Name:        "ttl_expiry_notifies_late_reply",
		Description: "an expired prompt is swept and a late reply gets an expiry notice instead of injection",
		Run: func(ctx context.Context) error {
			rg, err := newRig(nil)
			if err != nil {
				return err
			}
			defer rg.close()

			event := yesNoEvent("lab-4", "sess-1")
			event.TTLSeconds = 1
			event.CreatedAt = time.Now().Add(-10 * time.Second)
			event.State = domain.PromptCreated
			if err := rg.st.InsertPrompt(ctx, event); err != nil {
				return err
			}
			if err := rg.st.Transition(ctx, "lab-4", domain.PromptCreated, domain.PromptRouted); err != nil {
				return err
			}
			if err := rg.st.Transition(ctx, "lab-4", domain.PromptRouted, domain.PromptAwaitingReply); err != nil {
				return err
			}

			ids, err := rg.st.SweepExpired(ctx)
			if err != nil {
				return err
			}
			found := false
			for _, id := range ids {
				if id == "lab-4" {
					found = true
				}
			}
			if err := expect(found, "expected lab-4 to be swept as expired"); err != nil {
				return err
			}

			if err := rg.loop.InjectReply("lab-4", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			if err := expect(rg.injector.count() == 0, "expected no injection for an expired prompt"); err != nil {
				return err
			}
			notice, ok := rg.loop.Delivered("lab-4")
			if err := expect(ok, "expected an expiry notice to be delivered"); err != nil {
				return err
			}
			return expect(strings.Contains(notice.Excerpt, "expired"), "expected notice excerpt to mention expiry, got %q", notice.Excerpt)
		},
	}
}

func restartRecoveryScenario() Scenario {
	return Scenario{
		Name:        "restart_recovers_pending_prompt",
		Description: "a prompt stuck in ROUTED across a simulated crash is redelivered exactly once",
		Run: func(ctx context.Context) error {
			rg, err := newRig(nil)
			if err != nil {
				return err
			}
			defer rg.close()

			event := yesNoEvent("lab-5", "sess-1")
			event.CreatedAt = time.Now()
			event.TTLSeconds = 60
			event.State = domain.PromptCreated
			if err := rg.st.InsertPrompt(ctx, event); err != nil {
				return err
			}
			if err := rg.st.Transition(ctx, "lab-5", domain.PromptCreated, domain.PromptRouted); err != nil {
				return err
			}

			if err := rg.router.RecoverPending(ctx); err != nil {
				return err
			}
			if _, ok := rg.loop.Delivered("lab-5"); !ok {
				return expect(false, "expected recovery to redeliver the pending prompt")
			}

			if err := rg.loop.InjectReply("lab-5", event.Nonce, "operator", "y"); err != nil {
				return err
			}
			if err := expect(rg.injector.count() == 1, "expected exactly one injection after recovery+reply"); err != nil {
				return err
			}

			if err := rg.router.RecoverPending(ctx); err != nil {
				return err
			}
			return expect(rg.injector.count() == 1, "expected a second recovery pass not to re-inject a resolved prompt")
		},
	}
}

type fixedPolicy struct {
	decision domain.PolicyDecision
}

func (f fixedPolicy) Evaluate(event domain.PromptEvent) domain.PolicyDecision {
	return f.decision
}

func autopilotDenyScenario() Scenario {
	return Scenario{
		Name:        "autopilot_deny_injects_immediately",
		Description: "a deny rule match injects a synthetic negative reply with no channel round trip for the decision",
		Run: func(ctx context.Context) error {
			pol := fixedPolicy{decision: domain.PolicyDecision{
				Action:        domain.ActionDeny,
				ReplyValue:    "n",
				MatchedRuleID: "deny-force-push",
			}}
			ap, cleanup, err := newAutopilotEngine(autopilot.ModeAssist, pol, time.Second)
			if err != nil {
				return err
			}
			defer cleanup()

			rg, err := newRig(ap)
			if err != nil {
				return err
			}
			defer rg.close()

			event := domain.PromptEvent{
				PromptID:   "lab-6",
				SessionID:  "sess-1",
				Type:       domain.PromptYesNo,
				Excerpt:    "git push --force origin main? [y/n]",
				Confidence: domain.ConfidenceHigh,
			}
			if err := rg.router.Route(ctx, event); err != nil {
				return err
			}
			if err := expect(rg.injector.count() == 1, "expected the deny rule to inject immediately"); err != nil {
				return err
			}
			got, err := rg.st.GetPrompt(ctx, "lab-6")
			if err != nil {
				return err
			}
			return expect(got.State == domain.PromptResolved, "expected RESOLVED, got %s", got.State)
		},
	}
}
