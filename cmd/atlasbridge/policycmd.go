package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Validate, test, or migrate a policy.yaml file",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse and validate a policy file, reporting the first error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		pol, err := policy.Parse(data)
		if err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
		fmt.Printf("ok: %d rules, version hash %s\n", len(pol.Rules()), pol.VersionHash())
		return nil
	},
}

var policyTestFlags struct {
	File       string
	Excerpt    string
	PromptType string
	Confidence string
}

var policyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate a sample prompt excerpt against a policy file and print the resulting decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		if policyTestFlags.File == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policyTestFlags.File = cfg.PolicyPath
		}
		data, err := os.ReadFile(policyTestFlags.File)
		if err != nil {
			return err
		}
		pol, err := policy.Parse(data)
		if err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}

		confidence := domain.Confidence(policyTestFlags.Confidence)
		if confidence == "" {
			confidence = domain.ConfidenceHigh
		}
		event := domain.PromptEvent{
			Type:       domain.PromptType(policyTestFlags.PromptType),
			Excerpt:    policyTestFlags.Excerpt,
			Confidence: confidence,
		}
		decision := pol.Evaluate(event)
		fmt.Printf("action:       %s\n", decision.Action)
		if decision.MatchedRuleID != "" {
			fmt.Printf("matched rule: %s\n", decision.MatchedRuleID)
		}
		if decision.ReplyValue != "" {
			fmt.Printf("reply value:  %s\n", decision.ReplyValue)
		}
		fmt.Printf("policy hash:  %s\n", decision.PolicyVersionHash)
		return nil
	},
}

func init() {
	policyTestCmd.Flags().StringVar(&policyTestFlags.File, "file", "", "policy file to test against (default: the configured policy.yaml)")
	policyTestCmd.Flags().StringVar(&policyTestFlags.Excerpt, "excerpt", "", "sample prompt excerpt text")
	policyTestCmd.Flags().StringVar(&policyTestFlags.PromptType, "type", string(domain.PromptYesNo), "prompt type (yes_no|confirm_enter|multiple_choice|free_text)")
	policyTestCmd.Flags().StringVar(&policyTestFlags.Confidence, "confidence", string(domain.ConfidenceHigh), "detector confidence (low|medium|high)")

	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyTestCmd)
	policyCmd.AddCommand(policyMigrateCmd)
}

// legacyV0Rule is policy.yaml's pre-v1 shape: every rule was an
// implicit text_contains match with an implicit auto_reply action, so
// a v0 file carries only the three fields an operator actually wrote
// by hand.
type legacyV0Rule struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
	Reply   string `yaml:"reply"`
}

type legacyV0File struct {
	Version int            `yaml:"version"`
	Rules   []legacyV0Rule `yaml:"rules"`
}

var policyMigrateCmd = &cobra.Command{
	Use:   "migrate <file>",
	Short: "Rewrite a v0 policy.yaml file into the current v1 rule shape",
	Long: `migrate reads a v0 policy file (rules with only id/pattern/reply
fields, no explicit match or action) and rewrites it in place into v1's
explicit {match: text_contains, action: auto_reply} shape. Evaluating a
fixed prompt against the file before and after migration yields
identical decisions, since v0's implicit defaults are exactly v1's
text_contains/auto_reply combination.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var legacy legacyV0File
		if err := yaml.Unmarshal(data, &legacy); err != nil {
			return fmt.Errorf("parse v0 policy: %w", err)
		}

		v1 := policy.File{Rules: make([]policy.Rule, 0, len(legacy.Rules))}
		for _, r := range legacy.Rules {
			v1.Rules = append(v1.Rules, policy.Rule{
				ID: r.ID,
				Condition: policy.Condition{
					Match:   policy.MatchTextContains,
					Pattern: r.Pattern,
				},
				Action:     domain.ActionAutoReply,
				ReplyValue: r.Reply,
			})
		}

		out, err := yaml.Marshal(v1)
		if err != nil {
			return fmt.Errorf("render v1 policy: %w", err)
		}
		if _, err := policy.Parse(out); err != nil {
			return fmt.Errorf("migrated policy failed to validate: %w", err)
		}
		if err := os.WriteFile(path, out, 0o600); err != nil {
			return err
		}
		fmt.Printf("migrated %d rules to v1 in %s\n", len(v1.Rules), path)
		return nil
	},
}
