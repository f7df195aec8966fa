package adapter

import (
	"fmt"
	"regexp"

	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/detector"
)

func init() {
	Register("generic", func() Adapter { return &genericAdapter{} })
}

// genericAdapter is a conservative fallback for any interactive CLI
// program that wasn't given its own adapter: a narrow set of common
// confirmation phrasings, and a y/n + enter + free-text encoding
// terminated by a newline ("\n", where the claude adapter sends "\r"),
// since that covers the large majority of POSIX CLI confirmation prompts.
type genericAdapter struct{}

func (a *genericAdapter) Name() string { return "generic" }

var genericPatterns = []detector.PatternRule{
	{
		Type:      domain.PromptYesNo,
		Regex:     regexp.MustCompile(`(?i)\[y/n\]\s*$|\(y/n\)\s*$|yes/no\s*\?\s*$`),
		TailBytes: 128,
	},
	{
		Type:      domain.PromptConfirmEnter,
		Regex:     regexp.MustCompile(`(?i)press (enter|return) to continue\s*$`),
		TailBytes: 128,
	},
}

func (a *genericAdapter) PromptPatterns() []detector.PatternRule {
	return genericPatterns
}

func (a *genericAdapter) Encode(promptType domain.PromptType, replyValue string) ([]byte, error) {
	switch promptType {
	case domain.PromptYesNo:
		if replyValue != "y" && replyValue != "n" {
			return nil, fmt.Errorf("adapter generic: yes_no reply must be \"y\" or \"n\", got %q", replyValue)
		}
		return []byte(replyValue + "\n"), nil
	case domain.PromptConfirmEnter:
		return []byte("\n"), nil
	case domain.PromptMultiChoice, domain.PromptFreeText:
		return []byte(replyValue + "\n"), nil
	default:
		return nil, fmt.Errorf("adapter generic: unsupported prompt type %q", promptType)
	}
}
