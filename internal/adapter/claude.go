package adapter

import (
	"fmt"
	"regexp"

	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/detector"
)

func init() {
	Register("claude", func() Adapter { return &claudeAdapter{} })
}

// claudeAdapter understands the interactive confirmation prompts the
// Claude Code CLI emits when it asks for tool-use permission or a
// plan confirmation. Pattern text is grounded on the PermissionDenial/
// StreamEvent shapes documented in the wernerstrydom-claude-agent-sdk-go
// example's agent/message.go, translated from that SDK's structured
// stream-json fields back to the raw terminal strings a PTY-attached
// supervisor actually sees (this system has no stream-json channel;
// it watches the real tty).
type claudeAdapter struct{}

func (a *claudeAdapter) Name() string { return "claude" }

var claudePatterns = []detector.PatternRule{
	{
		Type:      domain.PromptYesNo,
		Regex:     regexp.MustCompile(`(?i)do you want to (proceed|allow|continue)\??\s*\(y/n\)\s*$`),
		TailBytes: 256,
	},
	{
		Type:      domain.PromptMultiChoice,
		Regex:     regexp.MustCompile(`(?m)^\s*\d+\.\s.+(\n\s*\d+\.\s.+)+\s*$`),
		TailBytes: 1024,
	},
	{
		Type:      domain.PromptConfirmEnter,
		Regex:     regexp.MustCompile(`(?i)press enter to continue\s*$`),
		TailBytes: 128,
	},
}

func (a *claudeAdapter) PromptPatterns() []detector.PatternRule {
	return claudePatterns
}

func (a *claudeAdapter) Encode(promptType domain.PromptType, replyValue string) ([]byte, error) {
	switch promptType {
	case domain.PromptYesNo:
		if replyValue != "y" && replyValue != "n" {
			return nil, fmt.Errorf("adapter claude: yes_no reply must be \"y\" or \"n\", got %q", replyValue)
		}
		return []byte(replyValue + "\r"), nil
	case domain.PromptConfirmEnter:
		return []byte("\r"), nil
	case domain.PromptMultiChoice:
		return []byte(replyValue + "\r"), nil
	case domain.PromptFreeText:
		return []byte(replyValue + "\r"), nil
	default:
		return nil, fmt.Errorf("adapter claude: unsupported prompt type %q", promptType)
	}
}
