package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func TestLookupKnownAdapters(t *testing.T) {
	for _, name := range []string{"claude", "generic"} {
		a, err := Lookup(name)
		require.NoError(t, err)
		require.Equal(t, name, a.Name())
		require.NotEmpty(t, a.PromptPatterns())
	}
}

func TestLookupUnknownAdapter(t *testing.T) {
	_, err := Lookup("nonexistent-tool")
	require.Error(t, err)
}

func TestClaudeEncodeYesNo(t *testing.T) {
	a, err := Lookup("claude")
	require.NoError(t, err)

	b, err := a.Encode(domain.PromptYesNo, "y")
	require.NoError(t, err)
	require.Equal(t, "y\r", string(b))

	_, err = a.Encode(domain.PromptYesNo, "maybe")
	require.Error(t, err)
}

func TestRejectsUnsafeDefaultWithoutPolicyAuthorization(t *testing.T) {
	require.True(t, RejectsUnsafeDefault(domain.PromptYesNo, "y", domain.ReplyFromAutopilot, false))
	require.False(t, RejectsUnsafeDefault(domain.PromptYesNo, "y", domain.ReplyFromAutopilot, true))
	require.False(t, RejectsUnsafeDefault(domain.PromptYesNo, "y", domain.ReplyFromHuman, false))
	require.False(t, RejectsUnsafeDefault(domain.PromptFreeText, "y", domain.ReplyFromAutopilot, false))
}
