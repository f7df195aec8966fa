package auditlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/domain"
)

func TestAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptCreated, PromptID: "p1", SessionID: "s1"}))
	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptRouted, PromptID: "p1", SessionID: "s1"}))
	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptResolved, PromptID: "p1", SessionID: "s1"}))
	require.NoError(t, l.Close())

	result, err := Verify(path)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 4, result.EntryCount) // chain.root + 3 entries

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, domain.EventChainRoot, entries[0].Kind)
	require.Equal(t, domain.EventPromptCreated, entries[1].Kind)
}

func TestResumeChainAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptCreated, PromptID: "p1"}))
	require.NoError(t, l.Close())

	l2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l2.Append(Entry{Kind: domain.EventPromptRouted, PromptID: "p1"}))
	require.NoError(t, l2.Close())

	result, err := Verify(path)
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Equal(t, 3, result.EntryCount)
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptCreated, PromptID: "p1"}))
	require.NoError(t, l.Append(Entry{Kind: domain.EventPromptResolved, PromptID: "p1"}))
	require.NoError(t, l.Close())

	raw, err := readRaw(path)
	require.NoError(t, err)
	// Flip a byte in the middle of the file to corrupt a payload or hash.
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, writeRaw(path, raw))

	result, err := Verify(path)
	require.NoError(t, err)
	require.False(t, result.Valid)
}
