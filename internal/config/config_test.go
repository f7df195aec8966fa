package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNothingSet(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := Load(Flags{DataDir: dataDir}, map[string]string{})
	require.NoError(t, err)
	require.Equal(t, "loopback", cfg.Channel)
	require.Equal(t, "claude", cfg.DefaultTool)
	require.Equal(t, "off", cfg.AutopilotMode)
	require.Equal(t, 10, cfg.OverrideWindowSeconds)
	require.Equal(t, filepath.Join(dataDir, "prompts.db"), cfg.DBPath)
}

func TestLoadFlagBeatsEnvBeatsFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.toml"), []byte(`channel = "wsconsole"`), 0o600))

	envOnly, err := Load(Flags{DataDir: dataDir}, map[string]string{"ATLASBRIDGE_CHANNEL": "loopback"})
	require.NoError(t, err)
	require.Equal(t, "loopback", envOnly.Channel, "env should beat file")

	flagWins, err := Load(Flags{DataDir: dataDir, Channel: "custom"}, map[string]string{"ATLASBRIDGE_CHANNEL": "loopback"})
	require.NoError(t, err)
	require.Equal(t, "custom", flagWins.Channel, "flag should beat env")

	fileOnly, err := Load(Flags{DataDir: dataDir}, map[string]string{})
	require.NoError(t, err)
	require.Equal(t, "wsconsole", fileOnly.Channel, "file should apply when no flag/env set")
}

func TestLoadLegacyPrefixIsLowestPrecedence(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := Load(Flags{DataDir: dataDir}, map[string]string{
		"PROMPTRELAY_CHANNEL":   "legacy-channel",
		"ATLASBRIDGE_CHANNEL":   "current-channel",
	})
	require.NoError(t, err)
	require.Equal(t, "current-channel", cfg.Channel)
}

func TestLoadRejectsInvalidOverrideWindow(t *testing.T) {
	dataDir := t.TempDir()
	_, err := Load(Flags{DataDir: dataDir}, map[string]string{"ATLASBRIDGE_OVERRIDE_WINDOW_SECONDS": "not-a-number"})
	require.Error(t, err)
}

func TestEnsureDataDirCreatesWithRestrictedMode(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "nested", "atlasbridge")
	require.NoError(t, EnsureDataDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestMigrateLegacyDataDirCopiesForwardOnce(t *testing.T) {
	legacy := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "policy.yaml"), []byte("rules: []"), 0o600))

	newDir := filepath.Join(t.TempDir(), "new")
	err := MigrateLegacyDataDir(map[string]string{"PROMPTRELAY_DATA_DIR": legacy}, newDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(newDir, "policy.yaml"))
	require.NoError(t, err)
	require.Equal(t, "rules: []", string(data))
}
