package config

import (
	"os"
	"path/filepath"
)

// MigrateLegacyDataDir copies a previous PROMPTRELAY_DATA_DIR tree
// forward into the new location, once, if the new location doesn't
// exist yet. Spec.md §6.3 requires the legacy prefix to be "honoured
// once and then migrated" — this performs that one-time copy-forward
// for the directory case; environment variable precedence itself is
// handled per-key in Load.
func MigrateLegacyDataDir(env map[string]string, newDataDir string) error {
	legacy := lookupEnv(env, legacyEnvPrefix+"DATA_DIR")
	if legacy == "" || legacy == newDataDir {
		return nil
	}
	if _, err := os.Stat(newDataDir); err == nil {
		return nil
	}
	info, err := os.Stat(legacy)
	if err != nil || !info.IsDir() {
		return nil
	}

	if err := os.MkdirAll(newDataDir, 0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(legacy)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		src := filepath.Join(legacy, entry.Name())
		dst := filepath.Join(newDataDir, entry.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		mode := os.FileMode(0o600)
		if st, err := entry.Info(); err == nil {
			mode = st.Mode().Perm()
		}
		if err := os.WriteFile(dst, data, mode); err != nil {
			return err
		}
	}
	return nil
}
