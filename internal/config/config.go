// Package config resolves the daemon's process-wide configuration
// snapshot: flag > environment > config.toml > built-in default
// precedence, rooted at an XDG-style data directory. Grounded on
// rcourtman-Pulse's cmd/pulse/main.go environment-variable loading
// (PULSE_DATA_DIR and friends) generalized into a single documented
// precedence chain, and on the wider pack's TOML usage for
// config.toml parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	envPrefix       = "ATLASBRIDGE_"
	legacyEnvPrefix = "PROMPTRELAY_"
	appDirName      = "atlasbridge"
)

// FileConfig is the parsed shape of config.toml: secrets and channel
// settings, never prompt/policy data (that lives in policy.yaml).
type FileConfig struct {
	DataDir        string            `toml:"data_dir"`
	DefaultTool    string            `toml:"default_tool"`
	Channel        string            `toml:"channel"`
	Allowlist      []string          `toml:"allowlist"`
	AutopilotMode  string            `toml:"autopilot_mode"`
	OverrideWindowSeconds int        `toml:"override_window_seconds"`
	ChannelTokens  map[string]string `toml:"channel_tokens"`
	WSConsoleAddr  string            `toml:"wsconsole_addr"`
}

// Config is the fully resolved, immutable snapshot the daemon runs
// with. Once built it is never mutated; a policy/config reload builds
// a fresh Config rather than patching this one in place.
type Config struct {
	DataDir               string
	DBPath                string
	AuditLogPath          string
	DecisionTracePath     string
	PolicyPath            string
	PIDPath               string
	ConfigPath            string
	DefaultTool           string
	Channel               string
	Allowlist             []string
	AutopilotMode         string
	OverrideWindowSeconds int
	ChannelTokens         map[string]string
	WSConsoleAddr         string
}

// Flags carries whatever the CLI layer parsed from argv; any non-zero
// field here wins over environment and file, matching flag > env >
// file > default precedence.
type Flags struct {
	DataDir       string
	Channel       string
	AutopilotMode string
}

// Load resolves the full precedence chain and returns an immutable
// Config. env is the process environment map (os.Environ-shaped);
// passing it explicitly, rather than reading os.Getenv throughout,
// keeps Load a pure function for tests.
func Load(flags Flags, env map[string]string) (Config, error) {
	dataDir := firstNonEmpty(flags.DataDir, lookupEnv(env, envPrefix+"DATA_DIR"), lookupEnv(env, legacyEnvPrefix+"DATA_DIR"), defaultDataDir())

	var fc FileConfig
	configPath := filepath.Join(dataDir, "config.toml")
	if data, err := os.ReadFile(configPath); err == nil {
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	channel := firstNonEmpty(flags.Channel, lookupEnv(env, envPrefix+"CHANNEL"), lookupEnv(env, legacyEnvPrefix+"CHANNEL"), fc.Channel, "loopback")
	tool := firstNonEmpty(lookupEnv(env, envPrefix+"DEFAULT_TOOL"), lookupEnv(env, legacyEnvPrefix+"DEFAULT_TOOL"), fc.DefaultTool, "claude")
	autopilotMode := firstNonEmpty(flags.AutopilotMode, lookupEnv(env, envPrefix+"AUTOPILOT_MODE"), lookupEnv(env, legacyEnvPrefix+"AUTOPILOT_MODE"), fc.AutopilotMode, "off")

	window := fc.OverrideWindowSeconds
	if v := lookupEnv(env, envPrefix+"OVERRIDE_WINDOW_SECONDS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s%s must be an integer: %w", envPrefix, "OVERRIDE_WINDOW_SECONDS", err)
		}
		window = parsed
	}
	if window <= 0 {
		window = 10
	}

	allowlist := fc.Allowlist
	if v := lookupEnv(env, envPrefix+"ALLOWLIST"); v != "" {
		allowlist = strings.Split(v, ",")
	}

	wsAddr := firstNonEmpty(lookupEnv(env, envPrefix+"WSCONSOLE_ADDR"), fc.WSConsoleAddr, "127.0.0.1:7171")

	cfg := Config{
		DataDir:               dataDir,
		DBPath:                filepath.Join(dataDir, "prompts.db"),
		AuditLogPath:          filepath.Join(dataDir, "audit.log"),
		DecisionTracePath:     filepath.Join(dataDir, "autopilot_decisions.jsonl"),
		PolicyPath:            filepath.Join(dataDir, "policy.yaml"),
		PIDPath:               filepath.Join(dataDir, "daemon.pid"),
		ConfigPath:            configPath,
		DefaultTool:           tool,
		Channel:               channel,
		Allowlist:             allowlist,
		AutopilotMode:         autopilotMode,
		OverrideWindowSeconds: window,
		ChannelTokens:         fc.ChannelTokens,
		WSConsoleAddr:         wsAddr,
	}
	return cfg, nil
}

// EnsureDataDir creates the data directory (and its config.toml's
// parent) with mode 0700, matching the daemon.pid/config.toml modes
// spec.md §6 requires for the files inside it.
func EnsureDataDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0o700)
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName)
	}
	return filepath.Join(home, ".local", "share", appDirName)
}

func lookupEnv(env map[string]string, key string) string {
	if env == nil {
		return os.Getenv(key)
	}
	return env[key]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
