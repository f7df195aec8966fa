package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/atlasbridge/atlasbridge/internal/auditlog"
	"github.com/atlasbridge/atlasbridge/internal/autopilot"
	"github.com/atlasbridge/atlasbridge/internal/config"
	"github.com/atlasbridge/atlasbridge/internal/domain"
	"github.com/atlasbridge/atlasbridge/internal/policy"
	"github.com/atlasbridge/atlasbridge/internal/store"
)

// loadConfig resolves the process-wide Config from persistent flags,
// the environment, and config.toml, migrating a legacy PROMPTRELAY_
// data directory forward exactly once if one exists and the new
// location does not exist yet.
func loadConfig() (config.Config, error) {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	flags := config.Flags{
		DataDir:       globalFlags.DataDir,
		Channel:       globalFlags.Channel,
		AutopilotMode: globalFlags.AutopilotMode,
	}

	cfg, err := config.Load(flags, env)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.MigrateLegacyDataDir(env, cfg.DataDir); err != nil {
		return config.Config{}, fmt.Errorf("migrate legacy data directory: %w", err)
	}
	if err := config.EnsureDataDir(cfg.DataDir); err != nil {
		return config.Config{}, fmt.Errorf("create data directory: %w", err)
	}
	return cfg, nil
}

// rig bundles every long-lived handle a daemon-shaped command needs.
// Close tears them down in reverse-acquisition order.
type rig struct {
	cfg       config.Config
	db        *sql.DB
	store     *store.Store
	audit     *auditlog.Log
	policy    *policy.Watcher
	autopilot *autopilot.Engine
}

func openRig(ctx context.Context, cfg config.Config) (*rig, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st := store.New(db)

	audit, err := auditlog.Open(cfg.AuditLogPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	if _, err := os.Stat(cfg.PolicyPath); os.IsNotExist(err) {
		if werr := os.WriteFile(cfg.PolicyPath, defaultPolicyYAML, 0o600); werr != nil {
			_ = audit.Close()
			_ = db.Close()
			return nil, fmt.Errorf("write default policy: %w", werr)
		}
	}
	polWatcher, err := policy.NewWatcher(cfg.PolicyPath, func(err error) {
		fmt.Fprintf(os.Stderr, "policy: %v\n", err)
	})
	if err != nil {
		_ = audit.Close()
		_ = db.Close()
		return nil, fmt.Errorf("watch policy: %w", err)
	}

	trace, err := auditlog.Open(cfg.DecisionTracePath)
	if err != nil {
		_ = polWatcher.Close()
		_ = audit.Close()
		_ = db.Close()
		return nil, fmt.Errorf("open decision trace: %w", err)
	}

	ap, err := autopilot.New(ctx, st, policyProvider{polWatcher}, trace, time.Duration(cfg.OverrideWindowSeconds)*time.Second)
	if err != nil {
		_ = trace.Close()
		_ = polWatcher.Close()
		_ = audit.Close()
		_ = db.Close()
		return nil, fmt.Errorf("construct autopilot engine: %w", err)
	}
	if err := ap.SetMode(ctx, autopilot.Mode(cfg.AutopilotMode)); err != nil {
		_ = trace.Close()
		_ = polWatcher.Close()
		_ = audit.Close()
		_ = db.Close()
		return nil, fmt.Errorf("set autopilot mode: %w", err)
	}

	return &rig{cfg: cfg, db: db, store: st, audit: audit, policy: polWatcher, autopilot: ap}, nil
}

func (r *rig) Close() {
	_ = r.policy.Close()
	_ = r.audit.Close()
	_ = store.CloseDB(r.db)
}

// policyProvider adapts *policy.Watcher to autopilot.PolicyProvider,
// re-reading Current() on every call so a hot-reloaded policy file
// takes effect on the very next prompt the autopilot engine decides.
type policyProvider struct {
	w *policy.Watcher
}

func (p policyProvider) Evaluate(event domain.PromptEvent) domain.PolicyDecision {
	return p.w.Current().Evaluate(event)
}

var defaultPolicyYAML = []byte(`# atlasbridge policy: ordered rules, first match wins.
# A prompt matching no rule below falls back to require_human.
rules: []
`)
