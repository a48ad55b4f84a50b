package app

import (
	"context"

	"feedwatch/internal/config"
	"feedwatch/internal/seen"
	"feedwatch/internal/storage"
	"feedwatch/internal/targets"
	logx "feedwatch/pkg/logx"
)

// Workspace is the persistent state opened without starting the monitor. The
// CLI uses it for target management while the daemon is stopped.
type Workspace struct {
	Config  *config.Config
	Store   storage.Store
	Targets *targets.Registry
	Seen    *seen.Cache
	Log     logx.Logger
}

// OpenWorkspace loads the config, opens storage and loads the registry and
// the seen-set. Storage must be enabled; changes would otherwise be lost.
func OpenWorkspace(ctx context.Context, cfgPath string, log logx.Logger) (*Workspace, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, storage.ErrDisabled
	}

	reg := targets.New(store, store, log)
	if err := reg.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	seenCfg, err := mapSeenConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	set := seen.New(seenCfg, store, log)
	set.Load(ctx)

	return &Workspace{Config: cfg, Store: store, Targets: reg, Seen: set, Log: log}, nil
}

// Close releases storage. The seen-set is read-only here and never flushed,
// so a running daemon's snapshot is not overwritten.
func (w *Workspace) Close() error {
	return w.Store.Close()
}
