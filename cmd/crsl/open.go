package main

import (
	"context"
	"fmt"

	"github.com/crsl-dev/crsl/internal/config"
	"github.com/crsl-dev/crsl/repo"
	"github.com/crsl-dev/crsl/store"
	"github.com/crsl-dev/crsl/store/boltstore"
	"github.com/crsl-dev/crsl/store/memstore"
	"github.com/crsl-dev/crsl/store/sqlstore"
)

// openStore opens the backend named by cfg.Store, the same backend-choice
// switch the teacher's cmd/bd uses to pick between its sqlite/dolt/memory
// storage.Storage implementations at startup.
func openStore(ctx context.Context, root string, cfg config.RepoConfig) (store.Store, error) {
	switch cfg.Store {
	case config.BackendMem:
		return memstore.New(), nil
	case config.BackendBolt, "":
		s, err := boltstore.Open(cfg.DataPath(root))
		if err != nil {
			return nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return s, nil
	case config.BackendSQL:
		s, err := sqlstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sql store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

// openRepository loads root's RepoConfig, opens its configured store and
// returns a ready-to-use Repository plus a close func the caller must
// defer. Fields RepoConfig leaves empty (most commonly Author) fall back
// to ~/.crslrc.toml's CLI-wide defaults; repo-local values always win.
func openRepository(ctx context.Context, root string) (*repo.Repository, config.RepoConfig, func() error) {
	cfg, err := config.LoadRepoConfig(root)
	if err != nil {
		fail("loading repository config: %v", err)
	}
	global := globalDefaults()
	if cfg.Author == "" {
		cfg.Author = global.Author
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = global.DefaultPolicy
	}

	s, err := openStore(ctx, root, cfg)
	if err != nil {
		fail("%v", err)
	}

	r := repo.Open(s)
	r.SetLogger(logger)
	if cfg.DefaultPolicy != "" {
		r.SetDefaultPolicy(cfg.DefaultPolicy)
	}
	return r, cfg, s.Close
}
