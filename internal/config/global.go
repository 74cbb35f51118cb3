package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// globalConfigName/Type select ~/.crslrc.toml as the CLI-wide defaults
// file. viper (hot-reloaded via fsnotify) owns reading it; the one-time
// scaffold written by WriteDefaultGlobalConfig is encoded directly with
// BurntSushi/toml, the same encode-a-struct-to-disk shape
// configfile.Config.Save uses for metadata.json (spec §6.5, §9).
const (
	globalConfigName = ".crslrc"
	globalConfigType = "toml"
)

// GlobalConfig holds CLI-wide defaults that apply across repositories:
// the preferred store backend for `crsl init`, the default commit
// author, and the default genesis merge policy. Project-local
// RepoConfig values always take precedence once a repository exists.
type GlobalConfig struct {
	Store         string `mapstructure:"store" toml:"store"`
	Author        string `mapstructure:"author" toml:"author"`
	DefaultPolicy string `mapstructure:"default-policy" toml:"default-policy"`
}

// GlobalLoader wraps a viper instance watching ~/.crslrc.toml for
// changes, the same fsnotify-driven hot reload the teacher's CLI wires
// viper with (spec §6.5, §9).
type GlobalLoader struct {
	v      *viper.Viper
	logger *slog.Logger

	mu  sync.RWMutex
	cur GlobalConfig
}

// NewGlobalLoader creates a GlobalLoader reading (and, once Watch is
// called, live-reloading) the user's ~/.crslrc.toml.
func NewGlobalLoader(logger *slog.Logger) (*GlobalLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config.NewGlobalLoader: resolving home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName(globalConfigName)
	v.SetConfigType(globalConfigType)
	v.AddConfigPath(home)
	v.SetDefault("store", BackendBolt)
	v.SetDefault("default-policy", "lww")

	g := &GlobalLoader{v: v, logger: logger}
	if err := g.reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// reload re-reads the config file, tolerating a missing file (defaults
// apply) but not a malformed one.
func (g *GlobalLoader) reload() error {
	if err := g.v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("config.GlobalLoader: reading %s.%s: %w", globalConfigName, globalConfigType, err)
		}
	}

	var cfg GlobalConfig
	if err := g.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("config.GlobalLoader: decoding global config: %w", err)
	}

	g.mu.Lock()
	g.cur = cfg
	g.mu.Unlock()
	return nil
}

// Current returns the most recently loaded GlobalConfig.
func (g *GlobalLoader) Current() GlobalConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cur
}

// Watch starts watching the config file for changes via fsnotify
// (through viper's WatchConfig), invoking onChange with the freshly
// reloaded GlobalConfig after each write. Watch returns immediately;
// the watch goroutine runs until the process exits.
func (g *GlobalLoader) Watch(onChange func(GlobalConfig)) {
	g.v.OnConfigChange(func(e fsnotify.Event) {
		if err := g.reload(); err != nil {
			g.logger.Error("global config reload failed", slog.String("event", e.Name), slog.Any("error", err))
			return
		}
		g.logger.Info("global config reloaded", slog.String("path", g.v.ConfigFileUsed()))
		if onChange != nil {
			onChange(g.Current())
		}
	})
	g.v.WatchConfig()
}

// ConfigFilePath returns the resolved path viper is reading from, even
// if the file does not yet exist.
func (g *GlobalLoader) ConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, globalConfigName+"."+globalConfigType)
}

// WriteDefaultGlobalConfig writes cfg to ~/.crslrc.toml if no file exists
// there yet, so a first-time `crsl init` leaves behind an editable
// starting point (plain TOML keys, no comments) instead of silently relying on in-memory
// defaults. Returns false without error if a file is already present.
func WriteDefaultGlobalConfig(cfg GlobalConfig) (bool, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return false, fmt.Errorf("config.WriteDefaultGlobalConfig: resolving home directory: %w", err)
	}
	path := filepath.Join(home, globalConfigName+"."+globalConfigType)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("config.WriteDefaultGlobalConfig: statting %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false, fmt.Errorf("config.WriteDefaultGlobalConfig: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return false, fmt.Errorf("config.WriteDefaultGlobalConfig: encoding %s: %w", path, err)
	}
	return true, nil
}
