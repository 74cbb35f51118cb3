// Package config loads repository-local and CLI-global settings.
//
// RepoConfig is the small per-repository settings file living at
// .crsl/config.yaml (store backend, data directory, author, default
// merge policy) read directly with gopkg.in/yaml.v3, the same direct,
// viper-bypassing style as the teacher's internal/config/local_config.go
// — useful before a Repository is open and from commands run outside the
// CWD viper was initialized for.
//
// GlobalConfig (global.go) is the CLI-wide, hot-reloadable settings
// layered on top via viper + fsnotify.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoDir is the marker directory name created by `crsl init` (spec §6.3).
const RepoDir = ".crsl"

// configFileName is the repo-local settings file inside RepoDir.
const configFileName = "config.yaml"

// Backend names accepted by the "store" key.
const (
	BackendMem  = "mem"
	BackendBolt = "bolt"
	BackendSQL  = "sql"
)

// RepoConfig is the subset of repository settings that need to be read
// directly from disk rather than through a live Repository handle: which
// store backend to open, where its data lives, the default commit author
// and the default genesis merge policy.
type RepoConfig struct {
	Store         string `yaml:"store"`
	DataDir       string `yaml:"data-dir"`
	Author        string `yaml:"author"`
	DefaultPolicy string `yaml:"default-policy"`
	DSN           string `yaml:"dsn,omitempty"` // store: sql only
}

// DefaultRepoConfig returns the settings `crsl init` writes for a new
// repository: an embedded bbolt store under RepoDir/store, no author
// configured, and the engine's default last-write-wins policy.
func DefaultRepoConfig() RepoConfig {
	return RepoConfig{
		Store:         BackendBolt,
		DataDir:       "store",
		DefaultPolicy: "lww",
	}
}

// ConfigPath returns the path to repoRoot's settings file.
func ConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, RepoDir, configFileName)
}

// LoadRepoConfig reads and parses RepoDir/config.yaml under repoRoot.
// A missing file is not an error — it returns DefaultRepoConfig(), since
// a config file is only ever absent before the first `crsl init` write
// or in an in-memory/embedded use of the library.
func LoadRepoConfig(repoRoot string) (RepoConfig, error) {
	data, err := os.ReadFile(ConfigPath(repoRoot)) // #nosec G304 -- path built from caller-supplied repo root
	if os.IsNotExist(err) {
		return DefaultRepoConfig(), nil
	}
	if err != nil {
		return RepoConfig{}, fmt.Errorf("config.LoadRepoConfig: reading %s: %w", ConfigPath(repoRoot), err)
	}

	cfg := DefaultRepoConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepoConfig{}, fmt.Errorf("config.LoadRepoConfig: parsing %s: %w", ConfigPath(repoRoot), err)
	}
	return cfg, nil
}

// Save writes cfg to RepoDir/config.yaml under repoRoot, creating RepoDir
// if necessary.
func (c RepoConfig) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, RepoDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config.Save: creating %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config.Save: marshaling: %w", err)
	}
	if err := os.WriteFile(ConfigPath(repoRoot), data, 0o600); err != nil {
		return fmt.Errorf("config.Save: writing %s: %w", ConfigPath(repoRoot), err)
	}
	return nil
}

// DataPath returns the absolute path to the store's data directory or
// file under repoRoot.
func (c RepoConfig) DataPath(repoRoot string) string {
	if c.DataDir == "" {
		return filepath.Join(repoRoot, RepoDir, "store")
	}
	return filepath.Join(repoRoot, RepoDir, c.DataDir)
}

// FindRepoRoot walks up from startDir looking for a RepoDir, the same
// upward-search local_config.go's findProjectConfigYaml uses for
// .beads/config.yaml.
func FindRepoRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, RepoDir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("config.FindRepoRoot: no %s directory found above %s (run 'crsl init' first)", RepoDir, startDir)
		}
		dir = parent
	}
}
