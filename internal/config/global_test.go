package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	old := os.Getenv("HOME")
	os.Setenv("HOME", home)
	t.Cleanup(func() { os.Setenv("HOME", old) })
	return home
}

func TestNewGlobalLoaderDefaults(t *testing.T) {
	withTempHome(t)

	g, err := NewGlobalLoader(nil)
	if err != nil {
		t.Fatalf("NewGlobalLoader: %v", err)
	}

	cfg := g.Current()
	if cfg.Store != BackendBolt {
		t.Errorf("Store = %q, want %q", cfg.Store, BackendBolt)
	}
	if cfg.DefaultPolicy != "lww" {
		t.Errorf("DefaultPolicy = %q, want %q", cfg.DefaultPolicy, "lww")
	}
}

func TestNewGlobalLoaderReadsFile(t *testing.T) {
	home := withTempHome(t)

	content := "store = \"mem\"\nauthor = \"alice\"\ndefault-policy = \"lww\"\n"
	if err := os.WriteFile(filepath.Join(home, globalConfigName+"."+globalConfigType), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	g, err := NewGlobalLoader(nil)
	if err != nil {
		t.Fatalf("NewGlobalLoader: %v", err)
	}

	cfg := g.Current()
	if cfg.Store != "mem" {
		t.Errorf("Store = %q, want %q", cfg.Store, "mem")
	}
	if cfg.Author != "alice" {
		t.Errorf("Author = %q, want %q", cfg.Author, "alice")
	}
}

func TestGlobalLoaderConfigFilePath(t *testing.T) {
	home := withTempHome(t)

	g, err := NewGlobalLoader(nil)
	if err != nil {
		t.Fatalf("NewGlobalLoader: %v", err)
	}

	want := filepath.Join(home, globalConfigName+"."+globalConfigType)
	if got := g.ConfigFilePath(); got != want {
		t.Errorf("ConfigFilePath = %q, want %q", got, want)
	}
}
