package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tempora-project/tempora/internal/config"
)

func TestLoad_RequiresMasterKey(t *testing.T) {
	os.Unsetenv("TEMPORA_MASTER_KEY")
	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error when no master key is configured anywhere")
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("TEMPORA_MASTER_KEY", "test-key-material")
	t.Setenv("TEMPORA_LISTEN_ADDR", ":9999")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.MasterKeyMaterial != "test-key-material" {
		t.Fatalf("MasterKeyMaterial not picked up from env")
	}
}

func TestLoad_FileOverridesDefaultsAndEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tempora.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7000\"\nsnapshot_path: \"/tmp/from-file.json\"\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("TEMPORA_MASTER_KEY", "test-key-material")
	t.Setenv("TEMPORA_LISTEN_ADDR", ":8111")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8111" {
		t.Fatalf("ListenAddr = %q, want env override :8111", cfg.ListenAddr)
	}
	if cfg.SnapshotPath != "/tmp/from-file.json" {
		t.Fatalf("SnapshotPath = %q, want file value (no env override set)", cfg.SnapshotPath)
	}
}
