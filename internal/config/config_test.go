package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Blob.Driver != "fs" {
		t.Fatalf("unexpected blob driver %q", cfg.Blob.Driver)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labrun.toml")
	content := `
[storage]
driver = "sqlite"
sqlite_path = "/data/labrun.db"

[blob]
driver = "memory"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("LABRUN_STORAGE_DRIVER", "")
	t.Setenv("LABRUN_SQLITE_PATH", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/data/labrun.db" {
		t.Fatalf("file values not applied: %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "memory" {
		t.Fatalf("file blob driver not applied: %+v", cfg.Blob)
	}

	t.Setenv("LABRUN_STORAGE_DRIVER", "postgres")
	t.Setenv("LABRUN_POSTGRES_DSN", "postgres://localhost/labrun_test")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Fatalf("env override not applied: %+v", cfg.Storage)
	}
	if cfg.Storage.PostgresDSN != "postgres://localhost/labrun_test" {
		t.Fatalf("env DSN not applied: %+v", cfg.Storage)
	}
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("LABRUN_STORAGE_DRIVER", "oracle")
	if _, err := Load(""); err == nil {
		t.Fatal("expected unknown storage driver to fail")
	}
	t.Setenv("LABRUN_STORAGE_DRIVER", "memory")
	t.Setenv("LABRUN_BLOB_DRIVER", "s3")
	t.Setenv("LABRUN_BLOB_S3_BUCKET", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected s3 without bucket to fail")
	}
}
