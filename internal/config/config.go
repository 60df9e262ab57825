// Package config loads labrun runtime settings from a TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds runtime settings for the storage and blob layers.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Blob    BlobConfig    `toml:"blob"`
}

// StorageConfig selects and parameterizes the persistent store backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres. Default memory.
	Driver     string `toml:"driver"`
	SQLitePath string `toml:"sqlite_path"`
	// PostgresDSN may also arrive via LABRUN_POSTGRES_DSN or DATABASE_URL.
	PostgresDSN string `toml:"postgres_dsn"`
}

// BlobConfig selects and parameterizes the blob store backend.
type BlobConfig struct {
	// Driver is one of fs, s3, memory. Default fs.
	Driver string `toml:"driver"`
	FSRoot string `toml:"fs_root"`

	S3Bucket    string `toml:"s3_bucket"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
}

// Default returns the baseline configuration used when no file or overrides
// are present.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "memory", SQLitePath: "labrun.db"},
		Blob:    BlobConfig{Driver: "fs", FSRoot: "./blobdata"},
	}
}

// Load reads the TOML file at path (when non-empty), overlays it on the
// defaults, then applies environment overrides. A missing file with an empty
// path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus environment overrides,
// honoring LABRUN_CONFIG as the optional file path.
func FromEnv() (Config, error) {
	return Load(os.Getenv("LABRUN_CONFIG"))
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LABRUN_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("LABRUN_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LABRUN_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("LABRUN_BLOB_DRIVER"); v != "" {
		cfg.Blob.Driver = v
	}
	if v := os.Getenv("LABRUN_BLOB_FS_ROOT"); v != "" {
		cfg.Blob.FSRoot = v
	}
	if v := os.Getenv("LABRUN_BLOB_S3_BUCKET"); v != "" {
		cfg.Blob.S3Bucket = v
	}
	if v := os.Getenv("LABRUN_BLOB_S3_REGION"); v != "" {
		cfg.Blob.S3Region = v
	}
	if v := os.Getenv("LABRUN_BLOB_S3_ENDPOINT"); v != "" {
		cfg.Blob.S3Endpoint = v
	}
	if v := os.Getenv("LABRUN_BLOB_S3_PATH_STYLE"); v != "" {
		cfg.Blob.S3PathStyle = strings.EqualFold(v, "true")
	}
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "", "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3Bucket == "" {
		return fmt.Errorf("blob driver s3 requires a bucket")
	}
	return nil
}
