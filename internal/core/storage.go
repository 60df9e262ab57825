package core

import (
	"context"
	"fmt"

	"labrun/internal/blob"
	"labrun/internal/config"
	"labrun/internal/infra/persistence/memory"
	"labrun/internal/infra/persistence/postgres"
	"labrun/internal/infra/persistence/sqlite"
)

// OpenPersistentStore builds the configured storage backend. All backends
// carry the same rules engine; a nil engine means no rules.
func OpenPersistentStore(cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewStore(engine), nil
	case "sqlite":
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case "postgres":
		return postgres.NewStore(cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenBlobStore builds the configured blob backend.
func OpenBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case "", "fs":
		return blob.NewFilesystem(cfg.FSRoot)
	case "memory":
		return blob.NewMemory(), nil
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// OpenService wires a service from configuration: storage, blob store, and
// the default rules.
func OpenService(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	store, err := OpenPersistentStore(cfg.Storage, NewDefaultRulesEngine())
	if err != nil {
		return nil, err
	}
	blobs, err := OpenBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithBlobStore(blobs)}, opts...)
	return NewService(store, opts...), nil
}
