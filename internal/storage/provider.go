// Package storage opens the configured status and blob stores. Each backend
// lives in its own subpackage; this package only selects and wires them.
package storage

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/config"
	"github.com/JakeFAU/link-crawler/internal/crawler"
	gcsstore "github.com/JakeFAU/link-crawler/internal/storage/gcs"
	"github.com/JakeFAU/link-crawler/internal/storage/local"
	"github.com/JakeFAU/link-crawler/internal/storage/memory"
	"github.com/JakeFAU/link-crawler/internal/storage/postgres"
)

// Check reports whether a backend is reachable.
type Check func(ctx context.Context) error

// Stores holds the opened backends and what is needed to probe and release them.
type Stores struct {
	Status crawler.StatusStore
	Blobs  crawler.BlobStore
	// Checks are readiness probes keyed by backend name.
	Checks map[string]Check

	closers []func()
}

// Open connects the status and blob stores selected in cfg. Postgres is
// dialed once and shared when both stores use it.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Stores, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stores{Checks: make(map[string]Check)}

	var pool *pgxpool.Pool
	dial := func() (*pgxpool.Pool, error) {
		if pool != nil {
			return pool, nil
		}
		p, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, p.Close)
		s.Checks["postgres"] = p.Ping
		return p, nil
	}

	if err := s.openStatus(cfg, dial, logger); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openBlobs(ctx, cfg, dial, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stores) openStatus(cfg config.Config, dial func() (*pgxpool.Pool, error), logger *zap.Logger) error {
	switch cfg.Status.Provider {
	case config.ProviderPostgres:
		pool, err := dial()
		if err != nil {
			return fmt.Errorf("open status store: %w", err)
		}
		store, err := postgres.NewStatusStore(pool, cfg.Status.Table)
		if err != nil {
			return fmt.Errorf("open status store: %w", err)
		}
		s.Status = store
	case config.ProviderMemory, "":
		logger.Warn("using in-memory status store; rows must be seeded in-process")
		s.Status = memory.NewStatusStore()
	default:
		return fmt.Errorf("unknown status.provider %q", cfg.Status.Provider)
	}
	logger.Info("status store ready", zap.String("provider", cfg.Status.Provider))
	return nil
}

func (s *Stores) openBlobs(
	ctx context.Context,
	cfg config.Config,
	dial func() (*pgxpool.Pool, error),
	logger *zap.Logger,
) error {
	switch cfg.Storage.Provider {
	case config.ProviderPostgres:
		pool, err := dial()
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		store, err := postgres.NewKVStore(pool, cfg.Storage.KVTable)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		s.Blobs = store
	case config.ProviderGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		})
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		s.Checks["gcs"] = store.CheckBucket
		s.Blobs = store
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		s.Blobs = store
	case config.ProviderMemory, "":
		s.Blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage.provider %q", cfg.Storage.Provider)
	}
	logger.Info("blob store ready", zap.String("provider", cfg.Storage.Provider))
	return nil
}

// Close releases connections in reverse order of opening.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
