// Package store assembles the storage, change feed and job queue backends
// selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classattend/internal/changefeed"
	"classattend/internal/config"
	"classattend/internal/docstore"
	"classattend/internal/docstore/fsstore"
	"classattend/internal/docstore/pgstore"
	"classattend/internal/queue"
)

// Backends holds the opened backends of one process.
type Backends struct {
	Docs  docstore.Store
	Jobs  queue.Queue
	Redis *redis.Client
}

// Open connects every backend cfg asks for. On error anything already
// opened is closed again.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.FeedBackend == "redis" || cfg.QueueBackend == "redis" {
		b.Redis = changefeed.NewRedisClient(cfg.RedisAddr)
	}

	docs, err := openDocs(ctx, cfg, b.Redis, log)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Docs = docs

	if cfg.QueueBackend == "redis" {
		b.Jobs = queue.NewRedisQueue(b.Redis, queue.DefaultKey)
	} else {
		b.Jobs = queue.NewInMemory(256)
	}
	return b, nil
}

func openDocs(ctx context.Context, cfg config.App, rdb *redis.Client, log *zap.Logger) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory document store; data is lost on restart")
		return docstore.NewMemory(), nil
	case "postgres":
		db, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		var feed changefeed.Feed = changefeed.NewInMemory(256)
		if cfg.FeedBackend == "redis" {
			feed = changefeed.NewRedis(rdb, changefeed.DefaultChannel)
		}
		s, err := pgstore.New(db, feed, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	case "firestore":
		s, err := fsstore.New(ctx, cfg.FirestoreProject, cfg.FirestoreCredentials, log)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Healthy reports per-backend reachability for /healthz.
func (b *Backends) Healthy(ctx context.Context) map[string]bool {
	out := map[string]bool{"store": b.Docs != nil}
	if b.Redis != nil {
		out["redis"] = changefeed.Healthy(ctx, b.Redis)
	}
	return out
}

// Close releases every opened backend.
func (b *Backends) Close() error {
	var errs []error
	if b.Docs != nil {
		errs = append(errs, b.Docs.Close())
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	return errors.Join(errs...)
}
