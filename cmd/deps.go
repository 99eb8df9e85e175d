package cmd

import (
	"context"
	"fmt"

	"github.com/example/vaxsched/internal/config"
	"github.com/example/vaxsched/internal/db"
	"github.com/example/vaxsched/internal/migrate"
	"github.com/example/vaxsched/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// openDB connects and migrates when DATABASE_URL is set. It returns nil
// without error otherwise.
func openDB(ctx context.Context, cfg config.Config, migrateUp bool) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

// openSessions builds the configured session backend, sealed with
// SESSION_SECRET when one is set. The returned func releases the backend.
func openSessions(cfg config.Config, d *db.DB, log *zap.Logger) (session.Store, string, func(), error) {
	var (
		store    session.Store
		location string
		closeFn  = func() {}
	)
	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		store = session.NewRedisStore(rdb, "")
		location = "redis://" + cfg.RedisAddr
		closeFn = func() { _ = rdb.Close() }
	case config.BackendPostgres:
		if d == nil {
			return nil, "", nil, fmt.Errorf("postgres session backend needs DATABASE_URL")
		}
		store = session.NewPGStore(d)
		location = "postgres table session_state"
	default:
		fs := session.NewFileStore(cfg.DataDir)
		store = fs
		location = fs.Path()
	}

	if cfg.SessionSecret == "" {
		log.Warn("SESSION_SECRET is not set, the saved session is stored unencrypted")
		return store, location, closeFn, nil
	}
	hashKey, blockKey, err := session.DeriveKeys(cfg.SessionSecret)
	if err != nil {
		closeFn()
		return nil, "", nil, err
	}
	return session.NewSealed(store, hashKey, blockKey), location + " (sealed)", closeFn, nil
}
