// Package bootstrap builds the process dependencies from config. Both
// binaries share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	redisad "pdl_sync/internal/adapters/redis"
	"pdl_sync/internal/adapters/upstream"
	"pdl_sync/internal/app"
	"pdl_sync/internal/domain"
	"pdl_sync/internal/shared"
	mysqlrepo "pdl_sync/internal/storage/mysql"
	"pdl_sync/internal/storage/sqlite"
)

type Deps struct {
	DB       *sql.DB
	Store    domain.Store
	Cache    domain.Cache
	Upstream domain.Upstream
	Orch     *app.Orchestrator
	Queries  *app.QueryService

	closers []func() error
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// OpenDB opens the configured store driver and checks connectivity.
func OpenDB(ctx context.Context, cfg shared.Config) (*sql.DB, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "mysql", "":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// NewCache returns the Redis cache, or a no-op cache when REDIS_ADDR is empty
// or Redis does not answer.
func NewCache(ctx context.Context, cfg shared.Config) (domain.Cache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("redis disabled, read path uncached")
		return app.NopCache{}, func() error { return nil }
	}
	c := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := c.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, read path uncached")
		_ = c.Close()
		return app.NopCache{}, func() error { return nil }
	}
	return c, c.Close
}

func Build(ctx context.Context, cfg shared.Config) (*Deps, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d := &Deps{DB: db, Store: mysqlrepo.New(db)}
	d.closers = append(d.closers, db.Close)
	log.Info().Str("driver", cfg.StoreDriver).Msg("database connection ok")

	raw, closeCache := NewCache(ctx, cfg)
	d.closers = append(d.closers, closeCache)
	// one shared instance: the reconciler's invalidations guard the read path's fills
	cache := app.NewGuardedCache(raw)
	d.Cache = cache

	up, err := upstream.New(upstream.Options{
		AgenciesURL:   cfg.AgenciesURL,
		PropertiesURL: cfg.PropertiesURL,
		AppKey:        cfg.AppKey,
		KeyHeader:     cfg.KeyHeader,
		Timeout:       cfg.UpstreamTimeout,
		RPS:           cfg.UpstreamRPS,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	d.Upstream = up

	d.Orch = app.NewOrchestrator(up, d.Store, cache, app.SyncOptions{
		MaxAttempts:      cfg.MaxAttempts,
		RetryStep:        cfg.RetryStep,
		InterAgencyDelay: cfg.InterAgencyDelay,
		ReplaceOnEmpty:   cfg.ReplaceOnEmpty,
	})
	d.Queries = app.NewQueryService(d.Store, cache, cfg.CacheTTL)
	return d, nil
}
