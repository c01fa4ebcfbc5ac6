package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plug/cmd/identity"
	"plug/cmd/internal/auth/session"
	"plug/cmd/internal/storage/sqlitedb"
)

// Stores owns every persistence handle the server opened.
type Stores struct {
	Kind       string
	Identities identity.Store
	Refresh    session.RefreshStore

	pingers []pinger
	closers []func() error
}

type pinger struct {
	name string
	ping func(context.Context) error
}

// OpenStores opens the identity and refresh stores selected by cfg.Store.
// When cfg.RedisURL is set, refresh credentials live in Redis regardless of
// the identity backend.
func OpenStores(ctx context.Context, cfg Config, log Logger) (*Stores, error) {
	st := &Stores{Kind: cfg.Store}

	var err error
	switch cfg.Store {
	case StoreMemory:
		st.Identities = identity.NewMemoryStore()
		st.Refresh = session.NewMemoryStore()

	case StoreSQLite:
		err = st.openSQLite(ctx, cfg, log)

	case StorePostgres:
		err = st.openPostgres(ctx, cfg, log)

	default:
		return nil, fmt.Errorf("app: unknown PLUG_STORE %q (memory, sqlite, postgres)", cfg.Store)
	}
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.RedisURL != "" {
		if err := st.openRedis(ctx, cfg, log); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	log.Info("store.open", "kind", st.Kind, "refresh_in_redis", cfg.RedisURL != "")
	return st, nil
}

func (s *Stores) openSQLite(ctx context.Context, cfg Config, log Logger) error {
	pool, err := sqlitedb.Open(ctx, sqlitedb.Config{Path: cfg.DatabasePath, Logger: log})
	if err != nil {
		return err
	}
	s.closers = append(s.closers, pool.Close)
	s.pingers = append(s.pingers, pinger{name: "sqlite", ping: pool.Ping})

	if s.Identities, err = identity.NewSQLiteStore(pool); err != nil {
		return err
	}
	s.Refresh, err = session.NewSQLiteStore(pool)
	return err
}

func (s *Stores) openPostgres(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("app: PLUG_STORE=postgres requires PLUG_DATABASE_URL")
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() error { pool.Close(); return nil })
	s.pingers = append(s.pingers, pinger{name: "postgres", ping: func(ctx context.Context) error {
		return PingDB(ctx, pool, 2*time.Second)
	}})

	if cfg.MigrateOnStart {
		applied, err := MigratePostgres(ctx, pool)
		if err != nil {
			return err
		}
		log.Info("db.migrate.ok", "applied", len(applied))
	}

	if s.Identities, err = identity.NewPostgresStore(pool); err != nil {
		return err
	}
	s.Refresh, err = session.NewPostgresStore(pool, "public")
	return err
}

func (s *Stores) openRedis(ctx context.Context, cfg Config, log Logger) error {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("app: PLUG_REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	s.closers = append(s.closers, rdb.Close)

	rs, err := session.NewRedisStore(ctx, rdb, cfg.RedisPrefix)
	if err != nil {
		return err
	}
	s.Refresh = rs
	s.pingers = append(s.pingers, pinger{name: "redis", ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})
	log.Info("redis.open", "addr", opts.Addr, "db", opts.DB, "prefix", cfg.RedisPrefix)
	return nil
}

// Ping checks every backing store; the first failure is returned with the
// store's name.
func (s *Stores) Ping(ctx context.Context) error {
	for _, p := range s.pingers {
		if err := p.ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}

// Close releases handles in reverse opening order.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
