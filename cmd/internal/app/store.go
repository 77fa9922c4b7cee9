package app

import (
	"context"
	"fmt"
	"time"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/localstore"
	"podium/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// storage is what openStorage hands back: the backend store plus the pool when Postgres is in use.
// The app owns the pool; PostgresStore.Close is a no-op.
type storage struct {
	store backend.Store
	pool  *pgxpool.Pool
}

func (s storage) dbEnabled() bool { return s.pool != nil }

func (s storage) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStorage picks Postgres when a database URL is configured, else the in-memory store
// (optionally persisted to cfg.StatePath). Seeding never overwrites existing rooms.
func openStorage(ctx context.Context, cfg Config, pw password.Config, log Logger) (storage, error) {
	var st storage

	if cfg.DatabaseURL == "" {
		var opts []backend.MemoryOption
		if cfg.StatePath != "" {
			kv, err := localstore.Open(cfg.StatePath)
			if err != nil {
				return storage{}, fmt.Errorf("open state: %w", err)
			}
			opts = append(opts, backend.WithPersistence(kv))
		}
		mem, err := backend.NewMemoryStore(opts...)
		if err != nil {
			return storage{}, err
		}
		st.store = mem
		log.Info("store.memory", "state_path", cfg.StatePath)
	} else {
		pool, err := newDBPool(ctx, cfg)
		if err != nil {
			return storage{}, fmt.Errorf("connect db: %w", err)
		}
		pg, err := backend.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return storage{}, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return storage{}, fmt.Errorf("ensure schema: %w", err)
		}
		st.store, st.pool = pg, pool
		log.Info("store.postgres", "max_conns", cfg.DBMaxConns)
	}

	if cfg.Seed {
		if err := backend.Seed(ctx, st.store, pw, time.Now()); err != nil {
			st.close()
			return storage{}, fmt.Errorf("seed: %w", err)
		}
		log.Info("store.seeded")
	}
	return st, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// pingDB checks that a connection can be acquired within timeout.
func pingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
