package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	// URL is the server connection string. Its database component is
	// overridden by Database when set.
	URL string

	// Database selects the database to attach to.
	Database string

	// ApplicationName is set as the session's application_name so the worker
	// is identifiable in pg_stat_activity.
	ApplicationName string
}

// New opens a single-connection pool. Each ticker runtime owns its session
// exclusively for its entire lifetime, so the pool never grows past one.
func New(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	if cfg.Database != "" {
		poolConfig.ConnConfig.Database = cfg.Database
	}
	if cfg.ApplicationName != "" {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	poolConfig.MaxConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %q: %w", poolConfig.ConnConfig.Database, err)
	}

	return pool, nil
}
