// Package tickstore is the transactional execution facility behind a ticker
// runtime: one Postgres session per runtime, one fixed statement per cycle,
// each run inside its own transaction.
package tickstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tickerd/tickerd/internal/pg"
	"github.com/tickerd/tickerd/internal/ticker"
)

// TickStatement is the single fixed action a worker performs each cycle.
const TickStatement = "SELECT tickerd.tick()"

// Store executes ticks over a dedicated pool. Implements ticker.Session.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Tick runs the tick statement in a freshly begun, freshly committed
// transaction. Any failure rolls back that transaction and nothing else.
func (s *Store) Tick(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tick transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, TickStatement); err != nil {
		return fmt.Errorf("exec tick: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// Factory connects runtimes to databases on one Postgres server.
// Implements ticker.SessionFactory.
type Factory struct {
	serverURL string
}

func NewFactory(serverURL string) *Factory {
	return &Factory{serverURL: serverURL}
}

func (f *Factory) Connect(ctx context.Context, database string, applicationName string) (ticker.Session, error) {
	pool, err := pg.New(ctx, pg.Config{
		URL:             f.serverURL,
		Database:        database,
		ApplicationName: applicationName,
	})
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}
