// Package postgres is the persistence layer: append-only telemetry history,
// rule and automation definitions, alert events, and the command request
// lifecycle. Telemetry lands through a CopyFrom batch path; everything else
// is low-rate row traffic.
package postgres

import (
	"context"
	_ "embed"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgxpool connection pool.
type Store struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *storeMetrics
}

// New connects to PostgreSQL and verifies the connection with a ping.
func New(ctx context.Context, dsn string, registry *metric.MetricsRegistry) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "New", "parse dsn")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "Store", "New", "ping")
	}

	return &Store{
		pool:    pool,
		logger:  slog.Default().With("component", "postgres"),
		metrics: newStoreMetrics(registry),
	}, nil
}

// EnsureSchema creates tables and indexes if they do not exist yet
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "Store", "EnsureSchema", "apply schema")
	}
	return nil
}

// IsHealthy reports whether the database answers a ping
func (s *Store) IsHealthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(pingCtx) == nil
}

// Close releases the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
