// Package database opens the Postgres pool shared by the ledger, the
// subscription table, the shared admission windows and the audit outbox.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"framewise/internal/platform/config"
)

const connectTimeout = 5 * time.Second

var errNotConfigured = errors.New("database not configured")

type Pool struct {
	db *sql.DB
}

// New opens and pings the pool. It returns a nil Pool when no URL is
// configured so callers can fall back to in-memory stores.
func New(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", err), db.Close())
	}
	return &Pool{db: db}, nil
}

func (p *Pool) DB() *sql.DB {
	return p.db
}

// Register exposes connection pool statistics, read at scrape time.
func (p *Pool) Register(reg prometheus.Registerer) error {
	return reg.Register(collectors.NewDBStatsCollector(p.db, "framewise"))
}

// Health runs a round trip through the pool rather than a bare ping so an
// exhausted pool surfaces as unhealthy.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errNotConfigured
	}
	var one int
	return p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
