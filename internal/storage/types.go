// Package storage provides the Postgres-backed StateStore: sessions, results,
// and API keys for the TaaS backplane.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	postgresDriver = "postgres"
	ctxTimeout     = 5 * time.Second
)

var (
	// ErrSessionNotFound is returned when a session id has no matching row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResultNotFound is returned when a result id has no matching row.
	ErrResultNotFound = errors.New("result not found")
	// ErrAPIKeyNotFound is returned when a key id or hash has no matching row.
	ErrAPIKeyNotFound = errors.New("api key not found")
)

// Connection represents a pooled database connection.
type Connection struct {
	*sql.DB
}

// NewConnection opens a connection pool and verifies connectivity.
func NewConnection(config *Config) (*Connection, error) {
	db, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{db}, nil
}

// HealthCheck pings the database using ctx, or with a bounded timeout when ctx is nil.
func (c *Connection) HealthCheck(ctx context.Context) error { //nolint: contextcheck
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)
		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	return c.DB.Close()
}

// Stats exposes pool statistics for observability.
func (c *Connection) Stats() sql.DBStats {
	return c.DB.Stats()
}
