package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// DB wraps a database/sql handle backed by the pgx driver
type DB struct {
	SQL *sql.DB
	log *logrus.Logger
}

// NewConnection opens a PostgreSQL connection pool for the audit store and verifies it with a ping.
func NewConnection(ctx context.Context, config domain.AuditConfig, logger *logrus.Logger) (*DB, error) {
	connConfig, err := pgx.ParseConfig(config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	db := stdlib.OpenDB(*connConfig)

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := config.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := config.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":           connConfig.Host,
		"port":           connConfig.Port,
		"database":       connConfig.Database,
		"max_open_conns": maxOpen,
		"max_idle_conns": maxIdle,
	}).Info("Database connection pool established")

	return &DB{
		SQL: db,
		log: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	if db.SQL == nil {
		return nil
	}
	err := db.SQL.Close()
	db.log.Info("Database connection pool closed")
	return err
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	return db.SQL.PingContext(ctx)
}

// Stats returns connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.SQL.Stats()
}
