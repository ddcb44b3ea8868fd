package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/database"
	"github.com/pharmaguard-pgx-server/internal/domain"
)

// Drivers accepted in AuditConfig.Driver.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the store selected by config.Driver. PostgreSQL schemas are migrated before use.
func Open(ctx context.Context, config domain.AuditConfig, logger *logrus.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(config.Driver))

	switch driver {
	case "", DriverNone:
		logger.Info("Audit trail disabled")
		return NopStore{}, nil

	case DriverSQLite:
		store, err := NewSQLiteStore(config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite audit store: %w", err)
		}
		logger.WithField("path", config.SQLitePath).Info("SQLite audit store ready")
		return store, nil

	case DriverPostgres:
		runner, err := database.NewMigrationRunner(config.PostgresURL, config.MigrationsPath, logger)
		if err != nil {
			return nil, err
		}
		migrateErr := runner.Up(ctx)
		if closeErr := runner.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close migration runner")
		}
		if migrateErr != nil {
			return nil, migrateErr
		}

		db, err := database.NewConnection(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, db.SQL)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown audit driver %q", config.Driver)
	}
}
