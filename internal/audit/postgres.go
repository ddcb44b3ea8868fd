package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Record inserts one audit entry.
func (s *PostgresStore) Record(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return errors.New("audit record is required")
	}
	drugs, labels, err := prepareRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO analysis_audit (
			id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.CorrelationID,
		rec.PatientHash,
		rec.FileSHA256,
		string(drugs),
		string(labels),
		rec.ErrorCount,
		rec.MeanConfidence,
		rec.KnowledgeBaseVersion,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// Get retrieves one entry by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.AuditRecord, error) {
	query := `
		SELECT id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		FROM analysis_audit
		WHERE id = $1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return rec, nil
}

// List returns entries, newest first, with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		FROM analysis_audit
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var result []*domain.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}

	return result, rows.Err()
}

// Count returns the total number of entries.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_audit").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Purge deletes entries created before the cutoff.
func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM analysis_audit WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	return result.RowsAffected()
}

// ExportJSON exports all entries to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
