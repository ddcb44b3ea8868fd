package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	// Writers queue on SQLite's single lock instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into an AuditRecord. Both stores select the same column order.
func scanRecord(s scanner) (*domain.AuditRecord, error) {
	rec := &domain.AuditRecord{}
	var drugs, labels []byte

	err := s.Scan(
		&rec.ID, &rec.CorrelationID, &rec.PatientHash, &rec.FileSHA256,
		&drugs, &labels, &rec.ErrorCount, &rec.MeanConfidence,
		&rec.KnowledgeBaseVersion, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(drugs, &rec.Drugs); err != nil {
		return nil, fmt.Errorf("failed to decode drugs: %w", err)
	}
	if err := json.Unmarshal(labels, &rec.RiskLabels); err != nil {
		return nil, fmt.Errorf("failed to decode risk labels: %w", err)
	}
	return rec, nil
}

// prepareRecord fills the id and timestamp and encodes the list columns.
func prepareRecord(rec *domain.AuditRecord) (drugs, labels []byte, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.Drugs == nil {
		rec.Drugs = []string{}
	}
	if rec.RiskLabels == nil {
		rec.RiskLabels = []string{}
	}

	if drugs, err = json.Marshal(rec.Drugs); err != nil {
		return nil, nil, fmt.Errorf("failed to encode drugs: %w", err)
	}
	if labels, err = json.Marshal(rec.RiskLabels); err != nil {
		return nil, nil, fmt.Errorf("failed to encode risk labels: %w", err)
	}
	return drugs, labels, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_audit (
		id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL DEFAULT '',
		patient_hash TEXT NOT NULL,
		file_sha256 TEXT NOT NULL,
		drugs TEXT NOT NULL DEFAULT '[]',
		risk_labels TEXT NOT NULL DEFAULT '[]',
		error_count INTEGER NOT NULL DEFAULT 0,
		mean_confidence REAL NOT NULL DEFAULT 0,
		kb_version TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_patient_hash ON analysis_audit(patient_hash);
	CREATE INDEX IF NOT EXISTS idx_audit_file_sha256 ON analysis_audit(file_sha256);
	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON analysis_audit(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Record inserts one audit entry.
func (s *SQLiteStore) Record(ctx context.Context, rec *domain.AuditRecord) error {
	if rec == nil {
		return errors.New("audit record is required")
	}
	drugs, labels, err := prepareRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_audit (
			id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
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
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves one entry by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		FROM analysis_audit
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns entries, newest first, with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, patient_hash, file_sha256,
			drugs, risk_labels, error_count, mean_confidence,
			kb_version, created_at
		FROM analysis_audit
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
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
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_audit").Scan(&count)
	return count, err
}

// Purge deletes entries created before the cutoff.
func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM analysis_audit WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge: %w", err)
	}
	return result.RowsAffected()
}

// ExportJSON exports all entries to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
