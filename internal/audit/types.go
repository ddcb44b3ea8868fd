// Package audit keeps a de-identified trail of completed analyses: who asked (hashed), for which
// drugs, with which outcome. Variant data is never stored.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// ErrNotFound is returned by Get when no entry has the requested id.
var ErrNotFound = errors.New("audit entry not found")

// Store defines the interface for audit storage operations.
type Store interface {
	domain.AuditRecorder

	// Get retrieves one entry by id.
	Get(ctx context.Context, id string) (*domain.AuditRecord, error)

	// List returns entries, newest first, with pagination.
	List(ctx context.Context, limit, offset int) ([]*domain.AuditRecord, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)

	// Purge deletes entries created before the cutoff and returns how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// ExportJSON writes every entry to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Count      int                   `json:"count"`
	Entries    []*domain.AuditRecord `json:"entries"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	if all == nil {
		all = []*domain.AuditRecord{}
	}

	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Entries:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// NopStore discards every record. It is used when auditing is disabled.
type NopStore struct{}

func (NopStore) Record(context.Context, *domain.AuditRecord) error { return nil }

func (NopStore) Get(context.Context, string) (*domain.AuditRecord, error) { return nil, ErrNotFound }

func (NopStore) List(context.Context, int, int) ([]*domain.AuditRecord, error) { return nil, nil }

func (NopStore) Count(context.Context) (int64, error) { return 0, nil }

func (NopStore) Purge(context.Context, time.Time) (int64, error) { return 0, nil }

func (s NopStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

func (NopStore) Close() error { return nil }
