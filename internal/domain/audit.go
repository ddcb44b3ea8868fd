package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditRecord is the de-identified trace of one completed analysis.
// It never contains variant data or the raw patient identifier.
type AuditRecord struct {
	ID                   string    `json:"id"`
	CorrelationID        string    `json:"correlation_id"`
	PatientHash          string    `json:"patient_hash"`
	FileSHA256           string    `json:"file_sha256"`
	Drugs                []string  `json:"drugs"`
	RiskLabels           []string  `json:"risk_labels"`
	ErrorCount           int       `json:"error_count"`
	MeanConfidence       float64   `json:"mean_confidence"`
	KnowledgeBaseVersion string    `json:"knowledge_base_version"`
	CreatedAt            time.Time `json:"created_at"`
}

// AuditRecorder persists audit records. Implementations must be safe for concurrent use.
type AuditRecorder interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

// HashPatientID returns a short, stable digest of a patient identifier for logs and audit rows.
func HashPatientID(patientID string) string {
	sum := sha256.Sum256([]byte(patientID))
	return hex.EncodeToString(sum[:])[:16]
}
