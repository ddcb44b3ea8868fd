package domain

import (
	"context"
)

// VariantParser turns an uploaded file into a VariantSet.
type VariantParser interface {
	Parse(ctx context.Context, upload Upload) (*VariantSet, error)
}

// Upload is the raw file as received from a client.
type Upload struct {
	FileName        string
	ContentType     string
	DeclaredVersion string
	Data            []byte
}

// PharmacogenomicAnalyzer runs a full batch analysis.
type PharmacogenomicAnalyzer interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*BatchResult, error)
	SupportedDrugs() []string
}

// ReportCache stores batch results keyed by a content fingerprint.
type ReportCache interface {
	Get(ctx context.Context, key string) (*BatchResult, bool)
	Set(ctx context.Context, key string, result *BatchResult)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetAnalysisConfig() *AnalysisConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
