package domain

import "time"

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Analysis    AnalysisConfig   `mapstructure:"analysis"`
	Confidence  ConfidencePolicy `mapstructure:"confidence"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Audit       AuditConfig      `mapstructure:"audit"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	MCP         MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
}

// AnalysisConfig bounds the upload and the per-request fan-out.
type AnalysisConfig struct {
	MaxUploadBytes     int64    `mapstructure:"max_upload_bytes"`
	MaxSkippedFraction float64  `mapstructure:"max_skipped_fraction"`
	MaxFieldsPerRecord int      `mapstructure:"max_fields_per_record"`
	AcceptedVersions   []string `mapstructure:"accepted_versions"`
	Workers            int      `mapstructure:"workers"`
	KnowledgeBasePath  string   `mapstructure:"knowledge_base_path"`
}

// ConfidencePolicy holds the numeric policy behind confidence_score.
// See DefaultConfidencePolicy for the documented defaults.
type ConfidencePolicy struct {
	ExplicitAnnotation   float64 `mapstructure:"explicit_annotation"`
	KnowledgeBaseMatch   float64 `mapstructure:"knowledge_base_match"`
	ReferenceDefault     float64 `mapstructure:"reference_default"`
	Ambiguous            float64 `mapstructure:"ambiguous"`
	MissingGenotype      float64 `mapstructure:"missing_genotype_penalty"`
	Conflict             float64 `mapstructure:"conflict_penalty"`
	UnassignedVariant    float64 `mapstructure:"unassigned_variant_penalty"`
	MaxUnassignedPenalty float64 `mapstructure:"max_unassigned_penalty"`
	WildcardPenalty      float64 `mapstructure:"wildcard_penalty"`
	NoRuleFactor         float64 `mapstructure:"no_rule_factor"`
	UnknownCap           float64 `mapstructure:"unknown_cap"`
	HighThreshold        float64 `mapstructure:"high_threshold"`
	MediumThreshold      float64 `mapstructure:"medium_threshold"`
}

// DefaultConfidencePolicy returns the documented default confidence policy.
func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		ExplicitAnnotation:   0.95,
		KnowledgeBaseMatch:   0.85,
		ReferenceDefault:     0.80,
		Ambiguous:            0.20,
		MissingGenotype:      0.10,
		Conflict:             0.20,
		UnassignedVariant:    0.05,
		MaxUnassignedPenalty: 0.15,
		WildcardPenalty:      0.10,
		NoRuleFactor:         0.40,
		UnknownCap:           0.30,
		HighThreshold:        0.85,
		MediumThreshold:      0.60,
	}
}

// Level maps a resolution score to its coarse level.
func (p ConfidencePolicy) Level(score float64) ResolutionLevel {
	switch {
	case score >= p.HighThreshold:
		return ResolutionHigh
	case score >= p.MediumThreshold:
		return ResolutionMedium
	default:
		return ResolutionLow
	}
}

// CacheConfig represents report cache configuration
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxItems    int           `mapstructure:"max_items"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	RedisURL    string        `mapstructure:"redis_url"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// AuditConfig selects the audit sink. Driver is one of "none", "sqlite", "postgres".
type AuditConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresURL     string        `mapstructure:"postgres_url"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	ClientTTL         time.Duration `mapstructure:"client_ttl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
	TransportType string `mapstructure:"transport_type"`
}
