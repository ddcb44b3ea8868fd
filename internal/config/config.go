package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g. PHARMAGUARD_SERVER_PORT.
const EnvPrefix = "PHARMAGUARD"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file. An empty path searches the default
// locations and tolerates a missing file.
func NewManagerFromFile(configFile string) (*Manager, error) {
	m := &Manager{configFile: configFile}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pharmaguard/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// DefaultDataDir is where local state such as the SQLite audit database lives.
func DefaultDataDir() string {
	if dir := os.Getenv(EnvPrefix + "_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pharmaguard"
	}
	return filepath.Join(home, ".pharmaguard")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.tls_enabled", false)

	// Analysis defaults
	v.SetDefault("analysis.max_upload_bytes", 5<<20)
	v.SetDefault("analysis.max_skipped_fraction", 0.5)
	v.SetDefault("analysis.max_fields_per_record", 4096)
	v.SetDefault("analysis.accepted_versions", []string{"4.0", "4.1", "4.2", "4.3"})
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.knowledge_base_path", "")

	// Confidence policy defaults
	policy := domain.DefaultConfidencePolicy()
	v.SetDefault("confidence.explicit_annotation", policy.ExplicitAnnotation)
	v.SetDefault("confidence.knowledge_base_match", policy.KnowledgeBaseMatch)
	v.SetDefault("confidence.reference_default", policy.ReferenceDefault)
	v.SetDefault("confidence.ambiguous", policy.Ambiguous)
	v.SetDefault("confidence.missing_genotype_penalty", policy.MissingGenotype)
	v.SetDefault("confidence.conflict_penalty", policy.Conflict)
	v.SetDefault("confidence.unassigned_variant_penalty", policy.UnassignedVariant)
	v.SetDefault("confidence.max_unassigned_penalty", policy.MaxUnassignedPenalty)
	v.SetDefault("confidence.wildcard_penalty", policy.WildcardPenalty)
	v.SetDefault("confidence.no_rule_factor", policy.NoRuleFactor)
	v.SetDefault("confidence.unknown_cap", policy.UnknownCap)
	v.SetDefault("confidence.high_threshold", policy.HighThreshold)
	v.SetDefault("confidence.medium_threshold", policy.MediumThreshold)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_items", 1024)
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Audit defaults
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.sqlite_path", filepath.Join(DefaultDataDir(), "audit.db"))
	v.SetDefault("audit.postgres_url", "")
	v.SetDefault("audit.migrations_path", "")
	v.SetDefault("audit.max_open_conns", 25)
	v.SetDefault("audit.max_idle_conns", 5)
	v.SetDefault("audit.conn_max_lifetime", "5m")
	v.SetDefault("audit.write_timeout", "2s")
	v.SetDefault("audit.breaker_timeout", "30s")
	v.SetDefault("audit.breaker_failures", 5)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.client_ttl", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "pharmaguard")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetAnalysisConfig returns analysis configuration
func (m *Manager) GetAnalysisConfig() *domain.AnalysisConfig {
	return &m.config.Analysis
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the services cannot run with.
func Validate(config *domain.Config) error {
	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	// Validate analysis configuration
	if config.Analysis.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if config.Analysis.MaxSkippedFraction < 0 || config.Analysis.MaxSkippedFraction > 1 {
		return fmt.Errorf("max_skipped_fraction must be between 0 and 1, got %v", config.Analysis.MaxSkippedFraction)
	}
	if config.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis workers must be positive")
	}

	// Validate confidence policy
	p := config.Confidence
	if p.MediumThreshold <= 0 || p.MediumThreshold > p.HighThreshold || p.HighThreshold > 1 {
		return fmt.Errorf("confidence thresholds must satisfy 0 < medium <= high <= 1")
	}
	for name, value := range map[string]float64{
		"explicit_annotation":  p.ExplicitAnnotation,
		"knowledge_base_match": p.KnowledgeBaseMatch,
		"reference_default":    p.ReferenceDefault,
		"ambiguous":            p.Ambiguous,
		"unknown_cap":          p.UnknownCap,
		"no_rule_factor":       p.NoRuleFactor,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("confidence %s must be between 0 and 1, got %v", name, value)
		}
	}

	// Validate cache configuration
	if config.Cache.Enabled && config.Cache.MaxItems <= 0 {
		return fmt.Errorf("cache max_items must be positive when the cache is enabled")
	}

	// Validate audit configuration
	switch strings.ToLower(config.Audit.Driver) {
	case "", "none":
	case "sqlite":
		if config.Audit.SQLitePath == "" {
			return fmt.Errorf("audit sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if config.Audit.PostgresURL == "" {
			return fmt.Errorf("audit postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid audit driver: %s", config.Audit.Driver)
	}

	// Validate rate limiting
	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
