// Package app assembles the analysis pipeline and its optional cache and audit trail from
// configuration. The HTTP server, the MCP server and the CLI all start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/audit"
	"github.com/pharmaguard-pgx-server/internal/cache"
	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
	"github.com/pharmaguard-pgx-server/internal/service"
	"github.com/pharmaguard-pgx-server/internal/vcf"
)

// App holds the wired components. Cache and AuditRecorder are nil when disabled.
type App struct {
	Config        *domain.Config
	Logger        *logrus.Logger
	KB            *knowledge.KnowledgeBase
	Parser        *vcf.Parser
	Analyzer      *service.AnalyzerService
	Cache         *cache.ReportCache
	AuditStore    audit.Store
	AuditRecorder *audit.BreakerRecorder
}

// New loads the knowledge base and builds every component named by cfg.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	kb, err := loadKnowledgeBase(cfg.Analysis.KnowledgeBasePath)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"knowledge_base_version": kb.Version(),
		"drugs":                  len(kb.SupportedDrugs()),
		"genes":                  len(kb.GeneSymbols()),
	}).Info("Knowledge base loaded")

	parser := vcf.NewParser(cfg.Analysis, logger)
	analyzer := service.NewAnalyzerService(logger, kb, parser, cfg.Confidence, cfg.Analysis.Workers)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		KB:       kb,
		Parser:   parser,
		Analyzer: analyzer,
	}

	if cfg.Cache.Enabled {
		var redisStore *cache.RedisStore
		if cfg.Cache.RedisURL != "" {
			redisStore, err = cache.NewRedisStore(cfg.Cache)
			if err != nil {
				// The memory tier still works on its own.
				logger.WithError(err).Warn("Redis unavailable, using in-memory report cache only")
				redisStore = nil
			}
		}
		a.Cache = cache.New(cfg.Cache, redisStore, logger)
		analyzer.WithCache(a.Cache)
	}

	store, err := audit.Open(ctx, cfg.Audit, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.AuditStore = store
	if _, disabled := store.(audit.NopStore); !disabled {
		a.AuditRecorder = audit.NewBreakerRecorder(store, cfg.Audit, logger)
		analyzer.WithAudit(a.AuditRecorder)
	}

	return a, nil
}

func loadKnowledgeBase(path string) (*knowledge.KnowledgeBase, error) {
	if path != "" {
		return knowledge.LoadFile(path)
	}
	kb, err := knowledge.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded knowledge base: %w", err)
	}
	return kb, nil
}

// Close releases the cache and audit connections.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing report cache: %w", err))
		}
	}
	if a.AuditStore != nil {
		if err := a.AuditStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing audit store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AuditState reports the audit breaker state, or "disabled".
func (a *App) AuditState() string {
	if a.AuditRecorder == nil {
		return "disabled"
	}
	return a.AuditRecorder.State()
}
