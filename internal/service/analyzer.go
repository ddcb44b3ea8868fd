package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

const (
	maxDrugsPerRequest = 50
	maxPatientIDLength = 128
	defaultWorkers     = 4
)

var drugNamePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 .\-]{0,63}$`)

// AnalyzerService implements domain.PharmacogenomicAnalyzer: parse once, resolve the genes the
// requested drugs need, then evaluate and compose each drug concurrently.
type AnalyzerService struct {
	logger     *logrus.Logger
	kb         *knowledge.KnowledgeBase
	parser     domain.VariantParser
	resolver   *DiplotypeResolver
	classifier *PhenotypeClassifier
	engine     *RuleEngine
	composer   *ReportComposer
	cache      domain.ReportCache
	audit      domain.AuditRecorder
	workers    int
}

// NewAnalyzerService wires the analysis pipeline. Cache and audit are optional.
func NewAnalyzerService(
	logger *logrus.Logger,
	kb *knowledge.KnowledgeBase,
	parser domain.VariantParser,
	policy domain.ConfidencePolicy,
	workers int,
) *AnalyzerService {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &AnalyzerService{
		logger:     logger,
		kb:         kb,
		parser:     parser,
		resolver:   NewDiplotypeResolver(logger, kb, policy),
		classifier: NewPhenotypeClassifier(kb),
		engine:     NewRuleEngine(logger, kb, policy),
		composer:   NewReportComposer(kb, policy),
		workers:    workers,
	}
}

// WithCache enables report caching.
func (a *AnalyzerService) WithCache(cache domain.ReportCache) *AnalyzerService {
	a.cache = cache
	return a
}

// WithAudit enables audit recording.
func (a *AnalyzerService) WithAudit(recorder domain.AuditRecorder) *AnalyzerService {
	a.audit = recorder
	return a
}

// SupportedDrugs lists the drugs covered by the rule table.
func (a *AnalyzerService) SupportedDrugs() []string {
	return a.kb.SupportedDrugs()
}

// KnowledgeBase exposes the knowledge base the analyzer evaluates against.
func (a *AnalyzerService) KnowledgeBase() *knowledge.KnowledgeBase {
	return a.kb
}

// Validate parses a file without evaluating any drug.
func (a *AnalyzerService) Validate(ctx context.Context, upload domain.Upload) (*domain.VariantSet, error) {
	set, err := a.parser.Parse(ctx, upload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse variant file: %w", err)
	}
	return set, nil
}

type drugEntry struct {
	input string
	name  string
	err   error
}

type drugSlot struct {
	report domain.Report
	err    error
}

// Analyze runs one batch request. It fails only for file-level problems or when no usable drug
// name was supplied; every other failure is reported per drug.
func (a *AnalyzerService) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.BatchResult, error) {
	start := time.Now()

	entries, err := a.normalizeDrugs(req.Drugs)
	if err != nil {
		return nil, err
	}
	patientID, err := validatePatientID(req.PatientID)
	if err != nil {
		return nil, err
	}

	set, err := a.parser.Parse(ctx, domain.Upload{
		FileName:        req.FileName,
		ContentType:     req.ContentType,
		DeclaredVersion: req.FormatVersion,
		Data:            req.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse variant file: %w", err)
	}

	metrics := set.Metrics()
	if patientID == "" {
		patientID = fallbackPatientID(metrics)
	}

	cacheKey := a.cacheKey(metrics.SHA256, entries, patientID)
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, cacheKey); ok {
			a.logger.WithFields(logrus.Fields{
				"file_sha256":  metrics.SHA256[:12],
				"patient_hash": domain.HashPatientID(patientID),
			}).Debug("Report cache hit")
			a.recordAudit(ctx, patientID, metrics.SHA256, cached)
			return cached, nil
		}
	}

	profiles := a.resolveProfiles(set, entries)

	slots := make([]drugSlot, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, entry := range entries {
		if entry.err != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := a.evaluateDrug(entry.name, patientID, profiles, set)
			slots[i] = drugSlot{report: report, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}

	result := &domain.BatchResult{
		Reports: make([]domain.Report, 0, len(entries)),
		Errors:  make([]domain.DrugError, 0),
	}
	for i, entry := range entries {
		failure := entry.err
		if failure == nil {
			failure = slots[i].err
		}
		if failure != nil {
			result.Errors = append(result.Errors, domain.DrugError{
				Drug:    entry.input,
				Code:    domain.CodeOf(failure),
				Message: failure.Error(),
			})
			continue
		}
		result.Reports = append(result.Reports, slots[i].report)
	}
	result.QualitySummary = a.composer.BuildSummary(result.Reports, set, len(entries), len(result.Errors))

	if a.cache != nil {
		a.cache.Set(ctx, cacheKey, result)
	}
	a.recordAudit(ctx, patientID, metrics.SHA256, result)

	a.logger.WithFields(logrus.Fields{
		"patient_hash":    domain.HashPatientID(patientID),
		"drugs_requested": len(entries),
		"reports":         len(result.Reports),
		"errors":          len(result.Errors),
		"mean_confidence": result.QualitySummary.MeanConfidence,
		"processing_time": time.Since(start),
		"correlation_id":  domain.CorrelationIDFrom(ctx),
	}).Info("Pharmacogenomic analysis completed")

	return result, nil
}

// normalizeDrugs splits, cleans and de-duplicates the requested drug names, keeping input order.
func (a *AnalyzerService) normalizeDrugs(raw []string) ([]drugEntry, error) {
	var entries []drugEntry
	seen := make(map[string]bool)
	valid := 0

	for _, item := range raw {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ';' || r == '\n' || r == '\r'
		}) {
			input := strings.ToUpper(strings.Join(strings.Fields(part), " "))
			if input == "" {
				continue
			}
			if !drugNamePattern.MatchString(input) {
				if seen["!"+input] {
					continue
				}
				seen["!"+input] = true
				entries = append(entries, drugEntry{input: input, err: &domain.InvalidDrugNameError{Drug: input}})
				continue
			}
			name := a.kb.NormalizeDrug(input)
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, drugEntry{input: input, name: name})
			valid++
		}
	}

	switch {
	case len(entries) == 0:
		return nil, &domain.InvalidInputError{Field: "drugs", Message: "at least one drug name is required"}
	case valid == 0:
		return nil, &domain.InvalidInputError{Field: "drugs", Message: "no well-formed drug names supplied"}
	case len(entries) > maxDrugsPerRequest:
		return nil, &domain.InvalidInputError{Field: "drugs", Message: fmt.Sprintf("at most %d drugs per request", maxDrugsPerRequest)}
	}
	return entries, nil
}

func validatePatientID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if len(id) > maxPatientIDLength {
		return "", &domain.InvalidInputError{Field: "patient_id", Message: fmt.Sprintf("must be at most %d characters", maxPatientIDLength)}
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", &domain.InvalidInputError{Field: "patient_id", Message: "must not contain control characters"}
		}
	}
	return id, nil
}

// fallbackPatientID uses the VCF sample name, else a digest of the file.
func fallbackPatientID(m domain.FileMetrics) string {
	if id, err := validatePatientID(m.SampleID); err == nil && id != "" {
		return id
	}
	return "PATIENT_" + strings.ToUpper(m.SHA256[:8])
}

// resolveProfiles calls every gene needed by a supported requested drug, once.
func (a *AnalyzerService) resolveProfiles(set *domain.VariantSet, entries []drugEntry) map[string]domain.GeneProfile {
	profiles := make(map[string]domain.GeneProfile)
	for _, entry := range entries {
		if entry.err != nil {
			continue
		}
		d, ok := a.kb.Drug(entry.name)
		if !ok {
			continue
		}
		for _, gene := range d.Genes {
			if _, done := profiles[gene]; done {
				continue
			}
			profile := a.resolver.Resolve(set, gene)
			a.classifier.Classify(&profile)
			profiles[gene] = profile
		}
	}
	return profiles
}

func (a *AnalyzerService) evaluateDrug(drug, patientID string, profiles map[string]domain.GeneProfile, set *domain.VariantSet) (domain.Report, error) {
	outcome, err := a.engine.Evaluate(drug, profiles, set.Metrics())
	if err != nil {
		return domain.Report{}, err
	}
	report, err := a.composer.Compose(ComposeInput{
		PatientID: patientID,
		Outcome:   outcome,
		Profiles:  profiles,
		Set:       set,
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("failed to compose report for %s: %w", drug, err)
	}
	return report, nil
}

func (a *AnalyzerService) cacheKey(sha string, entries []drugEntry, patientID string) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.input
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{sha, strings.Join(names, ","), patientID, a.kb.Version()}, "|")))
	return "pgx:" + hex.EncodeToString(sum[:])
}

func (a *AnalyzerService) recordAudit(ctx context.Context, patientID, sha string, result *domain.BatchResult) {
	if a.audit == nil {
		return
	}
	rec := &domain.AuditRecord{
		ID:                   uuid.NewString(),
		CorrelationID:        domain.CorrelationIDFrom(ctx),
		PatientHash:          domain.HashPatientID(patientID),
		FileSHA256:           sha,
		ErrorCount:           len(result.Errors),
		MeanConfidence:       result.QualitySummary.MeanConfidence,
		KnowledgeBaseVersion: a.kb.Version(),
		CreatedAt:            time.Now().UTC(),
	}
	for _, r := range result.Reports {
		rec.Drugs = append(rec.Drugs, r.Drug)
		rec.RiskLabels = append(rec.RiskLabels, string(r.RiskAssessment.RiskLabel))
	}
	if err := a.audit.Record(ctx, rec); err != nil {
		a.logger.WithError(err).WithField("audit_id", rec.ID).Warn("Failed to record analysis audit entry")
	}
}
