package service

import (
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

// RuleEngine maps (drug, phenotype tuple) onto a risk assessment using the CPIC guideline tables
// carried in the knowledge base.
type RuleEngine struct {
	logger *logrus.Logger
	kb     *knowledge.KnowledgeBase
	policy domain.ConfidencePolicy
}

// RuleOutcome is the result of evaluating one drug.
type RuleOutcome struct {
	Drug           *knowledge.Drug
	Phenotypes     []domain.Phenotype
	Assessment     domain.RiskAssessment
	Recommendation domain.ClinicalRecommendation
	MatchedRule    int
	Wildcards      int
	Completeness   float64
}

// NewRuleEngine creates a new rule engine
func NewRuleEngine(logger *logrus.Logger, kb *knowledge.KnowledgeBase, policy domain.ConfidencePolicy) *RuleEngine {
	return &RuleEngine{logger: logger, kb: kb, policy: policy}
}

// Evaluate assesses one drug against the gene profiles of a file.
// An unsupported drug fails with UnsupportedDrugError.
func (e *RuleEngine) Evaluate(drug string, profiles map[string]domain.GeneProfile, metrics domain.FileMetrics) (*RuleOutcome, error) {
	d, ok := e.kb.Drug(drug)
	if !ok {
		return nil, &domain.UnsupportedDrugError{Drug: e.kb.NormalizeDrug(drug)}
	}

	outcome := &RuleOutcome{
		Drug:        d,
		Phenotypes:  make([]domain.Phenotype, len(d.Genes)),
		MatchedRule: -1,
		Recommendation: domain.ClinicalRecommendation{
			CPICGuidelineReference: d.Guideline,
		},
	}

	resolution := 1.0
	unknown := false
	for i, gene := range d.Genes {
		profile, ok := profiles[gene]
		if !ok {
			outcome.Phenotypes[i] = domain.PhenotypeUnknown
			unknown = true
			resolution = 0
			continue
		}
		outcome.Phenotypes[i] = profile.Phenotype
		if !profile.Phenotype.IsKnown() {
			unknown = true
		}
		if profile.ResolutionScore < resolution {
			resolution = profile.ResolutionScore
		}
	}
	quality := 1 - 0.5*metrics.MalformedFraction()

	var risk domain.RiskLabel
	switch {
	case unknown:
		risk = domain.RiskUnknown
		outcome.Completeness = 1
		outcome.Recommendation.Recommendation = e.kb.UnknownRecommendation()
	default:
		idx := e.match(d, outcome.Phenotypes)
		if idx < 0 {
			risk = domain.RiskUnknown
			outcome.Completeness = e.policy.NoRuleFactor
			outcome.Recommendation.Recommendation = e.kb.NoRuleRecommendation()
			break
		}
		rule := d.Rules[idx]
		risk = rule.Risk
		outcome.MatchedRule = idx
		outcome.Wildcards = rule.Wildcards()
		outcome.Completeness = clamp01(1 - e.policy.WildcardPenalty*float64(outcome.Wildcards))
		outcome.Recommendation.Recommendation = rule.Recommendation
	}

	confidence := clamp01(resolution * outcome.Completeness * quality)
	if unknown {
		confidence = min(confidence, e.policy.UnknownCap)
	}

	outcome.Assessment = domain.RiskAssessment{
		RiskLabel:       risk,
		Severity:        risk.Severity(),
		ConfidenceScore: round3(confidence),
	}

	e.logger.WithFields(logrus.Fields{
		"drug":         d.Name,
		"phenotypes":   outcome.Phenotypes,
		"risk_label":   risk,
		"matched_rule": outcome.MatchedRule,
		"confidence":   outcome.Assessment.ConfidenceScore,
	}).Debug("Evaluated drug rule")

	return outcome, nil
}

// match returns the index of the exact rule, else the rule with the fewest wildcards.
// Ties keep the earlier row. It returns -1 when no rule covers the tuple.
func (e *RuleEngine) match(d *knowledge.Drug, phenotypes []domain.Phenotype) int {
	best, bestWildcards := -1, len(phenotypes)+1
	for i, rule := range d.Rules {
		if !rule.Matches(phenotypes) {
			continue
		}
		if w := rule.Wildcards(); w < bestWildcards {
			best, bestWildcards = i, w
			if w == 0 {
				break
			}
		}
	}
	return best
}
