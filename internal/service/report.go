package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

// ReportComposer assembles reports and batch summaries. All text comes from the knowledge base
// templates, so the same inputs always produce the same report.
type ReportComposer struct {
	kb     *knowledge.KnowledgeBase
	policy domain.ConfidencePolicy
}

// ComposeInput is everything needed to build one drug report.
type ComposeInput struct {
	PatientID string
	Outcome   *RuleOutcome
	Profiles  map[string]domain.GeneProfile
	Set       *domain.VariantSet
}

// NewReportComposer creates a composer over the knowledge base templates.
func NewReportComposer(kb *knowledge.KnowledgeBase, policy domain.ConfidencePolicy) *ReportComposer {
	return &ReportComposer{kb: kb, policy: policy}
}

// Compose builds the report for one evaluated drug.
func (c *ReportComposer) Compose(in ComposeInput) (domain.Report, error) {
	d := in.Outcome.Drug
	primary := c.profile(in.Profiles, d.PrimaryGene())

	report := domain.Report{
		PatientID: in.PatientID,
		Drug:      d.Name,
		PharmacogenomicProfile: domain.PharmacogenomicProfile{
			PrimaryGene:      primary.Gene,
			Diplotype:        primary.Diplotype,
			Phenotype:        primary.Phenotype,
			DetectedVariants: detected(primary.ContributingVariants),
		},
		RiskAssessment:         in.Outcome.Assessment,
		ClinicalRecommendation: in.Outcome.Recommendation,
	}

	secondary := make([]string, 0, len(d.Genes)-1)
	for _, gene := range d.Genes[1:] {
		p := c.profile(in.Profiles, gene)
		report.PharmacogenomicProfile.AdditionalGenes = append(report.PharmacogenomicProfile.AdditionalGenes, domain.GeneCall{
			Gene:             p.Gene,
			Diplotype:        p.Diplotype,
			Phenotype:        p.Phenotype,
			DetectedVariants: detected(p.ContributingVariants),
		})
		secondary = append(secondary, fmt.Sprintf("%s %s (%s)", p.Gene, p.Diplotype, p.Phenotype.DisplayName(p.Kind)))
	}

	data := knowledge.TemplateData{
		PatientID:      in.PatientID,
		Drug:           d.Name,
		Gene:           primary.Gene,
		Diplotype:      primary.Diplotype,
		PhenotypeName:  primary.Phenotype.DisplayName(primary.Kind),
		ActivityScore:  formatActivity(primary.ActivityScore),
		Risk:           string(in.Outcome.Assessment.RiskLabel),
		SecondaryGenes: strings.Join(secondary, "; "),
	}
	if data.SecondaryGenes == "" {
		data.SecondaryGenes = "no secondary genes"
	}

	explanation, err := c.explain(d, in.Outcome.Assessment.RiskLabel, data)
	if err != nil {
		return domain.Report{}, err
	}
	report.Explanation = explanation
	report.QualityMetrics = c.qualityMetrics(in, d)
	return report, nil
}

func (c *ReportComposer) explain(d *knowledge.Drug, risk domain.RiskLabel, data knowledge.TemplateData) (domain.Explanation, error) {
	summary, err := c.kb.RenderSummary(data)
	if err != nil {
		return domain.Explanation{}, err
	}
	mechanism, err := d.RenderMechanism(data)
	if err != nil {
		return domain.Explanation{}, err
	}
	impact, err := c.kb.RenderImpact(risk, data)
	if err != nil {
		return domain.Explanation{}, err
	}

	citations := make([]string, 0, len(d.Citations)+len(d.Genes))
	seen := make(map[string]bool)
	add := func(items []string) {
		for _, item := range items {
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			citations = append(citations, item)
		}
	}
	add(d.Citations)
	add([]string{d.Guideline})
	for _, gene := range d.Genes {
		if g, ok := c.kb.Gene(gene); ok {
			add(g.Citations)
		}
	}

	return domain.Explanation{
		Summary:             summary,
		BiologicalMechanism: mechanism,
		ClinicalImpact:      impact,
		Citations:           citations,
	}, nil
}

func (c *ReportComposer) qualityMetrics(in ComposeInput, d *knowledge.Drug) domain.QualityMetrics {
	m := in.Set.Metrics()
	q := domain.QualityMetrics{
		VCFParsingSuccess:    true,
		TotalRecords:         m.TotalRecords,
		ParsedVariants:       in.Set.Len(),
		SkippedRecords:       m.MalformedRecords,
		DuplicateRecords:     m.DuplicateRecords,
		FilteredRecords:      m.FilteredRecords,
		GenotypeAvailable:    m.GenotypeAvailable,
		ResolutionConfidence: domain.ResolutionHigh,
		OverallConfidence:    in.Outcome.Assessment.ConfidenceScore,
	}
	for _, gene := range d.Genes {
		p := c.profile(in.Profiles, gene)
		q.GeneVariantCount += len(p.ContributingVariants)
		q.AnnotatedStarAlleles += p.ExplicitAnnotations
		q.ResolutionConfidence = lowerLevel(q.ResolutionConfidence, p.Resolution)
	}
	return q
}

// BuildSummary aggregates the batch. requested counts every drug entry, failed the per-drug errors.
func (c *ReportComposer) BuildSummary(reports []domain.Report, set *domain.VariantSet, requested, failed int) domain.QualitySummary {
	s := domain.QualitySummary{
		VCFParsingSuccess: set != nil,
		ReportsGenerated:  len(reports),
		DrugsRequested:    requested,
		DrugsFailed:       failed,
	}
	if set != nil {
		m := set.Metrics()
		s.TotalRecords = m.TotalRecords
		s.ParsedVariants = set.Len()
		s.SkippedRecords = m.MalformedRecords
		s.DuplicateRecords = m.DuplicateRecords
	}

	genes := make(map[string]domain.Phenotype)
	total := 0.0
	for _, r := range reports {
		p := r.PharmacogenomicProfile
		genes[p.PrimaryGene] = p.Phenotype
		for _, extra := range p.AdditionalGenes {
			genes[extra.Gene] = extra.Phenotype
		}
		if r.RiskAssessment.ConfidenceScore < c.policy.MediumThreshold {
			s.LowConfidenceCall++
		}
		total += r.RiskAssessment.ConfidenceScore
	}

	s.GenesEvaluated = len(genes)
	if len(genes) > 0 {
		called := 0
		for _, phenotype := range genes {
			if phenotype.IsKnown() {
				called++
			}
		}
		s.CallRate = round3(float64(called) / float64(len(genes)))
	}
	if len(reports) > 0 {
		s.MeanConfidence = round3(total / float64(len(reports)))
	}
	return s
}

func (c *ReportComposer) profile(profiles map[string]domain.GeneProfile, gene string) domain.GeneProfile {
	if p, ok := profiles[gene]; ok {
		return p
	}
	kind := domain.GeneKindEnzyme
	if g, ok := c.kb.Gene(gene); ok {
		kind = g.Kind
	}
	return domain.GeneProfile{
		Gene:       gene,
		Kind:       kind,
		Diplotype:  domain.DiplotypeUnknown,
		Phenotype:  domain.PhenotypeUnknown,
		Resolution: domain.ResolutionLow,
	}
}

func detected(variants []domain.Variant) []domain.DetectedVariant {
	out := make([]domain.DetectedVariant, 0, len(variants))
	for _, v := range variants {
		out = append(out, domain.DetectedVariant{
			RSID:       v.RSID,
			StarAllele: v.StarAllele,
			Chromosome: v.Chromosome,
			Position:   v.Position,
			Ref:        v.Ref,
			Alt:        v.Alt,
		})
	}
	return out
}

func formatActivity(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

func lowerLevel(a, b domain.ResolutionLevel) domain.ResolutionLevel {
	rank := map[domain.ResolutionLevel]int{
		domain.ResolutionLow:    0,
		domain.ResolutionMedium: 1,
		domain.ResolutionHigh:   2,
	}
	if rank[b] < rank[a] {
		return b
	}
	return a
}
