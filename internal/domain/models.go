package domain

// Diplotype values with special meaning.
const (
	DiplotypeUnknown = "Unknown"
)

// GeneProfile is the per-gene call derived from one VariantSet.
type GeneProfile struct {
	Gene                 string
	Kind                 GeneKind
	Diplotype            string
	Alleles              [2]string
	Phenotype            Phenotype
	ActivityScore        *float64
	ContributingVariants []Variant
	ResolutionScore      float64
	Resolution           ResolutionLevel
	ExplicitAnnotations  int
	Notes                []string
}

// IsReferenceDefault reports whether no variant evidence was found for the gene.
func (g GeneProfile) IsReferenceDefault() bool {
	return len(g.ContributingVariants) == 0 && g.Diplotype != DiplotypeUnknown
}

// RiskAssessment is the drug-level risk for one patient.
type RiskAssessment struct {
	RiskLabel       RiskLabel `json:"risk_label"`
	Severity        Severity  `json:"severity"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// ClinicalRecommendation is guideline text selected by the rule table.
type ClinicalRecommendation struct {
	Recommendation         string `json:"recommendation"`
	CPICGuidelineReference string `json:"cpic_guideline_reference"`
}

// DetectedVariant is the report rendering of a contributing variant.
type DetectedVariant struct {
	RSID       string `json:"rsid"`
	StarAllele string `json:"star_allele"`
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"ref"`
	Alt        string `json:"alt"`
}

// GeneCall is a secondary gene profile attached to multi-gene drugs.
type GeneCall struct {
	Gene             string            `json:"gene"`
	Diplotype        string            `json:"diplotype"`
	Phenotype        Phenotype         `json:"phenotype"`
	DetectedVariants []DetectedVariant `json:"detected_variants"`
}

// PharmacogenomicProfile is the gene section of a report.
type PharmacogenomicProfile struct {
	PrimaryGene      string            `json:"primary_gene"`
	Diplotype        string            `json:"diplotype"`
	Phenotype        Phenotype         `json:"phenotype"`
	DetectedVariants []DetectedVariant `json:"detected_variants"`
	AdditionalGenes  []GeneCall        `json:"additional_genes,omitempty"`
}

// Explanation is the templated, deterministic narrative of a report.
// The JSON key keeps the name the portal already renders.
type Explanation struct {
	Summary             string   `json:"summary"`
	BiologicalMechanism string   `json:"biological_mechanism"`
	ClinicalImpact      string   `json:"clinical_impact"`
	Citations           []string `json:"citations"`
}

// QualityMetrics describe the evidence behind one report.
type QualityMetrics struct {
	VCFParsingSuccess    bool            `json:"vcf_parsing_success"`
	TotalRecords         int             `json:"total_records"`
	ParsedVariants       int             `json:"parsed_variants"`
	SkippedRecords       int             `json:"skipped_records"`
	DuplicateRecords     int             `json:"duplicate_records"`
	FilteredRecords      int             `json:"filtered_records"`
	GeneVariantCount     int             `json:"gene_variant_count"`
	AnnotatedStarAlleles int             `json:"annotated_star_alleles"`
	GenotypeAvailable    bool            `json:"genotype_available"`
	ResolutionConfidence ResolutionLevel `json:"resolution_confidence"`
	OverallConfidence    float64         `json:"overall_confidence"`
}

// Report is the externally visible unit, one per drug per request.
type Report struct {
	PatientID              string                 `json:"patient_id"`
	Drug                   string                 `json:"drug"`
	PharmacogenomicProfile PharmacogenomicProfile `json:"pharmacogenomic_profile"`
	RiskAssessment         RiskAssessment         `json:"risk_assessment"`
	ClinicalRecommendation ClinicalRecommendation `json:"clinical_recommendation"`
	Explanation            Explanation            `json:"llm_generated_explanation"`
	QualityMetrics         QualityMetrics         `json:"quality_metrics"`
}

// QualitySummary aggregates metrics across one batch.
type QualitySummary struct {
	VCFParsingSuccess bool    `json:"vcf_parsing_success"`
	ReportsGenerated  int     `json:"reports_generated"`
	DrugsRequested    int     `json:"drugs_requested"`
	DrugsFailed       int     `json:"drugs_failed"`
	TotalRecords      int     `json:"total_records"`
	ParsedVariants    int     `json:"parsed_variants"`
	SkippedRecords    int     `json:"skipped_records"`
	DuplicateRecords  int     `json:"duplicate_records"`
	GenesEvaluated    int     `json:"genes_evaluated"`
	CallRate          float64 `json:"call_rate"`
	LowConfidenceCall int     `json:"low_confidence_calls"`
	MeanConfidence    float64 `json:"mean_confidence"`
}

// DrugError is a per-drug failure that does not abort the batch.
type DrugError struct {
	Drug    string    `json:"drug"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// BatchResult is the payload returned for one analysis request.
type BatchResult struct {
	Reports        []Report       `json:"reports"`
	QualitySummary QualitySummary `json:"quality_summary"`
	Errors         []DrugError    `json:"errors"`
}

// AnalysisRequest carries one upload and the drugs to evaluate.
type AnalysisRequest struct {
	FileName      string
	ContentType   string
	FormatVersion string
	Data          []byte
	// Drugs may hold names and/or delimited strings; both are split.
	Drugs     []string
	PatientID string
}
