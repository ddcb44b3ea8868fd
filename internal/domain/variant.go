package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Zygosity of the first sample at a variant site.
type Zygosity string

const (
	ZygosityUnknown        Zygosity = "unknown"
	ZygosityHomozygousRef  Zygosity = "homozygous_reference"
	ZygosityHeterozygous   Zygosity = "heterozygous"
	ZygosityHomozygousAlt  Zygosity = "homozygous_alternate"
	ZygosityHemizygousAlt  Zygosity = "hemizygous_alternate"
	ZygosityNoCallGenotype Zygosity = "no_call"
)

// Genotype is the decoded GT field of the first sample column.
// Alleles holds allele indices (0 = REF, n = nth ALT, -1 = missing).
type Genotype struct {
	Alleles []int
	Phased  bool
}

// Present reports whether a GT value was available for the record.
func (g Genotype) Present() bool {
	return len(g.Alleles) > 0
}

// CopiesOf counts how many called alleles equal the given ALT index.
func (g Genotype) CopiesOf(altIndex int) int {
	n := 0
	for _, a := range g.Alleles {
		if a == altIndex {
			n++
		}
	}
	return n
}

// Zygosity classifies the genotype with respect to the given ALT index.
func (g Genotype) Zygosity(altIndex int) Zygosity {
	if !g.Present() {
		return ZygosityUnknown
	}

	called := 0
	for _, a := range g.Alleles {
		if a >= 0 {
			called++
		}
	}
	if called == 0 {
		return ZygosityNoCallGenotype
	}

	copies := g.CopiesOf(altIndex)
	switch {
	case copies == 0:
		return ZygosityHomozygousRef
	case len(g.Alleles) == 1:
		return ZygosityHemizygousAlt
	case copies == len(g.Alleles):
		return ZygosityHomozygousAlt
	default:
		return ZygosityHeterozygous
	}
}

// String renders the genotype the way it appears in a VCF GT field.
func (g Genotype) String() string {
	if !g.Present() {
		return "."
	}
	sep := "/"
	if g.Phased {
		sep = "|"
	}
	parts := make([]string, len(g.Alleles))
	for i, a := range g.Alleles {
		if a < 0 {
			parts[i] = "."
		} else {
			parts[i] = fmt.Sprintf("%d", a)
		}
	}
	return strings.Join(parts, sep)
}

// Variant is one parsed genomic call with a single ALT allele.
// Values are never modified after the parser emits them.
type Variant struct {
	Chromosome string `json:"chromosome"`
	Position   int64  `json:"position"`
	Ref        string `json:"ref"`
	Alt        string `json:"alt"`
	RSID       string `json:"rsid,omitempty"`
	StarAllele string `json:"star_allele,omitempty"`
	Gene       string `json:"gene,omitempty"`
	Filter     string `json:"filter,omitempty"`

	// AltIndex is the 1-based index of Alt within the original ALT column.
	AltIndex int      `json:"-"`
	Genotype Genotype `json:"-"`
	Line     int      `json:"-"`
}

// Variant validation errors
var (
	ErrVariantPosition = errors.New("position must be positive")
	ErrVariantAlleles  = errors.New("reference and alternate alleles are required")
	ErrVariantChrom    = errors.New("chromosome is required")
)

// Validate checks the invariants every parsed variant must hold.
func (v Variant) Validate() error {
	if v.Chromosome == "" {
		return fmt.Errorf("variant validation: %w", ErrVariantChrom)
	}
	if v.Position <= 0 {
		return fmt.Errorf("variant validation: %w", ErrVariantPosition)
	}
	if v.Ref == "" || v.Alt == "" {
		return fmt.Errorf("variant validation: %w", ErrVariantAlleles)
	}
	return nil
}

// Key identifies a site+allele for duplicate detection and knowledge base lookup.
func (v Variant) Key() string {
	return SiteKey(v.Chromosome, v.Position, v.Ref, v.Alt)
}

// Copies returns how many copies of Alt the sample carries.
// Missing genotypes count as one copy.
func (v Variant) Copies() int {
	if !v.Genotype.Present() {
		return 1
	}
	return v.Genotype.CopiesOf(v.AltIndex)
}

// Carried is false when the genotype shows no copy of Alt.
func (v Variant) Carried() bool {
	return v.Copies() > 0
}

// SiteKey builds the chrom:pos:ref:alt key used across the engine.
func SiteKey(chrom string, pos int64, ref, alt string) string {
	return fmt.Sprintf("%s:%d:%s:%s", NormalizeChromosome(chrom), pos, strings.ToUpper(ref), strings.ToUpper(alt))
}

// NormalizeChromosome strips a leading "chr" prefix.
func NormalizeChromosome(chrom string) string {
	c := strings.TrimSpace(chrom)
	if len(c) > 3 && strings.EqualFold(c[:3], "chr") {
		return c[3:]
	}
	return c
}

// FileMetrics are file-level quality counters collected by the parser.
type FileMetrics struct {
	FileFormat        string `json:"file_format"`
	SampleID          string `json:"sample_id,omitempty"`
	SHA256            string `json:"sha256"`
	TotalRecords      int    `json:"total_records"`
	ParsedRecords     int    `json:"parsed_records"`
	MalformedRecords  int    `json:"malformed_records"`
	DuplicateRecords  int    `json:"duplicate_records"`
	FilteredRecords   int    `json:"filtered_records"`
	NonVariantRecords int    `json:"non_variant_records"`
	GenotypeAvailable bool   `json:"genotype_available"`
}

// MalformedFraction is malformed/total, zero for an empty file.
func (m FileMetrics) MalformedFraction() float64 {
	if m.TotalRecords == 0 {
		return 0
	}
	return float64(m.MalformedRecords) / float64(m.TotalRecords)
}

// VariantSet is the ordered result of parsing one uploaded file.
type VariantSet struct {
	variants []Variant
	metrics  FileMetrics
}

// NewVariantSet copies the given variants into a new set.
func NewVariantSet(variants []Variant, metrics FileMetrics) *VariantSet {
	own := make([]Variant, len(variants))
	copy(own, variants)
	return &VariantSet{variants: own, metrics: metrics}
}

// Variants returns a copy of the parsed variants in file order.
func (s *VariantSet) Variants() []Variant {
	out := make([]Variant, len(s.variants))
	copy(out, s.variants)
	return out
}

// Len returns the number of parsed variants.
func (s *VariantSet) Len() int {
	return len(s.variants)
}

// Metrics returns the file-level quality counters.
func (s *VariantSet) Metrics() FileMetrics {
	return s.metrics
}
