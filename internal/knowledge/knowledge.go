// Package knowledge holds the pharmacogene knowledge base: allele definitions, activity values,
// phenotype bands, the drug rule table and the explanation templates. The base is loaded once from
// an embedded YAML document and is immutable afterwards, so it is safe to share between goroutines.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// Wildcard matches any phenotype in a rule tuple.
const Wildcard = "*"

//go:embed data/pharmacogenes.yaml
var embedded []byte

var (
	defaultOnce sync.Once
	defaultKB   *KnowledgeBase
	defaultErr  error
)

// Default returns the process-wide knowledge base built from the embedded document.
func Default() (*KnowledgeBase, error) {
	defaultOnce.Do(func() {
		defaultKB, defaultErr = Parse(embedded)
	})
	return defaultKB, defaultErr
}

// LoadFile parses a knowledge base document from disk.
func LoadFile(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base %s: %w", path, err)
	}
	kb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", path, err)
	}
	return kb, nil
}

// KnowledgeBase is the validated, indexed knowledge base.
type KnowledgeBase struct {
	version               string
	unknownRecommendation string
	noRuleRecommendation  string

	genes     map[string]*Gene
	geneOrder []string
	drugs     map[string]*Drug
	aliases   map[string]string
	byRSID    map[string]AlleleRef
	bySite    map[string]AlleleRef

	summary *template.Template
	impact  map[domain.RiskLabel]*template.Template
}

// AlleleRef points at one allele definition.
type AlleleRef struct {
	Gene   string
	Allele string
}

// Gene is one pharmacogene.
type Gene struct {
	Symbol          string
	Chromosome      string
	Kind            domain.GeneKind
	ReferenceAllele string
	Alleles         []Allele
	Haplotypes      []Haplotype
	Bands           []Band
	Citations       []string

	alleles map[string]Allele
}

// Allele is a star allele (or named haplotype) definition.
type Allele struct {
	Name     string
	Function string
	Activity *float64
	RSID     string
	Position int64
	Ref      string
	Alt      string
}

// Haplotype is a named allele defined by a set of component alleles on one chromosome.
type Haplotype struct {
	Name       string
	Components []string
}

// Band maps activity scores up to Max (inclusive) onto a phenotype. A nil Max is open-ended.
type Band struct {
	Max       *float64
	Phenotype domain.Phenotype
}

// Drug is one entry of the rule table.
type Drug struct {
	Name      string
	Aliases   []string
	Genes     []string
	Guideline string
	Citations []string
	Rules     []Rule

	mechanism *template.Template
}

// Rule maps a phenotype tuple, one entry per drug gene, onto a risk label.
type Rule struct {
	Phenotypes     []string
	Risk           domain.RiskLabel
	Recommendation string
}

// Wildcards counts the wildcard positions of the rule.
func (r Rule) Wildcards() int {
	n := 0
	for _, p := range r.Phenotypes {
		if p == Wildcard {
			n++
		}
	}
	return n
}

// Matches reports whether the rule covers the phenotype tuple.
func (r Rule) Matches(phenotypes []domain.Phenotype) bool {
	if len(phenotypes) != len(r.Phenotypes) {
		return false
	}
	for i, p := range r.Phenotypes {
		if p != Wildcard && p != string(phenotypes[i]) {
			return false
		}
	}
	return true
}

// TemplateData is the fixed input of every explanation template.
type TemplateData struct {
	PatientID      string
	Drug           string
	Gene           string
	Diplotype      string
	PhenotypeName  string
	ActivityScore  string
	Risk           string
	SecondaryGenes string
}

// Version identifies the knowledge base revision.
func (kb *KnowledgeBase) Version() string {
	return kb.version
}

// UnknownRecommendation is the text used when a phenotype could not be called.
func (kb *KnowledgeBase) UnknownRecommendation() string {
	return kb.unknownRecommendation
}

// NoRuleRecommendation is the text used when no rule row covers a phenotype tuple.
func (kb *KnowledgeBase) NoRuleRecommendation() string {
	return kb.noRuleRecommendation
}

// Gene looks up a gene by symbol.
func (kb *KnowledgeBase) Gene(symbol string) (*Gene, bool) {
	g, ok := kb.genes[strings.ToUpper(strings.TrimSpace(symbol))]
	return g, ok
}

// GeneSymbols returns the gene symbols in document order.
func (kb *KnowledgeBase) GeneSymbols() []string {
	out := make([]string, len(kb.geneOrder))
	copy(out, kb.geneOrder)
	return out
}

// NormalizeDrug trims and uppercases a drug name and resolves aliases to the canonical name.
func (kb *KnowledgeBase) NormalizeDrug(name string) string {
	n := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if canonical, ok := kb.aliases[n]; ok {
		return canonical
	}
	return n
}

// Drug looks up a drug by canonical name or alias.
func (kb *KnowledgeBase) Drug(name string) (*Drug, bool) {
	d, ok := kb.drugs[kb.NormalizeDrug(name)]
	return d, ok
}

// SupportedDrugs returns the sorted canonical drug names of the rule table.
func (kb *KnowledgeBase) SupportedDrugs() []string {
	out := make([]string, 0, len(kb.drugs))
	for name := range kb.drugs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// MatchVariant finds the allele defined for a variant, by rsid first, then by site.
// An rsid hit only counts when the variant carries the defined REF and ALT.
func (kb *KnowledgeBase) MatchVariant(v domain.Variant) (AlleleRef, bool) {
	if rsid := strings.ToLower(v.RSID); rsid != "" {
		if ref, ok := kb.byRSID[rsid]; ok && kb.sameChange(ref, v) {
			return ref, true
		}
	}
	ref, ok := kb.bySite[v.Key()]
	return ref, ok
}

func (kb *KnowledgeBase) sameChange(ref AlleleRef, v domain.Variant) bool {
	a := kb.genes[ref.Gene].alleles[ref.Allele]
	if a.Ref == "" || a.Alt == "" {
		return true
	}
	return strings.EqualFold(a.Ref, v.Ref) && strings.EqualFold(a.Alt, v.Alt)
}

// RenderSummary renders the report summary line.
func (kb *KnowledgeBase) RenderSummary(data TemplateData) (string, error) {
	return render(kb.summary, data)
}

// RenderImpact renders the clinical impact paragraph for a risk label.
func (kb *KnowledgeBase) RenderImpact(risk domain.RiskLabel, data TemplateData) (string, error) {
	tmpl, ok := kb.impact[risk]
	if !ok {
		tmpl = kb.impact[domain.RiskUnknown]
	}
	return render(tmpl, data)
}

// RenderMechanism renders the drug's biological mechanism paragraph.
func (d *Drug) RenderMechanism(data TemplateData) (string, error) {
	return render(d.mechanism, data)
}

// PrimaryGene is the first gene of the drug, used for the report profile.
func (d *Drug) PrimaryGene() string {
	return d.Genes[0]
}

func render(tmpl *template.Template, data TemplateData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

// RuleRow is the wire form of one rule.
type RuleRow struct {
	Phenotypes     []string         `json:"phenotypes"`
	RiskLabel      domain.RiskLabel `json:"risk_label"`
	Recommendation string           `json:"recommendation"`
}

// DrugTable is the wire form of a drug's rule table, served by the HTTP and MCP surfaces.
type DrugTable struct {
	Drug      string    `json:"drug"`
	Aliases   []string  `json:"aliases"`
	Genes     []string  `json:"genes"`
	Guideline string    `json:"cpic_guideline_reference"`
	Citations []string  `json:"citations"`
	Rules     []RuleRow `json:"rules"`
}

// Table returns a copy of the drug's rule table.
func (d *Drug) Table() DrugTable {
	t := DrugTable{
		Drug:      d.Name,
		Aliases:   append([]string{}, d.Aliases...),
		Genes:     append([]string{}, d.Genes...),
		Guideline: d.Guideline,
		Citations: append([]string{}, d.Citations...),
		Rules:     make([]RuleRow, 0, len(d.Rules)),
	}
	for _, r := range d.Rules {
		t.Rules = append(t.Rules, RuleRow{
			Phenotypes:     append([]string{}, r.Phenotypes...),
			RiskLabel:      r.Risk,
			Recommendation: r.Recommendation,
		})
	}
	return t
}
