package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// ErrInvalidKnowledgeBase wraps every validation failure of a knowledge base document.
var ErrInvalidKnowledgeBase = errors.New("invalid knowledge base")

type document struct {
	Version               string         `yaml:"version"`
	UnknownRecommendation string         `yaml:"unknown_recommendation"`
	NoRuleRecommendation  string         `yaml:"no_rule_recommendation"`
	Explanation           explanationDoc `yaml:"explanation"`
	Genes                 []geneDoc      `yaml:"genes"`
	Drugs                 []drugDoc      `yaml:"drugs"`
}

type explanationDoc struct {
	Summary string            `yaml:"summary"`
	Impact  map[string]string `yaml:"impact"`
}

type geneDoc struct {
	Symbol          string         `yaml:"symbol"`
	Chromosome      string         `yaml:"chromosome"`
	Kind            string         `yaml:"kind"`
	ReferenceAllele string         `yaml:"reference_allele"`
	Citations       []string       `yaml:"citations"`
	Bands           []bandDoc      `yaml:"bands"`
	Alleles         []alleleDoc    `yaml:"alleles"`
	Haplotypes      []haplotypeDoc `yaml:"haplotypes"`
}

type bandDoc struct {
	Max       *float64 `yaml:"max"`
	Phenotype string   `yaml:"phenotype"`
}

type alleleDoc struct {
	Name     string   `yaml:"name"`
	Function string   `yaml:"function"`
	Activity *float64 `yaml:"activity"`
	RSID     string   `yaml:"rsid"`
	Position int64    `yaml:"position"`
	Ref      string   `yaml:"ref"`
	Alt      string   `yaml:"alt"`
}

type haplotypeDoc struct {
	Name       string   `yaml:"name"`
	Components []string `yaml:"components"`
}

type drugDoc struct {
	Name      string    `yaml:"name"`
	Aliases   []string  `yaml:"aliases"`
	Genes     []string  `yaml:"genes"`
	Guideline string    `yaml:"guideline"`
	Mechanism string    `yaml:"mechanism"`
	Citations []string  `yaml:"citations"`
	Rules     []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Phenotypes     []string `yaml:"phenotypes"`
	Risk           string   `yaml:"risk"`
	Recommendation string   `yaml:"recommendation"`
}

var sampleData = TemplateData{
	PatientID:      "PATIENT_00000000",
	Drug:           "DRUG",
	Gene:           "GENE",
	Diplotype:      "*1/*1",
	PhenotypeName:  "Normal Metabolizer",
	ActivityScore:  "2",
	Risk:           string(domain.RiskSafe),
	SecondaryGenes: "GENE *1/*1",
}

// Parse decodes and validates a knowledge base document.
func Parse(data []byte) (*KnowledgeBase, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge base: %w", err)
	}

	kb := &KnowledgeBase{
		version:               strings.TrimSpace(doc.Version),
		unknownRecommendation: strings.TrimSpace(doc.UnknownRecommendation),
		noRuleRecommendation:  strings.TrimSpace(doc.NoRuleRecommendation),
		genes:                 make(map[string]*Gene),
		drugs:                 make(map[string]*Drug),
		aliases:               make(map[string]string),
		byRSID:                make(map[string]AlleleRef),
		bySite:                make(map[string]AlleleRef),
		impact:                make(map[domain.RiskLabel]*template.Template),
	}
	if kb.version == "" {
		return nil, invalid("version is required")
	}
	if kb.unknownRecommendation == "" {
		return nil, invalid("unknown_recommendation is required")
	}
	if kb.noRuleRecommendation == "" {
		kb.noRuleRecommendation = kb.unknownRecommendation
	}

	if err := kb.buildTemplates(doc.Explanation); err != nil {
		return nil, err
	}
	for _, gd := range doc.Genes {
		if err := kb.addGene(gd); err != nil {
			return nil, err
		}
	}
	if len(kb.genes) == 0 {
		return nil, invalid("no genes defined")
	}
	for _, dd := range doc.Drugs {
		if err := kb.addDrug(dd); err != nil {
			return nil, err
		}
	}
	if len(kb.drugs) == 0 {
		return nil, invalid("no drugs defined")
	}
	return kb, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidKnowledgeBase, fmt.Sprintf(format, args...))
}

func compile(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(strings.TrimSpace(text))
	if err != nil {
		return nil, invalid("template %s: %v", name, err)
	}
	if _, err := render(tmpl, sampleData); err != nil {
		return nil, invalid("template %s: %v", name, err)
	}
	return tmpl, nil
}

func (kb *KnowledgeBase) buildTemplates(doc explanationDoc) error {
	summary, err := compile("summary", doc.Summary)
	if err != nil {
		return err
	}
	kb.summary = summary

	for label, text := range doc.Impact {
		risk, err := domain.ParseRiskLabel(label)
		if err != nil {
			return invalid("impact template: %v", err)
		}
		tmpl, err := compile("impact "+string(risk), text)
		if err != nil {
			return err
		}
		kb.impact[risk] = tmpl
	}
	for _, risk := range domain.AllRiskLabels {
		if _, ok := kb.impact[risk]; !ok {
			return invalid("impact template missing for %s", risk)
		}
	}
	return nil
}

func (kb *KnowledgeBase) addGene(gd geneDoc) error {
	symbol := strings.ToUpper(strings.TrimSpace(gd.Symbol))
	if symbol == "" {
		return invalid("gene without symbol")
	}
	if _, dup := kb.genes[symbol]; dup {
		return invalid("gene %s defined twice", symbol)
	}
	kind, err := domain.ParseGeneKind(gd.Kind)
	if err != nil {
		return invalid("gene %s: %v", symbol, err)
	}

	g := &Gene{
		Symbol:          symbol,
		Chromosome:      domain.NormalizeChromosome(gd.Chromosome),
		Kind:            kind,
		ReferenceAllele: NormalizeAlleleName(gd.ReferenceAllele),
		Citations:       gd.Citations,
		alleles:         make(map[string]Allele),
	}

	for _, ad := range gd.Alleles {
		a := Allele{
			Name:     NormalizeAlleleName(ad.Name),
			Function: ad.Function,
			Activity: ad.Activity,
			RSID:     strings.ToLower(strings.TrimSpace(ad.RSID)),
			Position: ad.Position,
			Ref:      strings.ToUpper(ad.Ref),
			Alt:      strings.ToUpper(ad.Alt),
		}
		if a.Name == "" {
			return invalid("gene %s: allele without name", symbol)
		}
		if _, dup := g.alleles[a.Name]; dup {
			return invalid("gene %s: allele %s defined twice", symbol, a.Name)
		}
		if a.Activity != nil && *a.Activity < 0 {
			return invalid("gene %s: allele %s has negative activity", symbol, a.Name)
		}
		g.alleles[a.Name] = a
		g.Alleles = append(g.Alleles, a)

		ref := AlleleRef{Gene: symbol, Allele: a.Name}
		if a.RSID != "" {
			kb.byRSID[a.RSID] = ref
		}
		if a.Position > 0 && a.Ref != "" && a.Alt != "" {
			kb.bySite[domain.SiteKey(g.Chromosome, a.Position, a.Ref, a.Alt)] = ref
		}
	}
	if _, ok := g.alleles[g.ReferenceAllele]; !ok {
		return invalid("gene %s: reference allele %q is not defined", symbol, g.ReferenceAllele)
	}

	for _, hd := range gd.Haplotypes {
		h := Haplotype{Name: NormalizeAlleleName(hd.Name)}
		if _, ok := g.alleles[h.Name]; !ok {
			return invalid("gene %s: haplotype %s is not a defined allele", symbol, h.Name)
		}
		if len(hd.Components) < 2 {
			return invalid("gene %s: haplotype %s needs at least two components", symbol, h.Name)
		}
		for _, c := range hd.Components {
			c = NormalizeAlleleName(c)
			if _, ok := g.alleles[c]; !ok {
				return invalid("gene %s: haplotype %s component %s is not defined", symbol, h.Name, c)
			}
			h.Components = append(h.Components, c)
		}
		g.Haplotypes = append(g.Haplotypes, h)
	}

	if len(gd.Bands) == 0 {
		return invalid("gene %s: no phenotype bands", symbol)
	}
	for i, bd := range gd.Bands {
		p, err := domain.ParsePhenotype(bd.Phenotype)
		if err != nil || !p.IsKnown() {
			return invalid("gene %s: band %d has phenotype %q", symbol, i, bd.Phenotype)
		}
		last := i == len(gd.Bands)-1
		if bd.Max == nil && !last {
			return invalid("gene %s: only the last band may be open-ended", symbol)
		}
		if i > 0 && bd.Max != nil && *bd.Max <= *gd.Bands[i-1].Max {
			return invalid("gene %s: bands must be ascending", symbol)
		}
		g.Bands = append(g.Bands, Band{Max: bd.Max, Phenotype: p})
	}

	kb.genes[symbol] = g
	kb.geneOrder = append(kb.geneOrder, symbol)
	return nil
}

func (kb *KnowledgeBase) addDrug(dd drugDoc) error {
	name := strings.ToUpper(strings.Join(strings.Fields(dd.Name), " "))
	if name == "" {
		return invalid("drug without name")
	}
	if _, dup := kb.drugs[name]; dup {
		return invalid("drug %s defined twice", name)
	}
	if len(dd.Genes) == 0 {
		return invalid("drug %s: no genes", name)
	}
	if strings.TrimSpace(dd.Guideline) == "" {
		return invalid("drug %s: guideline reference is required", name)
	}

	d := &Drug{
		Name:      name,
		Guideline: strings.TrimSpace(dd.Guideline),
		Citations: dd.Citations,
	}
	for _, gene := range dd.Genes {
		gene = strings.ToUpper(strings.TrimSpace(gene))
		if _, ok := kb.genes[gene]; !ok {
			return invalid("drug %s references unknown gene %s", name, gene)
		}
		d.Genes = append(d.Genes, gene)
	}

	mechanism, err := compile("mechanism "+name, dd.Mechanism)
	if err != nil {
		return err
	}
	d.mechanism = mechanism

	for i, rd := range dd.Rules {
		if len(rd.Phenotypes) != len(d.Genes) {
			return invalid("drug %s: rule %d has %d phenotypes for %d genes", name, i, len(rd.Phenotypes), len(d.Genes))
		}
		rule := Rule{Recommendation: strings.TrimSpace(rd.Recommendation)}
		for _, p := range rd.Phenotypes {
			if p == Wildcard {
				rule.Phenotypes = append(rule.Phenotypes, Wildcard)
				continue
			}
			parsed, err := domain.ParsePhenotype(p)
			if err != nil || !parsed.IsKnown() {
				return invalid("drug %s: rule %d has phenotype %q", name, i, p)
			}
			rule.Phenotypes = append(rule.Phenotypes, string(parsed))
		}
		risk, err := domain.ParseRiskLabel(rd.Risk)
		if err != nil {
			return invalid("drug %s: rule %d: %v", name, i, err)
		}
		rule.Risk = risk
		if rule.Recommendation == "" {
			return invalid("drug %s: rule %d has no recommendation", name, i)
		}
		d.Rules = append(d.Rules, rule)
	}

	reference := make([]domain.Phenotype, len(d.Genes))
	for i, gene := range d.Genes {
		reference[i] = kb.genes[gene].ReferencePhenotype()
	}
	covered := false
	for _, r := range d.Rules {
		if r.Matches(reference) {
			covered = true
			break
		}
	}
	if !covered {
		return invalid("drug %s: no rule covers the reference phenotypes %v", name, reference)
	}

	kb.drugs[name] = d
	for _, alias := range dd.Aliases {
		alias = strings.ToUpper(strings.Join(strings.Fields(alias), " "))
		if alias == "" || alias == name {
			continue
		}
		if existing, ok := kb.aliases[alias]; ok && existing != name {
			return invalid("alias %s maps to both %s and %s", alias, existing, name)
		}
		d.Aliases = append(d.Aliases, alias)
		kb.aliases[alias] = name
	}
	return nil
}
