package service

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

// DiplotypeResolver turns the variants of one file into a per-gene diplotype call.
type DiplotypeResolver struct {
	logger *logrus.Logger
	kb     *knowledge.KnowledgeBase
	policy domain.ConfidencePolicy
}

// NewDiplotypeResolver creates a resolver backed by the knowledge base.
func NewDiplotypeResolver(logger *logrus.Logger, kb *knowledge.KnowledgeBase, policy domain.ConfidencePolicy) *DiplotypeResolver {
	return &DiplotypeResolver{logger: logger, kb: kb, policy: policy}
}

type alleleEvidence struct {
	counts          map[string]int
	explicitOnly    bool
	assigned        int
	explicit        int
	unassigned      int
	missingGenotype bool
	conflict        bool
	contributing    []domain.Variant
	notes           []string
}

// Resolve returns the diplotype call for gene. Phenotype is left for the classifier.
func (r *DiplotypeResolver) Resolve(set *domain.VariantSet, gene string) domain.GeneProfile {
	g, ok := r.kb.Gene(gene)
	if !ok {
		return domain.GeneProfile{
			Gene:       gene,
			Kind:       domain.GeneKindEnzyme,
			Diplotype:  domain.DiplotypeUnknown,
			Phenotype:  domain.PhenotypeUnknown,
			Resolution: domain.ResolutionLow,
			Notes:      []string{"gene is not in the knowledge base"},
		}
	}

	ev := r.collect(set, g)
	profile := domain.GeneProfile{
		Gene:                 g.Symbol,
		Kind:                 g.Kind,
		ContributingVariants: ev.contributing,
		ExplicitAnnotations:  ev.explicit,
		Notes:                ev.notes,
	}

	alleles, err := r.choosePair(g, ev)
	var ambiguous *domain.ResolutionAmbiguousError
	if errors.As(err, &ambiguous) {
		r.logger.WithFields(logrus.Fields{
			"gene":       g.Symbol,
			"candidates": ambiguous.Candidates,
		}).Debug("Downgrading ambiguous diplotype to Unknown")

		profile.Diplotype = domain.DiplotypeUnknown
		profile.Phenotype = domain.PhenotypeUnknown
		profile.ResolutionScore = round3(r.policy.Ambiguous)
		profile.Resolution = domain.ResolutionLow
		profile.Notes = append(profile.Notes, ambiguous.Error())
		return profile
	}

	profile.Alleles = alleles
	profile.Diplotype = alleles[0] + "/" + alleles[1]
	profile.ResolutionScore = r.score(ev)
	profile.Resolution = r.policy.Level(profile.ResolutionScore)
	if profile.IsReferenceDefault() {
		r.logger.WithField("gene", g.Symbol).Debug("No variant evidence, using reference diplotype")
	}
	return profile
}

// collect gathers allele evidence for g. Unphased calls add their copies to one multiset. Phased
// diploid calls are kept per haplotype, so an allele defined by several sites counts once per
// chromosome and haplotype merging only joins components found in cis.
func (r *DiplotypeResolver) collect(set *domain.VariantSet, g *knowledge.Gene) *alleleEvidence {
	ev := &alleleEvidence{counts: make(map[string]int), explicitOnly: true}
	if set == nil {
		return ev
	}
	haplotypes := [2]map[string]bool{{}, {}}

	for _, v := range set.Variants() {
		match, matched := r.kb.MatchVariant(v)
		inGene := v.Gene == g.Symbol || (matched && match.Gene == g.Symbol)
		if !inGene || !v.Carried() {
			continue
		}

		copies := v.Copies()
		if !v.Genotype.Present() {
			ev.missingGenotype = true
			ev.notes = appendOnce(ev.notes, "genotype missing for at least one variant, one copy assumed")
		}

		allele := ""
		switch {
		case v.StarAllele != "":
			allele = knowledge.NormalizeAlleleName(v.StarAllele)
			ev.explicit++
			if matched && match.Gene == g.Symbol && match.Allele != allele {
				ev.conflict = true
				ev.notes = append(ev.notes, fmt.Sprintf("annotation %s disagrees with knowledge base allele %s at %s", allele, match.Allele, v.Key()))
			}
		case matched && match.Gene == g.Symbol:
			allele = match.Allele
			ev.explicitOnly = false
		}

		v.Gene = g.Symbol
		v.StarAllele = allele
		ev.contributing = append(ev.contributing, v)

		if allele == "" {
			ev.unassigned++
			continue
		}
		if allele == g.ReferenceAllele {
			continue
		}
		ev.assigned++
		if gt := v.Genotype; gt.Phased && len(gt.Alleles) == 2 {
			for h, a := range gt.Alleles {
				if a == v.AltIndex {
					haplotypes[h][allele] = true
				}
			}
			continue
		}
		ev.counts[allele] += copies
	}

	g.MergeHaplotypes(ev.counts)
	for h, alleles := range haplotypes {
		counts := make(map[string]int, len(alleles))
		for allele := range alleles {
			counts[allele] = 1
		}
		g.MergeHaplotypes(counts)
		if len(counts) > 1 {
			ev.conflict = true
			ev.notes = append(ev.notes, fmt.Sprintf("haplotype %d carries %d alleles", h+1, len(counts)))
		}
		for allele, n := range counts {
			ev.counts[allele] += n
		}
	}
	return ev
}

// choosePair picks the two alleles of the diplotype, ordered for rendering.
func (r *DiplotypeResolver) choosePair(g *knowledge.Gene, ev *alleleEvidence) ([2]string, error) {
	ref := g.ReferenceAllele

	type support struct {
		allele string
		copies int
	}
	ranked := make([]support, 0, len(ev.counts))
	total := 0
	for allele, n := range ev.counts {
		ranked = append(ranked, support{allele, n})
		total += n
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].copies != ranked[j].copies {
			return ranked[i].copies > ranked[j].copies
		}
		return g.CompareAlleles(ranked[i].allele, ranked[j].allele) < 0
	})

	var pair [2]string
	switch {
	case len(ranked) == 0:
		pair = [2]string{ref, ref}
	case len(ranked) == 1:
		if ranked[0].copies >= 2 {
			pair = [2]string{ranked[0].allele, ranked[0].allele}
		} else {
			pair = [2]string{ref, ranked[0].allele}
		}
		if ranked[0].copies > 2 {
			ev.conflict = true
			ev.notes = append(ev.notes, fmt.Sprintf("%d copies of %s observed", ranked[0].copies, ranked[0].allele))
		}
	case len(ranked) == 2:
		pair = [2]string{ranked[0].allele, ranked[1].allele}
		if total > 2 {
			ev.conflict = true
			ev.notes = append(ev.notes, fmt.Sprintf("%d allele copies observed for a diploid call", total))
		}
	default:
		if ranked[1].copies == ranked[2].copies {
			candidates := make([]string, len(ranked))
			for i, s := range ranked {
				candidates[i] = s.allele
			}
			sort.Slice(candidates, func(i, j int) bool { return g.CompareAlleles(candidates[i], candidates[j]) < 0 })
			return pair, &domain.ResolutionAmbiguousError{Gene: g.Symbol, Candidates: candidates}
		}
		pair = [2]string{ranked[0].allele, ranked[1].allele}
		ev.conflict = true
		ev.notes = append(ev.notes, fmt.Sprintf("%d distinct alleles observed, kept the two best supported", len(ranked)))
	}

	if g.CompareAlleles(pair[0], pair[1]) > 0 {
		pair[0], pair[1] = pair[1], pair[0]
	}
	return pair, nil
}

// score applies the confidence policy to the collected evidence.
func (r *DiplotypeResolver) score(ev *alleleEvidence) float64 {
	p := r.policy

	var s float64
	switch {
	case ev.assigned == 0:
		s = p.ReferenceDefault
	case ev.explicitOnly:
		s = p.ExplicitAnnotation
	default:
		s = p.KnowledgeBaseMatch
	}

	if ev.missingGenotype {
		s -= p.MissingGenotype
	}
	if ev.conflict {
		s -= p.Conflict
	}
	if ev.unassigned > 0 {
		s -= math.Min(float64(ev.unassigned)*p.UnassignedVariant, p.MaxUnassignedPenalty)
	}
	return round3(clamp01(s))
}

func appendOnce(notes []string, note string) []string {
	for _, n := range notes {
		if n == note {
			return notes
		}
	}
	return append(notes, note)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
