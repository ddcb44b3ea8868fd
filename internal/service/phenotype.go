package service

import (
	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

// PhenotypeClassifier maps diplotypes to phenotypes through summed allele activity.
type PhenotypeClassifier struct {
	kb *knowledge.KnowledgeBase
}

// NewPhenotypeClassifier creates a classifier over the knowledge base bands.
func NewPhenotypeClassifier(kb *knowledge.KnowledgeBase) *PhenotypeClassifier {
	return &PhenotypeClassifier{kb: kb}
}

// Classify sets Phenotype and ActivityScore on the profile. An Unknown diplotype, or any allele
// without an activity value, yields PhenotypeUnknown.
func (c *PhenotypeClassifier) Classify(profile *domain.GeneProfile) {
	profile.ActivityScore = nil
	profile.Phenotype = domain.PhenotypeUnknown

	g, ok := c.kb.Gene(profile.Gene)
	if !ok || profile.Diplotype == domain.DiplotypeUnknown || profile.Alleles[0] == "" {
		return
	}

	total := 0.0
	for _, allele := range profile.Alleles {
		activity, ok := g.Activity(allele)
		if !ok {
			profile.Notes = append(profile.Notes, "no activity value for allele "+allele)
			return
		}
		total += activity
	}

	score := round3(total)
	profile.ActivityScore = &score
	profile.Phenotype = g.PhenotypeFor(score)
}
