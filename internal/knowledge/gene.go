package knowledge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

var (
	copySuffix = regexp.MustCompile(`^(.+?)[xX](\d+|[nN])$`)
	starName   = regexp.MustCompile(`^\*(\d+)(.*)$`)
	bareStar   = regexp.MustCompile(`^\d+[A-Za-z]?$`)
)

// NormalizeAlleleName cleans an allele annotation: "4" and "*4" both become "*4", and copy-number
// suffixes are written as "x2" or "xN".
func NormalizeAlleleName(name string) string {
	n := strings.TrimSpace(name)
	if m := copySuffix.FindStringSubmatch(n); m != nil && (strings.HasPrefix(n, "*") || bareStar.MatchString(m[1])) {
		return NormalizeAlleleName(m[1]) + "x" + strings.ToUpper(m[2])
	}
	if bareStar.MatchString(n) {
		return "*" + strings.ToUpper(n)
	}
	if strings.HasPrefix(n, "*") {
		return strings.ToUpper(n)
	}
	return n
}

// SplitCopyNumber separates a copy-number suffix: "*2x3" gives ("*2", 3), "*1xN" gives ("*1", 2).
func SplitCopyNumber(name string) (string, int) {
	m := copySuffix.FindStringSubmatch(name)
	if m == nil {
		return name, 1
	}
	if strings.EqualFold(m[2], "n") {
		return m[1], 2
	}
	copies, err := strconv.Atoi(m[2])
	if err != nil || copies < 1 {
		return name, 1
	}
	return m[1], copies
}

// Allele looks up an allele definition, ignoring any copy-number suffix.
func (g *Gene) Allele(name string) (Allele, bool) {
	base, _ := SplitCopyNumber(NormalizeAlleleName(name))
	a, ok := g.alleles[base]
	return a, ok
}

// Activity returns the activity value of an allele multiplied by its copy number.
// It is false when the allele is unknown or has no activity value.
func (g *Gene) Activity(name string) (float64, bool) {
	base, copies := SplitCopyNumber(NormalizeAlleleName(name))
	a, ok := g.alleles[base]
	if !ok || a.Activity == nil {
		return 0, false
	}
	return *a.Activity * float64(copies), true
}

// PhenotypeFor maps an activity score onto the gene's bands.
func (g *Gene) PhenotypeFor(score float64) domain.Phenotype {
	for _, b := range g.Bands {
		if b.Max == nil || score <= *b.Max+1e-9 {
			return b.Phenotype
		}
	}
	return domain.PhenotypeUnknown
}

// ReferencePhenotype is the phenotype of a reference/reference diplotype.
func (g *Gene) ReferencePhenotype() domain.Phenotype {
	activity, ok := g.Activity(g.ReferenceAllele)
	if !ok {
		return domain.PhenotypeUnknown
	}
	return g.PhenotypeFor(2 * activity)
}

// MergeHaplotypes replaces component alleles by the combined haplotype when every component is
// present. Counts are decremented by the number of combined copies.
func (g *Gene) MergeHaplotypes(counts map[string]int) {
	for _, h := range g.Haplotypes {
		combined := -1
		for _, c := range h.Components {
			n := counts[c]
			if combined < 0 || n < combined {
				combined = n
			}
		}
		if combined <= 0 {
			continue
		}
		for _, c := range h.Components {
			counts[c] -= combined
			if counts[c] == 0 {
				delete(counts, c)
			}
		}
		counts[h.Name] += combined
	}
}

// CompareAlleles orders alleles for diplotype rendering: reference first, then star alleles by
// number and suffix, then any other name lexically.
func (g *Gene) CompareAlleles(a, b string) int {
	if a == b {
		return 0
	}
	baseA, _ := SplitCopyNumber(a)
	baseB, _ := SplitCopyNumber(b)
	switch {
	case baseA == g.ReferenceAllele && baseB != g.ReferenceAllele:
		return -1
	case baseB == g.ReferenceAllele && baseA != g.ReferenceAllele:
		return 1
	}

	numA, sufA, okA := starParts(baseA)
	numB, sufB, okB := starParts(baseB)
	switch {
	case okA && okB:
		if numA != numB {
			return numA - numB
		}
		if sufA != sufB {
			return strings.Compare(sufA, sufB)
		}
		return strings.Compare(a, b)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func starParts(name string) (int, string, bool) {
	m := starName.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}
