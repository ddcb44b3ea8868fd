// Package domain contains the core entities of the pharmacogenomic risk engine: parsed variants,
// per-gene diplotype calls, metabolizer phenotypes, drug risk assessments and the report shape
// consumed by the patient portal.
//
// Reference: CPIC (Clinical Pharmacogenetics Implementation Consortium) guidelines,
// https://cpicpgx.org/guidelines/
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RiskLabel is the drug-level risk category shown to clinicians.
type RiskLabel string

const (
	RiskSafe         RiskLabel = "Safe"
	RiskAdjustDosage RiskLabel = "Adjust Dosage"
	RiskToxic        RiskLabel = "Toxic"
	RiskIneffective  RiskLabel = "Ineffective"
	RiskUnknown      RiskLabel = "Unknown"
)

// AllRiskLabels lists every declared risk label in display order.
var AllRiskLabels = []RiskLabel{RiskSafe, RiskAdjustDosage, RiskToxic, RiskIneffective, RiskUnknown}

// Severity is derived from the risk label through a fixed mapping.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityUnknown  Severity = "unknown"
)

// Phenotype is the functional classification derived from a diplotype.
// The same codes are used for enzymes, transporters and drug targets; DisplayName
// renders the gene-kind specific wording.
type Phenotype string

const (
	PhenotypePoor         Phenotype = "PM"
	PhenotypeIntermediate Phenotype = "IM"
	PhenotypeNormal       Phenotype = "NM"
	PhenotypeRapid        Phenotype = "RM"
	PhenotypeUltrarapid   Phenotype = "URM"
	PhenotypeUnknown      Phenotype = "Unknown"
)

// GeneKind controls how phenotypes of a gene are worded.
type GeneKind string

const (
	GeneKindEnzyme      GeneKind = "enzyme"
	GeneKindTransporter GeneKind = "transporter"
	GeneKindTarget      GeneKind = "target"
)

// ResolutionLevel is the coarse confidence of a diplotype call.
type ResolutionLevel string

const (
	ResolutionHigh   ResolutionLevel = "high"
	ResolutionMedium ResolutionLevel = "medium"
	ResolutionLow    ResolutionLevel = "low"
)

// Enum validation errors
var (
	ErrInvalidRiskLabel  = errors.New("invalid risk label")
	ErrInvalidSeverity   = errors.New("invalid severity")
	ErrInvalidPhenotype  = errors.New("invalid phenotype")
	ErrInvalidGeneKind   = errors.New("invalid gene kind")
	ErrInvalidResolution = errors.New("invalid resolution level")
)

// IsValid reports whether the label is one of the five declared values.
func (r RiskLabel) IsValid() bool {
	switch r {
	case RiskSafe, RiskAdjustDosage, RiskToxic, RiskIneffective, RiskUnknown:
		return true
	default:
		return false
	}
}

func (r RiskLabel) String() string {
	return string(r)
}

// Severity maps the risk label onto its fixed severity.
func (r RiskLabel) Severity() Severity {
	switch r {
	case RiskToxic:
		return SeverityHigh
	case RiskAdjustDosage, RiskIneffective:
		return SeverityModerate
	case RiskSafe:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// RequiresClinicalAction reports whether prescribing should deviate from standard dosing.
func (r RiskLabel) RequiresClinicalAction() bool {
	switch r {
	case RiskAdjustDosage, RiskToxic, RiskIneffective:
		return true
	default:
		return false
	}
}

// ParseRiskLabel accepts the exact label, case-insensitively.
func ParseRiskLabel(s string) (RiskLabel, error) {
	for _, label := range AllRiskLabels {
		if strings.EqualFold(strings.TrimSpace(s), string(label)) {
			return label, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRiskLabel, s)
}

// IsValid reports whether the severity is declared.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityUnknown:
		return true
	default:
		return false
	}
}

func (s Severity) String() string {
	return string(s)
}

// IsValid reports whether the phenotype is declared.
func (p Phenotype) IsValid() bool {
	switch p {
	case PhenotypePoor, PhenotypeIntermediate, PhenotypeNormal, PhenotypeRapid, PhenotypeUltrarapid, PhenotypeUnknown:
		return true
	default:
		return false
	}
}

func (p Phenotype) String() string {
	return string(p)
}

// IsKnown is false only for PhenotypeUnknown.
func (p Phenotype) IsKnown() bool {
	return p.IsValid() && p != PhenotypeUnknown
}

// DisplayName renders the phenotype in the vocabulary used for the gene kind.
func (p Phenotype) DisplayName(kind GeneKind) string {
	if p == PhenotypeUnknown || !p.IsValid() {
		return "Unknown Phenotype"
	}

	switch kind {
	case GeneKindTransporter:
		switch p {
		case PhenotypePoor:
			return "Poor Function"
		case PhenotypeIntermediate:
			return "Decreased Function"
		case PhenotypeNormal:
			return "Normal Function"
		default:
			return "Increased Function"
		}
	case GeneKindTarget:
		switch p {
		case PhenotypePoor:
			return "Highly Increased Sensitivity"
		case PhenotypeIntermediate:
			return "Increased Sensitivity"
		case PhenotypeNormal:
			return "Normal Sensitivity"
		default:
			return "Decreased Sensitivity"
		}
	default:
		switch p {
		case PhenotypePoor:
			return "Poor Metabolizer"
		case PhenotypeIntermediate:
			return "Intermediate Metabolizer"
		case PhenotypeNormal:
			return "Normal Metabolizer"
		case PhenotypeRapid:
			return "Rapid Metabolizer"
		default:
			return "Ultrarapid Metabolizer"
		}
	}
}

// ParsePhenotype accepts the short codes (PM, IM, ...) and a few long spellings.
func ParsePhenotype(s string) (Phenotype, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PM", "POOR", "POOR METABOLIZER":
		return PhenotypePoor, nil
	case "IM", "INTERMEDIATE", "INTERMEDIATE METABOLIZER":
		return PhenotypeIntermediate, nil
	case "NM", "NORMAL", "NORMAL METABOLIZER":
		return PhenotypeNormal, nil
	case "RM", "RAPID", "RAPID METABOLIZER":
		return PhenotypeRapid, nil
	case "URM", "UM", "ULTRARAPID", "ULTRARAPID METABOLIZER":
		return PhenotypeUltrarapid, nil
	case "UNKNOWN":
		return PhenotypeUnknown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPhenotype, s)
	}
}

// IsValid reports whether the gene kind is declared.
func (k GeneKind) IsValid() bool {
	switch k {
	case GeneKindEnzyme, GeneKindTransporter, GeneKindTarget:
		return true
	default:
		return false
	}
}

// ParseGeneKind parses a gene kind, defaulting the empty string to enzyme.
func ParseGeneKind(s string) (GeneKind, error) {
	if strings.TrimSpace(s) == "" {
		return GeneKindEnzyme, nil
	}
	kind := GeneKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGeneKind, s)
	}
	return kind, nil
}

// IsValid reports whether the resolution level is declared.
func (l ResolutionLevel) IsValid() bool {
	switch l {
	case ResolutionHigh, ResolutionMedium, ResolutionLow:
		return true
	default:
		return false
	}
}

func (l ResolutionLevel) String() string {
	return string(l)
}
