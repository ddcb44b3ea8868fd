package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleResult(drug string) *domain.BatchResult {
	return &domain.BatchResult{
		Reports: []domain.Report{{
			PatientID: "PATIENT_1",
			Drug:      drug,
			PharmacogenomicProfile: domain.PharmacogenomicProfile{
				PrimaryGene:      "CYP2D6",
				Diplotype:        "*1/*4",
				Phenotype:        domain.PhenotypeIntermediate,
				DetectedVariants: []domain.DetectedVariant{{RSID: "rs3892097", StarAllele: "*4", Chromosome: "22", Position: 42128945, Ref: "C", Alt: "T"}},
			},
			RiskAssessment: domain.RiskAssessment{
				RiskLabel:       domain.RiskAdjustDosage,
				Severity:        domain.SeverityModerate,
				ConfidenceScore: 0.85,
			},
			Explanation: domain.Explanation{Citations: []string{"CPIC"}},
		}},
		QualitySummary: domain.QualitySummary{VCFParsingSuccess: true, ReportsGenerated: 1, DrugsRequested: 1},
		Errors:         []domain.DrugError{},
	}
}

func TestReportCache_SetGet(t *testing.T) {
	c := New(domain.CacheConfig{MaxItems: 8, DefaultTTL: time.Minute}, nil, quietLogger())
	ctx := context.Background()

	_, ok := c.Get(ctx, "pgx:missing")
	assert.False(t, ok)

	want := sampleResult("CODEINE")
	c.Set(ctx, "pgx:a", want)

	got, ok := c.Get(ctx, "pgx:a")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.Len())

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.MemoryMisses)
	assert.Equal(t, int64(1), stats.Stores)
}

func TestReportCache_HitsAreIndependentCopies(t *testing.T) {
	c := New(domain.CacheConfig{}, nil, quietLogger())
	ctx := context.Background()

	original := sampleResult("CODEINE")
	c.Set(ctx, "k", original)
	original.Reports[0].Drug = "CHANGED"

	first, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "CODEINE", first.Reports[0].Drug)

	first.Reports[0].PharmacogenomicProfile.DetectedVariants[0].RSID = "rs0"
	second, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "rs3892097", second.Reports[0].PharmacogenomicProfile.DetectedVariants[0].RSID)
}

func TestReportCache_Expiry(t *testing.T) {
	c := New(domain.CacheConfig{DefaultTTL: 20 * time.Millisecond}, nil, quietLogger())
	ctx := context.Background()

	c.Set(ctx, "k", sampleResult("CODEINE"))
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestReportCache_Eviction(t *testing.T) {
	c := New(domain.CacheConfig{MaxItems: 1}, nil, quietLogger())
	ctx := context.Background()

	c.Set(ctx, "a", sampleResult("CODEINE"))
	c.Set(ctx, "b", sampleResult("WARFARIN"))

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	got, ok := c.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "WARFARIN", got.Reports[0].Drug)
}

func TestReportCache_NilAndPurge(t *testing.T) {
	c := New(domain.CacheConfig{}, nil, quietLogger())
	ctx := context.Background()

	c.Set(ctx, "nil", nil)
	assert.Zero(t, c.Len())

	c.Set(ctx, "k", sampleResult("CODEINE"))
	c.Purge()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, c.Close())
}

func TestReportCache_SatisfiesDomainInterface(t *testing.T) {
	var _ domain.ReportCache = New(domain.CacheConfig{}, nil, quietLogger())
}
