package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

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

func testConfig(t *testing.T) *domain.Config {
	return &domain.Config{
		Analysis: domain.AnalysisConfig{
			MaxUploadBytes:     5 << 20,
			MaxSkippedFraction: 0.5,
			MaxFieldsPerRecord: 64,
			Workers:            2,
		},
		Confidence: domain.DefaultConfidencePolicy(),
		Cache:      domain.CacheConfig{Enabled: true, MaxItems: 16},
		Audit:      domain.AuditConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "audit.db")},
	}
}

const sampleVCF = "##fileformat=VCFv4.2\n" +
	"##INFO=<ID=GENE,Number=1,Type=String,Description=\"Gene\">\n" +
	"##INFO=<ID=STAR,Number=1,Type=String,Description=\"Star allele\">\n" +
	"##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tS1\n" +
	"22\t42128945\trs3892097\tC\tT\t50\tPASS\tGENE=CYP2D6;STAR=*4\tGT\t0/1\n"

func TestNew_WiresCacheAndAudit(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Cache)
	require.NotNil(t, a.AuditRecorder)
	assert.Equal(t, "closed", a.AuditState())

	result, err := a.Analyzer.Analyze(ctx, &domain.AnalysisRequest{
		FileName: "patient.vcf",
		Data:     []byte(sampleVCF),
		Drugs:    []string{"codeine"},
	})
	require.NoError(t, err)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, domain.RiskAdjustDosage, result.Reports[0].RiskAssessment.RiskLabel)

	count, err := a.AuditStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, a.Cache.Len())
}

func TestNew_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = false
	cfg.Audit.Driver = "none"

	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Nil(t, a.AuditRecorder)
	assert.Equal(t, "disabled", a.AuditState())
}

func TestNew_RedisUnavailableFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"

	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Cache)
}

func TestNew_KnowledgeBaseFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.KnowledgeBasePath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing.yaml"))
}

func TestNew_BadAuditDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Driver = "mongo"

	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
	_, statErr := os.Stat(cfg.Audit.SQLitePath)
	assert.True(t, os.IsNotExist(statErr))
}
