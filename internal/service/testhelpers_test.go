package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
	"github.com/pharmaguard-pgx-server/internal/vcf"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testKB(t *testing.T) *knowledge.KnowledgeBase {
	t.Helper()
	kb, err := knowledge.Default()
	require.NoError(t, err)
	return kb
}

func testAnalysisConfig() domain.AnalysisConfig {
	return domain.AnalysisConfig{
		MaxUploadBytes:     5 << 20,
		MaxSkippedFraction: 0.5,
		MaxFieldsPerRecord: 64,
		Workers:            4,
	}
}

func newTestAnalyzer(t *testing.T) *AnalyzerService {
	t.Helper()
	logger := quietLogger()
	parser := vcf.NewParser(testAnalysisConfig(), logger)
	return NewAnalyzerService(logger, testKB(t), parser, domain.DefaultConfidencePolicy(), 4)
}

func rec(fields ...string) string {
	return strings.Join(fields, "\t")
}

// vcfFile builds a single-sample VCF 4.2 file. sample may be empty for a sites-only file.
func vcfFile(sample string, records ...string) []byte {
	columns := []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}
	if sample != "" {
		columns = append(columns, "FORMAT", sample)
	}
	lines := []string{
		"##fileformat=VCFv4.2",
		"##source=pharmaguard-tests",
		`##INFO=<ID=GENE,Number=1,Type=String,Description="Gene symbol">`,
		`##INFO=<ID=STAR,Number=1,Type=String,Description="Star allele">`,
		strings.Join(columns, "\t"),
	}
	lines = append(lines, records...)
	return []byte(strings.Join(lines, "\n") + "\n")
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// setFrom parses a VCF built by vcfFile for direct resolver tests.
func setFrom(t *testing.T, records ...string) *domain.VariantSet {
	t.Helper()
	parser := vcf.NewParser(testAnalysisConfig(), quietLogger())
	set, err := parser.Parse(context.Background(), domain.Upload{FileName: "test.vcf", Data: vcfFile("S1", records...)})
	require.NoError(t, err)
	return set
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*domain.BatchResult
	gets    int
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*domain.BatchResult)}
}

func (c *memoryCache) Get(_ context.Context, key string) (*domain.BatchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	r, ok := c.entries[key]
	return r, ok
}

func (c *memoryCache) Set(_ context.Context, key string, result *domain.BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = result
}

type recordingAudit struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
	fail    bool
}

func (a *recordingAudit) Record(_ context.Context, rec *domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	if a.fail {
		return errors.New("audit database unavailable")
	}
	return nil
}
