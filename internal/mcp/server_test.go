package mcp

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/app"
	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
)

const codeineVCF = "##fileformat=VCFv4.2\n" +
	"##INFO=<ID=GENE,Number=1,Type=String,Description=\"Gene symbol\">\n" +
	"##INFO=<ID=STAR,Number=1,Type=String,Description=\"Star allele\">\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tPATIENT_001\n" +
	"22\t42128945\trs3892097\tC\tT\t50\tPASS\tGENE=CYP2D6;STAR=*4\tGT\t0/1\n"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &domain.Config{
		Analysis: domain.AnalysisConfig{
			MaxUploadBytes:     1 << 20,
			MaxSkippedFraction: 0.5,
			MaxFieldsPerRecord: 64,
			Workers:            2,
		},
		Confidence: domain.DefaultConfidencePolicy(),
		Audit:      domain.AuditConfig{Driver: "none"},
		MCP:        domain.MCPConfig{TransportType: "stdio"},
	}
	application, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	server, err := NewServer(application)
	require.NoError(t, err)
	return server
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func errorCode(t *testing.T, result *mcp.CallToolResult) domain.ErrorCode {
	t.Helper()
	require.True(t, result.IsError)
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &apiErr))
	return apiErr.Code
}

func TestNewServer(t *testing.T) {
	server := newTestServer(t)

	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, "pharmaguard", server.config.ServerName)
	assert.Equal(t, "1.0.0", server.config.ServerVersion)
}

func TestStart_UnsupportedTransport(t *testing.T) {
	server := newTestServer(t)
	server.config.TransportType = "websocket"

	err := server.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported MCP transport")
}

func TestHandleAnalyze(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleAnalyze(context.Background(), nil, AnalyzeParams{
		VCFContent: codeineVCF,
		Drugs:      []string{"codeine, clopidogrel"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var batch domain.BatchResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &batch))
	require.Len(t, batch.Reports, 2)
	assert.Equal(t, "CODEINE", batch.Reports[0].Drug)
	assert.Equal(t, "PATIENT_001", batch.Reports[0].PatientID)
	assert.Equal(t, domain.RiskAdjustDosage, batch.Reports[0].RiskAssessment.RiskLabel)
	assert.Equal(t, "CLOPIDOGREL", batch.Reports[1].Drug)
}

func TestHandleAnalyze_GzipBase64MatchesPlain(t *testing.T) {
	server := newTestServer(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(codeineVCF))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	plain, _, err := server.handleAnalyze(context.Background(), nil, AnalyzeParams{
		VCFContent: codeineVCF,
		Drugs:      []string{"CODEINE"},
	})
	require.NoError(t, err)

	compressed, _, err := server.handleAnalyze(context.Background(), nil, AnalyzeParams{
		VCFContent: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Encoding:   "base64",
		Drugs:      []string{"CODEINE"},
	})
	require.NoError(t, err)
	require.False(t, compressed.IsError, resultText(t, compressed))

	assert.JSONEq(t, resultText(t, plain), resultText(t, compressed))
}

func TestHandleAnalyze_Errors(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name   string
		params AnalyzeParams
		code   domain.ErrorCode
	}{
		{"missing content", AnalyzeParams{Drugs: []string{"CODEINE"}}, domain.CodeInvalidInput},
		{"bad base64", AnalyzeParams{VCFContent: "!!!", Encoding: "base64", Drugs: []string{"CODEINE"}}, domain.CodeInvalidInput},
		{"unknown encoding", AnalyzeParams{VCFContent: codeineVCF, Encoding: "hex", Drugs: []string{"CODEINE"}}, domain.CodeInvalidInput},
		{"no drugs", AnalyzeParams{VCFContent: codeineVCF}, domain.CodeInvalidInput},
		{"wrong file name", AnalyzeParams{VCFContent: codeineVCF, FileName: "notes.txt", Drugs: []string{"CODEINE"}}, domain.CodeInvalidFormat},
		{"not a vcf", AnalyzeParams{VCFContent: "hello\n", Drugs: []string{"CODEINE"}}, domain.CodeParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := server.handleAnalyze(context.Background(), nil, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.code, errorCode(t, result))
		})
	}
}

func TestHandleListDrugs(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleListDrugs(context.Background(), nil, ListDrugsParams{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var list ListDrugsResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &list))
	assert.Equal(t, server.app.Analyzer.SupportedDrugs(), list.SupportedDrugs)
	assert.Equal(t, server.app.KB.GeneSymbols(), list.SupportedGenes)
	assert.Equal(t, server.app.KB.Version(), list.KnowledgeBaseVersion)
}

func TestHandleDrugRules(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleDrugRules(context.Background(), nil, DrugRulesParams{Drug: "plavix"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var table knowledge.DrugTable
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &table))
	assert.Equal(t, "CLOPIDOGREL", table.Drug)
	assert.Equal(t, []string{"CYP2C19"}, table.Genes)

	result, _, err = server.handleDrugRules(context.Background(), nil, DrugRulesParams{Drug: "aspirin"})
	require.NoError(t, err)
	assert.Equal(t, domain.CodeUnsupportedDrug, errorCode(t, result))

	result, _, err = server.handleDrugRules(context.Background(), nil, DrugRulesParams{})
	require.NoError(t, err)
	assert.Equal(t, domain.CodeInvalidInput, errorCode(t, result))
}

func TestHandleValidateVCF(t *testing.T) {
	server := newTestServer(t)

	result, _, err := server.handleValidateVCF(context.Background(), nil, ValidateVCFParams{VCFContent: codeineVCF})
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var report ValidateVCFResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.VariantCount)
	assert.Equal(t, []string{"CYP2D6"}, report.GenesObserved)
	assert.Equal(t, "PATIENT_001", report.Metrics.SampleID)
	assert.Equal(t, 1, report.Metrics.TotalRecords)
	assert.True(t, report.Metrics.GenotypeAvailable)

	result, _, err = server.handleValidateVCF(context.Background(), nil, ValidateVCFParams{VCFContent: "hello\n"})
	require.NoError(t, err)
	assert.Equal(t, domain.CodeParse, errorCode(t, result))
}
