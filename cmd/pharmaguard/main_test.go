package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaguard-pgx-server/internal/audit"
	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/knowledge"
	"github.com/pharmaguard-pgx-server/internal/setup"
)

const codeineVCF = "##fileformat=VCFv4.2\n" +
	"##INFO=<ID=GENE,Number=1,Type=String,Description=\"Gene symbol\">\n" +
	"##INFO=<ID=STAR,Number=1,Type=String,Description=\"Star allele\">\n" +
	"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\tPATIENT_001\n" +
	"22\t42128945\trs3892097\tC\tT\t50\tPASS\tGENE=CYP2D6;STAR=*4\tGT\t0/1\n"

type workspace struct {
	dir    string
	config string
	vcf    string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:    dir,
		config: filepath.Join(dir, "config.yaml"),
		vcf:    filepath.Join(dir, "patient.vcf"),
	}
	cfg := "logging:\n  level: error\n" +
		"audit:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "audit.db") + "\n" +
		"cache:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(ws.vcf, []byte(codeineVCF), 0644))
	return ws
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	ws := newWorkspace(t)

	stdout, _, err := execute(t, "--config", ws.config, "analyze", "--vcf", ws.vcf, "--drugs", "codeine,warfarin", "--pretty")
	require.NoError(t, err)

	var result domain.BatchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Len(t, result.Reports, 2)
	assert.Equal(t, "CODEINE", result.Reports[0].Drug)
	assert.Equal(t, domain.RiskAdjustDosage, result.Reports[0].RiskAssessment.RiskLabel)
	assert.Equal(t, "WARFARIN", result.Reports[1].Drug)

	// The run left one audit entry behind.
	stdout, _, err = execute(t, "--config", ws.config, "audit", "list")
	require.NoError(t, err)
	var listing struct {
		Total   int64                 `json:"total"`
		Entries []*domain.AuditRecord `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &listing))
	assert.Equal(t, int64(1), listing.Total)
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, []string{"CODEINE", "WARFARIN"}, listing.Entries[0].Drugs)
	assert.Equal(t, domain.HashPatientID("PATIENT_001"), listing.Entries[0].PatientHash)
}

func TestAnalyzeCommand_FileLevelError(t *testing.T) {
	ws := newWorkspace(t)
	bad := filepath.Join(ws.dir, "notes.txt")
	require.NoError(t, os.WriteFile(bad, []byte(codeineVCF), 0644))

	stdout, stderr, err := execute(t, "--config", ws.config, "analyze", "--vcf", bad, "--drugs", "codeine")
	require.Error(t, err)
	assert.Empty(t, stdout)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal([]byte(stderr), &apiErr))
	assert.Equal(t, domain.CodeInvalidFormat, apiErr.Code)

	var reported *reportedError
	assert.ErrorAs(t, err, &reported)
}

func TestAnalyzeCommand_RequiredFlags(t *testing.T) {
	ws := newWorkspace(t)

	_, _, err := execute(t, "--config", ws.config, "analyze", "--vcf", ws.vcf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drugs")
}

func TestValidateCommand(t *testing.T) {
	ws := newWorkspace(t)

	stdout, _, err := execute(t, "--config", ws.config, "validate", "--vcf", ws.vcf)
	require.NoError(t, err)

	var out struct {
		Valid    bool               `json:"valid"`
		Variants int                `json:"variant_count"`
		Metrics  domain.FileMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.True(t, out.Valid)
	assert.Equal(t, 1, out.Variants)
	assert.Equal(t, "PATIENT_001", out.Metrics.SampleID)
}

func TestDrugsAndRulesCommands(t *testing.T) {
	ws := newWorkspace(t)

	stdout, _, err := execute(t, "--config", ws.config, "drugs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "DRUG"))
	assert.Contains(t, stdout, "CODEINE")
	assert.Contains(t, stdout, "WARFARIN")

	stdout, _, err = execute(t, "--config", ws.config, "drugs", "--json")
	require.NoError(t, err)
	var listing map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &listing))
	assert.Len(t, listing["supported_drugs"], 6)

	stdout, _, err = execute(t, "--config", ws.config, "rules", "coumadin")
	require.NoError(t, err)
	var table knowledge.DrugTable
	require.NoError(t, json.Unmarshal([]byte(stdout), &table))
	assert.Equal(t, "WARFARIN", table.Drug)
	assert.Equal(t, []string{"CYP2C9", "VKORC1"}, table.Genes)

	_, stderr, err := execute(t, "--config", ws.config, "rules", "aspirin")
	require.Error(t, err)
	assert.Contains(t, stderr, string(domain.CodeUnsupportedDrug))
}

func TestAuditExportAndPurge(t *testing.T) {
	ws := newWorkspace(t)

	_, _, err := execute(t, "--config", ws.config, "analyze", "--vcf", ws.vcf, "--drugs", "codeine")
	require.NoError(t, err)

	exportPath := filepath.Join(ws.dir, "export.json")
	_, stderr, err := execute(t, "--config", ws.config, "audit", "export", "-o", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, exportPath)

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var export audit.Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 1, export.Count)

	stdout, _, err := execute(t, "--config", ws.config, "audit", "purge", "--older-than", "1h")
	require.NoError(t, err)
	assert.Equal(t, "Purged 0 audit entries\n", stdout)

	_, _, err = execute(t, "--config", ws.config, "audit", "purge", "--older-than", "0s")
	assert.Error(t, err)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	ws := newWorkspace(t)

	_, _, err := execute(t, "--config", ws.config, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_url")
}

func TestMCPRegisterLifecycle(t *testing.T) {
	ws := newWorkspace(t)
	clientConfig := filepath.Join(ws.dir, "client", "config.json")
	binary := filepath.Join(ws.dir, setup.DefaultBinaryName)
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	stdout, _, err := execute(t, "--config", ws.config, "mcp", "register",
		"--client-config", clientConfig, "--binary", binary, "--data-dir", ws.dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Registered pharmaguard")

	stdout, _, err = execute(t, "mcp", "status", "--client-config", clientConfig)
	require.NoError(t, err)
	var status setup.Status
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	assert.True(t, status.Registered)
	assert.Equal(t, binary, status.Command)
	assert.Equal(t, ws.dir, status.DataDir)

	cfg, err := setup.LoadClientConfig(clientConfig)
	require.NoError(t, err)
	assert.Equal(t, []string{"--config", ws.config}, cfg.MCPServers["pharmaguard"].Args)

	stdout, _, err = execute(t, "mcp", "unregister", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed pharmaguard")

	_, _, err = execute(t, "mcp", "status")
	assert.Error(t, err)
}
