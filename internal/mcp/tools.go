package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// Tool names.
const (
	ToolAnalyze     = "analyze_pharmacogenomics"
	ToolListDrugs   = "list_supported_drugs"
	ToolDrugRules   = "get_drug_rules"
	ToolValidateVCF = "validate_vcf"
)

const encodingBase64 = "base64"

// AnalyzeParams defines parameters for the analyze_pharmacogenomics tool
type AnalyzeParams struct {
	VCFContent    string   `json:"vcf_content" jsonschema:"VCF file content, plain text or base64 when encoding is base64"`
	FileName      string   `json:"file_name,omitempty" jsonschema:"original file name ending in .vcf or .vcf.gz"`
	Encoding      string   `json:"encoding,omitempty" jsonschema:"set to base64 for binary content such as .vcf.gz"`
	Drugs         []string `json:"drugs" jsonschema:"drug names; entries may also hold comma separated lists"`
	PatientID     string   `json:"patient_id,omitempty" jsonschema:"patient identifier; defaults to the VCF sample name"`
	FormatVersion string   `json:"format_version,omitempty" jsonschema:"declared VCF version such as 4.2"`
}

// ListDrugsParams defines parameters for the list_supported_drugs tool
type ListDrugsParams struct{}

// ListDrugsResult defines the result structure for the list_supported_drugs tool
type ListDrugsResult struct {
	SupportedDrugs       []string `json:"supported_drugs"`
	SupportedGenes       []string `json:"supported_genes"`
	KnowledgeBaseVersion string   `json:"knowledge_base_version"`
}

// DrugRulesParams defines parameters for the get_drug_rules tool
type DrugRulesParams struct {
	Drug string `json:"drug" jsonschema:"drug name or alias"`
}

// ValidateVCFParams defines parameters for the validate_vcf tool
type ValidateVCFParams struct {
	VCFContent string `json:"vcf_content" jsonschema:"VCF file content, plain text or base64 when encoding is base64"`
	FileName   string `json:"file_name,omitempty" jsonschema:"original file name ending in .vcf or .vcf.gz"`
	Encoding   string `json:"encoding,omitempty" jsonschema:"set to base64 for binary content such as .vcf.gz"`
}

// ValidateVCFResult defines the result structure for the validate_vcf tool
type ValidateVCFResult struct {
	Valid         bool               `json:"valid"`
	Metrics       domain.FileMetrics `json:"metrics"`
	VariantCount  int                `json:"variant_count"`
	GenesObserved []string           `json:"genes_observed"`
}

// handleAnalyze handles the analyze_pharmacogenomics tool invocation
func (s *Server) handleAnalyze(ctx context.Context, req *mcp.CallToolRequest, params AnalyzeParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolAnalyze).Info("Tool invoked")

	data, fileName, err := decodeContent(params.VCFContent, params.FileName, params.Encoding)
	if err != nil {
		return s.createErrorResult("Invalid parameters", err), nil, nil
	}

	result, err := s.app.Analyzer.Analyze(ctx, &domain.AnalysisRequest{
		FileName:      fileName,
		FormatVersion: params.FormatVersion,
		Data:          data,
		Drugs:         params.Drugs,
		PatientID:     params.PatientID,
	})
	if err != nil {
		return s.createErrorResult("Analysis failed", err), nil, nil
	}

	return s.jsonResult(result)
}

// handleListDrugs handles the list_supported_drugs tool invocation
func (s *Server) handleListDrugs(ctx context.Context, req *mcp.CallToolRequest, params ListDrugsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolListDrugs).Info("Tool invoked")

	return s.jsonResult(ListDrugsResult{
		SupportedDrugs:       s.app.Analyzer.SupportedDrugs(),
		SupportedGenes:       s.app.KB.GeneSymbols(),
		KnowledgeBaseVersion: s.app.KB.Version(),
	})
}

// handleDrugRules handles the get_drug_rules tool invocation
func (s *Server) handleDrugRules(ctx context.Context, req *mcp.CallToolRequest, params DrugRulesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolDrugRules).Info("Tool invoked")

	if strings.TrimSpace(params.Drug) == "" {
		return s.createErrorResult("Missing required parameter", &domain.InvalidInputError{Field: "drug", Message: "drug is required"}), nil, nil
	}
	drug, ok := s.app.KB.Drug(params.Drug)
	if !ok {
		return s.createErrorResult("Unknown drug", &domain.UnsupportedDrugError{Drug: strings.ToUpper(strings.TrimSpace(params.Drug))}), nil, nil
	}
	return s.jsonResult(drug.Table())
}

// handleValidateVCF handles the validate_vcf tool invocation
func (s *Server) handleValidateVCF(ctx context.Context, req *mcp.CallToolRequest, params ValidateVCFParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolValidateVCF).Info("Tool invoked")

	data, fileName, err := decodeContent(params.VCFContent, params.FileName, params.Encoding)
	if err != nil {
		return s.createErrorResult("Invalid parameters", err), nil, nil
	}

	set, err := s.app.Analyzer.Validate(ctx, domain.Upload{FileName: fileName, Data: data})
	if err != nil {
		return s.createErrorResult("Validation failed", err), nil, nil
	}

	genes := map[string]bool{}
	observed := []string{}
	for _, v := range set.Variants() {
		if v.Gene != "" && !genes[v.Gene] {
			genes[v.Gene] = true
			observed = append(observed, v.Gene)
		}
	}

	return s.jsonResult(ValidateVCFResult{
		Valid:         true,
		Metrics:       set.Metrics(),
		VariantCount:  set.Len(),
		GenesObserved: observed,
	})
}

// decodeContent returns the raw file bytes and a file name the parser will accept.
func decodeContent(content, fileName, encoding string) ([]byte, string, error) {
	if content == "" {
		return nil, "", &domain.InvalidInputError{Field: "vcf_content", Message: "vcf_content is required"}
	}

	var data []byte
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "text", "utf-8":
		data = []byte(content)
	case encodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
		if err != nil {
			return nil, "", &domain.InvalidInputError{Field: "vcf_content", Message: "content is not valid base64"}
		}
		data = decoded
	default:
		return nil, "", &domain.InvalidInputError{Field: "encoding", Message: fmt.Sprintf("unsupported encoding %q", encoding)}
	}

	if fileName == "" {
		fileName = "upload.vcf"
		if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
			fileName = "upload.vcf.gz"
		}
	}
	return data, fileName, nil
}

func (s *Server) jsonResult(v any) (*mcp.CallToolResult, any, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.createErrorResult("Failed to encode result", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(payload)},
		},
	}, nil, nil
}

// createErrorResult creates an error result for tool calls. The text is the JSON error envelope
// so clients can branch on the code.
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	code := domain.CodeOf(err)
	details := ""
	if err != nil {
		details = err.Error()
	}
	if code == domain.CodeInternal {
		s.logger.WithFields(logrus.Fields{
			"error":   details,
			"message": message,
		}).Error("Tool call failed")
		details = ""
	}

	apiErr := domain.NewAPIError(code, message, details, "")
	payload, marshalErr := json.Marshal(apiErr)
	text := string(payload)
	if marshalErr != nil {
		text = fmt.Sprintf("Error: %s - %s", message, details)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}
