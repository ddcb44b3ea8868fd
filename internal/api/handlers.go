package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

// multipartOverhead is the allowance for form fields and part headers on top of the file itself.
const multipartOverhead = 64 << 10

var acceptedFormats = []string{".vcf", ".vcf.gz"}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                 "healthy",
		"timestamp":              time.Now().UTC(),
		"version":                Version,
		"knowledge_base_version": s.app.KB.Version(),
		"audit":                  s.app.AuditState(),
	})
}

func (s *Server) handleMeta(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supported_drugs":        s.app.Analyzer.SupportedDrugs(),
		"supported_genes":        s.app.KB.GeneSymbols(),
		"max_upload_bytes":       s.app.Config.Analysis.MaxUploadBytes,
		"accepted_formats":       acceptedFormats,
		"knowledge_base_version": s.app.KB.Version(),
	})
}

func (s *Server) handleDrug(c *gin.Context) {
	name := c.Param("drug")
	drug, ok := s.app.KB.Drug(name)
	if !ok {
		s.respondError(c, &domain.UnsupportedDrugError{Drug: strings.ToUpper(strings.TrimSpace(name))})
		return
	}
	c.JSON(http.StatusOK, drug.Table())
}

func (s *Server) handleAnalyze(c *gin.Context) {
	maxBytes := s.app.Config.Analysis.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	fileHeader, err := c.FormFile("vcf_file")
	if err != nil {
		if _, code := statusFor(err); code == domain.CodeFileTooLarge {
			s.respondError(c, err)
			return
		}
		s.respondError(c, &domain.InvalidInputError{Field: "vcf_file", Message: "a VCF file upload is required"})
		return
	}
	if fileHeader.Size > maxBytes {
		s.respondError(c, &domain.FileTooLargeError{Size: fileHeader.Size, Limit: maxBytes})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.respondError(c, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		s.respondError(c, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	result, err := s.app.Analyzer.Analyze(c.Request.Context(), &domain.AnalysisRequest{
		FileName:      fileHeader.Filename,
		ContentType:   fileHeader.Header.Get("Content-Type"),
		FormatVersion: c.PostForm("format_version"),
		Data:          data,
		Drugs:         c.PostFormArray("drugs"),
		PatientID:     c.PostForm("patient_id"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
