package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode is the stable machine-readable identifier of an error.
type ErrorCode string

// Error codes for different failure scenarios
const (
	CodeFileTooLarge        ErrorCode = "FILE_TOO_LARGE"
	CodeInvalidFormat       ErrorCode = "INVALID_FORMAT"
	CodeParse               ErrorCode = "PARSE_ERROR"
	CodeQuality             ErrorCode = "QUALITY_ERROR"
	CodeUnsupportedDrug     ErrorCode = "UNSUPPORTED_DRUG"
	CodeInvalidDrugName     ErrorCode = "INVALID_DRUG_NAME"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeResolutionAmbiguous ErrorCode = "RESOLUTION_AMBIGUOUS"
	CodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// APIError is the error envelope returned by the HTTP and MCP surfaces.
type APIError struct {
	Message   string    `json:"error"`
	Code      ErrorCode `json:"code"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"correlation_id,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code ErrorCode, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// FileTooLargeError rejects an upload above the configured ceiling.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

// InvalidFormatError rejects an upload whose name or content type is not a VCF.
type InvalidFormatError struct {
	FileName    string
	ContentType string
	Reason      string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid file format for %q: %s", e.FileName, e.Reason)
}

// ParseError is a fatal structural problem with the file.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "parse error: " + msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// QualityError rejects a file where too many records could not be parsed.
type QualityError struct {
	Skipped   int
	Total     int
	Threshold float64
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("%d of %d records could not be parsed (limit %.0f%%)", e.Skipped, e.Total, e.Threshold*100)
}

// UnsupportedDrugError names a drug absent from the rule table.
type UnsupportedDrugError struct {
	Drug string
}

func (e *UnsupportedDrugError) Error() string {
	return fmt.Sprintf("unsupported drug: %s", e.Drug)
}

// InvalidDrugNameError names a drug entry that is not a plausible drug name.
type InvalidDrugNameError struct {
	Drug string
}

func (e *InvalidDrugNameError) Error() string {
	return fmt.Sprintf("malformed drug name: %q", e.Drug)
}

// InvalidInputError rejects a request as a whole.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for field '%s': %s", e.Field, e.Message)
}

// ResolutionAmbiguousError is raised inside the resolver when the evidence supports more than
// two star alleles equally. It is downgraded to an Unknown diplotype and never leaves the engine.
type ResolutionAmbiguousError struct {
	Gene       string
	Candidates []string
}

func (e *ResolutionAmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous diplotype for %s: candidates %s", e.Gene, strings.Join(e.Candidates, ", "))
}

// CodeOf returns the ErrorCode for any error in the taxonomy, CodeInternal otherwise.
func CodeOf(err error) ErrorCode {
	var (
		tooLarge    *FileTooLargeError
		badFormat   *InvalidFormatError
		parseErr    *ParseError
		qualityErr  *QualityError
		unsupported *UnsupportedDrugError
		badDrug     *InvalidDrugNameError
		badInput    *InvalidInputError
		ambiguous   *ResolutionAmbiguousError
		apiErr      *APIError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &tooLarge):
		return CodeFileTooLarge
	case errors.As(err, &badFormat):
		return CodeInvalidFormat
	case errors.As(err, &parseErr):
		return CodeParse
	case errors.As(err, &qualityErr):
		return CodeQuality
	case errors.As(err, &unsupported):
		return CodeUnsupportedDrug
	case errors.As(err, &badDrug):
		return CodeInvalidDrugName
	case errors.As(err, &badInput):
		return CodeInvalidInput
	case errors.As(err, &ambiguous):
		return CodeResolutionAmbiguous
	case errors.As(err, &apiErr):
		return apiErr.Code
	default:
		return CodeInternal
	}
}

// IsFileLevel reports whether the error aborts a whole analysis request.
func IsFileLevel(err error) bool {
	switch CodeOf(err) {
	case CodeFileTooLarge, CodeInvalidFormat, CodeParse, CodeQuality, CodeInvalidInput:
		return true
	default:
		return false
	}
}
