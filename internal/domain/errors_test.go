package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	err := NewAPIError(CodeUnsupportedDrug, "unsupported drug: ASPIRIN", "no CPIC rule", "req-123")

	if err.Code != CodeUnsupportedDrug {
		t.Errorf("Expected code %s, got %s", CodeUnsupportedDrug, err.Code)
	}
	if err.RequestID != "req-123" {
		t.Errorf("Expected requestID req-123, got %s", err.RequestID)
	}
	if time.Since(err.Timestamp) > time.Minute {
		t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
	}

	expected := "UNSUPPORTED_DRUG: unsupported drug: ASPIRIN"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		fileLevel bool
	}{
		{"nil", nil, "", false},
		{"too large", &FileTooLargeError{Size: 10, Limit: 5}, CodeFileTooLarge, true},
		{"format", &InvalidFormatError{FileName: "a.txt", Reason: "bad"}, CodeInvalidFormat, true},
		{"parse", &ParseError{Line: 3, Reason: "missing #CHROM header line"}, CodeParse, true},
		{"quality", &QualityError{Skipped: 6, Total: 10, Threshold: 0.5}, CodeQuality, true},
		{"unsupported", &UnsupportedDrugError{Drug: "ASPIRIN"}, CodeUnsupportedDrug, false},
		{"drug name", &InvalidDrugNameError{Drug: "<X>"}, CodeInvalidDrugName, false},
		{"input", &InvalidInputError{Field: "drugs", Message: "empty"}, CodeInvalidInput, true},
		{"ambiguous", &ResolutionAmbiguousError{Gene: "CYP2D6"}, CodeResolutionAmbiguous, false},
		{"wrapped", fmt.Errorf("failed to parse variant file: %w", &ParseError{Reason: "x"}), CodeParse, true},
		{"api", NewAPIError(CodeRateLimit, "slow down", "", ""), CodeRateLimit, false},
		{"other", errors.New("boom"), CodeInternal, false},
		{"cancelled", context.Canceled, CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, got)
			}
			if got := IsFileLevel(tt.err); got != tt.fileLevel {
				t.Errorf("Expected file level %v, got %v", tt.fileLevel, got)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&FileTooLargeError{Size: 6, Limit: 5}, "file of 6 bytes exceeds the 5 byte limit"},
		{&ParseError{Line: 2, Reason: "unsupported format version VCFv3.3"}, "parse error: line 2: unsupported format version VCFv3.3"},
		{&ParseError{Reason: "corrupt gzip stream", Err: errors.New("unexpected EOF")}, "parse error: corrupt gzip stream: unexpected EOF"},
		{&QualityError{Skipped: 6, Total: 10, Threshold: 0.5}, "6 of 10 records could not be parsed (limit 50%)"},
		{&ResolutionAmbiguousError{Gene: "CYP2D6", Candidates: []string{"*4", "*10", "*41"}}, "ambiguous diplotype for CYP2D6: candidates *4, *10, *41"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, got)
		}
	}
}

func TestParseErrorUnwrap(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("wrapped: %w", &ParseError{Reason: "corrupt gzip stream", Err: cause})
	if !errors.Is(err, cause) {
		t.Error("ParseError should unwrap to its cause")
	}
}

func TestHashPatientID(t *testing.T) {
	a := HashPatientID("MRN-42")
	if len(a) != 16 {
		t.Fatalf("Expected 16 hex chars, got %d", len(a))
	}
	if a != HashPatientID("MRN-42") {
		t.Error("Hash must be stable")
	}
	if a == HashPatientID("MRN-43") {
		t.Error("Different ids should hash differently")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationIDFrom(context.Background()); got != "" {
		t.Errorf("Expected empty correlation id, got %q", got)
	}
	ctx := WithCorrelationID(context.Background(), "abc")
	if got := CorrelationIDFrom(ctx); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}
