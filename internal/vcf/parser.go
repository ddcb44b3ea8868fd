// Package vcf parses uploaded Variant Call Format files into domain.VariantSet values.
//
// Header meta lines, sample names and INFO fields are decoded with github.com/carbocation/vcfgo.
// Data records are read by a tolerant loop that skips and counts bad records instead of aborting.
package vcf

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/carbocation/vcfgo"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

const (
	fileFormatPrefix = "##fileformat=VCFv"
	mandatoryColumns = 8
	gzipMagic0       = 0x1f
	gzipMagic1       = 0x8b
	cancelCheckEvery = 1024
)

var (
	mandatoryHeader = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

	refPattern = regexp.MustCompile(`^[ACGTNacgtn]+$`)
	altPattern = regexp.MustCompile(`^([ACGTNacgtn]+|\*|<[^<>\s]+>)$`)

	plainContentTypes = map[string]bool{
		"":                          true,
		"text/plain":                true,
		"text/vcf":                  true,
		"text/x-vcf":                true,
		"text/tab-separated-values": true,
		"application/vcf":           true,
		"application/octet-stream":  true,
	}
	gzipContentTypes = map[string]bool{
		"":                         true,
		"application/gzip":         true,
		"application/x-gzip":       true,
		"application/octet-stream": true,
	}
)

// DefaultAcceptedVersions are the VCF versions accepted when none are configured.
var DefaultAcceptedVersions = []string{"4.0", "4.1", "4.2", "4.3"}

// Parser implements domain.VariantParser.
type Parser struct {
	maxBytes         int64
	maxSkipped       float64
	maxFields        int
	acceptedVersions map[string]bool
	logger           *logrus.Logger
}

// NewParser creates a parser bounded by the analysis configuration.
func NewParser(cfg domain.AnalysisConfig, logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	versions := cfg.AcceptedVersions
	if len(versions) == 0 {
		versions = DefaultAcceptedVersions
	}
	accepted := make(map[string]bool, len(versions))
	for _, v := range versions {
		accepted[normalizeVersion(v)] = true
	}
	return &Parser{
		maxBytes:         cfg.MaxUploadBytes,
		maxSkipped:       cfg.MaxSkippedFraction,
		maxFields:        cfg.MaxFieldsPerRecord,
		acceptedVersions: accepted,
		logger:           logger,
	}
}

// Parse validates the upload and returns its variants with file-level metrics.
func (p *Parser) Parse(ctx context.Context, upload domain.Upload) (*domain.VariantSet, error) {
	size := int64(len(upload.Data))
	if p.maxBytes > 0 && size > p.maxBytes {
		return nil, &domain.FileTooLargeError{Size: size, Limit: p.maxBytes}
	}

	compressed, err := checkFormat(upload)
	if err != nil {
		return nil, err
	}

	data := upload.Data
	if compressed {
		data, err = p.decompress(upload.Data)
		if err != nil {
			return nil, err
		}
	}

	sum := sha256.Sum256(data)
	state := &parseState{
		parser:   p,
		seen:     make(map[string]bool),
		metrics:  domain.FileMetrics{SHA256: hex.EncodeToString(sum[:])},
		declared: upload.DeclaredVersion,
	}
	if err := state.run(ctx, data); err != nil {
		return nil, err
	}

	m := state.metrics
	if p.maxSkipped > 0 && m.TotalRecords > 0 && m.MalformedFraction() > p.maxSkipped {
		return nil, &domain.QualityError{Skipped: m.MalformedRecords, Total: m.TotalRecords, Threshold: p.maxSkipped}
	}

	p.logger.WithFields(logrus.Fields{
		"file_format":    m.FileFormat,
		"total_records":  m.TotalRecords,
		"parsed_records": m.ParsedRecords,
		"malformed":      m.MalformedRecords,
		"duplicates":     m.DuplicateRecords,
		"filtered":       m.FilteredRecords,
		"variants":       len(state.variants),
	}).Debug("Parsed variant file")

	return domain.NewVariantSet(state.variants, m), nil
}

// checkFormat reports whether the payload is gzip compressed.
func checkFormat(upload domain.Upload) (bool, error) {
	name := strings.ToLower(strings.TrimSpace(upload.FileName))
	contentType := ""
	if upload.ContentType != "" {
		mediaType, _, err := mime.ParseMediaType(upload.ContentType)
		if err != nil {
			return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "unreadable content type"}
		}
		contentType = mediaType
	}
	magic := len(upload.Data) >= 2 && upload.Data[0] == gzipMagic0 && upload.Data[1] == gzipMagic1

	switch {
	case strings.HasSuffix(name, ".vcf.gz"):
		if !gzipContentTypes[contentType] {
			return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "content type does not match .vcf.gz"}
		}
		if !magic {
			return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "file is not gzip compressed"}
		}
		return true, nil
	case strings.HasSuffix(name, ".vcf"):
		if !plainContentTypes[contentType] {
			return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "content type does not match .vcf"}
		}
		if magic {
			return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "compressed file must use the .vcf.gz extension"}
		}
		return false, nil
	default:
		return false, &domain.InvalidFormatError{FileName: upload.FileName, ContentType: upload.ContentType, Reason: "only .vcf and .vcf.gz files are accepted"}
	}
}

func (p *Parser) decompress(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &domain.ParseError{Reason: "corrupt gzip stream", Err: err}
	}
	defer zr.Close()

	var r io.Reader = zr
	if p.maxBytes > 0 {
		r = io.LimitReader(zr, p.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &domain.ParseError{Reason: "corrupt gzip stream", Err: err}
	}
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return nil, &domain.FileTooLargeError{Size: int64(len(data)), Limit: p.maxBytes}
	}
	return data, nil
}

type parseState struct {
	parser   *Parser
	declared string

	lineNo   int
	header   bytes.Buffer
	columns  int
	seen     map[string]bool
	variants []domain.Variant
	metrics  domain.FileMetrics
}

func (s *parseState) run(ctx context.Context, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)

	inHeader := true
	for scanner.Scan() {
		if s.lineNo%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("variant parsing cancelled: %w", err)
			}
		}
		s.lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")

		if inHeader {
			done, err := s.headerLine(line)
			if err != nil {
				return err
			}
			if done {
				if err := s.decodeHeader(); err != nil {
					return err
				}
				inHeader = false
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.record(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &domain.ParseError{Line: s.lineNo, Reason: "failed to read file", Err: err}
	}
	if inHeader {
		if s.lineNo == 0 || s.metrics.FileFormat == "" {
			return &domain.ParseError{Line: 1, Reason: "missing ##fileformat header"}
		}
		return &domain.ParseError{Line: s.lineNo, Reason: "missing #CHROM header line"}
	}
	return nil
}

// headerLine consumes one header line and reports whether the #CHROM line was reached.
func (s *parseState) headerLine(line string) (bool, error) {
	if s.lineNo == 1 {
		if !strings.HasPrefix(line, fileFormatPrefix) {
			return false, &domain.ParseError{Line: 1, Reason: "missing ##fileformat header"}
		}
		version := normalizeVersion(strings.TrimPrefix(line, fileFormatPrefix))
		if !s.parser.acceptedVersions[version] {
			return false, &domain.ParseError{Line: 1, Reason: fmt.Sprintf("unsupported format version VCFv%s", version)}
		}
		if s.declared != "" && normalizeVersion(s.declared) != version {
			return false, &domain.ParseError{Line: 1, Reason: fmt.Sprintf("unsupported format version: declared %s but file is VCFv%s", s.declared, version)}
		}
		s.metrics.FileFormat = "VCFv" + version
		s.header.WriteString(line)
		s.header.WriteByte('\n')
		return false, nil
	}

	switch {
	case strings.HasPrefix(line, "##"):
		s.header.WriteString(line)
		s.header.WriteByte('\n')
		return false, nil
	case strings.HasPrefix(line, "#CHROM"):
		fields := strings.Split(line, "\t")
		if len(fields) < mandatoryColumns {
			return false, &domain.ParseError{Line: s.lineNo, Reason: "#CHROM line must declare the 8 mandatory columns"}
		}
		for i, want := range mandatoryHeader {
			if !strings.EqualFold(strings.TrimSpace(fields[i]), want) {
				return false, &domain.ParseError{Line: s.lineNo, Reason: fmt.Sprintf("unexpected header column %q, want %s", fields[i], want)}
			}
		}
		s.columns = len(fields)
		if len(fields) > mandatoryColumns && !strings.EqualFold(fields[mandatoryColumns], "FORMAT") {
			return false, &domain.ParseError{Line: s.lineNo, Reason: "column 9 must be FORMAT when sample columns are present"}
		}
		s.header.WriteString(line)
		s.header.WriteByte('\n')
		return true, nil
	default:
		return false, &domain.ParseError{Line: s.lineNo, Reason: "missing #CHROM header line"}
	}
}

// decodeHeader runs the collected header through vcfgo for sample names and INFO definitions.
func (s *parseState) decodeHeader() error {
	rdr, err := vcfgo.NewReader(bytes.NewReader(s.header.Bytes()), true)
	if rdr == nil {
		return &domain.ParseError{Line: s.lineNo, Reason: "malformed header", Err: err}
	}
	if err != nil {
		s.parser.logger.WithError(err).Debug("Tolerated header warnings")
	}
	if rdr.Header != nil && len(rdr.Header.SampleNames) > 0 {
		s.metrics.SampleID = strings.TrimSpace(rdr.Header.SampleNames[0])
	}
	return nil
}

func (s *parseState) record(line string) error {
	s.metrics.TotalRecords++
	fields := strings.Split(line, "\t")
	if s.parser.maxFields > 0 && len(fields) > s.parser.maxFields {
		return &domain.ParseError{Line: s.lineNo, Reason: fmt.Sprintf("record has %d fields, limit is %d", len(fields), s.parser.maxFields)}
	}
	if len(fields) < mandatoryColumns || strings.HasPrefix(line, "#") {
		s.malformed("too few columns")
		return nil
	}

	chrom := strings.TrimSpace(fields[0])
	pos, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	ref := strings.TrimSpace(fields[3])
	altField := strings.TrimSpace(fields[4])
	if chrom == "" || err != nil || pos <= 0 || !refPattern.MatchString(ref) {
		s.malformed("invalid CHROM, POS or REF")
		return nil
	}

	filter := strings.TrimSpace(fields[6])
	if filter != "PASS" && filter != "." && filter != "" {
		s.metrics.FilteredRecords++
		return nil
	}
	if altField == "." || altField == "" {
		s.metrics.NonVariantRecords++
		return nil
	}

	alts := strings.Split(altField, ",")
	for _, alt := range alts {
		if !altPattern.MatchString(alt) {
			s.malformed("invalid ALT")
			return nil
		}
	}

	genotype, ok := parseGenotype(fields, len(alts))
	if !ok {
		s.malformed("undecodable GT")
		return nil
	}
	if genotype.Present() {
		s.metrics.GenotypeAvailable = true
	}

	info := vcfgo.NewInfoByte([]byte(fields[7]), nil)
	genes := infoValues(info, "GENE")
	stars := infoValues(info, "STAR")
	rsid := recordRSID(fields[2], infoValues(info, "RS"))

	emitted, duplicates := 0, 0
	for i, alt := range alts {
		if alt == "*" || strings.HasPrefix(alt, "<") {
			continue
		}
		v := domain.Variant{
			Chromosome: domain.NormalizeChromosome(chrom),
			Position:   pos,
			Ref:        strings.ToUpper(ref),
			Alt:        strings.ToUpper(alt),
			RSID:       rsid,
			Gene:       strings.ToUpper(pick(genes, i, len(alts))),
			StarAllele: pick(stars, i, len(alts)),
			Filter:     filter,
			AltIndex:   i + 1,
			Genotype:   genotype,
			Line:       s.lineNo,
		}
		key := v.Key()
		if s.seen[key] {
			duplicates++
			continue
		}
		s.seen[key] = true
		s.variants = append(s.variants, v)
		emitted++
	}
	switch {
	case emitted > 0:
		s.metrics.ParsedRecords++
	case duplicates > 0:
		s.metrics.DuplicateRecords++
	default:
		s.metrics.NonVariantRecords++
	}
	return nil
}

func (s *parseState) malformed(reason string) {
	s.metrics.MalformedRecords++
	s.parser.logger.WithFields(logrus.Fields{
		"line":   s.lineNo,
		"reason": reason,
	}).Debug("Skipping malformed record")
}

// parseGenotype decodes GT from the first sample column. A record without FORMAT, sample or GT
// yields an absent genotype; an undecodable GT is reported as not ok.
func parseGenotype(fields []string, altCount int) (domain.Genotype, bool) {
	if len(fields) <= mandatoryColumns+1 {
		return domain.Genotype{}, true
	}
	keys := strings.Split(fields[mandatoryColumns], ":")
	gtIndex := -1
	for i, k := range keys {
		if k == "GT" {
			gtIndex = i
			break
		}
	}
	if gtIndex < 0 {
		return domain.Genotype{}, true
	}
	values := strings.Split(fields[mandatoryColumns+1], ":")
	if gtIndex >= len(values) {
		return domain.Genotype{}, true
	}
	raw := strings.TrimSpace(values[gtIndex])
	if raw == "" || raw == "." || raw == "./." || raw == ".|." {
		return domain.Genotype{}, true
	}

	g := domain.Genotype{Phased: strings.Contains(raw, "|")}
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '|' }) {
		if part == "." {
			g.Alleles = append(g.Alleles, -1)
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 || idx > altCount {
			return domain.Genotype{}, false
		}
		g.Alleles = append(g.Alleles, idx)
	}
	if len(g.Alleles) == 0 {
		return domain.Genotype{}, false
	}
	return g, true
}

type infoGetter interface {
	SGet(key string) []byte
}

func infoValues(info infoGetter, key string) []string {
	raw := strings.TrimSpace(string(info.SGet(key)))
	if raw == "" || raw == "." || raw == key {
		return nil
	}
	return strings.Split(raw, ",")
}

// pick selects the per-ALT value when the list is ALT-aligned, otherwise the first value.
func pick(values []string, i, altCount int) string {
	if len(values) == 0 {
		return ""
	}
	v := values[0]
	if len(values) == altCount && altCount > 1 {
		v = values[i]
	}
	v = strings.TrimSpace(v)
	if v == "." {
		return ""
	}
	return v
}

func recordRSID(id string, infoRS []string) string {
	for _, part := range strings.Split(strings.TrimSpace(id), ";") {
		if len(part) > 2 && strings.EqualFold(part[:2], "rs") {
			return strings.ToLower(part)
		}
	}
	if len(infoRS) > 0 {
		rs := strings.TrimSpace(infoRS[0])
		if _, err := strconv.Atoi(rs); err == nil {
			return "rs" + rs
		}
		if len(rs) > 2 && strings.EqualFold(rs[:2], "rs") {
			return strings.ToLower(rs)
		}
	}
	return ""
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 4 && strings.EqualFold(v[:4], "vcfv") {
		v = v[4:]
	}
	return v
}
