// Package parser turns uploaded inventory files (CSV, spreadsheets, PDFs and page-layout
// documents) into a header list plus string-keyed rows.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/skyparts-market/pkg/storage"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrSheetNotFound   = errors.New("sheet not found")
	ErrNoText          = errors.New("no extractable text")
	ErrAIExtraction    = errors.New("AI extraction failed")
	ErrNoHeader        = errors.New("file contains no header row")
)

// Format identifies which strategy produced a result
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
	FormatPDF         Format = "pdf"
	FormatDocument    Format = "document"
)

var mimeFormats = map[string]Format{
	"text/csv":                 FormatCSV,
	"application/csv":          FormatCSV,
	"text/plain":               FormatCSV,
	"application/pdf":          FormatPDF,
	"application/vnd.ms-excel": FormatSpreadsheet,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatSpreadsheet,
	"application/vnd.ms-excel.sheet.macroEnabled.12":                    FormatSpreadsheet,
	"application/vnd.apple.pages":                                       FormatDocument,
	"application/x-iwork-pages-sffpages":                                FormatDocument,
}

// FormatForMIME returns the parse strategy for a MIME type, ignoring parameters like charset
func FormatForMIME(mimeType string) (Format, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	f, ok := mimeFormats[mt]
	return f, ok
}

var extensionMIME = map[string]string{
	".csv":   "text/csv",
	".txt":   "text/plain",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm":  "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xls":   "application/vnd.ms-excel",
	".pdf":   "application/pdf",
	".pages": "application/vnd.apple.pages",
}

// MIMEForFilename guesses a supported MIME type from the file extension
func MIMEForFilename(name string) (string, bool) {
	mt, ok := extensionMIME[strings.ToLower(filepath.Ext(name))]
	return mt, ok
}

// BlobReader is the part of the blob store the parser reads from
type BlobReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (storage.FileStat, error)
}

// Completer is a text-completion backend used for unstructured documents
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures limits for the parser
type Config struct {
	MaxFileSize    int64 // bytes
	MaxRows        int
	MaxAITextChars int
}

// DefaultConfig returns the standard limits: 25MB, 10,000 rows, 15,000 AI characters
func DefaultConfig() Config {
	return Config{
		MaxFileSize:    25 * 1024 * 1024,
		MaxRows:        10000,
		MaxAITextChars: 15000,
	}
}

// Options are per-call parse options
type Options struct {
	SheetName string // spreadsheet only; empty selects the first sheet
}

// ParseResult is the tabular view of a file
type ParseResult struct {
	Headers     []string
	Rows        []map[string]string
	TotalRows   int // rows found before truncation
	Warnings    []string
	Format      Format
	AIExtracted bool
}

// Parser dispatches files to the strategy for their MIME type
type Parser struct {
	config    Config
	blobs     BlobReader
	extractor Completer // Optional: nil disables AI extraction
	logger    *slog.Logger
}

// New creates a parser. extractor may be nil.
func New(config Config, blobs BlobReader, extractor Completer, logger *slog.Logger) *Parser {
	def := DefaultConfig()
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = def.MaxFileSize
	}
	if config.MaxRows <= 0 {
		config.MaxRows = def.MaxRows
	}
	if config.MaxAITextChars <= 0 {
		config.MaxAITextChars = def.MaxAITextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{config: config, blobs: blobs, extractor: extractor, logger: logger}
}

// Parse reads the file at path from the blob store and parses it according to mimeType
func (p *Parser) Parse(ctx context.Context, path, mimeType string, opts Options) (*ParseResult, error) {
	format, ok := FormatForMIME(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	stat, err := p.blobs.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size > p.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %s limit", ErrFileTooLarge, stat.Size, formatBytes(p.config.MaxFileSize))
	}

	data, err := p.blobs.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return p.ParseBytes(ctx, data, format, opts)
}

// ParseBytes parses file contents that are already in memory
func (p *Parser) ParseBytes(ctx context.Context, data []byte, format Format, opts Options) (*ParseResult, error) {
	if int64(len(data)) > p.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %s limit", ErrFileTooLarge, len(data), formatBytes(p.config.MaxFileSize))
	}

	var (
		tb  *tableBuilder
		err error
		ai  bool
	)
	switch format {
	case FormatCSV:
		tb, err = p.parseCSV(data)
	case FormatSpreadsheet:
		tb, err = p.parseSpreadsheet(data, opts.SheetName)
	case FormatPDF:
		tb, ai, err = p.parsePDF(ctx, data)
	case FormatDocument:
		tb, err = p.parseDocument(ctx, data)
		ai = true
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, format)
	}
	if err != nil {
		return nil, err
	}

	result, err := tb.result()
	if err != nil {
		return nil, err
	}
	result.Format = format
	result.AIExtracted = ai
	if result.TotalRows > len(result.Rows) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("file contains %d rows; only the first %d were imported", result.TotalRows, len(result.Rows)))
	}

	p.logger.Debug("parsed file",
		slog.String("format", string(format)),
		slog.Int("headers", len(result.Headers)),
		slog.Int("rows", len(result.Rows)),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func formatBytes(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
