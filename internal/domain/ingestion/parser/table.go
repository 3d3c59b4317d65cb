package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// tableBuilder accumulates records into a header row plus full-width row maps.
// The first non-blank record becomes the header.
type tableBuilder struct {
	maxRows  int
	warnRows bool // warn on any column-count mismatch; otherwise only on overflow

	headers  []string
	rows     []map[string]string
	total    int
	warnings []string
}

func newTableBuilder(maxRows int, warnRows bool) *tableBuilder {
	return &tableBuilder{maxRows: maxRows, warnRows: warnRows}
}

// add consumes one record. Blank records are skipped.
func (b *tableBuilder) add(record []string) {
	if isBlankRecord(record) {
		return
	}

	if b.headers == nil {
		b.headers = uniqueHeaders(record)
		return
	}

	b.total++
	if b.maxRows > 0 && len(b.rows) >= b.maxRows {
		return
	}

	rowNum := b.total
	if n := len(record); n != len(b.headers) && (b.warnRows || n > len(b.headers)) {
		b.warnings = append(b.warnings,
			fmt.Sprintf("row %d has %d columns, expected %d", rowNum, n, len(b.headers)))
	}

	row := make(map[string]string, len(b.headers))
	for i, h := range b.headers {
		if i < len(record) {
			row[h] = strings.TrimSpace(record[i])
		} else {
			row[h] = ""
		}
	}
	b.rows = append(b.rows, row)
}

// warn records a file-level warning
func (b *tableBuilder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *tableBuilder) result() (*ParseResult, error) {
	if b.headers == nil {
		return nil, ErrNoHeader
	}
	rows := b.rows
	if rows == nil {
		rows = []map[string]string{}
	}
	return &ParseResult{
		Headers:   b.headers,
		Rows:      rows,
		TotalRows: b.total,
		Warnings:  b.warnings,
	}, nil
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// uniqueHeaders trims header cells, names empty ones "Column N" and suffixes duplicates
func uniqueHeaders(record []string) []string {
	headers := make([]string, len(record))
	seen := make(map[string]int, len(record))
	for i, cell := range record {
		h := strings.TrimSpace(cell)
		if h == "" {
			h = "Column " + strconv.Itoa(i+1)
		}
		key := strings.ToLower(h)
		seen[key]++
		if n := seen[key]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
			seen[strings.ToLower(h)]++
		}
		headers[i] = h
	}
	return headers
}
