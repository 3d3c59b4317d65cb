package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// parseCSV streams records through the table builder. Column-count mismatches are
// tolerated and reported per row.
func (p *Parser) parseCSV(data []byte) (*tableBuilder, error) {
	data = normalizeCSVBytes(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	if comma := sniffDelimiter(data); comma != 0 {
		r.Comma = comma
	}

	tb := newTableBuilder(p.config.MaxRows, true)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && tb.headers != nil {
				tb.warn("line %d could not be parsed: %v", perr.StartLine, perr.Err)
				continue
			}
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		tb.add(record)
	}
	return tb, nil
}

func normalizeCSVBytes(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	return decodeLatin1(data)
}

func decodeLatin1(data []byte) []byte {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}

// sniffDelimiter picks ',', ';' or '\t' from the first non-empty line. Zero means default.
func sniffDelimiter(data []byte) rune {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		best, bestCount := rune(0), 0
		for _, d := range []rune{',', ';', '\t'} {
			if n := countOutsideQuotes(line, byte(d)); n > bestCount {
				best, bestCount = d, n
			}
		}
		return best
	}
	return 0
}

func countOutsideQuotes(line []byte, sep byte) int {
	inQuotes := false
	n := 0
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == sep && !inQuotes:
			n++
		}
	}
	return n
}
