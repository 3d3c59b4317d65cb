package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// parsePDF tries the tabular text heuristic first and falls back to AI extraction
func (p *Parser) parsePDF(ctx context.Context, data []byte) (*tableBuilder, bool, error) {
	text, err := p.extractPDFText(data)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, false, fmt.Errorf("%w: PDF has no text layer", ErrNoText)
	}

	if records, ok := detectTable(text); ok {
		tb := newTableBuilder(p.config.MaxRows, true)
		for _, r := range records {
			tb.add(r)
		}
		return tb, false, nil
	}

	p.logger.Info("no delimited table found in PDF, falling back to AI extraction")
	tb, err := p.extractWithAI(ctx, text)
	if err != nil {
		return nil, true, err
	}
	return tb, true, nil
}

// extractPDFText rebuilds the text lines of every page from glyph positions
func (p *Parser) extractPDFText(data []byte) (text string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read PDF: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		lines := layoutLines(page.Content().Text)
		if len(lines) == 0 {
			plain, err := page.GetPlainText(nil)
			if err != nil {
				p.logger.Warn("failed to extract text from PDF page",
					slog.Int("page", pageNum),
					slog.Any("error", err),
				)
				continue
			}
			lines = strings.Split(strings.TrimRight(plain, "\n"), "\n")
		}
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// layoutLines groups glyphs sharing a baseline into lines, top to bottom. Within a
// line, a horizontal gap wider than half the font size starts a new tab-separated cell.
func layoutLines(glyphs []pdf.Text) []string {
	var texts []pdf.Text
	for _, g := range glyphs {
		if g.S != "\n" && g.S != "\r" && g.S != "" {
			texts = append(texts, g)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].Y > texts[j].Y })

	var rows [][]pdf.Text
	for _, t := range texts {
		if n := len(rows); n > 0 && math.Abs(rows[n-1][0].Y-t.Y) <= lineTolerance(t) {
			rows[n-1] = append(rows[n-1], t)
			continue
		}
		rows = append(rows, []pdf.Text{t})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })

		var sb strings.Builder
		end := row[0].X
		for i, t := range row {
			if i > 0 && t.X-end > cellGap(t) {
				sb.WriteByte('\t')
			}
			sb.WriteString(t.S)
			if e := t.X + t.W; e > end {
				end = e
			}
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func lineTolerance(t pdf.Text) float64 {
	return math.Max(t.FontSize*0.3, 1)
}

func cellGap(t pdf.Text) float64 {
	return math.Max(t.FontSize*0.5, 2)
}
