package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const minDocumentText = 10

var longWhitespace = regexp.MustCompile(`[ \t\n]{3,}`)

// parseDocument recovers printable text from a binary document container and hands
// it to the AI extractor.
func (p *Parser) parseDocument(ctx context.Context, data []byte) (*tableBuilder, error) {
	text := extractPrintableText(data)
	if len(text) < minDocumentText {
		return nil, fmt.Errorf("%w: only %d characters recovered from document", ErrNoText, len(text))
	}
	return p.extractWithAI(ctx, text)
}

// extractPrintableText keeps printable ASCII, turns everything else into spaces and
// collapses long whitespace runs into line breaks.
func extractPrintableText(data []byte) string {
	buf := make([]byte, len(data))
	for i, b := range data {
		switch {
		case b == '\n' || b == '\r':
			buf[i] = '\n'
		case b == '\t' || (b >= 0x20 && b <= 0x7e):
			buf[i] = b
		default:
			buf[i] = ' '
		}
	}

	collapsed := longWhitespace.ReplaceAllString(string(buf), "\n")

	var lines []string
	for _, l := range strings.Split(collapsed, "\n") {
		l = strings.TrimSpace(l)
		// Lone glyphs are almost always binary noise.
		if len(l) >= 2 {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
