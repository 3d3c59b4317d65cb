package parser

import (
	"regexp"
	"strings"
)

var multiSpace = regexp.MustCompile(` {2,}`)

// minConsistentShare is the fraction of data lines that must be within one column
// of the header width for text to count as a table.
const minConsistentShare = 0.5

// detectTable splits extracted text into records when the first non-empty line is
// tab-delimited or separated by runs of two or more spaces.
func detectTable(text string) ([][]string, bool) {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		l = strings.TrimRight(l, " \r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return nil, false
	}

	var split func(string) []string
	switch {
	case strings.Contains(lines[0], "\t"):
		split = splitTabs
	case multiSpace.MatchString(strings.TrimSpace(lines[0])):
		split = splitSpaces
	default:
		return nil, false
	}

	header := split(lines[0])
	if len(header) < 2 {
		return nil, false
	}

	records := make([][]string, 0, len(lines))
	records = append(records, header)
	consistent := 0
	for _, l := range lines[1:] {
		cells := split(l)
		if d := len(cells) - len(header); d >= -1 && d <= 1 {
			consistent++
		}
		records = append(records, cells)
	}

	if float64(consistent) < minConsistentShare*float64(len(lines)-1) {
		return nil, false
	}
	return records, true
}

func splitTabs(line string) []string {
	cells := strings.Split(line, "\t")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func splitSpaces(line string) []string {
	return multiSpace.Split(strings.TrimSpace(line), -1)
}
