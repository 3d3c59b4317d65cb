package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/FACorreiaa/skyparts-market/pkg/ai"
)

const aiVerifyWarning = "data was extracted by AI and must be manually verified"

const extractionPrompt = `You are extracting an aviation parts inventory table from document text.
Identify the column headers and every data row.
Respond with only a JSON object of the form:
{"headers": ["<header>", ...], "rows": [{"<header>": "<value>", ...}, ...]}
Use the exact header strings as row keys and empty strings for missing values.
Do not invent rows that are not in the text.

Document text:
<<<
%s
>>>`

type aiTable struct {
	Headers []string          `json:"headers"`
	Rows    []json.RawMessage `json:"rows"`
}

// extractWithAI asks the completer to infer a table from unstructured text
func (p *Parser) extractWithAI(ctx context.Context, text string) (*tableBuilder, error) {
	if p.extractor == nil {
		return nil, fmt.Errorf("%w: no table structure detected and AI extraction is not configured", ErrAIExtraction)
	}

	tb := newTableBuilder(p.config.MaxRows, true)

	if runes := []rune(text); len(runes) > p.config.MaxAITextChars {
		text = string(runes[:p.config.MaxAITextChars])
		tb.warn("document text was truncated to %d characters before AI extraction", p.config.MaxAITextChars)
	}

	response, err := p.extractor.Complete(ctx, fmt.Sprintf(extractionPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAIExtraction, err)
	}

	var table aiTable
	if err := ai.DecodeObject(response, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAIExtraction, err)
	}
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("%w: response contained no headers", ErrAIExtraction)
	}

	tb.add(table.Headers)
	if tb.headers == nil {
		return nil, fmt.Errorf("%w: response contained only blank headers", ErrAIExtraction)
	}
	for i, raw := range table.Rows {
		record, err := aiRecord(raw, table.Headers)
		if err != nil {
			tb.warn("AI row %d was not understood: %v", i+1, err)
			continue
		}
		tb.add(record)
	}
	tb.warn(aiVerifyWarning)

	p.logger.Info("AI extraction completed", "headers", len(table.Headers), "rows", len(table.Rows))
	return tb, nil
}

// aiRecord converts one AI row, either an object keyed by header or a positional array
func aiRecord(raw json.RawMessage, headers []string) ([]string, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = stringify(obj[h])
		}
		return record, nil
	}

	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, err
	}
	record := make([]string, len(arr))
	for i, v := range arr {
		record[i] = stringify(v)
	}
	return record, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
