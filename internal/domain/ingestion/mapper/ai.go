package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/FACorreiaa/skyparts-market/pkg/ai"
)

const mappingPrompt = `You map spreadsheet column headers from an aviation parts stock list onto a fixed schema.

Unmapped source headers:
%s

Available target fields:
%s

Sample rows:
%s

Respond with only a JSON object of the form:
{"mappings": [{"source": "<source header>", "target": "<target field>", "confidence": <0.0-1.0>}]}
Only include mappings you are reasonably sure about. Each target may be used at most once.`

type aiMappings struct {
	Mappings []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Confidence float64 `json:"confidence"`
	} `json:"mappings"`
}

func (m *Mapper) aiPhase(ctx context.Context, st *state, samples []map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.AITimeout)
	defer cancel()

	free := st.freeHeaders()
	byName := make(map[string]int, len(free))
	var headerList strings.Builder
	for _, idx := range free {
		byName[st.headers[idx]] = idx
		fmt.Fprintf(&headerList, "- %s\n", st.headers[idx])
	}

	var fieldList strings.Builder
	for _, f := range st.freeFields() {
		fmt.Fprintf(&fieldList, "- %s: %s\n", f, fieldHints[f])
	}

	prompt := fmt.Sprintf(mappingPrompt, headerList.String(), fieldList.String(), m.sampleJSON(samples, free, st.headers))

	response, err := m.ai.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	var parsed aiMappings
	if err := ai.DecodeObject(response, &parsed); err != nil {
		return err
	}

	accepted := 0
	for _, proposal := range parsed.Mappings {
		idx, ok := byName[strings.TrimSpace(proposal.Source)]
		if !ok {
			continue
		}
		if _, taken := st.claimed[idx]; taken {
			continue
		}
		field, ok := ParseField(proposal.Target)
		if !ok || st.fields[field] {
			continue
		}
		st.claim(idx, field, clamp(proposal.Confidence, aiMinConfidence, aiMaxConfidence), MethodAI)
		accepted++
	}

	m.logger.Info("AI column mapping completed",
		"proposed", len(parsed.Mappings),
		"accepted", accepted,
	)
	return nil
}

// sampleJSON renders up to MaxSampleRows samples restricted to the unmapped headers
func (m *Mapper) sampleJSON(samples []map[string]string, free []int, headers []string) string {
	n := len(samples)
	if n > m.config.MaxSampleRows {
		n = m.config.MaxSampleRows
	}
	rows := make([]map[string]string, 0, n)
	for _, s := range samples[:n] {
		row := make(map[string]string, len(free))
		for _, idx := range free {
			row[headers[idx]] = s[headers[idx]]
		}
		rows = append(rows, row)
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
