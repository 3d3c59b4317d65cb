package matcher

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"
)

const (
	manufacturerModelConfidence = 0.95
	designatorConfidence        = 0.8
	modelConfidence             = 0.7

	minDesignatorLength = 3
	minModelLength      = 2
)

type patternKind int

const (
	kindManufacturer patternKind = iota
	kindModel
	kindDesignator
)

// applicabilityCandidate is one aircraft or engine type
type applicabilityCandidate struct {
	id           uuid.UUID
	manufacturer string
	model        string
	designator   string
}

type patternRef struct {
	candidate int
	kind      patternKind
}

// applicabilityIndex finds every catalog manufacturer, model and designator that
// occurs in a text with one Aho-Corasick pass.
type applicabilityIndex struct {
	candidates []applicabilityCandidate
	matcher    *ahocorasick.Matcher
	refs       [][]patternRef // per pattern index
}

func newApplicabilityIndex(candidates []applicabilityCandidate) *applicabilityIndex {
	idx := &applicabilityIndex{candidates: candidates}

	patternToIndex := make(map[string]int)
	var patterns [][]byte
	add := func(pattern string, ref patternRef) {
		if pattern == "" {
			return
		}
		if i, ok := patternToIndex[pattern]; ok {
			idx.refs[i] = append(idx.refs[i], ref)
			return
		}
		patternToIndex[pattern] = len(patterns)
		patterns = append(patterns, []byte(pattern))
		idx.refs = append(idx.refs, []patternRef{ref})
	}

	for i, c := range candidates {
		add(c.manufacturer, patternRef{candidate: i, kind: kindManufacturer})
		add(c.model, patternRef{candidate: i, kind: kindModel})
		if len(c.designator) >= minDesignatorLength {
			add(c.designator, patternRef{candidate: i, kind: kindDesignator})
		}
	}

	if len(patterns) > 0 {
		idx.matcher = ahocorasick.NewMatcher(patterns)
	}
	return idx
}

// best returns the highest-confidence candidate found in text, or nil below minConfidence
func (a *applicabilityIndex) best(text string, minConfidence float64) *ApplicabilityMatch {
	if a == nil || a.matcher == nil {
		return nil
	}
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	type hit struct{ manufacturer, model, designator bool }
	hits := make(map[int]*hit)
	for _, p := range a.matcher.Match([]byte(text)) {
		if p < 0 || p >= len(a.refs) {
			continue
		}
		for _, ref := range a.refs[p] {
			h, ok := hits[ref.candidate]
			if !ok {
				h = &hit{}
				hits[ref.candidate] = h
			}
			switch ref.kind {
			case kindManufacturer:
				h.manufacturer = true
			case kindModel:
				h.model = true
			case kindDesignator:
				h.designator = true
			}
		}
	}

	bestIdx, bestConf := -1, 0.0
	for i, h := range hits {
		c := a.candidates[i]
		var conf float64
		switch {
		case h.manufacturer && h.model:
			conf = manufacturerModelConfidence
		case h.designator:
			conf = designatorConfidence
		case h.model && len(c.model) >= minModelLength:
			conf = modelConfidence
		}
		// Catalog order breaks ties.
		if conf > bestConf || (conf == bestConf && conf > 0 && i < bestIdx) {
			bestIdx, bestConf = i, conf
		}
	}

	if bestIdx < 0 || bestConf < minConfidence {
		return nil
	}
	c := a.candidates[bestIdx]
	return &ApplicabilityMatch{
		ID:           c.id,
		Manufacturer: c.manufacturer,
		Model:        c.model,
		Confidence:   bestConf,
	}
}
