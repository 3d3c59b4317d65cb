package matcher

import (
	"strings"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
)

// Strategy names the rule that produced a part match
type Strategy string

const (
	StrategyExact               Strategy = "exact"
	StrategyAlternate           Strategy = "alternate"
	StrategyNormalized          Strategy = "normalized"
	StrategyNormalizedAlternate Strategy = "normalized_alternate"
	StrategyFuzzy               Strategy = "fuzzy"
)

const (
	fuzzyManufacturerBoost = 0.15
	fuzzyBoostCap          = 0.75
	fuzzyMinConfidence     = 0.5
	fuzzyMaxConfidence     = 0.7
)

// partQuery is the normalized view of a row used by the strategies
type partQuery struct {
	upper        string
	normalized   string
	manufacturer string
}

func newPartQuery(row map[string]string) partQuery {
	pn := strings.TrimSpace(row[string(mapper.FieldPartNumber)])
	return partQuery{
		upper:        strings.ToUpper(pn),
		normalized:   Normalize(pn),
		manufacturer: strings.ToUpper(strings.TrimSpace(row[string(mapper.FieldManufacturer)])),
	}
}

// partStrategy returns a match or nil
type partStrategy func(s *Snapshot, q partQuery) *PartMatch

// defaultStrategies is the fixed priority order; the first hit wins
func defaultStrategies() []partStrategy {
	return []partStrategy{
		lookupStrategy(StrategyExact, 1.0, func(s *Snapshot, q partQuery) (int, bool) {
			i, ok := s.exact[q.upper]
			return i, ok
		}),
		lookupStrategy(StrategyAlternate, 0.95, func(s *Snapshot, q partQuery) (int, bool) {
			i, ok := s.alternate[q.upper]
			return i, ok
		}),
		lookupStrategy(StrategyNormalized, 0.9, func(s *Snapshot, q partQuery) (int, bool) {
			i, ok := s.normalized[q.normalized]
			return i, ok
		}),
		lookupStrategy(StrategyNormalizedAlternate, 0.85, func(s *Snapshot, q partQuery) (int, bool) {
			i, ok := s.normalizedAlternate[q.normalized]
			return i, ok
		}),
		fuzzyStrategy,
	}
}

func lookupStrategy(name Strategy, confidence float64, lookup func(*Snapshot, partQuery) (int, bool)) partStrategy {
	return func(s *Snapshot, q partQuery) *PartMatch {
		if q.upper == "" {
			return nil
		}
		idx, ok := lookup(s, q)
		if !ok {
			return nil
		}
		return &PartMatch{Part: s.parts[idx], Confidence: confidence, Strategy: name}
	}
}

// fuzzyStrategy scores substring containment between normalized numbers
func fuzzyStrategy(s *Snapshot, q partQuery) *PartMatch {
	minLen := s.config.MinFuzzyLength
	if len(q.normalized) < minLen {
		return nil
	}

	bestIdx, bestScore := -1, 0.0
	for _, c := range s.fuzzy {
		if len(c.normalized) < minLen {
			continue
		}
		score := containmentScore(q.normalized, c.normalized)
		if score == 0 {
			continue
		}
		if q.manufacturer != "" && strings.Contains(strings.ToUpper(s.parts[c.idx].Manufacturer), q.manufacturer) {
			score += fuzzyManufacturerBoost
			if score > fuzzyBoostCap {
				score = fuzzyBoostCap
			}
		}
		if score > bestScore {
			bestIdx, bestScore = c.idx, score
		}
	}

	if bestIdx < 0 || bestScore < s.config.FuzzyPartThreshold {
		return nil
	}
	return &PartMatch{
		Part:       s.parts[bestIdx],
		Confidence: clamp(bestScore, fuzzyMinConfidence, fuzzyMaxConfidence),
		Strategy:   StrategyFuzzy,
	}
}

// containmentScore is shorter/longer when one string contains the other, else 0
func containmentScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return 0
	}
	return float64(len(short)) / float64(len(long))
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

// matchPart runs the strategy chain
func (s *Snapshot) matchPart(row map[string]string) *PartMatch {
	q := newPartQuery(row)
	for _, strategy := range s.strategies {
		if m := strategy(s, q); m != nil {
			return m
		}
	}
	return nil
}
