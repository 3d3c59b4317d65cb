package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

// Config holds the matcher thresholds
type Config struct {
	// MatchThreshold is the minimum part confidence for a MATCHED row
	MatchThreshold             float64
	FuzzyPartThreshold         float64
	MinApplicabilityConfidence float64
	MinFuzzyLength             int
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		MatchThreshold:             0.5,
		FuzzyPartThreshold:         0.3,
		MinApplicabilityConfidence: 0.5,
		MinFuzzyLength:             3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = d.MatchThreshold
	}
	if c.FuzzyPartThreshold <= 0 {
		c.FuzzyPartThreshold = d.FuzzyPartThreshold
	}
	if c.MinApplicabilityConfidence <= 0 {
		c.MinApplicabilityConfidence = d.MinApplicabilityConfidence
	}
	if c.MinFuzzyLength <= 0 {
		c.MinFuzzyLength = d.MinFuzzyLength
	}
	return c
}

// CatalogSource prefetches the whole reference catalog
type CatalogSource interface {
	ListParts(ctx context.Context) ([]repository.Part, error)
	ListAircraft(ctx context.Context) ([]repository.Aircraft, error)
	ListEngines(ctx context.Context) ([]repository.Engine, error)
}

// PartMatch is the catalog part a row resolved to
type PartMatch struct {
	Part       repository.Part `json:"part"`
	Confidence float64         `json:"confidence"`
	Strategy   Strategy        `json:"strategy"`
}

// ApplicabilityMatch is the aircraft or engine a row applies to
type ApplicabilityMatch struct {
	ID           uuid.UUID `json:"id"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Confidence   float64   `json:"confidence"`
}

// Result is the outcome of matching one row
type Result struct {
	Part     *PartMatch          `json:"part,omitempty"`
	Aircraft *ApplicabilityMatch `json:"aircraft,omitempty"`
	Engine   *ApplicabilityMatch `json:"engine,omitempty"`
	// Enriched is the row with empty fields backfilled from the matched part
	Enriched map[string]string `json:"enriched"`
}

// IsMatched reports whether the part match clears threshold
func (r Result) IsMatched(threshold float64) bool {
	return r.Part != nil && r.Part.Confidence >= threshold
}

// BatchItem pairs a row's result with the error that stopped it, if any
type BatchItem struct {
	Result Result
	Err    error
}

type fuzzyCandidate struct {
	idx        int
	normalized string
}

// Snapshot is an immutable, indexed copy of the catalog
type Snapshot struct {
	config Config

	parts               []repository.Part
	exact               map[string]int
	alternate           map[string]int
	normalized          map[string]int
	normalizedAlternate map[string]int
	fuzzy               []fuzzyCandidate
	strategies          []partStrategy

	aircraft *applicabilityIndex
	engines  *applicabilityIndex

	indexOnce sync.Once
	index     bleve.Index
	indexErr  error
}

// LoadSnapshot reads the catalog from src and builds every lookup structure
func LoadSnapshot(ctx context.Context, src CatalogSource, cfg Config) (*Snapshot, error) {
	parts, err := src.ListParts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load parts: %w", err)
	}
	aircraft, err := src.ListAircraft(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aircraft: %w", err)
	}
	engines, err := src.ListEngines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load engines: %w", err)
	}
	return NewSnapshot(parts, aircraft, engines, cfg), nil
}

// NewSnapshot indexes an in-memory catalog. On duplicate keys the first part wins.
func NewSnapshot(parts []repository.Part, aircraft []repository.Aircraft, engines []repository.Engine, cfg Config) *Snapshot {
	s := &Snapshot{
		config:              cfg.withDefaults(),
		parts:               parts,
		exact:               make(map[string]int, len(parts)),
		alternate:           make(map[string]int),
		normalized:          make(map[string]int, len(parts)),
		normalizedAlternate: make(map[string]int),
		fuzzy:               make([]fuzzyCandidate, 0, len(parts)),
		strategies:          defaultStrategies(),
	}

	putFirst := func(m map[string]int, key string, idx int) {
		if key == "" {
			return
		}
		if _, ok := m[key]; !ok {
			m[key] = idx
		}
	}

	for i, p := range parts {
		upper := strings.ToUpper(strings.TrimSpace(p.PartNumber))
		norm := Normalize(p.PartNumber)
		putFirst(s.exact, upper, i)
		putFirst(s.normalized, norm, i)
		if norm != "" {
			s.fuzzy = append(s.fuzzy, fuzzyCandidate{idx: i, normalized: norm})
		}
		for _, alt := range p.AlternatePartNumbers {
			putFirst(s.alternate, strings.ToUpper(strings.TrimSpace(alt)), i)
			putFirst(s.normalizedAlternate, Normalize(alt), i)
		}
	}

	sort.SliceStable(s.fuzzy, func(a, b int) bool {
		return s.fuzzy[a].normalized < s.fuzzy[b].normalized
	})

	ac := make([]applicabilityCandidate, 0, len(aircraft))
	for _, a := range aircraft {
		ac = append(ac, newCandidate(a.ID, a.Manufacturer, a.Model, a.TypeDesignator))
	}
	ec := make([]applicabilityCandidate, 0, len(engines))
	for _, e := range engines {
		ec = append(ec, newCandidate(e.ID, e.Manufacturer, e.Model, e.TypeDesignator))
	}
	s.aircraft = newApplicabilityIndex(ac)
	s.engines = newApplicabilityIndex(ec)

	return s
}

func newCandidate(id uuid.UUID, manufacturer, model string, designator *string) applicabilityCandidate {
	c := applicabilityCandidate{
		id:           id,
		manufacturer: strings.ToUpper(strings.TrimSpace(manufacturer)),
		model:        strings.ToUpper(strings.TrimSpace(model)),
	}
	if designator != nil {
		c.designator = strings.ToUpper(strings.TrimSpace(*designator))
	}
	return c
}

// Config returns the thresholds the snapshot was built with
func (s *Snapshot) Config() Config {
	return s.config
}

// PartCount is the number of catalog parts
func (s *Snapshot) PartCount() int {
	return len(s.parts)
}

// Match resolves one mapped row
func (s *Snapshot) Match(row map[string]string) Result {
	res := Result{}
	res.Part = s.matchPart(row)

	appText := func(field mapper.TargetField) string {
		if v := strings.TrimSpace(row[string(field)]); v != "" {
			return v
		}
		return row[string(mapper.FieldDescription)]
	}
	minConf := s.config.MinApplicabilityConfidence
	res.Aircraft = s.aircraft.best(appText(mapper.FieldAircraft), minConf)
	res.Engine = s.engines.best(appText(mapper.FieldEngine), minConf)

	res.Enriched = enrich(row, res.Part)
	return res
}

// MatchBatch matches rows in order. A failure on one row is reported in its item
// and does not stop the others.
func (s *Snapshot) MatchBatch(rows []map[string]string) []BatchItem {
	items := make([]BatchItem, len(rows))
	for i, row := range rows {
		items[i] = s.safeMatch(row)
	}
	return items
}

func (s *Snapshot) safeMatch(row map[string]string) (item BatchItem) {
	defer func() {
		if r := recover(); r != nil {
			item = BatchItem{Err: fmt.Errorf("match failed: %v", r)}
		}
	}()
	return BatchItem{Result: s.Match(row)}
}

// enrich copies row and fills empty catalog-backed fields from the matched part
func enrich(row map[string]string, m *PartMatch) map[string]string {
	out := make(map[string]string, len(row)+4)
	for k, v := range row {
		out[k] = v
	}
	if m == nil {
		return out
	}
	fill := func(field mapper.TargetField, value string) {
		key := string(field)
		if strings.TrimSpace(out[key]) == "" && value != "" {
			out[key] = value
		}
	}
	fill(mapper.FieldDescription, m.Part.Description)
	fill(mapper.FieldCategory, m.Part.Category)
	fill(mapper.FieldManufacturer, m.Part.Manufacturer)
	fill(mapper.FieldModel, m.Part.Model)
	return out
}
