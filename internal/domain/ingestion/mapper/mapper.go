// Package mapper maps arbitrary source column headers onto the listing schema using
// an exact, alias, AI and fuzzy cascade.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var ErrInvalidMapping = errors.New("invalid column mapping")

// Method records which phase produced a mapping
type Method string

const (
	MethodExact  Method = "exact"
	MethodAlias  Method = "alias"
	MethodAI     Method = "ai"
	MethodFuzzy  Method = "fuzzy"
	MethodManual Method = "manual"
)

const (
	exactConfidence = 1.0
	aliasConfidence = 0.95
	aiMinConfidence = 0.6
	aiMaxConfidence = 0.9
)

// Mapping assigns one source column to one target field
type Mapping struct {
	SourceColumn string      `json:"sourceColumn"`
	TargetField  TargetField `json:"targetField"`
	Confidence   float64     `json:"confidence"`
	Method       Method      `json:"method,omitempty"`
}

// Result is the advisory outcome of Map
type Result struct {
	Mappings        []Mapping     `json:"mappings"`
	UnmappedColumns []string      `json:"unmappedColumns"`
	UnmappedFields  []TargetField `json:"unmappedFields"`
	AIUsed          bool          `json:"aiUsed"`
}

// Completer is a text-completion backend for the AI phase
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config tunes the cascade
type Config struct {
	EnableAI       bool
	AITimeout      time.Duration
	FuzzyThreshold float64
	MaxSampleRows  int
}

func DefaultConfig() Config {
	return Config{
		EnableAI:       true,
		AITimeout:      20 * time.Second,
		FuzzyThreshold: 0.6,
		MaxSampleRows:  5,
	}
}

// Mapper runs the mapping cascade
type Mapper struct {
	config Config
	ai     Completer // Optional
	logger *slog.Logger
}

// New creates a mapper. ai may be nil, which disables the AI phase.
func New(config Config, ai Completer, logger *slog.Logger) *Mapper {
	def := DefaultConfig()
	if config.AITimeout <= 0 {
		config.AITimeout = def.AITimeout
	}
	if config.FuzzyThreshold <= 0 {
		config.FuzzyThreshold = def.FuzzyThreshold
	}
	if config.MaxSampleRows <= 0 {
		config.MaxSampleRows = def.MaxSampleRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{config: config, ai: ai, logger: logger}
}

// state tracks which headers and fields have been claimed
type state struct {
	headers []string
	claimed map[int]Mapping
	fields  map[TargetField]bool
}

func newState(headers []string) *state {
	return &state{
		headers: headers,
		claimed: make(map[int]Mapping, len(headers)),
		fields:  make(map[TargetField]bool, len(allFields)),
	}
}

func (s *state) claim(idx int, field TargetField, confidence float64, method Method) {
	s.claimed[idx] = Mapping{
		SourceColumn: s.headers[idx],
		TargetField:  field,
		Confidence:   confidence,
		Method:       method,
	}
	s.fields[field] = true
}

func (s *state) freeHeaders() []int {
	var out []int
	for i, h := range s.headers {
		if _, ok := s.claimed[i]; ok || strings.TrimSpace(h) == "" {
			continue
		}
		out = append(out, i)
	}
	return out
}

func (s *state) freeFields() []TargetField {
	var out []TargetField
	for _, f := range allFields {
		if !s.fields[f] {
			out = append(out, f)
		}
	}
	return out
}

// Map proposes mappings for headers. samples give the AI phase context.
func (m *Mapper) Map(ctx context.Context, headers []string, samples []map[string]string) *Result {
	st := newState(headers)

	m.exactPhase(st)
	m.aliasPhase(st)

	aiUsed := false
	if len(st.freeHeaders()) > 0 && len(st.freeFields()) > 0 && m.config.EnableAI && m.ai != nil {
		aiUsed = true
		if err := m.aiPhase(ctx, st, samples); err != nil {
			m.logger.Warn("AI column mapping failed, continuing with fuzzy matching",
				slog.Int("unmapped_headers", len(st.freeHeaders())),
				slog.Any("error", err),
			)
		}
	}

	m.fuzzyPhase(st)

	res := &Result{
		Mappings:        make([]Mapping, 0, len(st.claimed)),
		UnmappedColumns: []string{},
		UnmappedFields:  st.freeFields(),
		AIUsed:          aiUsed,
	}
	for i, h := range headers {
		if mp, ok := st.claimed[i]; ok {
			res.Mappings = append(res.Mappings, mp)
		} else {
			res.UnmappedColumns = append(res.UnmappedColumns, h)
		}
	}
	if res.UnmappedFields == nil {
		res.UnmappedFields = []TargetField{}
	}

	m.logger.Debug("column mapping proposed",
		slog.Int("headers", len(headers)),
		slog.Int("mapped", len(res.Mappings)),
		slog.Bool("ai_used", aiUsed),
	)
	return res
}

func (m *Mapper) exactPhase(st *state) {
	for _, idx := range st.freeHeaders() {
		f, ok := ParseField(st.headers[idx])
		if ok && !st.fields[f] {
			st.claim(idx, f, exactConfidence, MethodExact)
		}
	}
}

func (m *Mapper) aliasPhase(st *state) {
	for _, idx := range st.freeHeaders() {
		h := strings.ToLower(strings.TrimSpace(st.headers[idx]))
		for _, f := range st.freeFields() {
			if containsString(aliases[f], h) {
				st.claim(idx, f, aliasConfidence, MethodAlias)
				break
			}
		}
	}
}

// ValidateMappings checks caller-confirmed mappings against the closed field set
func ValidateMappings(mappings []Mapping) error {
	if len(mappings) == 0 {
		return fmt.Errorf("%w: at least one mapping is required", ErrInvalidMapping)
	}
	sources := make(map[string]bool, len(mappings))
	targets := make(map[TargetField]bool, len(mappings))
	for _, mp := range mappings {
		if strings.TrimSpace(mp.SourceColumn) == "" {
			return fmt.Errorf("%w: empty source column", ErrInvalidMapping)
		}
		if !mp.TargetField.IsValid() {
			return fmt.Errorf("%w: unknown target field %q", ErrInvalidMapping, mp.TargetField)
		}
		if mp.Confidence < 0 || mp.Confidence > 1 {
			return fmt.Errorf("%w: confidence %.2f for %q is outside [0, 1]", ErrInvalidMapping, mp.Confidence, mp.SourceColumn)
		}
		if sources[mp.SourceColumn] {
			return fmt.Errorf("%w: source column %q mapped twice", ErrInvalidMapping, mp.SourceColumn)
		}
		if targets[mp.TargetField] {
			return fmt.Errorf("%w: target field %q mapped twice", ErrInvalidMapping, mp.TargetField)
		}
		sources[mp.SourceColumn] = true
		targets[mp.TargetField] = true
	}
	return nil
}

// AverageConfidence returns the mean confidence, or 0 for no mappings
func AverageConfidence(mappings []Mapping) float64 {
	if len(mappings) == 0 {
		return 0
	}
	var sum float64
	for _, mp := range mappings {
		sum += mp.Confidence
	}
	return sum / float64(len(mappings))
}

// Apply projects a raw row onto target fields, trimming every value
func Apply(raw map[string]string, mappings []Mapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		out[string(mp.TargetField)] = strings.TrimSpace(raw[mp.SourceColumn])
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
