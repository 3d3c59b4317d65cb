package mapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func findMapping(res *Result, source string) (Mapping, bool) {
	for _, m := range res.Mappings {
		if m.SourceColumn == source {
			return m, true
		}
	}
	return Mapping{}, false
}

func TestMap_AliasScenario(t *testing.T) {
	m := New(DefaultConfig(), nil, nil)
	res := m.Map(context.Background(), []string{"P/N", "Desc", "Qty", "Price"}, nil)

	require.Len(t, res.Mappings, 4)
	assert.Equal(t, Mapping{SourceColumn: "P/N", TargetField: FieldPartNumber, Confidence: 0.95, Method: MethodAlias}, res.Mappings[0])
	assert.Equal(t, Mapping{SourceColumn: "Desc", TargetField: FieldDescription, Confidence: 0.95, Method: MethodAlias}, res.Mappings[1])
	assert.Equal(t, Mapping{SourceColumn: "Qty", TargetField: FieldQuantity, Confidence: 0.95, Method: MethodAlias}, res.Mappings[2])
	// "Price" is the field name itself
	assert.Equal(t, Mapping{SourceColumn: "Price", TargetField: FieldPrice, Confidence: 1.0, Method: MethodExact}, res.Mappings[3])

	assert.Empty(t, res.UnmappedColumns)
	assert.NotContains(t, res.UnmappedFields, FieldPartNumber)
	assert.Contains(t, res.UnmappedFields, FieldCondition)
	assert.False(t, res.AIUsed)
}

func TestMap_Phases(t *testing.T) {
	m := New(DefaultConfig(), nil, nil)

	tests := []struct {
		name    string
		header  string
		field   TargetField
		method  Method
		minConf float64
		maxConf float64
	}{
		{"exact ignores case and space", "  PARTNUMBER ", FieldPartNumber, MethodExact, 1.0, 1.0},
		{"alias ignores case", "Part No", FieldPartNumber, MethodAlias, 0.95, 0.95},
		{"alias mfr", "MFR", FieldManufacturer, MethodAlias, 0.95, 0.95},
		{"fuzzy typo", "Part Numbr", FieldPartNumber, MethodFuzzy, 0.5, 0.7},
		{"fuzzy punctuation", "Manufactuer:", FieldManufacturer, MethodFuzzy, 0.5, 0.7},
		{"fuzzy against alias", "Cert.", FieldCertification, MethodFuzzy, 0.7, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Map(context.Background(), []string{tt.header}, nil)
			require.Len(t, res.Mappings, 1)
			got := res.Mappings[0]
			assert.Equal(t, tt.field, got.TargetField)
			assert.Equal(t, tt.method, got.Method)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf-1e-9)
			assert.LessOrEqual(t, got.Confidence, tt.maxConf+1e-9)
		})
	}

	t.Run("unrelated header stays unmapped", func(t *testing.T) {
		res := m.Map(context.Background(), []string{"Xyzzy"}, nil)
		assert.Empty(t, res.Mappings)
		assert.Equal(t, []string{"Xyzzy"}, res.UnmappedColumns)
		assert.Len(t, res.UnmappedFields, len(Fields()))
	})

	t.Run("fuzzy confidence rescaling", func(t *testing.T) {
		assert.InDelta(t, 0.5, rescale(0.6, 0.6), 1e-9)
		assert.InDelta(t, 0.7, rescale(1.0, 0.6), 1e-9)
		assert.InDelta(t, 0.6, rescale(0.8, 0.6), 1e-9)
	})
}

func TestMap_Invariants(t *testing.T) {
	m := New(DefaultConfig(), nil, nil)
	headers := []string{"Qty", "Quantity", "QTY ", "PN", "P/N", "Part Number", "part_no", "Description", "Desc", "Descr", "", "Price", "price"}

	first := m.Map(context.Background(), headers, nil)
	second := m.Map(context.Background(), headers, nil)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, first, second)
	})

	t.Run("no duplicate sources or targets", func(t *testing.T) {
		sources := map[string]bool{}
		targets := map[TargetField]bool{}
		for _, mp := range first.Mappings {
			assert.False(t, sources[mp.SourceColumn], "source %q repeated", mp.SourceColumn)
			assert.False(t, targets[mp.TargetField], "target %q repeated", mp.TargetField)
			sources[mp.SourceColumn] = true
			targets[mp.TargetField] = true
		}
		assert.NoError(t, ValidateMappings(first.Mappings))
	})

	t.Run("exact outranks alias for the same field", func(t *testing.T) {
		mp, ok := findMapping(first, "Quantity")
		require.True(t, ok)
		assert.Equal(t, MethodExact, mp.Method)
		_, ok = findMapping(first, "Qty")
		assert.False(t, ok)
	})

	t.Run("mappings follow header order", func(t *testing.T) {
		last := -1
		for _, mp := range first.Mappings {
			idx := indexOf(headers, mp.SourceColumn)
			assert.Greater(t, idx, last)
			last = idx
		}
	})
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestMap_AIPhase(t *testing.T) {
	headers := []string{"P/N", "Vendor Loc Code", "Zzq"}
	samples := []map[string]string{{"P/N": "601R14501-2", "Vendor Loc Code": "MIA-3", "Zzq": "x"}}

	t.Run("accepts only free headers and fields, clamps confidence", func(t *testing.T) {
		var prompt string
		ext := completerFunc(func(ctx context.Context, p string) (string, error) {
			prompt = p
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return "```json\n" + `{"mappings":[
				{"source":"Vendor Loc Code","target":"location","confidence":0.99},
				{"source":"Zzq","target":"partNumber","confidence":0.7},
				{"source":"Nope","target":"notes","confidence":0.8},
				{"source":"Zzq","target":"bogus","confidence":0.8}
			]}` + "\n```", nil
		})
		m := New(DefaultConfig(), ext, nil)
		res := m.Map(context.Background(), headers, samples)

		assert.True(t, res.AIUsed)
		assert.Contains(t, prompt, "Vendor Loc Code")
		assert.Contains(t, prompt, "MIA-3")
		assert.NotContains(t, prompt, "601R14501-2")

		loc, ok := findMapping(res, "Vendor Loc Code")
		require.True(t, ok)
		assert.Equal(t, FieldLocation, loc.TargetField)
		assert.Equal(t, MethodAI, loc.Method)
		assert.InDelta(t, 0.9, loc.Confidence, 1e-9)

		_, ok = findMapping(res, "Zzq")
		assert.False(t, ok)
		assert.Equal(t, []string{"Zzq"}, res.UnmappedColumns)
	})

	t.Run("low confidence is raised to the floor", func(t *testing.T) {
		ext := completerFunc(func(context.Context, string) (string, error) {
			return `{"mappings":[{"source":"Zzq","target":"notes","confidence":0.1}]}`, nil
		})
		res := New(DefaultConfig(), ext, nil).Map(context.Background(), headers, samples)
		mp, ok := findMapping(res, "Zzq")
		require.True(t, ok)
		assert.InDelta(t, 0.6, mp.Confidence, 1e-9)
	})

	t.Run("failure degrades to fuzzy", func(t *testing.T) {
		ext := completerFunc(func(context.Context, string) (string, error) {
			return "", errors.New("quota exceeded")
		})
		res := New(DefaultConfig(), ext, nil).Map(context.Background(), []string{"P/N", "Part Numbr", "Manufactuer"}, nil)

		assert.True(t, res.AIUsed)
		mp, ok := findMapping(res, "Manufactuer")
		require.True(t, ok)
		assert.Equal(t, MethodFuzzy, mp.Method)
	})

	t.Run("garbage output degrades to fuzzy", func(t *testing.T) {
		ext := completerFunc(func(context.Context, string) (string, error) {
			return "I think Manufactuer is the maker.", nil
		})
		res := New(DefaultConfig(), ext, nil).Map(context.Background(), []string{"Manufactuer"}, nil)
		require.Len(t, res.Mappings, 1)
		assert.Equal(t, FieldManufacturer, res.Mappings[0].TargetField)
	})

	t.Run("timeout is applied", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AITimeout = 10 * time.Millisecond
		ext := completerFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		res := New(cfg, ext, nil).Map(context.Background(), []string{"Zzq"}, nil)
		assert.True(t, res.AIUsed)
		assert.Empty(t, res.Mappings)
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnableAI = false
		called := false
		ext := completerFunc(func(context.Context, string) (string, error) {
			called = true
			return "", nil
		})
		res := New(cfg, ext, nil).Map(context.Background(), headers, samples)
		assert.False(t, called)
		assert.False(t, res.AIUsed)
	})

	t.Run("skipped when every header is claimed", func(t *testing.T) {
		called := false
		ext := completerFunc(func(context.Context, string) (string, error) {
			called = true
			return "", nil
		})
		res := New(DefaultConfig(), ext, nil).Map(context.Background(), []string{"P/N", "Qty"}, nil)
		assert.False(t, called)
		assert.False(t, res.AIUsed)
	})
}

func TestValidateMappings(t *testing.T) {
	tests := []struct {
		name     string
		mappings []Mapping
		wantErr  bool
	}{
		{"valid", []Mapping{{SourceColumn: "P/N", TargetField: FieldPartNumber, Confidence: 1}}, false},
		{"empty list", nil, true},
		{"unknown field", []Mapping{{SourceColumn: "X", TargetField: "serial", Confidence: 1}}, true},
		{"empty source", []Mapping{{SourceColumn: " ", TargetField: FieldNotes, Confidence: 1}}, true},
		{"confidence out of range", []Mapping{{SourceColumn: "X", TargetField: FieldNotes, Confidence: 1.2}}, true},
		{"duplicate source", []Mapping{
			{SourceColumn: "X", TargetField: FieldNotes, Confidence: 1},
			{SourceColumn: "X", TargetField: FieldLocation, Confidence: 1},
		}, true},
		{"duplicate target", []Mapping{
			{SourceColumn: "X", TargetField: FieldNotes, Confidence: 1},
			{SourceColumn: "Y", TargetField: FieldNotes, Confidence: 1},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMappings(tt.mappings)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMapping)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAverageConfidenceAndApply(t *testing.T) {
	mappings := []Mapping{
		{SourceColumn: "P/N", TargetField: FieldPartNumber, Confidence: 0.95},
		{SourceColumn: "Price", TargetField: FieldPrice, Confidence: 1.0},
		{SourceColumn: "Vendor", TargetField: FieldManufacturer, Confidence: 0.65},
	}
	assert.InDelta(t, 0.8667, AverageConfidence(mappings), 1e-3)
	assert.Zero(t, AverageConfidence(nil))

	mapped := Apply(map[string]string{"P/N": " 601R14501-2 ", "Price": "15000", "Ignored": "x"}, mappings)
	assert.Equal(t, map[string]string{
		"partNumber":   "601R14501-2",
		"price":        "15000",
		"manufacturer": "",
	}, mapped)
}
