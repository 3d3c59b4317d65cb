package matcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

const defaultSuggestLimit = 5

// Suggestion is a candidate part for a row that did not match
type Suggestion struct {
	Part  repository.Part `json:"part"`
	Score float64         `json:"score"`
}

type partDocument struct {
	PartNumber   string `json:"part_number"`
	Normalized   string `json:"normalized"`
	Alternates   string `json:"alternates"`
	Manufacturer string `json:"manufacturer"`
	Description  string `json:"description"`
	Category     string `json:"category"`
}

func buildPartMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = simple.Name

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("part_number", keywordField)
	doc.AddFieldMappingsAt("normalized", keywordField)
	doc.AddFieldMappingsAt("alternates", textField)
	doc.AddFieldMappingsAt("manufacturer", textField)
	doc.AddFieldMappingsAt("description", textField)
	doc.AddFieldMappingsAt("category", textField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = simple.Name
	return im
}

// searchIndex builds the in-memory part index on first use
func (s *Snapshot) searchIndex() (bleve.Index, error) {
	s.indexOnce.Do(func() {
		index, err := bleve.NewMemOnly(buildPartMapping())
		if err != nil {
			s.indexErr = fmt.Errorf("failed to create part index: %w", err)
			return
		}

		batch := index.NewBatch()
		for i, p := range s.parts {
			doc := partDocument{
				PartNumber:   strings.ToUpper(strings.TrimSpace(p.PartNumber)),
				Normalized:   Normalize(p.PartNumber),
				Alternates:   strings.Join(p.AlternatePartNumbers, " "),
				Manufacturer: p.Manufacturer,
				Description:  p.Description,
				Category:     p.Category,
			}
			if err := batch.Index(strconv.Itoa(i), doc); err != nil {
				s.indexErr = fmt.Errorf("failed to index part %s: %w", p.PartNumber, err)
				return
			}
		}
		if err := index.Batch(batch); err != nil {
			s.indexErr = fmt.Errorf("failed to index parts: %w", err)
			return
		}
		s.index = index
	})
	return s.index, s.indexErr
}

// Suggest ranks catalog parts against a free-text query: an exact or prefix hit on
// the part number scores highest, then fuzzy word matches on the description,
// manufacturer and alternates.
func (s *Snapshot) Suggest(text string, limit int) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []Suggestion{}, nil
	}
	if limit <= 0 {
		limit = defaultSuggestLimit
	}

	index, err := s.searchIndex()
	if err != nil {
		return nil, err
	}

	var queries []query.Query

	upper := strings.ToUpper(text)
	exact := bleve.NewTermQuery(upper)
	exact.SetField("part_number")
	exact.SetBoost(4)
	queries = append(queries, exact)

	if norm := Normalize(text); norm != "" && norm != "0" {
		prefix := bleve.NewPrefixQuery(norm)
		prefix.SetField("normalized")
		prefix.SetBoost(2)
		queries = append(queries, prefix)
	}

	for _, field := range []string{"description", "manufacturer", "alternates"} {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetFuzziness(1)
		queries = append(queries, mq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit

	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("part search failed: %w", err)
	}

	out := make([]Suggestion, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(s.parts) {
			continue
		}
		out = append(out, Suggestion{Part: s.parts[i], Score: hit.Score})
	}
	return out, nil
}

// Close releases the part index, if one was built
func (s *Snapshot) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}
