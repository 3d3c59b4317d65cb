package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

// catalogNamespace derives stable ids for catalog rows loaded from CSV
var catalogNamespace = uuid.MustParse("5f3c2b1a-8d4e-4c6f-9a7b-2e1d0c9b8a76")

type partRecord struct {
	PartNumber   string `csv:"part_number"`
	Manufacturer string `csv:"manufacturer"`
	Description  string `csv:"description"`
	Category     string `csv:"category"`
	Model        string `csv:"model"`
	Alternates   string `csv:"alternate_part_numbers"` // semicolon separated
}

type typeRecord struct {
	Manufacturer   string `csv:"manufacturer"`
	Model          string `csv:"model"`
	TypeDesignator string `csv:"type_designator"`
}

func readCSV(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := gocsv.Unmarshal(f, out); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func loadParts(path string) ([]repository.Part, error) {
	var records []*partRecord
	if err := readCSV(path, &records); err != nil {
		return nil, err
	}

	parts := make([]repository.Part, 0, len(records))
	for _, r := range records {
		pn := strings.TrimSpace(r.PartNumber)
		if pn == "" {
			continue
		}
		var alternates []string
		for _, a := range strings.Split(r.Alternates, ";") {
			if a = strings.TrimSpace(a); a != "" {
				alternates = append(alternates, a)
			}
		}
		parts = append(parts, repository.Part{
			ID:                   uuid.NewSHA1(catalogNamespace, []byte("part:"+pn)),
			PartNumber:           pn,
			Manufacturer:         strings.TrimSpace(r.Manufacturer),
			Description:          strings.TrimSpace(r.Description),
			Category:             strings.TrimSpace(r.Category),
			Model:                strings.TrimSpace(r.Model),
			AlternatePartNumbers: alternates,
		})
	}
	return parts, nil
}

func loadTypes(path, kind string) ([]typeRecord, []uuid.UUID, error) {
	if path == "" {
		return nil, nil, nil
	}
	var records []*typeRecord
	if err := readCSV(path, &records); err != nil {
		return nil, nil, err
	}

	out := make([]typeRecord, 0, len(records))
	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Model) == "" {
			continue
		}
		out = append(out, *r)
		ids = append(ids, uuid.NewSHA1(catalogNamespace, []byte(kind+":"+r.Manufacturer+"/"+r.Model)))
	}
	return out, ids, nil
}

func designator(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func loadAircraft(path string) ([]repository.Aircraft, error) {
	records, ids, err := loadTypes(path, "aircraft")
	if err != nil {
		return nil, err
	}
	out := make([]repository.Aircraft, len(records))
	for i, r := range records {
		out[i] = repository.Aircraft{ID: ids[i], Manufacturer: r.Manufacturer, Model: r.Model, TypeDesignator: designator(r.TypeDesignator)}
	}
	return out, nil
}

func loadEngines(path string) ([]repository.Engine, error) {
	records, ids, err := loadTypes(path, "engine")
	if err != nil {
		return nil, err
	}
	out := make([]repository.Engine, len(records))
	for i, r := range records {
		out[i] = repository.Engine{ID: ids[i], Manufacturer: r.Manufacturer, Model: r.Model, TypeDesignator: designator(r.TypeDesignator)}
	}
	return out, nil
}
