package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

type matchFlags struct {
	catalog   string
	aircraft  string
	engines   string
	threshold float64
}

type matchedRow struct {
	RowNumber  int                         `json:"rowNumber"`
	Status     repository.RowStatus        `json:"status"`
	PartNumber string                      `json:"partNumber"`
	Matched    *uuid.UUID                  `json:"matchedPartId,omitempty"`
	Confidence float64                     `json:"confidence"`
	Strategy   matcher.Strategy            `json:"strategy,omitempty"`
	Aircraft   *matcher.ApplicabilityMatch `json:"aircraft,omitempty"`
	Engine     *matcher.ApplicabilityMatch `json:"engine,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

type matchReport struct {
	Mapping   []mapper.Mapping `json:"mapping"`
	Matched   int              `json:"matched"`
	Unmatched int              `json:"unmatched"`
	Errors    int              `json:"errors"`
	Rows      []matchedRow     `json:"rows"`
}

func newMatchCommand(opts *options) *cobra.Command {
	flags := &matchFlags{}

	cmd := &cobra.Command{
		Use:   "match <file>",
		Short: "Auto-map a file and match its rows against a catalog CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runMatch(cmd, opts, flags, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&flags.catalog, "catalog", "", "parts catalog CSV (part_number, manufacturer, description, category, model, alternate_part_numbers)")
	cmd.Flags().StringVar(&flags.aircraft, "aircraft", "", "aircraft types CSV (manufacturer, model, type_designator)")
	cmd.Flags().StringVar(&flags.engines, "engines", "", "engine types CSV (manufacturer, model, type_designator)")
	cmd.Flags().Float64Var(&flags.threshold, "threshold", matcher.DefaultConfig().MatchThreshold, "minimum part confidence for MATCHED")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func runMatch(cmd *cobra.Command, opts *options, flags *matchFlags, path string) (*matchReport, error) {
	parts, err := loadParts(flags.catalog)
	if err != nil {
		return nil, err
	}
	aircraft, err := loadAircraft(flags.aircraft)
	if err != nil {
		return nil, err
	}
	engines, err := loadEngines(flags.engines)
	if err != nil {
		return nil, err
	}

	parsed, err := opts.parseFile(cmd, path)
	if err != nil {
		return nil, err
	}
	mapping, err := opts.mapColumns(cmd, parsed)
	if err != nil {
		return nil, err
	}
	if err := mapper.ValidateMappings(mapping.Mappings); err != nil {
		return nil, fmt.Errorf("automatic mapping is unusable: %w", err)
	}

	cfg := matcher.DefaultConfig()
	cfg.MatchThreshold = flags.threshold
	snap := matcher.NewSnapshot(parts, aircraft, engines, cfg)
	defer snap.Close()

	mapped := make([]map[string]string, len(parsed.Rows))
	for i, raw := range parsed.Rows {
		mapped[i] = mapper.Apply(raw, mapping.Mappings)
	}

	report := &matchReport{Mapping: mapping.Mappings, Rows: make([]matchedRow, 0, len(mapped))}
	for i, item := range snap.MatchBatch(mapped) {
		row := matchedRow{
			RowNumber:  i + 1,
			PartNumber: mapped[i][string(mapper.FieldPartNumber)],
			Aircraft:   item.Result.Aircraft,
			Engine:     item.Result.Engine,
		}
		switch {
		case item.Err != nil:
			row.Status = repository.RowError
			row.Error = item.Err.Error()
			report.Errors++
		case item.Result.IsMatched(snap.Config().MatchThreshold):
			row.Status = repository.RowMatched
			report.Matched++
		default:
			row.Status = repository.RowUnmatched
			report.Unmatched++
		}
		if p := item.Result.Part; p != nil {
			id := p.Part.ID
			row.Matched = &id
			row.Confidence = p.Confidence
			row.Strategy = p.Strategy
		}
		report.Rows = append(report.Rows, row)
	}

	opts.logger(cmd).Info("match finished",
		"rows", len(mapped),
		"matched", report.Matched,
		"unmatched", report.Unmatched,
	)
	return report, nil
}
