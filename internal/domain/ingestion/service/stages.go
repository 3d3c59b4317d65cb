package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

// ParseOutcome is what the parse stage learned about the file
type ParseOutcome struct {
	Session *repository.Session `json:"session"`
	Headers []string            `json:"headers"`
	Samples []map[string]string `json:"samples"`
}

// MatchSummary counts the classifications of one match run
type MatchSummary struct {
	Session   *repository.Session `json:"session"`
	Matched   int                 `json:"matched"`
	Unmatched int                 `json:"unmatched"`
	Errors    int                 `json:"errors"`
}

// ImportSummary reports one import run
type ImportSummary struct {
	Session    *repository.Session `json:"session"`
	Imported   int                 `json:"imported"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"` // ERROR rows never attempted
	ListingIDs []uuid.UUID         `json:"listingIds"`
	Warnings   []string            `json:"warnings"`
}

// CreateSession registers an uploaded file as a PENDING session owned by caller
func (s *IngestionService) CreateSession(ctx context.Context, caller Caller, file FileDescriptor) (session *repository.Session, err error) {
	ctx, done := s.stage(ctx, "create", "")
	defer done(&err)

	if caller.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: caller has no user id", ErrForbidden)
	}
	if strings.TrimSpace(file.StoredFilename) == "" {
		return nil, fmt.Errorf("stored filename is required")
	}
	if _, ok := parser.FormatForMIME(file.MimeType); !ok {
		return nil, fmt.Errorf("%w: %s", parser.ErrUnsupportedType, file.MimeType)
	}

	session = &repository.Session{
		ID:               uuid.New(),
		UserID:           caller.UserID,
		StoredFilename:   file.StoredFilename,
		OriginalFilename: file.OriginalFilename,
		MimeType:         file.MimeType,
		SizeBytes:        file.SizeBytes,
		SheetName:        strings.TrimSpace(file.SheetName),
		Status:           repository.SessionPending,
		Mapping:          []repository.ColumnMapping{},
		Warnings:         []string{},
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("ingestion session created",
		"session_id", session.ID,
		"user_id", caller.UserID,
		slog.String("file", file.OriginalFilename),
		slog.Int64("size", file.SizeBytes),
	)
	return session, nil
}

// ParseSession parses the stored file. A parse failure moves the session to
// FAILED and is also returned.
func (s *IngestionService) ParseSession(ctx context.Context, caller Caller, id uuid.UUID) (outcome *ParseOutcome, err error) {
	ctx, done := s.stage(ctx, "parse", id.String())
	defer done(&err)

	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "parse", repository.SessionPending); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, session, repository.SessionParsing); err != nil {
		return nil, err
	}

	result, parseErr := s.parser.Parse(ctx, session.StoredFilename, session.MimeType, parseOptions(session))
	if parseErr != nil {
		msg := parseErr.Error()
		session.FailureMessage = &msg
		if err := s.transition(ctx, session, repository.SessionFailed); err != nil {
			return nil, err
		}
		s.logger.Warn("ingestion parse failed", "session_id", id, slog.String("error", msg))
		return &ParseOutcome{Session: session}, fmt.Errorf("parse failed: %w", parseErr)
	}

	session.TotalRows = len(result.Rows)
	session.Warnings = append([]string{}, result.Warnings...)
	session.FailureMessage = nil
	if err := s.transition(ctx, session, repository.SessionMapping); err != nil {
		return nil, err
	}

	s.logger.Info("ingestion file parsed",
		"session_id", id,
		slog.String("format", string(result.Format)),
		slog.Int("rows", len(result.Rows)),
		slog.Int("warnings", len(result.Warnings)),
	)
	return &ParseOutcome{
		Session: session,
		Headers: result.Headers,
		Samples: s.samples(result.Rows),
	}, nil
}

func (s *IngestionService) samples(rows []map[string]string) []map[string]string {
	n := s.config.SampleRows
	if len(rows) < n {
		n = len(rows)
	}
	return rows[:n]
}

// AutoMap proposes a mapping without changing the session. With no headers it
// reparses the stored file and uses its headers and first rows.
func (s *IngestionService) AutoMap(ctx context.Context, caller Caller, id uuid.UUID, headers []string, samples []map[string]string) (result *mapper.Result, err error) {
	ctx, done := s.stage(ctx, "automap", id.String())
	defer done(&err)

	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "auto-map", repository.SessionMapping); err != nil {
		return nil, err
	}

	if len(headers) == 0 {
		parsed, err := s.parser.Parse(ctx, session.StoredFilename, session.MimeType, parseOptions(session))
		if err != nil {
			return nil, fmt.Errorf("failed to reparse file: %w", err)
		}
		headers = parsed.Headers
		if len(samples) == 0 {
			samples = s.samples(parsed.Rows)
		}
	}

	result = s.mapper.Map(ctx, headers, samples)
	s.logger.Info("columns auto-mapped",
		"session_id", id,
		slog.Int("mapped", len(result.Mappings)),
		slog.Int("unmapped", len(result.UnmappedColumns)),
		slog.Bool("ai_used", result.AIUsed),
	)
	return result, nil
}

// ConfirmMapping stores the caller's mapping and moves the session to REVIEWING
func (s *IngestionService) ConfirmMapping(ctx context.Context, caller Caller, id uuid.UUID, mappings []repository.ColumnMapping) (session *repository.Session, err error) {
	ctx, done := s.stage(ctx, "confirm_mapping", id.String())
	defer done(&err)

	session, err = s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "confirm the mapping of", repository.SessionMapping); err != nil {
		return nil, err
	}
	if err := mapper.ValidateMappings(mappings); err != nil {
		return nil, err
	}

	avg := mapper.AverageConfidence(mappings)
	session.Mapping = append([]repository.ColumnMapping{}, mappings...)
	session.MappingConfidence = &avg
	if err := s.transition(ctx, session, repository.SessionReviewing); err != nil {
		return nil, err
	}
	return session, nil
}

// ReopenMapping sends a REVIEWING session back to MAPPING so the mapping can be corrected
func (s *IngestionService) ReopenMapping(ctx context.Context, caller Caller, id uuid.UUID) (*repository.Session, error) {
	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "reopen the mapping of", repository.SessionReviewing); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, session, repository.SessionMapping); err != nil {
		return nil, err
	}
	return session, nil
}

// RunMatching reparses the whole file, applies the confirmed mapping and matches
// every row against one catalog snapshot. It is repeatable; rows are replaced.
func (s *IngestionService) RunMatching(ctx context.Context, caller Caller, id uuid.UUID) (summary *MatchSummary, err error) {
	ctx, done := s.stage(ctx, "match", id.String())
	defer done(&err)

	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "match", repository.SessionReviewing); err != nil {
		return nil, err
	}

	parsed, err := s.parser.Parse(ctx, session.StoredFilename, session.MimeType, parseOptions(session))
	if err != nil {
		return nil, fmt.Errorf("failed to reparse file: %w", err)
	}
	snap, err := s.matcher.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	summary = &MatchSummary{Session: session}
	rows := make([]repository.SessionRow, 0, len(parsed.Rows))
	session.ProcessedRows = 0
	session.TotalRows = len(parsed.Rows)

	for start := 0; start < len(parsed.Rows); start += s.config.ChunkSize {
		end := start + s.config.ChunkSize
		if end > len(parsed.Rows) {
			end = len(parsed.Rows)
		}
		chunk := parsed.Rows[start:end]

		mapped := make([]map[string]string, len(chunk))
		for i, raw := range chunk {
			mapped[i] = mapper.Apply(raw, session.Mapping)
		}

		for i, item := range snap.MatchBatch(mapped) {
			row := s.classify(session.ID, start+i+1, chunk[i], mapped[i], item)
			switch row.Status {
			case repository.RowMatched:
				summary.Matched++
			case repository.RowUnmatched:
				summary.Unmatched++
			default:
				summary.Errors++
			}
			rows = append(rows, row)
		}

		session.ProcessedRows = end
		s.logger.Debug("match chunk processed",
			"session_id", id,
			slog.Int("processed", end),
			slog.Int("total", len(parsed.Rows)),
		)
	}

	if err := s.repo.ReplaceRows(ctx, session.ID, rows); err != nil {
		return nil, fmt.Errorf("failed to store rows: %w", err)
	}

	session.ErrorRows = summary.Errors
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	s.metrics.countRows("match", repository.RowMatched, summary.Matched)
	s.metrics.countRows("match", repository.RowUnmatched, summary.Unmatched)
	s.metrics.countRows("match", repository.RowError, summary.Errors)
	s.logger.Info("ingestion rows matched",
		"session_id", id,
		slog.Int("matched", summary.Matched),
		slog.Int("unmatched", summary.Unmatched),
		slog.Int("errors", summary.Errors),
	)
	return summary, nil
}

// classify turns one batch item into a persisted row
func (s *IngestionService) classify(sessionID uuid.UUID, number int, raw, mapped map[string]string, item matcher.BatchItem) repository.SessionRow {
	row := repository.SessionRow{
		SessionID:  sessionID,
		RowNumber:  number,
		RawData:    raw,
		MappedData: mapped,
		Status:     repository.RowUnmatched,
	}
	if item.Err != nil {
		row.Status = repository.RowError
		row.Error = &repository.RowFailure{Message: item.Err.Error(), Stage: "match"}
		return row
	}

	res := item.Result
	if res.Enriched != nil {
		row.MappedData = res.Enriched
	}

	detail := &repository.MatchDetail{}
	if res.Part != nil {
		conf := res.Part.Confidence
		row.MatchConfidence = &conf
		detail.PartStrategy = string(res.Part.Strategy)
		if res.IsMatched(s.config.MatchThreshold) {
			partID := res.Part.Part.ID
			row.MatchedPartID = &partID
			row.Status = repository.RowMatched
		}
	}
	if res.Aircraft != nil {
		aid, conf := res.Aircraft.ID, res.Aircraft.Confidence
		detail.AircraftID, detail.AircraftConfidence = &aid, &conf
	}
	if res.Engine != nil {
		eid, conf := res.Engine.ID, res.Engine.Confidence
		detail.EngineID, detail.EngineConfidence = &eid, &conf
	}
	if res.Part != nil || res.Aircraft != nil || res.Engine != nil {
		row.MatchDetail = detail
	}
	return row
}

// RunImport creates a draft listing for every MATCHED or UNMATCHED row. ERROR rows
// are skipped. A failing row is marked ERROR and the rest continue.
func (s *IngestionService) RunImport(ctx context.Context, caller Caller, id uuid.UUID) (summary *ImportSummary, err error) {
	ctx, done := s.stage(ctx, "import", id.String())
	defer done(&err)

	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "import", repository.SessionReviewing); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, session, repository.SessionImporting); err != nil {
		return nil, err
	}

	rows, err := s.repo.ListRowsByStatus(ctx, session.ID, repository.RowMatched, repository.RowUnmatched)
	if err != nil {
		return nil, s.failImport(ctx, session, fmt.Errorf("failed to list rows: %w", err))
	}

	summary = &ImportSummary{Session: session, ListingIDs: []uuid.UUID{}, Warnings: []string{}}
	for i := range rows {
		row := &rows[i]
		listing, warnings := s.buildListing(session, row)

		if err := s.repo.CreateListing(ctx, listing); err != nil {
			row.Status = repository.RowError
			row.Error = &repository.RowFailure{Message: err.Error(), Stage: "import"}
			summary.Failed++
			s.logger.Warn("row import failed", "session_id", id, slog.Int("row", row.RowNumber), slog.Any("error", err))
		} else {
			listingID := listing.ID
			row.Status = repository.RowImported
			row.ListingID = &listingID
			row.Error = nil
			row.Warnings = append(row.Warnings, warnings...)
			summary.Imported++
			summary.ListingIDs = append(summary.ListingIDs, listingID)
			for _, w := range warnings {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("row %d: %s", row.RowNumber, w))
			}
		}

		if err := s.repo.UpdateRow(ctx, row); err != nil {
			return nil, s.failImport(ctx, session, fmt.Errorf("failed to update row %d: %w", row.RowNumber, err))
		}
	}

	counts, err := s.repo.RowStatusCounts(ctx, session.ID)
	if err != nil {
		return nil, s.failImport(ctx, session, fmt.Errorf("failed to count rows: %w", err))
	}
	summary.Skipped = counts[repository.RowError] - summary.Failed
	session.ProcessedRows = summary.Imported + summary.Failed
	session.ErrorRows = counts[repository.RowError]

	next := repository.SessionCompleted
	if summary.Imported == 0 && summary.Failed > 0 {
		next = repository.SessionFailed
		msg := fmt.Sprintf("all %d rows failed to import", summary.Failed)
		session.FailureMessage = &msg
	}
	if err := s.transition(ctx, session, next); err != nil {
		return nil, err
	}

	s.metrics.countRows("import", repository.RowImported, summary.Imported)
	s.metrics.countRows("import", repository.RowError, summary.Failed)
	s.logger.Info("ingestion import finished",
		"session_id", id,
		slog.Int("imported", summary.Imported),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("warnings", len(summary.Warnings)),
	)

	if s.notifier != nil {
		if err := s.notifier.ImportFinished(ctx, caller.Email, summary); err != nil {
			s.logger.Warn("import notification failed", "session_id", id, slog.Any("error", err))
		}
	}
	return summary, nil
}

// failImport records a store failure that stopped the import
func (s *IngestionService) failImport(ctx context.Context, session *repository.Session, cause error) error {
	msg := cause.Error()
	session.FailureMessage = &msg
	if err := s.transition(ctx, session, repository.SessionFailed); err != nil {
		s.logger.Error("failed to mark import as failed", "session_id", session.ID, slog.Any("error", err))
	}
	return cause
}

func parseOptions(session *repository.Session) parser.Options {
	return parser.Options{SheetName: session.SheetName}
}
