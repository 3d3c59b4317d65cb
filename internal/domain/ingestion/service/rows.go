package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
)

// RowQuery selects a page of rows. Page is 1-based.
type RowQuery struct {
	Status   repository.RowStatus
	Page     int
	PageSize int
}

// RowPage is one page of rows
type RowPage struct {
	Rows     []repository.SessionRow `json:"rows"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"pageSize"`
}

// Summary is the session overview shown while a session is in progress
type Summary struct {
	Session   *repository.Session          `json:"session"`
	Histogram map[repository.RowStatus]int `json:"histogram"`
	Progress  int                          `json:"progressPercent"`
}

// UpdateRow replaces a row's mapped data wholesale. Imported rows are frozen;
// an ERROR row becomes UNMATCHED once corrected, and so does a matched row whose
// part number changed.
func (s *IngestionService) UpdateRow(ctx context.Context, caller Caller, id uuid.UUID, rowNumber int, mapped map[string]string) (*repository.SessionRow, error) {
	if _, err := s.loadSession(ctx, caller, id); err != nil {
		return nil, err
	}

	clean := make(map[string]string, len(mapped))
	for k, v := range mapped {
		f, ok := mapper.ParseField(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
		clean[string(f)] = strings.TrimSpace(v)
	}

	row, err := s.getRow(ctx, id, rowNumber)
	if err != nil {
		return nil, err
	}
	if row.Status == repository.RowImported {
		return nil, fmt.Errorf("%w: row %d", ErrRowImported, rowNumber)
	}

	partChanged := matcher.Normalize(row.MappedData[string(mapper.FieldPartNumber)]) !=
		matcher.Normalize(clean[string(mapper.FieldPartNumber)])
	row.MappedData = clean
	switch {
	case row.Status == repository.RowError:
		row.Status = repository.RowUnmatched
		row.Error = nil
	case row.Status == repository.RowMatched && partChanged:
		row.Status = repository.RowUnmatched
		row.MatchedPartID = nil
		row.MatchConfidence = nil
		if row.MatchDetail != nil {
			row.MatchDetail.PartStrategy = ""
		}
	}
	if err := s.repo.UpdateRow(ctx, row); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to update row: %w", err)
	}

	s.logger.Debug("session row edited", "session_id", id, "row", rowNumber)
	return row, nil
}

func (s *IngestionService) getRow(ctx context.Context, id uuid.UUID, rowNumber int) (*repository.SessionRow, error) {
	row, err := s.repo.GetRow(ctx, id, rowNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load row: %w", err)
	}
	return row, nil
}

// ListRows returns one page of rows, optionally filtered by status
func (s *IngestionService) ListRows(ctx context.Context, caller Caller, id uuid.UUID, q RowQuery) (*RowPage, error) {
	if _, err := s.loadSession(ctx, caller, id); err != nil {
		return nil, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	rows, total, err := s.repo.ListRows(ctx, id, repository.RowFilter{
		Status: q.Status,
		Limit:  q.PageSize,
		Offset: (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	if rows == nil {
		rows = []repository.SessionRow{}
	}
	return &RowPage{Rows: rows, Total: total, Page: q.Page, PageSize: q.PageSize}, nil
}

// StatusHistogram counts rows per status
func (s *IngestionService) StatusHistogram(ctx context.Context, caller Caller, id uuid.UUID) (map[repository.RowStatus]int, error) {
	if _, err := s.loadSession(ctx, caller, id); err != nil {
		return nil, err
	}
	counts, err := s.repo.RowStatusCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return counts, nil
}

// GetSummary returns the session with its histogram and progress
func (s *IngestionService) GetSummary(ctx context.Context, caller Caller, id uuid.UUID) (*Summary, error) {
	session, err := s.loadSession(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.RowStatusCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	return &Summary{Session: session, Histogram: counts, Progress: progress(session)}, nil
}

func progress(session *repository.Session) int {
	if session.Status == repository.SessionCompleted {
		return 100
	}
	if session.TotalRows <= 0 {
		return 0
	}
	p := session.ProcessedRows * 100 / session.TotalRows
	if p > 100 {
		p = 100
	}
	return p
}

// SuggestParts ranks catalog parts for a row by its part number, or its
// description when the part number is empty
func (s *IngestionService) SuggestParts(ctx context.Context, caller Caller, id uuid.UUID, rowNumber, limit int) ([]matcher.Suggestion, error) {
	if _, err := s.loadSession(ctx, caller, id); err != nil {
		return nil, err
	}
	row, err := s.getRow(ctx, id, rowNumber)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(row.MappedData[string(mapper.FieldPartNumber)])
	if text == "" {
		text = row.MappedData[string(mapper.FieldDescription)]
	}

	snap, err := s.matcher.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return snap.Suggest(text, limit)
}

type exportRecord struct {
	RowNumber       int    `csv:"row_number"`
	Status          string `csv:"status"`
	PartNumber      string `csv:"part_number"`
	Description     string `csv:"description"`
	Quantity        string `csv:"quantity"`
	Price           string `csv:"price"`
	MatchConfidence string `csv:"match_confidence"`
	MatchedPartID   string `csv:"matched_part_id"`
	ListingID       string `csv:"listing_id"`
	Error           string `csv:"error"`
	Warnings        string `csv:"warnings"`
}

// ExportRows writes the session's rows as CSV, all of them or one status
func (s *IngestionService) ExportRows(ctx context.Context, caller Caller, id uuid.UUID, status repository.RowStatus, w io.Writer) error {
	if _, err := s.loadSession(ctx, caller, id); err != nil {
		return err
	}

	var statuses []repository.RowStatus
	if status != "" {
		statuses = append(statuses, status)
	}
	rows, err := s.repo.ListRowsByStatus(ctx, id, statuses...)
	if err != nil {
		return fmt.Errorf("failed to list rows: %w", err)
	}

	records := make([]*exportRecord, 0, len(rows))
	for _, r := range rows {
		rec := &exportRecord{
			RowNumber:   r.RowNumber,
			Status:      string(r.Status),
			PartNumber:  r.MappedData[string(mapper.FieldPartNumber)],
			Description: r.MappedData[string(mapper.FieldDescription)],
			Quantity:    r.MappedData[string(mapper.FieldQuantity)],
			Price:       r.MappedData[string(mapper.FieldPrice)],
			Warnings:    strings.Join(r.Warnings, "; "),
		}
		if r.MatchConfidence != nil {
			rec.MatchConfidence = fmt.Sprintf("%.2f", *r.MatchConfidence)
		}
		if r.MatchedPartID != nil {
			rec.MatchedPartID = r.MatchedPartID.String()
		}
		if r.ListingID != nil {
			rec.ListingID = r.ListingID.String()
		}
		if r.Error != nil {
			rec.Error = r.Error.Message
		}
		records = append(records, rec)
	}

	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
