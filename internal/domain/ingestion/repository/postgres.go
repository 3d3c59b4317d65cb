package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements IngestionRepository and CatalogRepository
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository over a pool
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var rowColumns = []string{
	"session_id", "row_number", "raw_data", "mapped_data", "status", "match_confidence",
	"matched_part_id", "match_detail", "error", "warnings", "listing_id",
}

const sessionColumns = `id, user_id, stored_filename, original_filename, mime_type, size_bytes, sheet_name, status,
		total_rows, processed_rows, error_rows, mapping, mapping_confidence, warnings, failure_message,
		created_at, updated_at`

// CreateSession inserts a new session
func (r *PostgresRepository) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	mapping, err := marshalJSON(s.Mapping)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ingestion_sessions (id, user_id, stored_filename, original_filename, mime_type, size_bytes, sheet_name,
			status, total_rows, processed_rows, error_rows, mapping, mapping_confidence, warnings, failure_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		s.ID,
		s.UserID,
		s.StoredFilename,
		s.OriginalFilename,
		s.MimeType,
		s.SizeBytes,
		s.SheetName,
		s.Status,
		s.TotalRows,
		s.ProcessedRows,
		s.ErrorRows,
		mapping,
		s.MappingConfidence,
		nonNilStrings(s.Warnings),
		s.FailureMessage,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ingestion session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM ingestion_sessions WHERE id = $1`

	s := &Session{}
	var mapping []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.UserID,
		&s.StoredFilename,
		&s.OriginalFilename,
		&s.MimeType,
		&s.SizeBytes,
		&s.SheetName,
		&s.Status,
		&s.TotalRows,
		&s.ProcessedRows,
		&s.ErrorRows,
		&mapping,
		&s.MappingConfidence,
		&s.Warnings,
		&s.FailureMessage,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion session: %w", err)
	}
	if err := unmarshalJSON(mapping, &s.Mapping); err != nil {
		return nil, fmt.Errorf("failed to decode session mapping: %w", err)
	}
	return s, nil
}

// UpdateSession persists the mutable fields of a session
func (r *PostgresRepository) UpdateSession(ctx context.Context, s *Session) error {
	mapping, err := marshalJSON(s.Mapping)
	if err != nil {
		return err
	}

	query := `
		UPDATE ingestion_sessions
		SET status = $2, total_rows = $3, processed_rows = $4, error_rows = $5, mapping = $6,
			mapping_confidence = $7, warnings = $8, failure_message = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query,
		s.ID,
		s.Status,
		s.TotalRows,
		s.ProcessedRows,
		s.ErrorRows,
		mapping,
		s.MappingConfidence,
		nonNilStrings(s.Warnings),
		s.FailureMessage,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update ingestion session: %w", err)
	}
	return nil
}

// ReplaceRows deletes a session's rows and bulk-copies the new set in one transaction
func (r *PostgresRepository) ReplaceRows(ctx context.Context, sessionID uuid.UUID, rows []SessionRow) error {
	values := make([][]any, 0, len(rows))
	for i := range rows {
		rows[i].SessionID = sessionID
		v, err := rowValues(&rows[i])
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", rows[i].RowNumber, err)
		}
		values = append(values, v)
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ingestion_session_rows WHERE session_id = $1`, sessionID); err != nil {
			return fmt.Errorf("failed to clear session rows: %w", err)
		}
		if len(values) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"ingestion_session_rows"}, rowColumns, pgx.CopyFromRows(values))
		if err != nil {
			return fmt.Errorf("failed to copy session rows: %w", err)
		}
		if int(n) != len(values) {
			return fmt.Errorf("copied %d of %d session rows", n, len(values))
		}
		return nil
	})
}

// ListRows returns one page of rows in row order plus the filtered total
func (r *PostgresRepository) ListRows(ctx context.Context, sessionID uuid.UUID, filter RowFilter) ([]SessionRow, int, error) {
	where := ` WHERE session_id = $1`
	args := []any{sessionID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ingestion_session_rows`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count session rows: %w", err)
	}

	query := `SELECT ` + strings.Join(rowColumns, ", ") + `, updated_at FROM ingestion_session_rows` + where +
		fmt.Sprintf(` ORDER BY row_number ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.queryRows(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListRowsByStatus returns every row in one of the given statuses, in row order
func (r *PostgresRepository) ListRowsByStatus(ctx context.Context, sessionID uuid.UUID, statuses ...RowStatus) ([]SessionRow, error) {
	query := `SELECT ` + strings.Join(rowColumns, ", ") + `, updated_at FROM ingestion_session_rows
		WHERE session_id = $1`
	args := []any{sessionID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY row_number ASC`

	return r.queryRows(ctx, query, args...)
}

// GetRow retrieves one row by its number
func (r *PostgresRepository) GetRow(ctx context.Context, sessionID uuid.UUID, rowNumber int) (*SessionRow, error) {
	query := `SELECT ` + strings.Join(rowColumns, ", ") + `, updated_at FROM ingestion_session_rows
		WHERE session_id = $1 AND row_number = $2`

	row, err := scanRow(r.db.QueryRow(ctx, query, sessionID, rowNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session row: %w", err)
	}
	return row, nil
}

// UpdateRow persists a row's mutable fields
func (r *PostgresRepository) UpdateRow(ctx context.Context, row *SessionRow) error {
	v, err := rowValues(row)
	if err != nil {
		return err
	}

	query := `
		UPDATE ingestion_session_rows
		SET mapped_data = $3, status = $4, match_confidence = $5, matched_part_id = $6,
			match_detail = $7, error = $8, warnings = $9, listing_id = $10, updated_at = NOW()
		WHERE session_id = $1 AND row_number = $2
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query,
		row.SessionID,
		row.RowNumber,
		v[3], v[4], v[5], v[6], v[7], v[8], v[9], v[10],
	).Scan(&row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update session row: %w", err)
	}
	return nil
}

// RowStatusCounts returns a status histogram; absent statuses are zero
func (r *PostgresRepository) RowStatusCounts(ctx context.Context, sessionID uuid.UUID) (map[RowStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*)
		FROM ingestion_session_rows
		WHERE session_id = $1
		GROUP BY status`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count row statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[RowStatus]int, len(RowStatuses))
	for _, s := range RowStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status RowStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count row statuses: %w", err)
	}
	return counts, nil
}

// CreateListing inserts a draft listing
func (r *PostgresRepository) CreateListing(ctx context.Context, l *Listing) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = ListingStatusDraft
	}

	query := `
		INSERT INTO listings (id, seller_id, session_id, row_number, part_id, title, part_number, description,
			manufacturer, category, condition, quantity, price_minor, currency_code, location, notes, certification, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		l.ID,
		l.SellerID,
		l.SessionID,
		l.RowNumber,
		l.PartID,
		l.Title,
		l.PartNumber,
		l.Description,
		l.Manufacturer,
		l.Category,
		l.Condition,
		l.Quantity,
		l.PriceMinor,
		l.Currency,
		l.Location,
		l.Notes,
		l.Certification,
		l.Status,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// ListParts returns the whole parts catalog ordered by part number
func (r *PostgresRepository) ListParts(ctx context.Context) ([]Part, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, part_number, COALESCE(manufacturer, ''), COALESCE(description, ''), COALESCE(category, ''),
			COALESCE(model, ''), COALESCE(alternate_part_numbers, '{}')
		FROM parts
		ORDER BY part_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	defer rows.Close()

	var parts []Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.PartNumber, &p.Manufacturer, &p.Description, &p.Category, &p.Model, &p.AlternatePartNumbers); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	return parts, nil
}

// GetPartByNumber looks a part up by its primary number, ignoring case
func (r *PostgresRepository) GetPartByNumber(ctx context.Context, partNumber string) (*Part, error) {
	var p Part
	err := r.db.QueryRow(ctx, `
		SELECT id, part_number, COALESCE(manufacturer, ''), COALESCE(description, ''), COALESCE(category, ''),
			COALESCE(model, ''), COALESCE(alternate_part_numbers, '{}')
		FROM parts
		WHERE UPPER(part_number) = UPPER($1)`, strings.TrimSpace(partNumber),
	).Scan(&p.ID, &p.PartNumber, &p.Manufacturer, &p.Description, &p.Category, &p.Model, &p.AlternatePartNumbers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get part: %w", err)
	}
	return &p, nil
}

// ListAircraft returns every aircraft type
func (r *PostgresRepository) ListAircraft(ctx context.Context) ([]Aircraft, error) {
	rows, err := r.db.Query(ctx, `SELECT id, manufacturer, model, type_designator FROM aircraft ORDER BY manufacturer, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aircraft: %w", err)
	}
	defer rows.Close()

	var out []Aircraft
	for rows.Next() {
		var a Aircraft
		if err := rows.Scan(&a.ID, &a.Manufacturer, &a.Model, &a.TypeDesignator); err != nil {
			return nil, fmt.Errorf("failed to scan aircraft: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list aircraft: %w", err)
	}
	return out, nil
}

// ListEngines returns every engine type
func (r *PostgresRepository) ListEngines(ctx context.Context) ([]Engine, error) {
	rows, err := r.db.Query(ctx, `SELECT id, manufacturer, model, type_designator FROM engines ORDER BY manufacturer, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to list engines: %w", err)
	}
	defer rows.Close()

	var out []Engine
	for rows.Next() {
		var e Engine
		if err := rows.Scan(&e.ID, &e.Manufacturer, &e.Model, &e.TypeDesignator); err != nil {
			return nil, fmt.Errorf("failed to scan engine: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list engines: %w", err)
	}
	return out, nil
}

// withTx runs fn inside a transaction, rolling back on error or panic
func (r *PostgresRepository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) queryRows(ctx context.Context, query string, args ...any) ([]SessionRow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list session rows: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list session rows: %w", err)
	}
	return out, nil
}

func scanRow(s pgx.Row) (*SessionRow, error) {
	var (
		row                         SessionRow
		raw, mapped, detail, rowErr []byte
	)
	if err := s.Scan(
		&row.SessionID,
		&row.RowNumber,
		&raw,
		&mapped,
		&row.Status,
		&row.MatchConfidence,
		&row.MatchedPartID,
		&detail,
		&rowErr,
		&row.Warnings,
		&row.ListingID,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(raw, &row.RawData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(mapped, &row.MappedData); err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		row.MatchDetail = &MatchDetail{}
		if err := json.Unmarshal(detail, row.MatchDetail); err != nil {
			return nil, err
		}
	}
	if len(rowErr) > 0 {
		row.Error = &RowFailure{}
		if err := json.Unmarshal(rowErr, row.Error); err != nil {
			return nil, err
		}
	}
	return &row, nil
}

// rowValues encodes a row in rowColumns order
func rowValues(row *SessionRow) ([]any, error) {
	raw, err := marshalJSON(nonNilMap(row.RawData))
	if err != nil {
		return nil, err
	}
	mapped, err := marshalJSON(nonNilMap(row.MappedData))
	if err != nil {
		return nil, err
	}
	var detail, rowErr []byte
	if row.MatchDetail != nil {
		if detail, err = json.Marshal(row.MatchDetail); err != nil {
			return nil, err
		}
	}
	if row.Error != nil {
		if rowErr, err = json.Marshal(row.Error); err != nil {
			return nil, err
		}
	}
	return []any{
		row.SessionID,
		row.RowNumber,
		raw,
		mapped,
		row.Status,
		row.MatchConfidence,
		row.MatchedPartID,
		detail,
		rowErr,
		nonNilStrings(row.Warnings),
		row.ListingID,
	}, nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
