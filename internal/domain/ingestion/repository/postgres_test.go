package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
)

var sessionCols = []string{
	"id", "user_id", "stored_filename", "original_filename", "mime_type", "size_bytes", "sheet_name", "status",
	"total_rows", "processed_rows", "error_rows", "mapping", "mapping_confidence", "warnings",
	"failure_message", "created_at", "updated_at",
}

func rowCols() []string {
	return append(append([]string{}, rowColumns...), "updated_at")
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresRepository(mock), mock
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionPending, SessionParsing, true},
		{SessionParsing, SessionMapping, true},
		{SessionParsing, SessionFailed, true},
		{SessionMapping, SessionReviewing, true},
		{SessionReviewing, SessionMapping, true},
		{SessionReviewing, SessionImporting, true},
		{SessionImporting, SessionCompleted, true},
		{SessionImporting, SessionFailed, true},
		{SessionReviewing, SessionCompleted, false},
		{SessionPending, SessionMapping, false},
		{SessionCompleted, SessionImporting, false},
		{SessionFailed, SessionParsing, false},
		{SessionMapping, SessionFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseRowStatus(t *testing.T) {
	s, ok := ParseRowStatus(" matched ")
	assert.True(t, ok)
	assert.Equal(t, RowMatched, s)

	_, ok = ParseRowStatus("pending")
	assert.False(t, ok)
}

func TestPostgresRepository_CreateSession(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	s := &Session{
		UserID:           uuid.New(),
		StoredFilename:   "u/abc_stock.csv",
		OriginalFilename: "stock.csv",
		MimeType:         "text/csv",
		SizeBytes:        128,
		SheetName:        "Inventory",
		Status:           SessionPending,
	}

	mock.ExpectQuery(`INSERT INTO ingestion_sessions`).
		WithArgs(pgxmock.AnyArg(), s.UserID, "u/abc_stock.csv", "stock.csv", "text/csv", int64(128), "Inventory", SessionPending,
			0, 0, 0, []byte("null"), (*float64)(nil), []string{}, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.CreateSession(context.Background(), s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, now, s.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetSession(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id, userID := uuid.New(), uuid.New()
		now := time.Now()
		conf := 0.95

		mock.ExpectQuery(`SELECT .+ FROM ingestion_sessions WHERE id`).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows(sessionCols).AddRow(
				id, userID, "u/f.csv", "f.csv", "text/csv", int64(10), "", SessionReviewing,
				2, 2, 0, []byte(`[{"sourceColumn":"P/N","targetField":"partNumber","confidence":0.95,"method":"alias"}]`),
				&conf, []string{"row 2 has 3 columns, expected 4"}, (*string)(nil), now, now,
			))

		s, err := repo.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, SessionReviewing, s.Status)
		require.Len(t, s.Mapping, 1)
		assert.Equal(t, mapper.FieldPartNumber, s.Mapping[0].TargetField)
		assert.Equal(t, mapper.MethodAlias, s.Mapping[0].Method)
		assert.Equal(t, []string{"row 2 has 3 columns, expected 4"}, s.Warnings)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		mock.ExpectQuery(`SELECT .+ FROM ingestion_sessions WHERE id`).
			WithArgs(id).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetSession(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresRepository_UpdateSession_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	mock.ExpectQuery(`UPDATE ingestion_sessions`).
		WithArgs(id, SessionParsing, 0, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), []string{}, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	err := repo.UpdateSession(context.Background(), &Session{ID: id, Status: SessionParsing})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ReplaceRows(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	rows := []SessionRow{
		{RowNumber: 1, RawData: map[string]string{"P/N": "A-1"}, MappedData: map[string]string{"partNumber": "A-1"}, Status: RowMatched},
		{RowNumber: 2, RawData: map[string]string{"P/N": ""}, Status: RowError, Error: &RowFailure{Message: "boom", Stage: "match"}},
	}

	t.Run("commits", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM ingestion_session_rows`).
			WithArgs(sessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 5))
		mock.ExpectCopyFrom(pgx.Identifier{"ingestion_session_rows"}, rowColumns).WillReturnResult(2)
		mock.ExpectCommit()

		require.NoError(t, repo.ReplaceRows(ctx, sessionID, rows))
		assert.Equal(t, sessionID, rows[0].SessionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on copy failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM ingestion_session_rows`).
			WithArgs(sessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"ingestion_session_rows"}, rowColumns).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.ReplaceRows(ctx, sessionID, rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty set only clears", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM ingestion_session_rows`).
			WithArgs(sessionID).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))
		mock.ExpectCommit()

		require.NoError(t, repo.ReplaceRows(ctx, sessionID, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepository_ListRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessionID := uuid.New()
	partID := uuid.New()
	conf := 1.0
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ingestion_session_rows`).
		WithArgs(sessionID, RowMatched).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT session_id, row_number`).
		WithArgs(sessionID, RowMatched, 2, 4).
		WillReturnRows(pgxmock.NewRows(rowCols()).AddRow(
			sessionID, 5, []byte(`{"P/N":"601R14501-2"}`), []byte(`{"partNumber":"601R14501-2","manufacturer":"Boeing"}`),
			RowMatched, &conf, &partID, []byte(`{"partStrategy":"exact"}`), []byte(nil), []string{}, (*uuid.UUID)(nil), now,
		))

	rows, total, err := repo.ListRows(context.Background(), sessionID, RowFilter{Status: RowMatched, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].RowNumber)
	assert.Equal(t, "Boeing", rows[0].MappedData["manufacturer"])
	require.NotNil(t, rows[0].MatchDetail)
	assert.Equal(t, "exact", rows[0].MatchDetail.PartStrategy)
	assert.Nil(t, rows[0].Error)
	assert.Equal(t, &partID, rows[0].MatchedPartID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RowStatusCounts(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessionID := uuid.New()

	mock.ExpectQuery(`SELECT status, COUNT\(\*\)`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow(RowMatched, 3).
			AddRow(RowError, 1))

	counts, err := repo.RowStatusCounts(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, map[RowStatus]int{RowMatched: 3, RowUnmatched: 0, RowError: 1, RowImported: 0}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateRow_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	sessionID := uuid.New()
	mock.ExpectQuery(`UPDATE ingestion_session_rows`).
		WithArgs(sessionID, 3, pgxmock.AnyArg(), RowUnmatched, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	err := repo.UpdateRow(context.Background(), &SessionRow{SessionID: sessionID, RowNumber: 3, Status: RowUnmatched})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateListing(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	l := &Listing{
		SellerID:   uuid.New(),
		SessionID:  uuid.New(),
		RowNumber:  1,
		Title:      "Flap Assembly",
		PartNumber: "601R14501-2",
		Condition:  "AR",
		Quantity:   1,
		PriceMinor: 1500000,
		Currency:   "USD",
	}

	mock.ExpectQuery(`INSERT INTO listings`).
		WithArgs(pgxmock.AnyArg(), l.SellerID, l.SessionID, 1, pgxmock.AnyArg(), "Flap Assembly", "601R14501-2", "",
			"", "", "AR", 1, l.PriceMinor, "USD", "", "", "", ListingStatusDraft).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	require.NoError(t, repo.CreateListing(context.Background(), l))
	assert.Equal(t, ListingStatusDraft, l.Status)
	assert.NotEqual(t, uuid.Nil, l.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Catalog(t *testing.T) {
	ctx := context.Background()

	t.Run("list parts", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		id := uuid.New()
		mock.ExpectQuery(`FROM parts`).
			WillReturnRows(pgxmock.NewRows([]string{"id", "part_number", "manufacturer", "description", "category", "model", "alternate_part_numbers"}).
				AddRow(id, "65-02050-5", "Honeywell", "Actuator", "Actuation", "", []string{"65-02050-5A"}))

		parts, err := repo.ListParts(ctx)
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, []string{"65-02050-5A"}, parts[0].AlternatePartNumbers)
	})

	t.Run("part by number not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(`WHERE UPPER\(part_number\)`).
			WithArgs("NOPE-1").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetPartByNumber(ctx, " NOPE-1 ")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list aircraft", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		designator := "B738"
		mock.ExpectQuery(`FROM aircraft`).
			WillReturnRows(pgxmock.NewRows([]string{"id", "manufacturer", "model", "type_designator"}).
				AddRow(uuid.New(), "Boeing", "737-800", &designator))

		aircraft, err := repo.ListAircraft(ctx)
		require.NoError(t, err)
		require.Len(t, aircraft, 1)
		assert.Equal(t, "B738", *aircraft[0].TypeDesignator)
	})
}
