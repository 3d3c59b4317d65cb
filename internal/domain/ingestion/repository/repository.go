// Package repository provides the ingestion data model and its persistence.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
)

var ErrNotFound = errors.New("not found")

// SessionStatus is the stage of an ingestion session
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionParsing   SessionStatus = "PARSING"
	SessionMapping   SessionStatus = "MAPPING"
	SessionReviewing SessionStatus = "REVIEWING"
	SessionImporting SessionStatus = "IMPORTING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:   {SessionParsing},
	SessionParsing:   {SessionMapping, SessionFailed},
	SessionMapping:   {SessionReviewing},
	SessionReviewing: {SessionMapping, SessionImporting},
	SessionImporting: {SessionCompleted, SessionFailed},
}

// CanTransition reports whether a session may move from one status to another
func CanTransition(from, to SessionStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for COMPLETED and FAILED
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// RowStatus is the per-row classification
type RowStatus string

const (
	RowMatched   RowStatus = "MATCHED"
	RowUnmatched RowStatus = "UNMATCHED"
	RowError     RowStatus = "ERROR"
	RowImported  RowStatus = "IMPORTED"
)

// RowStatuses lists every row status in display order
var RowStatuses = []RowStatus{RowMatched, RowUnmatched, RowError, RowImported}

// ParseRowStatus validates a status string, case-insensitively
func ParseRowStatus(s string) (RowStatus, bool) {
	for _, rs := range RowStatuses {
		if strings.EqualFold(string(rs), strings.TrimSpace(s)) {
			return rs, true
		}
	}
	return "", false
}

// ColumnMapping is one confirmed source column → target field assignment
type ColumnMapping = mapper.Mapping

// Session is one upload's journey through parse, map, match and import
type Session struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"userId"`
	StoredFilename    string          `json:"storedFilename"`
	OriginalFilename  string          `json:"originalFilename"`
	MimeType          string          `json:"mimeType"`
	SizeBytes         int64           `json:"sizeBytes"`
	SheetName         string          `json:"sheetName,omitempty"`
	Status            SessionStatus   `json:"status"`
	TotalRows         int             `json:"totalRows"`
	ProcessedRows     int             `json:"processedRows"`
	ErrorRows         int             `json:"errorRows"`
	Mapping           []ColumnMapping `json:"mapping"`
	MappingConfidence *float64        `json:"mappingConfidence,omitempty"`
	Warnings          []string        `json:"warnings"`
	FailureMessage    *string         `json:"failureMessage,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// RowFailure captures why a row failed and in which stage
type RowFailure struct {
	Message string `json:"message"`
	Stage   string `json:"stage"`
}

// MatchDetail records the non-part parts of a match
type MatchDetail struct {
	PartStrategy       string     `json:"partStrategy,omitempty"`
	AircraftID         *uuid.UUID `json:"aircraftId,omitempty"`
	AircraftConfidence *float64   `json:"aircraftConfidence,omitempty"`
	EngineID           *uuid.UUID `json:"engineId,omitempty"`
	EngineConfidence   *float64   `json:"engineConfidence,omitempty"`
}

// SessionRow is one line of the source file
type SessionRow struct {
	SessionID       uuid.UUID         `json:"sessionId"`
	RowNumber       int               `json:"rowNumber"`
	RawData         map[string]string `json:"rawData"`
	MappedData      map[string]string `json:"mappedData"`
	Status          RowStatus         `json:"status"`
	MatchConfidence *float64          `json:"matchConfidence,omitempty"`
	MatchedPartID   *uuid.UUID        `json:"matchedPartId,omitempty"`
	MatchDetail     *MatchDetail      `json:"matchDetail,omitempty"`
	Error           *RowFailure       `json:"error,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	ListingID       *uuid.UUID        `json:"listingId,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Part is a catalog part
type Part struct {
	ID                   uuid.UUID `json:"id"`
	PartNumber           string    `json:"partNumber"`
	Manufacturer         string    `json:"manufacturer"`
	Description          string    `json:"description"`
	Category             string    `json:"category"`
	Model                string    `json:"model"`
	AlternatePartNumbers []string  `json:"alternatePartNumbers"`
}

// Aircraft is a catalog aircraft type
type Aircraft struct {
	ID             uuid.UUID `json:"id"`
	Manufacturer   string    `json:"manufacturer"`
	Model          string    `json:"model"`
	TypeDesignator *string   `json:"typeDesignator,omitempty"`
}

// Engine is a catalog engine type
type Engine struct {
	ID             uuid.UUID `json:"id"`
	Manufacturer   string    `json:"manufacturer"`
	Model          string    `json:"model"`
	TypeDesignator *string   `json:"typeDesignator,omitempty"`
}

// ListingStatusDraft is the only status the importer creates
const ListingStatusDraft = "draft"

// Listing is a marketplace listing created from an imported row
type Listing struct {
	ID            uuid.UUID  `json:"id"`
	SellerID      uuid.UUID  `json:"sellerId"`
	SessionID     uuid.UUID  `json:"sessionId"`
	RowNumber     int        `json:"rowNumber"`
	PartID        *uuid.UUID `json:"partId,omitempty"`
	Title         string     `json:"title"`
	PartNumber    string     `json:"partNumber"`
	Description   string     `json:"description"`
	Manufacturer  string     `json:"manufacturer"`
	Category      string     `json:"category"`
	Condition     string     `json:"condition"`
	Quantity      int        `json:"quantity"`
	PriceMinor    int64      `json:"priceMinor"`
	Currency      string     `json:"currency"`
	Location      string     `json:"location"`
	Notes         string     `json:"notes"`
	Certification string     `json:"certification"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// RowFilter selects a page of rows. An empty Status matches all rows.
type RowFilter struct {
	Status RowStatus
	Limit  int
	Offset int
}

// IngestionRepository persists sessions, rows and listings
type IngestionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error

	// ReplaceRows atomically swaps every row of a session
	ReplaceRows(ctx context.Context, sessionID uuid.UUID, rows []SessionRow) error
	ListRows(ctx context.Context, sessionID uuid.UUID, filter RowFilter) ([]SessionRow, int, error)
	ListRowsByStatus(ctx context.Context, sessionID uuid.UUID, statuses ...RowStatus) ([]SessionRow, error)
	GetRow(ctx context.Context, sessionID uuid.UUID, rowNumber int) (*SessionRow, error)
	UpdateRow(ctx context.Context, row *SessionRow) error
	RowStatusCounts(ctx context.Context, sessionID uuid.UUID) (map[RowStatus]int, error)

	CreateListing(ctx context.Context, listing *Listing) error
}

// CatalogRepository reads the reference catalog
type CatalogRepository interface {
	ListParts(ctx context.Context) ([]Part, error)
	ListAircraft(ctx context.Context) ([]Aircraft, error)
	ListEngines(ctx context.Context) ([]Engine, error)
	GetPartByNumber(ctx context.Context, partNumber string) (*Part, error)
}
