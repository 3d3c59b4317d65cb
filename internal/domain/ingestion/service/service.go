// Package service drives an ingestion session through parse, map, match and import.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/pkg/money"
)

var (
	ErrSessionNotFound = errors.New("ingestion session not found")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrInvalidState    = errors.New("operation not allowed in the current session state")
	ErrRowNotFound     = errors.New("session row not found")
	ErrRowImported     = errors.New("row has already been imported")
	ErrInvalidField    = errors.New("unknown target field")
)

// Caller is the identity an operation runs as
type Caller struct {
	UserID  uuid.UUID
	IsAdmin bool
	Email   string // used for notifications, may be empty
}

// FileDescriptor describes an upload already placed in the blob store
type FileDescriptor struct {
	StoredFilename   string
	OriginalFilename string
	MimeType         string
	SizeBytes        int64
	SheetName        string // spreadsheet only; empty selects the first sheet
}

// FileParser reads a stored file into rows
type FileParser interface {
	Parse(ctx context.Context, path, mimeType string, opts parser.Options) (*parser.ParseResult, error)
}

// ColumnMapper proposes a column mapping
type ColumnMapper interface {
	Map(ctx context.Context, headers []string, samples []map[string]string) *mapper.Result
}

// RowMatcher is one catalog snapshot
type RowMatcher interface {
	MatchBatch(rows []map[string]string) []matcher.BatchItem
	Suggest(text string, limit int) ([]matcher.Suggestion, error)
}

// CatalogMatcher hands out the snapshot a stage holds for its whole run
type CatalogMatcher interface {
	Snapshot(ctx context.Context) (RowMatcher, error)
}

// Notifier is told when an import finishes
type Notifier interface {
	ImportFinished(ctx context.Context, recipient string, summary *ImportSummary) error
}

// Config tunes the stages
type Config struct {
	ChunkSize        int
	MatchThreshold   float64
	DefaultCurrency  string
	DefaultCondition string
	SampleRows       int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		ChunkSize:        50,
		MatchThreshold:   0.5,
		DefaultCurrency:  money.USD,
		DefaultCondition: "AR",
		SampleRows:       5,
	}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
	untitledListing = "Untitled Listing"
)

// IngestionService orchestrates ingestion sessions
type IngestionService struct {
	repo     repository.IngestionRepository
	parser   FileParser
	mapper   ColumnMapper
	matcher  CatalogMatcher
	notifier Notifier // Optional: nil disables import notifications
	metrics  *Metrics // Optional: nil disables metrics
	tracer   trace.Tracer
	config   Config
	logger   *slog.Logger
}

// NewIngestionService creates the service
func NewIngestionService(
	repo repository.IngestionRepository,
	p FileParser,
	m ColumnMapper,
	cm CatalogMatcher,
	config Config,
	logger *slog.Logger,
) *IngestionService {
	def := DefaultConfig()
	if config.ChunkSize <= 0 {
		config.ChunkSize = def.ChunkSize
	}
	if config.MatchThreshold <= 0 {
		config.MatchThreshold = def.MatchThreshold
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = def.DefaultCurrency
	}
	if config.DefaultCondition == "" {
		config.DefaultCondition = def.DefaultCondition
	}
	if config.SampleRows <= 0 {
		config.SampleRows = def.SampleRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{
		repo:    repo,
		parser:  p,
		mapper:  m,
		matcher: cm,
		tracer:  otel.Tracer("skyparts-market/ingestion"),
		config:  config,
		logger:  logger,
	}
}

// WithNotifier adds import-finished notifications
func (s *IngestionService) WithNotifier(n Notifier) *IngestionService {
	s.notifier = n
	return s
}

// WithMetrics adds Prometheus instrumentation
func (s *IngestionService) WithMetrics(m *Metrics) *IngestionService {
	s.metrics = m
	return s
}

// WithTracer replaces the global otel tracer
func (s *IngestionService) WithTracer(t trace.Tracer) *IngestionService {
	s.tracer = t
	return s
}

// loadSession fetches a session and enforces ownership
func (s *IngestionService) loadSession(ctx context.Context, caller Caller, id uuid.UUID) (*repository.Session, error) {
	session, err := s.repo.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != caller.UserID && !caller.IsAdmin {
		return nil, ErrForbidden
	}
	return session, nil
}

// requireStatus rejects a session that is not in one of the given statuses
func requireStatus(session *repository.Session, op string, allowed ...repository.SessionStatus) error {
	for _, st := range allowed {
		if session.Status == st {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s a session in %s", ErrInvalidState, op, session.Status)
}

// transition moves the session to next and persists it
func (s *IngestionService) transition(ctx context.Context, session *repository.Session, next repository.SessionStatus) error {
	if !repository.CanTransition(session.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, session.Status, next)
	}
	prev := session.Status
	session.Status = next
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		session.Status = prev
		return fmt.Errorf("failed to update session status: %w", err)
	}
	s.logger.Info("ingestion session transitioned",
		"session_id", session.ID,
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	return nil
}
