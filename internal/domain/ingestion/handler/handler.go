// Package handler exposes the ingestion pipeline over REST and Connect RPC.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
	"github.com/FACorreiaa/skyparts-market/pkg/storage"
)

// IngestionService is the pipeline surface the handler drives
type IngestionService interface {
	CreateSession(ctx context.Context, caller service.Caller, file service.FileDescriptor) (*repository.Session, error)
	ParseSession(ctx context.Context, caller service.Caller, id uuid.UUID) (*service.ParseOutcome, error)
	AutoMap(ctx context.Context, caller service.Caller, id uuid.UUID, headers []string, samples []map[string]string) (*mapper.Result, error)
	ConfirmMapping(ctx context.Context, caller service.Caller, id uuid.UUID, mappings []repository.ColumnMapping) (*repository.Session, error)
	ReopenMapping(ctx context.Context, caller service.Caller, id uuid.UUID) (*repository.Session, error)
	RunMatching(ctx context.Context, caller service.Caller, id uuid.UUID) (*service.MatchSummary, error)
	RunImport(ctx context.Context, caller service.Caller, id uuid.UUID) (*service.ImportSummary, error)
	UpdateRow(ctx context.Context, caller service.Caller, id uuid.UUID, rowNumber int, mapped map[string]string) (*repository.SessionRow, error)
	ListRows(ctx context.Context, caller service.Caller, id uuid.UUID, q service.RowQuery) (*service.RowPage, error)
	GetSummary(ctx context.Context, caller service.Caller, id uuid.UUID) (*service.Summary, error)
	SuggestParts(ctx context.Context, caller service.Caller, id uuid.UUID, rowNumber, limit int) ([]matcher.Suggestion, error)
	ExportRows(ctx context.Context, caller service.Caller, id uuid.UUID, status repository.RowStatus, w io.Writer) error
}

// Uploader stores an uploaded file
type Uploader interface {
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*storage.FileInfo, error)
}

const multipartMemory = 10 << 20

// IngestionHandler serves /api/v1/ingestion
type IngestionHandler struct {
	svc            IngestionService
	files          Uploader
	auth           *Authenticator
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewIngestionHandler creates the handler
func NewIngestionHandler(svc IngestionService, files Uploader, auth *Authenticator, maxUploadBytes int64, logger *slog.Logger) *IngestionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionHandler{svc: svc, files: files, auth: auth, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Routes returns the authenticated ingestion router
func (h *IngestionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)

	r.Post("/sessions", h.createSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Post("/parse", h.parseSession)
		r.Post("/automap", h.autoMap)
		r.Post("/mapping", h.confirmMapping)
		r.Post("/mapping/reopen", h.reopenMapping)
		r.Post("/match", h.runMatching)
		r.Post("/import", h.runImport)
		r.Get("/rows", h.listRows)
		r.Get("/rows/export", h.exportRows)
		r.Put("/rows/{rowNumber}", h.updateRow)
		r.Get("/rows/{rowNumber}/suggestions", h.suggestParts)
	})
	return r
}

func (h *IngestionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	contentType := detectContentType(header.Filename, header.Header.Get("Content-Type"))
	if _, ok := parser.FormatForMIME(contentType); !ok {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type: %s", contentType))
		return
	}

	info, err := h.files.Upload(r.Context(), caller.UserID, header.Filename, contentType, file)
	if err != nil {
		h.logger.Error("failed to store upload", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	session, err := h.svc.CreateSession(r.Context(), caller, service.FileDescriptor{
		StoredFilename:   info.Path,
		OriginalFilename: header.Filename,
		MimeType:         contentType,
		SizeBytes:        info.Size,
		SheetName:        r.FormValue("sheet"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *IngestionHandler) getSession(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.GetSummary(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *IngestionHandler) parseSession(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	outcome, err := h.svc.ParseSession(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type autoMapRequest struct {
	Headers []string            `json:"headers"`
	Samples []map[string]string `json:"samples"`
}

func (h *IngestionHandler) autoMap(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req autoMapRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	result, err := h.svc.AutoMap(r.Context(), caller, id, req.Headers, req.Samples)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type mappingRequest struct {
	Mappings []repository.ColumnMapping `json:"mappings"`
}

func (h *IngestionHandler) confirmMapping(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i := range req.Mappings {
		if req.Mappings[i].Method == "" {
			req.Mappings[i].Method = mapper.MethodManual
		}
	}
	session, err := h.svc.ConfirmMapping(r.Context(), caller, id, req.Mappings)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *IngestionHandler) reopenMapping(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	session, err := h.svc.ReopenMapping(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *IngestionHandler) runMatching(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.RunMatching(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *IngestionHandler) runImport(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.RunImport(r.Context(), caller, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *IngestionHandler) listRows(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	status, ok := statusParam(w, r)
	if !ok {
		return
	}
	q := service.RowQuery{
		Status:   status,
		Page:     intParam(r, "page"),
		PageSize: intParam(r, "pageSize"),
	}
	page, err := h.svc.ListRows(r.Context(), caller, id, q)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *IngestionHandler) exportRows(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	status, ok := statusParam(w, r)
	if !ok {
		return
	}

	var buf strings.Builder
	if err := h.svc.ExportRows(r.Context(), caller, id, status, &buf); err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s-rows.csv"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buf.String())
}

type updateRowRequest struct {
	MappedData map[string]string `json:"mappedData"`
}

func (h *IngestionHandler) updateRow(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	rowNumber, err := strconv.Atoi(chi.URLParam(r, "rowNumber"))
	if err != nil || rowNumber < 1 {
		writeError(w, http.StatusBadRequest, "invalid row number")
		return
	}
	var req updateRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MappedData == nil {
		writeError(w, http.StatusBadRequest, "body must contain mappedData")
		return
	}
	row, err := h.svc.UpdateRow(r.Context(), caller, id, rowNumber, req.MappedData)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *IngestionHandler) suggestParts(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.target(w, r)
	if !ok {
		return
	}
	rowNumber, err := strconv.Atoi(chi.URLParam(r, "rowNumber"))
	if err != nil || rowNumber < 1 {
		writeError(w, http.StatusBadRequest, "invalid row number")
		return
	}
	suggestions, err := h.svc.SuggestParts(r.Context(), caller, id, rowNumber, intParam(r, "limit"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// target extracts the caller and session id, writing the error response itself
func (h *IngestionHandler) target(w http.ResponseWriter, r *http.Request) (service.Caller, uuid.UUID, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return service.Caller{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return service.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}

// fail maps service and parser errors to status codes
func (h *IngestionHandler) fail(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("ingestion request failed", slog.Any("error", err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrRowImported):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidField), errors.Is(err, mapper.ErrInvalidMapping),
		errors.Is(err, parser.ErrSheetNotFound), errors.Is(err, parser.ErrNoHeader):
		return http.StatusBadRequest
	case errors.Is(err, parser.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, parser.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, parser.ErrNoText), errors.Is(err, parser.ErrAIExtraction):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func statusParam(w http.ResponseWriter, r *http.Request) (repository.RowStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", true
	}
	status, ok := repository.ParseRowStatus(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown row status %q", raw))
		return "", false
	}
	return status, true
}

// intParam returns 0 for a missing or malformed query value
func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// decodeOptional decodes a JSON body if one was sent
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// detectContentType trusts a specific declared type, else falls back to the extension
func detectContentType(filename, declared string) string {
	if _, ok := parser.FormatForMIME(declared); ok {
		return declared
	}
	if t, ok := parser.MIMEForFilename(filename); ok {
		return t
	}
	if declared == "" {
		return "application/octet-stream"
	}
	return declared
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
