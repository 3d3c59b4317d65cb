package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/matcher"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/parser"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
)

// IngestionServiceName is the fully-qualified Connect service name
const IngestionServiceName = "skyparts.ingestion.v1.IngestionService"

// Procedure paths served by IngestionRPC
const (
	CreateSessionProcedure  = "/" + IngestionServiceName + "/CreateSession"
	GetSessionProcedure     = "/" + IngestionServiceName + "/GetSession"
	ParseSessionProcedure   = "/" + IngestionServiceName + "/ParseSession"
	AutoMapProcedure        = "/" + IngestionServiceName + "/AutoMap"
	ConfirmMappingProcedure = "/" + IngestionServiceName + "/ConfirmMapping"
	ReopenMappingProcedure  = "/" + IngestionServiceName + "/ReopenMapping"
	RunMatchingProcedure    = "/" + IngestionServiceName + "/RunMatching"
	RunImportProcedure      = "/" + IngestionServiceName + "/RunImport"
	ListRowsProcedure       = "/" + IngestionServiceName + "/ListRows"
	UpdateRowProcedure      = "/" + IngestionServiceName + "/UpdateRow"
	SuggestPartsProcedure   = "/" + IngestionServiceName + "/SuggestParts"
	ExportRowsProcedure     = "/" + IngestionServiceName + "/ExportRows"
)

// JSONCodec carries plain Go structs over the Connect protocol as JSON
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CreateSessionRequest uploads a file inline. Content is base64 in JSON.
type CreateSessionRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	SheetName   string `json:"sheetName,omitempty"`
	Content     []byte `json:"content"`
}

// SessionRequest addresses one session
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type AutoMapRequest struct {
	SessionID string              `json:"sessionId"`
	Headers   []string            `json:"headers,omitempty"`
	Samples   []map[string]string `json:"samples,omitempty"`
}

type ConfirmMappingRequest struct {
	SessionID string                     `json:"sessionId"`
	Mappings  []repository.ColumnMapping `json:"mappings"`
}

type ListRowsRequest struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
}

type UpdateRowRequest struct {
	SessionID  string            `json:"sessionId"`
	RowNumber  int               `json:"rowNumber"`
	MappedData map[string]string `json:"mappedData"`
}

type SuggestPartsRequest struct {
	SessionID string `json:"sessionId"`
	RowNumber int    `json:"rowNumber"`
	Limit     int    `json:"limit,omitempty"`
}

type SuggestPartsResponse struct {
	Suggestions []matcher.Suggestion `json:"suggestions"`
}

type ExportRowsRequest struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status,omitempty"`
}

type ExportRowsResponse struct {
	Filename string `json:"filename"`
	CSV      []byte `json:"csv"`
}

// IngestionRPC serves the ingestion pipeline as a Connect service. It mirrors the
// REST routes one procedure per route.
type IngestionRPC struct {
	svc            IngestionService
	files          Uploader
	auth           *Authenticator
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewIngestionRPC creates the Connect service
func NewIngestionRPC(svc IngestionService, files Uploader, auth *Authenticator, maxUploadBytes int64, logger *slog.Logger) *IngestionRPC {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionRPC{svc: svc, files: files, auth: auth, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Handler returns the mount path and handler for every procedure
func (h *IngestionRPC) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(h.auth.UnaryInterceptor()),
	}
	if h.maxUploadBytes > 0 {
		// base64 inflates the upload by a third
		opts = append(opts, connect.WithReadMaxBytes(int(h.maxUploadBytes*4/3+64<<10)))
	}

	mux := http.NewServeMux()
	mux.Handle(unary(h, CreateSessionProcedure, h.createSession, opts))
	mux.Handle(unary(h, GetSessionProcedure, h.getSession, opts))
	mux.Handle(unary(h, ParseSessionProcedure, h.parseSession, opts))
	mux.Handle(unary(h, AutoMapProcedure, h.autoMap, opts))
	mux.Handle(unary(h, ConfirmMappingProcedure, h.confirmMapping, opts))
	mux.Handle(unary(h, ReopenMappingProcedure, h.reopenMapping, opts))
	mux.Handle(unary(h, RunMatchingProcedure, h.runMatching, opts))
	mux.Handle(unary(h, RunImportProcedure, h.runImport, opts))
	mux.Handle(unary(h, ListRowsProcedure, h.listRows, opts))
	mux.Handle(unary(h, UpdateRowProcedure, h.updateRow, opts))
	mux.Handle(unary(h, SuggestPartsProcedure, h.suggestParts, opts))
	mux.Handle(unary(h, ExportRowsProcedure, h.exportRows, opts))
	return "/" + IngestionServiceName + "/", mux
}

func unary[Req, Res any](
	h *IngestionRPC,
	procedure string,
	fn func(context.Context, service.Caller, *Req) (*Res, error),
	opts []connect.HandlerOption,
) (string, http.Handler) {
	return procedure, connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		caller, ok := CallerFromContext(ctx)
		if !ok {
			return nil, connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
		}
		res, err := fn(ctx, caller, req.Msg)
		if err != nil {
			return nil, h.connectError(procedure, err)
		}
		return connect.NewResponse(res), nil
	}, opts...)
}

func (h *IngestionRPC) createSession(ctx context.Context, caller service.Caller, req *CreateSessionRequest) (*repository.Session, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("filename is required"))
	}
	if len(req.Content) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("content is empty"))
	}
	if h.maxUploadBytes > 0 && int64(len(req.Content)) > h.maxUploadBytes {
		return nil, connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes))
	}

	contentType := detectContentType(req.Filename, req.ContentType)
	if _, ok := parser.FormatForMIME(contentType); !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unsupported file type: %s", contentType))
	}

	info, err := h.files.Upload(ctx, caller.UserID, req.Filename, contentType, bytes.NewReader(req.Content))
	if err != nil {
		h.logger.Error("failed to store upload", slog.Any("error", err))
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to store upload"))
	}

	return h.svc.CreateSession(ctx, caller, service.FileDescriptor{
		StoredFilename:   info.Path,
		OriginalFilename: req.Filename,
		MimeType:         contentType,
		SizeBytes:        info.Size,
		SheetName:        req.SheetName,
	})
}

func (h *IngestionRPC) getSession(ctx context.Context, caller service.Caller, req *SessionRequest) (*service.Summary, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.GetSummary(ctx, caller, id)
}

func (h *IngestionRPC) parseSession(ctx context.Context, caller service.Caller, req *SessionRequest) (*service.ParseOutcome, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.ParseSession(ctx, caller, id)
}

func (h *IngestionRPC) autoMap(ctx context.Context, caller service.Caller, req *AutoMapRequest) (*mapper.Result, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.AutoMap(ctx, caller, id, req.Headers, req.Samples)
}

func (h *IngestionRPC) confirmMapping(ctx context.Context, caller service.Caller, req *ConfirmMappingRequest) (*repository.Session, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	for i := range req.Mappings {
		if req.Mappings[i].Method == "" {
			req.Mappings[i].Method = mapper.MethodManual
		}
	}
	return h.svc.ConfirmMapping(ctx, caller, id, req.Mappings)
}

func (h *IngestionRPC) reopenMapping(ctx context.Context, caller service.Caller, req *SessionRequest) (*repository.Session, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.ReopenMapping(ctx, caller, id)
}

func (h *IngestionRPC) runMatching(ctx context.Context, caller service.Caller, req *SessionRequest) (*service.MatchSummary, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.RunMatching(ctx, caller, id)
}

func (h *IngestionRPC) runImport(ctx context.Context, caller service.Caller, req *SessionRequest) (*service.ImportSummary, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	return h.svc.RunImport(ctx, caller, id)
}

func (h *IngestionRPC) listRows(ctx context.Context, caller service.Caller, req *ListRowsRequest) (*service.RowPage, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	status, err := rowStatus(req.Status)
	if err != nil {
		return nil, err
	}
	return h.svc.ListRows(ctx, caller, id, service.RowQuery{Status: status, Page: req.Page, PageSize: req.PageSize})
}

func (h *IngestionRPC) updateRow(ctx context.Context, caller service.Caller, req *UpdateRowRequest) (*repository.SessionRow, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.RowNumber < 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid row number"))
	}
	if req.MappedData == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("mappedData is required"))
	}
	return h.svc.UpdateRow(ctx, caller, id, req.RowNumber, req.MappedData)
}

func (h *IngestionRPC) suggestParts(ctx context.Context, caller service.Caller, req *SuggestPartsRequest) (*SuggestPartsResponse, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.RowNumber < 1 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid row number"))
	}
	suggestions, err := h.svc.SuggestParts(ctx, caller, id, req.RowNumber, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SuggestPartsResponse{Suggestions: suggestions}, nil
}

func (h *IngestionRPC) exportRows(ctx context.Context, caller service.Caller, req *ExportRowsRequest) (*ExportRowsResponse, error) {
	id, err := sessionID(req.SessionID)
	if err != nil {
		return nil, err
	}
	status, err := rowStatus(req.Status)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := h.svc.ExportRows(ctx, caller, id, status, &buf); err != nil {
		return nil, err
	}
	return &ExportRowsResponse{Filename: fmt.Sprintf("session-%s-rows.csv", id), CSV: buf.Bytes()}, nil
}

// connectError maps service errors onto Connect codes; errors that are already
// Connect errors pass through
func (h *IngestionRPC) connectError(procedure string, err error) error {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	code, ok := statusCodes[errorStatus(err)]
	if !ok {
		h.logger.Error("ingestion rpc failed", slog.String("procedure", procedure), slog.Any("error", err))
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
	return connect.NewError(code, err)
}

var statusCodes = map[int]connect.Code{
	http.StatusNotFound:              connect.CodeNotFound,
	http.StatusForbidden:             connect.CodePermissionDenied,
	http.StatusConflict:              connect.CodeFailedPrecondition,
	http.StatusBadRequest:            connect.CodeInvalidArgument,
	http.StatusRequestEntityTooLarge: connect.CodeResourceExhausted,
	http.StatusUnsupportedMediaType:  connect.CodeInvalidArgument,
	http.StatusUnprocessableEntity:   connect.CodeInvalidArgument,
}

func sessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid session id"))
	}
	return id, nil
}

func rowStatus(raw string) (repository.RowStatus, error) {
	if raw == "" {
		return "", nil
	}
	status, ok := repository.ParseRowStatus(raw)
	if !ok {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown row status %q", raw))
	}
	return status, nil
}
