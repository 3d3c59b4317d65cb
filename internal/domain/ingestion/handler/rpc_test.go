package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/mapper"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
)

type rpcHarness struct {
	svc     *fakeService
	uploads *fakeUploader
	userID  uuid.UUID
	baseURL string
}

func newRPCHarness(t *testing.T, maxUpload int64) *rpcHarness {
	t.Helper()
	h := &rpcHarness{svc: &fakeService{}, uploads: &fakeUploader{}, userID: uuid.New()}
	rpc := NewIngestionRPC(h.svc, h.uploads, NewAuthenticator(testSecret, "admin", nil), maxUpload, nil)

	path, handler := rpc.Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	h.baseURL = server.URL
	return h
}

func call[Req, Res any](t *testing.T, h *rpcHarness, procedure string, msg *Req, token string) (*connect.Response[Res], error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, h.baseURL+procedure, connect.WithCodec(JSONCodec{}))
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	return client.CallUnary(context.Background(), req)
}

func (h *rpcHarness) token(t *testing.T) string {
	return signToken(t, testSecret, h.userID.String(), "seller", time.Hour)
}

func TestRPC_CreateSession(t *testing.T) {
	h := newRPCHarness(t, 1<<20)

	res, err := call[CreateSessionRequest, repository.Session](t, h, CreateSessionProcedure, &CreateSessionRequest{
		Filename:  "stock.xlsx",
		SheetName: "Inventory",
		Content:   []byte("PK\x03\x04"),
	}, h.token(t))
	require.NoError(t, err)

	assert.Equal(t, repository.SessionPending, res.Msg.Status)
	assert.Equal(t, h.userID, h.svc.caller.UserID)
	assert.Equal(t, "Inventory", h.svc.file.SheetName)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", h.svc.file.MimeType)
	assert.Equal(t, []byte("PK\x03\x04"), h.uploads.data)
}

func TestRPC_CreateSession_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  *CreateSessionRequest
		code connect.Code
	}{
		{"no filename", &CreateSessionRequest{Content: []byte("a")}, connect.CodeInvalidArgument},
		{"empty content", &CreateSessionRequest{Filename: "a.csv"}, connect.CodeInvalidArgument},
		{"unsupported type", &CreateSessionRequest{Filename: "a.png", ContentType: "image/png", Content: []byte("x")}, connect.CodeInvalidArgument},
		{"too large", &CreateSessionRequest{Filename: "a.csv", Content: make([]byte, 128)}, connect.CodeResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRPCHarness(t, 64)
			_, err := call[CreateSessionRequest, repository.Session](t, h, CreateSessionProcedure, tt.req, h.token(t))
			require.Error(t, err)
			assert.Equal(t, tt.code, connect.CodeOf(err))
			assert.Nil(t, h.uploads.data)
		})
	}
}

func TestRPC_RequiresToken(t *testing.T) {
	h := newRPCHarness(t, 0)

	_, err := call[SessionRequest, service.Summary](t, h, GetSessionProcedure, &SessionRequest{SessionID: uuid.NewString()}, "")
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call[SessionRequest, service.Summary](t, h, GetSessionProcedure, &SessionRequest{SessionID: uuid.NewString()}, "garbage")
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestRPC_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code connect.Code
	}{
		{service.ErrSessionNotFound, connect.CodeNotFound},
		{service.ErrForbidden, connect.CodePermissionDenied},
		{service.ErrInvalidState, connect.CodeFailedPrecondition},
		{mapper.ErrInvalidMapping, connect.CodeInvalidArgument},
		{assert.AnError, connect.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			h := newRPCHarness(t, 0)
			h.svc.err = tt.err
			_, err := call[SessionRequest, service.MatchSummary](t, h, RunMatchingProcedure, &SessionRequest{SessionID: uuid.NewString()}, h.token(t))
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}
}

func TestRPC_InvalidSessionID(t *testing.T) {
	h := newRPCHarness(t, 0)
	_, err := call[SessionRequest, service.ImportSummary](t, h, RunImportProcedure, &SessionRequest{SessionID: "nope"}, h.token(t))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRPC_Workflow(t *testing.T) {
	h := newRPCHarness(t, 0)
	id := uuid.NewString()
	token := h.token(t)

	mapped, err := call[ConfirmMappingRequest, repository.Session](t, h, ConfirmMappingProcedure, &ConfirmMappingRequest{
		SessionID: id,
		Mappings:  []repository.ColumnMapping{{SourceColumn: "P/N", TargetField: mapper.FieldPartNumber, Confidence: 1}},
	}, token)
	require.NoError(t, err)
	assert.Equal(t, id, mapped.Msg.ID.String())
	require.Len(t, h.svc.mappings, 1)
	assert.Equal(t, mapper.MethodManual, h.svc.mappings[0].Method)

	page, err := call[ListRowsRequest, service.RowPage](t, h, ListRowsProcedure, &ListRowsRequest{
		SessionID: id, Status: "unmatched", Page: 2, PageSize: 10,
	}, token)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Msg.Page)
	assert.Equal(t, service.RowQuery{Status: repository.RowUnmatched, Page: 2, PageSize: 10}, h.svc.query)

	row, err := call[UpdateRowRequest, repository.SessionRow](t, h, UpdateRowProcedure, &UpdateRowRequest{
		SessionID: id, RowNumber: 4, MappedData: map[string]string{"partNumber": "65-02050-5"},
	}, token)
	require.NoError(t, err)
	assert.Equal(t, 4, row.Msg.RowNumber)
	assert.Equal(t, 4, h.svc.rowNumber)

	suggestions, err := call[SuggestPartsRequest, SuggestPartsResponse](t, h, SuggestPartsProcedure, &SuggestPartsRequest{
		SessionID: id, RowNumber: 4,
	}, token)
	require.NoError(t, err)
	require.Len(t, suggestions.Msg.Suggestions, 1)
	assert.Equal(t, "65-02050-5", suggestions.Msg.Suggestions[0].Part.PartNumber)

	export, err := call[ExportRowsRequest, ExportRowsResponse](t, h, ExportRowsProcedure, &ExportRowsRequest{
		SessionID: id, Status: "MATCHED",
	}, token)
	require.NoError(t, err)
	assert.Equal(t, "session-"+id+"-rows.csv", export.Msg.Filename)
	assert.Equal(t, "row_number,status\n1,MATCHED\n", string(export.Msg.CSV))
	assert.Equal(t, repository.RowMatched, h.svc.status)

	_, err = call[ListRowsRequest, service.RowPage](t, h, ListRowsProcedure, &ListRowsRequest{SessionID: id, Status: "LOST"}, token)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
