package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
	"tradeq/internal/inference"
	"tradeq/internal/schema"
	"tradeq/internal/service"
	"tradeq/internal/store/memory"
)

type stubService struct {
	answer *domain.Answer
	err    error
	status domain.Status
	panics bool
	got    string
}

func (s *stubService) Ask(ctx context.Context, text string) (*domain.Answer, error) {
	if s.panics {
		panic("boom")
	}
	s.got = text
	return s.answer, s.err
}

func (s *stubService) Status(ctx context.Context) domain.Status { return s.status }

func serve(t *testing.T, h *Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestQueryErrorStatuses(t *testing.T) {
	routerMiss := apperrors.New(apperrors.UnknownCollection, "no handle configured for collection impexp")
	routerMiss.Config = true

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"empty input", apperrors.New(apperrors.EmptyInput, "query text is required"), http.StatusBadRequest, "empty_input"},
		{"unknown collection", apperrors.New(apperrors.UnknownCollection, "collection not valid: customers"), http.StatusUnprocessableEntity, "unknown_collection"},
		{"router miss", routerMiss, http.StatusInternalServerError, "unknown_collection"},
		{"forbidden", apperrors.New(apperrors.ForbiddenStage, "operator $out is not allowed"), http.StatusUnprocessableEntity, "forbidden_stage"},
		{"no payload", apperrors.New(apperrors.NoStructuredPayload, "no payload"), http.StatusBadGateway, "no_structured_payload"},
		{"parse", apperrors.New(apperrors.Parse, "bad json"), http.StatusBadGateway, "parse"},
		{"missing field", apperrors.New(apperrors.MissingField, "no pipeline"), http.StatusBadGateway, "missing_field"},
		{"invalid shape", apperrors.New(apperrors.InvalidShape, "bad stage"), http.StatusBadGateway, "invalid_shape"},
		{"inference down", apperrors.New(apperrors.InferenceUnavailable, "request failed"), http.StatusBadGateway, "inference_unavailable"},
		{"execution", apperrors.New(apperrors.Execution, "pipeline failed"), http.StatusInternalServerError, "execution"},
		{"untyped", context.DeadlineExceeded, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubService{err: tt.err}, nil)
			rec, out := serve(t, h, http.MethodGet, "/api/trade/query?query=x", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, out["kind"])
			assert.NotEmpty(t, out["error"])
			assert.Equal(t, rec.Header().Get(RequestIDHeader), out["request_id"])
		})
	}
}

func TestExecutionErrorIncludesStoreMessage(t *testing.T) {
	err := apperrors.Wrap(apperrors.Execution, "pipeline failed", assert.AnError)
	h := NewHandler(&stubService{err: err}, nil)
	_, out := serve(t, h, http.MethodGet, "/api/trade/query?query=x", "")
	assert.Equal(t, "pipeline failed: "+assert.AnError.Error(), out["error"])
}

func TestQueryReadsGetAndPost(t *testing.T) {
	stub := &stubService{answer: &domain.Answer{RequestID: "r1", Collection: domain.Years}}
	h := NewHandler(stub, nil)

	rec, _ := serve(t, h, http.MethodGet, "/api/trade/query?query="+url.QueryEscape("exports from india"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exports from india", stub.got)

	rec, _ = serve(t, h, http.MethodPost, "/api/trade/query", `{"query": "imports by month"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "imports by month", stub.got)

	rec, out := serve(t, h, http.MethodPost, "/api/trade/query", `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", out["kind"])
}

func TestQueryPostFallsBackToURLParameter(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"body without query", `{"limit": 5}`},
		{"blank query in body", `{"query": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubService{answer: &domain.Answer{RequestID: "r1", Collection: domain.Trades}}
			h := NewHandler(stub, nil)

			rec, _ := serve(t, h, http.MethodPost, "/api/trade/query?query="+url.QueryEscape("top ports"), tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "top ports", stub.got)
		})
	}

	stub := &stubService{answer: &domain.Answer{RequestID: "r2", Collection: domain.Trades}}
	rec, _ := serve(t, NewHandler(stub, nil), http.MethodPost, "/api/trade/query?query=ignored", `{"query": "from body"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from body", stub.got)
}

func TestQueryEndToEnd(t *testing.T) {
	india := primitive.NewObjectIDFromTimestamp(time.Unix(1700000001, 0))
	trade := primitive.NewObjectIDFromTimestamp(time.Unix(1700000002, 0))
	store := memory.NewStorage()
	store.Insert("countries", domain.Document{"_id": india, "country_name": "India"})
	store.Insert("trades", domain.Document{"_id": trade, "country_id": india, "trade_type": "Export", "value_usd": int32(10)})

	reply := `{"collection": "trades", "pipeline": [
	  {"$lookup": {"from": "countries", "localField": "country_id", "foreignField": "_id", "as": "country_doc"}},
	  {"$match": {"country_doc.country_name": "India", "trade_type": "Export"}}]}`
	svc, err := service.NewTradeQueryService(service.Options{
		Schema:   schema.Default(),
		Inferrer: inference.NewStatic(reply),
		Store:    store,
	})
	require.NoError(t, err)

	h := NewHandler(svc, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/trade/query?query=exports+from+india", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		RequestID  string           `json:"request_id"`
		Query      string           `json:"query"`
		Collection string           `json:"collection"`
		Pipeline   []map[string]any `json:"pipeline"`
		Results    []map[string]any `json:"results"`
		Count      int              `json:"count"`
		Truncated  bool             `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "req-7", out.RequestID)
	assert.Equal(t, "exports from india", out.Query)
	assert.Equal(t, "trades", out.Collection)
	require.Len(t, out.Pipeline, 2)
	assert.Contains(t, out.Pipeline[0], "$lookup")
	assert.Equal(t, 1, out.Count)
	assert.False(t, out.Truncated)
	require.Len(t, out.Results, 1)
	assert.Equal(t, trade.Hex(), out.Results[0]["_id"])
	assert.Equal(t, india.Hex(), out.Results[0]["country_id"])
	joined := out.Results[0]["country_doc"].([]any)
	assert.Equal(t, india.Hex(), joined[0].(map[string]any)["_id"])
}

func TestHealth(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	h.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	rec, out := serve(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{
		"status":    "healthy",
		"timestamp": "2024-06-01T12:00:00Z",
		"service":   "tradeq",
	}, out)
}

func TestConfigStatus(t *testing.T) {
	h := NewHandler(&stubService{status: domain.Status{
		StoreConnected: true,
		Collections:    []string{"commodities", "countries", "trades", "years"},
		Inference:      "openai:gpt-4o-mini",
		SchemaVersion:  "2024-11",
	}}, nil)
	rec, out := serve(t, h, http.MethodGet, "/api/config-status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	store := out["store"].(map[string]any)
	assert.Equal(t, true, store["connected"])
	assert.Equal(t, []any{"impexp"}, store["missing_collections"])
	assert.Equal(t, "openai:gpt-4o-mini", out["inference"])

	h = NewHandler(&stubService{status: domain.Status{StoreError: "server selection timeout"}}, nil)
	rec, out = serve(t, h, http.MethodGet, "/api/config-status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "server selection timeout", out["store"].(map[string]any)["error"])
}

func TestRecoverKeepsServing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&stubService{panics: true}, zap.New(core))

	rec, out := serve(t, h, http.MethodGet, "/api/trade/query?query=x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", out["kind"])
	assert.Len(t, logs.FilterMessage("handler panic").All(), 1)

	rec, _ = serve(t, h, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&stubService{err: apperrors.New(apperrors.EmptyInput, "query text is required")}, zap.New(core))
	serve(t, h, http.MethodGet, "/api/trade/query", "")

	entries := logs.FilterMessage("request served").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusBadRequest), fields["status"])
	assert.Equal(t, "/api/trade/query", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}
