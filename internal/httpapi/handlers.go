// Package httpapi exposes the query service over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
	"tradeq/internal/plan"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "tradeq"

// Handler holds HTTP handlers for the trade query API.
type Handler struct {
	svc    domain.QueryService
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new Handler backed by the given service.
func NewHandler(svc domain.QueryService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/trade/query", h.handleQuery)
	mux.HandleFunc("POST /api/trade/query", h.handleQuery)

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/config-status", h.handleConfigStatus)
}

// Routes returns the API wrapped in request-id, logging and recovery middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.withRequestID(h.withRecover(h.withAccessLog(mux)))
}

// QueryResponse is the success body of the query endpoint.
type QueryResponse struct {
	RequestID  string            `json:"request_id"`
	Query      string            `json:"query"`
	Collection string            `json:"collection"`
	Pipeline   json.RawMessage   `json:"pipeline"`
	Results    []domain.Document `json:"results"`
	Count      int               `json:"count"`
	Truncated  bool              `json:"truncated"`
	ElapsedMS  int64             `json:"elapsed_ms"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := domain.RequestID(r.Context())

	query := r.URL.Query().Get("query")
	if r.Method == http.MethodPost {
		var req struct {
			Query string `json:"query"`
		}
		// An empty body or a body without "query" keeps the URL parameter.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error(), id)
			return
		}
		if req.Query != "" {
			query = req.Query
		}
	}

	answer, err := h.svc.Ask(r.Context(), query)
	if err != nil {
		status, kind := statusFor(err)
		writeError(w, status, kind, publicMessage(err), id)
		return
	}

	resp, err := NewQueryResponse(answer)
	if err != nil {
		h.logger.Error("render pipeline", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", id)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// NewQueryResponse converts an answer into its wire form.
func NewQueryResponse(a *domain.Answer) (QueryResponse, error) {
	rendered, err := plan.Render(a.Pipeline)
	if err != nil {
		return QueryResponse{}, err
	}
	results := a.Results
	if results == nil {
		results = []domain.Document{}
	}
	return QueryResponse{
		RequestID:  a.RequestID,
		Query:      a.Query,
		Collection: a.Collection.String(),
		Pipeline:   json.RawMessage(rendered),
		Results:    results,
		Count:      len(results),
		Truncated:  a.Truncated,
		ElapsedMS:  a.Elapsed.Milliseconds(),
	}, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
	})
}

func (h *Handler) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status(r.Context())
	var missing []string
	for _, c := range domain.AllCollections() {
		if !slices.Contains(st.Collections, c.String()) {
			missing = append(missing, c.String())
		}
	}
	status := http.StatusOK
	if !st.StoreConnected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"store": map[string]any{
			"connected":           st.StoreConnected,
			"error":               st.StoreError,
			"collections":         st.Collections,
			"missing_collections": missing,
		},
		"inference":      st.Inference,
		"schema_version": st.SchemaVersion,
	})
}

// statusFor maps an error kind to an HTTP status. Router misses are wiring
// faults and report 500 even though they share the unknown_collection kind.
func statusFor(err error) (int, string) {
	e, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}
	switch e.Kind {
	case apperrors.EmptyInput:
		return http.StatusBadRequest, string(e.Kind)
	case apperrors.UnknownCollection:
		if e.Config {
			return http.StatusInternalServerError, string(e.Kind)
		}
		return http.StatusUnprocessableEntity, string(e.Kind)
	case apperrors.ForbiddenStage:
		return http.StatusUnprocessableEntity, string(e.Kind)
	case apperrors.InferenceUnavailable, apperrors.NoStructuredPayload, apperrors.Parse,
		apperrors.MissingField, apperrors.InvalidShape:
		return http.StatusBadGateway, string(e.Kind)
	case apperrors.Execution:
		return http.StatusInternalServerError, string(e.Kind)
	}
	return http.StatusInternalServerError, string(e.Kind)
}

// publicMessage returns the error message. Store and parser causes are
// included; inference transport causes stay in the logs.
func publicMessage(err error) string {
	e, ok := apperrors.As(err)
	if !ok {
		return "internal error"
	}
	if e.Err != nil && (e.Kind == apperrors.Execution || e.Kind == apperrors.Parse) {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message, requestID string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"kind":       kind,
		"request_id": requestID,
	})
}
