package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resolver"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	maxQueryLen        = 200
)

var errMissingQuery = errors.New("query is required")

type Handler struct {
	resolver *resolver.Resolver
	logger   *zap.Logger
}

func NewHandler(r *resolver.Resolver, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: r,
		logger:   logger,
	}
}

type searchRequest struct {
	Query *string `json:"query"`
}

type searchResponse struct {
	Query     string                `json:"query"`
	Status    models.Status         `json:"status"`
	Results   []models.MovieSummary `json:"results"`
	ErrorKind models.ErrorKind      `json:"error_kind,omitempty"`
	CacheHit  bool                  `json:"cache_hit"`
	TookMs    int64                 `json:"took_ms"`
}

// Search resolves one query synchronously. Failed resolutions are reported
// through the status field, not the HTTP status code.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	query, err := parseSearchQuery(r)
	if errors.Is(err, errMissingQuery) {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	query = truncateQuery(query)

	start := time.Now()
	res := h.resolver.Resolve(ctx, query, nil)
	took := time.Since(start)

	if res.Status == models.StatusFailed {
		h.logger.Warn("search resolved to failure",
			zap.String("request_id", requestID),
			zap.String("query_hash", observability.HashQuery(res.Query)),
			zap.String("error_kind", string(res.ErrorKind)),
		)
	}

	h.writeJSON(w, http.StatusOK, searchResponse{
		Query:     res.Query,
		Status:    res.Status,
		Results:   models.CloneResults(res.Results),
		ErrorKind: res.ErrorKind,
		CacheHit:  res.CacheHit,
		TookMs:    took.Milliseconds(),
	})
}

// ClearCache empties the result cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.ClearCache(r.Context()); err != nil {
		h.logger.Error("clearing result cache failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "cache_error", "Result cache could not be cleared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSearchQuery(r *http.Request) (string, error) {
	if r.Method == http.MethodPost {
		var req searchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return "", err
		}
		if req.Query == nil {
			return "", errMissingQuery
		}
		return *req.Query, nil
	}

	values := r.URL.Query()
	if !values.Has("q") {
		return "", errMissingQuery
	}
	return values.Get("q"), nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data, h.logger)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("writing json response", zap.Error(err))
	}
}
