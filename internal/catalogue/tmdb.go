// Package catalogue is the primary movie source: a thin TMDB search client.
package catalogue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resilience"
)

const maxResponseBytes = 512 * 1024

type Client struct {
	baseURL      string
	imageBaseURL string
	apiKey       string
	accessToken  string
	language     string
	includeAdult bool
	http         *http.Client
	limiter      *rate.Limiter
	cb           *gobreaker.CircuitBreaker
	retryCfg     resilience.RetryConfig
	logger       *zap.Logger
}

func NewClient(cfg config.CatalogueConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		imageBaseURL: strings.TrimRight(strings.TrimSpace(cfg.ImageBaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		accessToken:  strings.TrimSpace(cfg.AccessToken),
		language:     cfg.Language,
		includeAdult: cfg.IncludeAdult,
		http:         &http.Client{Timeout: cfg.RequestTimeout},
		limiter:      rate.NewLimiter(limit, burst),
		cb:           resilience.NewCircuitBreaker("catalogue-tmdb", cfg.CircuitBreaker, logger),
		retryCfg:     resilience.RetryConfigFrom(cfg.Retry),
		logger:       logger,
	}
}

type searchResponse struct {
	Page         int           `json:"page"`
	Results      []movieResult `json:"results"`
	TotalResults int           `json:"total_results"`
}

type movieResult struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	PosterPath  string  `json:"poster_path"`
	VoteAverage float64 `json:"vote_average"`
	Overview    string  `json:"overview"`
}

// Search returns at most pageSize movies matching query. An empty slice
// means the catalogue has no match; any transport or status failure is an
// error.
func (c *Client) Search(ctx context.Context, query string, pageSize int) ([]models.MovieSummary, error) {
	ctx, span := observability.StartSpan(ctx, "catalogue.search",
		attribute.String("query_hash", observability.HashQuery(query)),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	start := time.Now()
	cbResult, err := c.cb.Execute(func() (any, error) {
		var results []models.MovieSummary
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			var execErr error
			results, execErr = c.executeSearch(ctx, query)
			return execErr
		})
		return results, retryErr
	})
	duration := time.Since(start)

	if err != nil {
		observability.CatalogueRequestDuration.WithLabelValues("error").Observe(duration.Seconds())
		span.RecordError(err)
		return nil, fmt.Errorf("catalogue search: %w", err)
	}
	observability.CatalogueRequestDuration.WithLabelValues("success").Observe(duration.Seconds())

	results, _ := cbResult.([]models.MovieSummary)
	if len(results) > pageSize {
		results = results[:pageSize]
	}
	if results == nil {
		results = []models.MovieSummary{}
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results, nil
}

func (c *Client) executeSearch(ctx context.Context, query string) ([]models.MovieSummary, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{
		"query":         {query},
		"include_adult": {strconv.FormatBool(c.includeAdult)},
		"page":          {"1"},
	}
	if c.language != "" {
		params.Set("language", c.language)
	}

	var resp searchResponse
	if err := c.getJSON(ctx, "/search/movie", params, &resp); err != nil {
		return nil, err
	}

	results := make([]models.MovieSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		results = append(results, c.toSummary(r))
	}
	return results, nil
}

// HealthCheck verifies the API is reachable and the credentials are accepted.
func (c *Client) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/configuration", url.Values{}, &out)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if c.accessToken == "" && c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	reqURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build tmdb request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read tmdb response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}

func (c *Client) toSummary(r movieResult) models.MovieSummary {
	summary := models.MovieSummary{
		ID:          strconv.FormatInt(r.ID, 10),
		Title:       strings.TrimSpace(r.Title),
		ReleaseDate: r.ReleaseDate,
		Rating:      r.VoteAverage,
		Overview:    r.Overview,
	}
	if r.PosterPath != "" && c.imageBaseURL != "" {
		summary.PosterURL = c.imageBaseURL + "/" + strings.TrimLeft(r.PosterPath, "/")
	}
	return summary
}

// StatusError is returned for any non-200 TMDB response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb HTTP %d: %s", e.Code, e.Body)
}

