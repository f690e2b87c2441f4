// Package generative is the fallback movie source: a chat completions client
// that asks a language model to synthesize matching movie metadata.
package generative

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/config"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resilience"
)

const (
	jsonResponseType = "json_object"
	maxResponseBytes = 1 << 20
)

type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxResults  int
	http        *http.Client
	cb          *gobreaker.CircuitBreaker
	logger      *zap.Logger
}

// NewClient builds a client for an OpenAI-compatible chat completions API.
// maxResults bounds how many movies the model is asked for.
func NewClient(cfg config.GenerativeConfig, maxResults int, logger *zap.Logger) *Client {
	return &Client{
		endpoint:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/chat/completions",
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxResults:  maxResults,
		http:        &http.Client{Timeout: cfg.RequestTimeout},
		cb:          resilience.NewCircuitBreaker("generative-llm", cfg.CircuitBreaker, logger),
		logger:      logger,
	}
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns the model's raw reply for query. The reply is not
// validated here; an empty reply is returned as the empty string.
func (c *Client) Generate(ctx context.Context, query string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "generative.generate",
		attribute.String("query_hash", observability.HashQuery(query)),
		attribute.String("model", c.model),
	)
	defer span.End()

	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(query, c.maxResults)},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	start := time.Now()
	cbResult, err := c.cb.Execute(func() (any, error) {
		return c.complete(ctx, payload)
	})
	duration := time.Since(start)

	if err != nil {
		observability.GenerativeRequestDuration.WithLabelValues("error").Observe(duration.Seconds())
		span.RecordError(err)
		return "", fmt.Errorf("generative completion: %w", err)
	}
	observability.GenerativeRequestDuration.WithLabelValues("success").Observe(duration.Seconds())

	content, _ := cbResult.(string)
	span.SetAttributes(attribute.Int("content_length", len(content)))
	return content, nil
}

func (c *Client) complete(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("decode completion envelope: %w", err)
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return "", fmt.Errorf("completion error: %s", completion.Error.Message)
	}

	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if text := strings.TrimSpace(choice.Text); text != "" {
			return text, nil
		}
	}
	if len(completion.Choices) > 0 {
		c.logger.Warn("generative reply had no content",
			zap.String("finish_reason", completion.Choices[0].FinishReason),
		)
	}
	return "", nil
}

// StatusError is returned for any non-2xx completion response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
