package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/telemetry/tracing"
	"mercator-hq/tally/pkg/usage"
)

// Defaults for HTTPProvider.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 512

	// maxResponseBytes bounds the response body read.
	maxResponseBytes = 4 << 20
)

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	// Name is used in logs, errors and metrics.
	// Default: "http"
	Name string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	Model     string
	Timeout   time.Duration
	MaxTokens int

	// Client overrides the HTTP client.
	Client *http.Client

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// HTTPProvider calls an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	config   HTTPConfig
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
}

// NewHTTPProvider creates an HTTP provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.BaseURL == "" {
		return nil, &ConfigError{Provider: cfg.Name, Field: "base_url", Message: "base URL is required"}
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, &ConfigError{Provider: cfg.Name, Field: "base_url", Message: "base URL must start with http:// or https://"}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPProvider{
		config:   cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		client:   client,
		logger:   logger.With("component", "provider", "provider", cfg.Name),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return p.config.Name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

// Invoke implements Provider. It makes exactly one attempt.
func (p *HTTPProvider) Invoke(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  buildMessages(req),
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "provider.invoke", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	tracing.SetProviderAttributes(span, p.config.Name, model)

	start := time.Now()
	resp, err := p.do(ctx, body)
	latency := time.Since(start)
	if err != nil {
		tracing.SetError(span, err, ErrorType(err))
		p.metrics.RecordProviderError(p.config.Name, ErrorType(err))
		p.logger.Warn("Provider call failed",
			"model", model,
			"latency", latency.String(),
			"error", err,
		)
		return nil, err
	}

	resp.Latency = latency
	if resp.Model == "" {
		resp.Model = model
	}
	span.SetAttributes(tracing.AttrStatusCode.Int(http.StatusOK))
	tracing.SetStatus(span, nil)
	p.metrics.RecordProviderCall(p.config.Name, resp.Model, latency)
	p.logger.Debug("Provider call succeeded",
		"model", resp.Model,
		"latency", latency.String(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

func (p *HTTPProvider) do(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	tracing.Inject(ctx, httpReq.Header)
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: p.config.Name, Message: "request failed", Cause: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout, Cause: err}
		}
		return nil, &ParseError{Provider: p.config.Name, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	switch status := httpResp.StatusCode; {
	case status >= 200 && status < 300:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{Provider: p.config.Name, Message: errorMessage(raw)}
	case status == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Provider:   p.config.Name,
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()),
			Message:    errorMessage(raw),
		}
	default:
		return nil, &ProviderError{Provider: p.config.Name, StatusCode: status, Message: errorMessage(raw)}
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, &ParseError{Provider: p.config.Name, RawResponse: truncate(string(raw), 512), Cause: err}
	}
	if len(cr.Choices) == 0 {
		return nil, &ParseError{
			Provider:    p.config.Name,
			RawResponse: truncate(string(raw), 512),
			Cause:       errors.New("response has no choices"),
		}
	}

	return &Response{
		ID:           cr.ID,
		Text:         strings.TrimSpace(cr.Choices[0].Message.Content),
		Model:        cr.Model,
		FinishReason: cr.Choices[0].FinishReason,
		Usage:        cr.Usage,
	}, nil
}

const (
	summaryPrompt = "You summarize web pages. Reply with a concise summary of the page in a few short paragraphs. " +
		"Do not invent facts that are not in the page."
	questionPrompt = "You answer questions about a web page. Use only the page content. " +
		"If the page does not contain the answer, say so."
)

func buildMessages(req *Request) []chatMessage {
	var page strings.Builder
	if req.Title != "" {
		page.WriteString("Title: " + req.Title + "\n")
	}
	if req.SourceRef != "" {
		page.WriteString("URL: " + req.SourceRef + "\n")
	}
	if page.Len() > 0 {
		page.WriteString("\n")
	}
	page.WriteString(req.Content)

	if req.Feature == usage.FeatureQuestion {
		return []chatMessage{
			{Role: "system", Content: questionPrompt},
			{Role: "user", Content: page.String() + "\n\nQuestion: " + req.Question},
		}
	}
	return []chatMessage{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: page.String()},
	}
}

// errorMessage extracts the OpenAI error message or falls back to the body.
func errorMessage(raw []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return truncate(strings.TrimSpace(string(raw)), 256)
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
