// Package embed turns text into vectors using the Gemini embedding API.
//
// The client batches requests, rate limits every attempt, and retries
// transient failures with jittered exponential backoff. Callers see
// either a full result or an error, never a partial batch.
package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/docfox/docfox/internal/log"
)

// Sentinel errors returned by the client after retries are exhausted.
var (
	ErrRateLimited   = errors.New("embed: rate limited")
	ErrUnavailable   = errors.New("embed: service unavailable")
	ErrShortResponse = errors.New("embed: response missing embeddings")
)

// modelAPI is the slice of the genai client the embedder needs.
type modelAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Config configures an embedding Client.
type Config struct {
	Model     string  // embedding model name, e.g. "gemini-embedding-001"
	Dimension int32   // requested output dimensionality
	BatchSize int     // texts per API call
	RateLimit float64 // requests per second across all callers
	Retry     RetryConfig
}

// Client embeds text batches. It is safe for concurrent use.
type Client struct {
	api     modelAPI
	model   string
	dim     int32
	batch   int
	limiter *rate.Limiter
	retry   RetryConfig
	logger  log.Logger
}

// New creates an embedding Client backed by a genai client.
func New(gc *genai.Client, cfg Config, logger log.Logger) (*Client, error) {
	if gc == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	return newClient(gc.Models, cfg, logger)
}

func newClient(api modelAPI, cfg Config, logger log.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		api:     api,
		model:   cfg.Model,
		dim:     cfg.Dimension,
		batch:   cfg.BatchSize,
		limiter: limiter,
		retry:   cfg.Retry,
		logger:  logger,
	}, nil
}

// Dimension returns the configured output dimensionality.
func (c *Client) Dimension() int { return int(c.dim) }

// EmbedBatch embeds texts in configured-size batches, preserving order.
// An empty input returns an empty result without any API call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batch {
		end := min(start+c.batch, len(texts))
		vecs, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Ping verifies the embedding API is reachable with the configured
// credentials. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.EmbedQuery(ctx, "ping")
	return err
}

// embedOnce embeds one batch with rate limiting and retry. Each attempt
// waits on the limiter so retries never bypass the request budget.
func (c *Client) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{OutputDimensionality: &c.dim}

	var lastErr error
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.api.EmbedContent(ctx, c.model, contents, cfg)
		if err == nil {
			vecs, convErr := extractVectors(resp, len(texts), int(c.dim))
			if convErr != nil {
				return nil, convErr
			}
			c.logger.Debug("embedded batch",
				"texts", len(texts),
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return vecs, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		wait := NextDelay(attempt, c.retry.InitialInterval, c.retry.MaxInterval)
		c.logger.Debug("retrying embedding after error",
			"attempt", attempt+1,
			"delay", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("%w: after %d retries (elapsed %v): %v",
		classifyExhausted(lastErr), c.retry.MaxRetries, time.Since(start).Round(time.Millisecond), lastErr)
}

// classifyExhausted maps the final transient error to a sentinel so
// callers can distinguish throttling from outages.
func classifyExhausted(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return ErrRateLimited
	}
	if err != nil && containsAny(err.Error(), "rate limit", "quota exceeded", "resource exhausted") {
		return ErrRateLimited
	}
	return ErrUnavailable
}

// extractVectors validates the response shape against the request.
func extractVectors(resp *genai.EmbedContentResponse, want, dim int) ([][]float32, error) {
	if resp == nil || len(resp.Embeddings) != want {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShortResponse, got, want)
	}
	vecs := make([][]float32, want)
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding %d is empty", ErrShortResponse, i)
		}
		if len(e.Values) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(e.Values), dim)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}
