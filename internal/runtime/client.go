// Package runtime provides the HTTP client for the local LLM runtime.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Error kinds surfaced by the runtime client. Callers reduce these to
// defaults on the hot path; nothing here propagates to end users.
var (
	// ErrUnavailable indicates a transport-level failure reaching the runtime.
	ErrUnavailable = errors.New("runtime unavailable")

	// ErrTimeout indicates the configured deadline elapsed.
	ErrTimeout = errors.New("runtime timeout")

	// ErrInvalidResponse indicates a shape or dimension mismatch in the reply.
	ErrInvalidResponse = errors.New("invalid runtime response")
)

const errBodySnippetLen = 512

// Config holds configuration for the runtime client.
type Config struct {
	BaseURL      string
	EmbedModel   string
	EmbeddingDim int
}

// Client talks JSON-over-HTTP to the local LLM runtime (Ollama-compatible).
// Retries are the caller's policy; the client performs exactly one round
// trip per call.
type Client struct {
	http    *http.Client
	baseURL string
	model   string
	dim     int

	// healthy tracks connectivity for once-per-transition logging.
	healthy atomic.Bool
}

// NewClient creates a runtime client. Per-call deadlines come from the
// caller's context, so the underlying http.Client carries no timeout.
func NewClient(cfg Config) *Client {
	c := &Client{
		http:    &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.EmbedModel,
		dim:     cfg.EmbeddingDim,
	}
	c.healthy.Store(true)
	return c
}

// Dimensions returns the expected embedding vector size.
func (c *Client) Dimensions() int {
	return c.dim
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Embed generates an embedding for a single non-empty text.
// The output is the raw runtime vector; normalization is the caller's job.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidResponse)
	}
	vecs, err := c.embedRequest(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d embeddings for 1 input", ErrInvalidResponse, len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one round trip.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: empty input in batch", ErrInvalidResponse)
		}
	}
	vecs, err := c.embedRequest(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrInvalidResponse, len(vecs), len(texts))
	}
	return vecs, nil
}

func (c *Client) embedRequest(ctx context.Context, input any) ([][]float32, error) {
	var resp embedResponse
	err := c.post(ctx, "/api/embed", embedRequest{Model: c.model, Input: input}, &resp)
	if err != nil {
		return nil, err
	}

	for i, v := range resp.Embeddings {
		if len(v) != c.dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrInvalidResponse, i, len(v), c.dim)
		}
	}
	return resp.Embeddings, nil
}

// Generate submits a prompt and returns the full (non-streamed) response
// text. When jsonFormat is set, the runtime is asked for a JSON reply.
func (c *Client) Generate(ctx context.Context, model, prompt string, jsonFormat bool) (string, error) {
	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}
	if jsonFormat {
		req.Format = "json"
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	if !resp.Done {
		return "", fmt.Errorf("%w: generation did not complete", ErrInvalidResponse)
	}
	return resp.Response, nil
}

// post performs one JSON round trip and classifies transport failures.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		kind := ErrUnavailable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = ErrTimeout
		}
		c.markUnhealthy(path, err)
		return fmt.Errorf("%w: %s: %v", kind, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodySnippetLen))
		c.markUnhealthy(path, fmt.Errorf("status %d", resp.StatusCode))
		return fmt.Errorf("%w: %s status %d: %s",
			ErrUnavailable, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	c.markHealthy()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

// markUnhealthy logs the healthy→unhealthy transition exactly once to
// avoid log floods while the runtime is down.
func (c *Client) markUnhealthy(path string, err error) {
	if c.healthy.CompareAndSwap(true, false) {
		log.Warn().Err(err).Str("path", path).Str("baseUrl", c.baseURL).
			Msg("LLM runtime became unreachable")
	}
}

func (c *Client) markHealthy() {
	if c.healthy.CompareAndSwap(false, true) {
		log.Info().Str("baseUrl", c.baseURL).Msg("LLM runtime reachable again")
	}
}

// Healthy reports the last observed connectivity state.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// WithTimeout derives a per-call context honoring the independent
// deadline contract: a branch's deadline never aborts the other branch.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
