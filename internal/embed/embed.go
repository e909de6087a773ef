// Package embed converts text into fixed-dimension vectors via the Gemini
// embedding API.
//
// The package enforces the platform's degrade-gracefully contract: a
// provider failure for one chunk never aborts a batch. Callers receive a
// Result per input and decide policy: ingestion skips degraded chunks,
// retrieval falls back to keyword search when the query vector is missing.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Task hints tell the provider how the embedding will be used. Documents
// and queries are embedded differently by the Gemini models.
type Task string

const (
	// TaskDocument indexes document content.
	TaskDocument Task = "RETRIEVAL_DOCUMENT"

	// TaskQuery embeds a user query for similarity search.
	TaskQuery Task = "RETRIEVAL_QUERY"
)

const (
	// Dimension is the vector width stored in pgvector. Must match the
	// chunks table schema in db/migrations.
	Dimension int32 = 768

	// MaxInputChars caps text sent to the provider. Longer inputs are
	// truncated, never rejected.
	MaxInputChars = 8000
)

// Capabilities describes what a given embedding model generation accepts.
// Some generations take an output-dimensionality parameter and some legacy
// ones reject it, so the parameter is applied conditionally.
type Capabilities struct {
	OutputDimensionality bool
}

// modelCapabilities maps known model generations to their capabilities.
// Unknown models default to the conservative zero value.
var modelCapabilities = map[string]Capabilities{
	"gemini-embedding-001": {OutputDimensionality: true},
	"text-embedding-004":   {OutputDimensionality: false},
}

// CapabilitiesFor returns the capability flags for a model generation.
func CapabilitiesFor(model string) Capabilities {
	return modelCapabilities[strings.TrimPrefix(model, "models/")]
}

// Result is the outcome of embedding one input. A degraded result carries
// the reason instead of a vector so callers can track degradation rate
// without treating every miss as identical.
type Result struct {
	Vector []float32
	Reason string
}

// Degraded reports whether the embedding was lost to a provider failure.
func (r Result) Degraded() bool {
	return len(r.Vector) == 0
}

// contentEmbedder is the slice of the genai SDK the client depends on.
// *genai.Models satisfies it in production.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Config controls the embedding client.
type Config struct {
	// Model is the embedding model generation, e.g. "gemini-embedding-001".
	Model string

	// Capabilities overrides the built-in capability table when non-nil.
	// New model generations can be enabled from config without code changes.
	Capabilities *Capabilities

	// RequestsPerSecond bounds calls to the provider. Zero disables the
	// limiter (the provider's own rate limits still apply).
	RequestsPerSecond float64
}

// Client embeds text through the Gemini API. Safe for concurrent use.
type Client struct {
	models  contentEmbedder
	model   string
	caps    Capabilities
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates an embedding client. models is typically
// genaiClient.Models; tests pass a mock.
func NewClient(models contentEmbedder, cfg Config, logger *slog.Logger) (*Client, error) {
	if models == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	caps := CapabilitiesFor(cfg.Model)
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		models:  models,
		model:   cfg.Model,
		caps:    caps,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Embed converts one text into a vector. Provider errors, rate limits,
// and malformed responses all degrade to a Result with a reason. Embed
// never returns an error to its caller.
func (c *Client) Embed(ctx context.Context, text string, task Task) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{Reason: "empty input"}
	}
	if len(trimmed) > MaxInputChars {
		trimmed = trimmed[:MaxInputChars]
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{Reason: fmt.Sprintf("rate limiter: %v", err)}
		}
	}

	cfg := &genai.EmbedContentConfig{TaskType: string(task)}
	if c.caps.OutputDimensionality {
		dim := Dimension
		cfg.OutputDimensionality = &dim
	}

	resp, err := c.models.EmbedContent(ctx, c.model, genai.Text(trimmed), cfg)
	if err != nil {
		c.logger.Warn("embedding degraded", "model", c.model, "task", task, "error", err)
		return Result{Reason: err.Error()}
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		c.logger.Warn("embedding degraded", "model", c.model, "task", task, "error", "empty embedding response")
		return Result{Reason: "empty embedding response"}
	}

	return Result{Vector: resp.Embeddings[0].Values}
}

// EmbedBatch embeds all texts concurrently and returns one Result per
// input in the same order. A failure on one input never aborts the batch;
// latency tracks the slowest single call, not the sum.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, task Task) []Result {
	results := make([]Result, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			results[i] = c.Embed(ctx, text, task)
		}(i, text)
	}
	wg.Wait()

	return results
}

// EmbedQuery embeds a search query. Unlike Embed it returns an error,
// because the retrieval cascade cannot run without a query vector and must
// switch to its keyword fallback.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	r := c.Embed(ctx, query, TaskQuery)
	if r.Degraded() {
		return nil, fmt.Errorf("embedding query: %s", r.Reason)
	}
	return r.Vector, nil
}
