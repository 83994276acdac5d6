package retrieval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fundlens/fundlens/internal/engine"
)

// Embedder wraps an Engine to generate text embeddings of a fixed dimension.
type Embedder struct {
	engine  engine.Engine
	model   string
	dim     int
	timeout time.Duration
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// Every call is bounded by timeout so a stalled model cannot hang ingestion.
func NewEmbedder(e engine.Engine, model string, dim int, timeout time.Duration) *Embedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Embedder{engine: e, model: model, dim: dim, timeout: timeout}
}

// Dim returns the expected embedding dimension.
func (e *Embedder) Dim() int {
	return e.dim
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(vec), e.dim)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
