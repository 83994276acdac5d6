package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Index ties the Embedder to a VectorStore: it embeds text on the way in and
// embeds queries on the way out.
type Index struct {
	embedder *Embedder
	store    VectorStore
	logger   *slog.Logger
}

func NewIndex(embedder *Embedder, store VectorStore, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{embedder: embedder, store: store, logger: logger}
}

// Chunk is a piece of document text to index.
type Chunk struct {
	DocumentID string
	FundID     string
	Content    string
	Metadata   string // JSON object stored as text, may be empty
}

// Add embeds the chunks and inserts them in one atomic batch. A dimension
// mismatch or store failure leaves nothing behind.
func (x *Index) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:         uuid.NewString(),
			DocumentID: c.DocumentID,
			FundID:     c.FundID,
			Content:    c.Content,
			Embedding:  vectors[i],
			Metadata:   c.Metadata,
		}
	}

	if err := x.store.Insert(records); err != nil {
		return fmt.Errorf("inserting embeddings: %w", err)
	}
	return nil
}

// Search embeds the query and returns the top-K most similar chunks.
// Any embedding or store failure degrades to an empty result so the caller
// can still answer without context.
func (x *Index) Search(ctx context.Context, query string, topK int, filter Filter) []ScoredRecord {
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		x.logger.Warn("query embedding failed, answering without context", "error", err)
		return nil
	}

	results, err := x.store.Search(vec, topK, filter)
	if err != nil {
		x.logger.Warn("vector search failed, answering without context", "error", err)
		return nil
	}
	return results
}

// Clear removes every indexed chunk for a fund, or every indexed chunk when
// fundID is empty. Clearing a fund with no chunks is not an error.
func (x *Index) Clear(ctx context.Context, fundID string) (int, error) {
	n, err := x.store.DeleteByFund(fundID)
	if err != nil {
		return 0, fmt.Errorf("clearing embeddings for fund %q: %w", fundID, err)
	}
	return n, nil
}
