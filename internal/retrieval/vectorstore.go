package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force cosine
// similarity, which is fine for the corpus sizes a single fund administrator
// produces. An ANN-backed implementation can replace it behind this interface.
type VectorStore interface {
	// Insert adds records atomically. Either all land or none do.
	Insert(records []Record) error

	// Search returns the top-K records most similar to vector, restricted
	// by the filter.
	Search(vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// GetByIDs returns records matching the given IDs.
	GetByIDs(ctx context.Context, ids []string) ([]Record, error)

	// DeleteByFund removes every record for a fund, or every record in the
	// store when fundID is empty, and reports how many were removed.
	DeleteByFund(fundID string) (int, error)

	// DeleteByDocument removes every record a document produced.
	DeleteByDocument(documentID string) error

	// Count returns the number of stored records.
	Count() (int, error)
}

// Filter restricts a search to a fund and/or a document. Zero-value fields
// do not constrain.
type Filter struct {
	FundID     string
	DocumentID string
}

// Record is a chunk of document text with its embedding.
type Record struct {
	ID         string
	DocumentID string
	FundID     string
	Content    string
	Embedding  []float32
	Metadata   string // JSON object stored as text
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
