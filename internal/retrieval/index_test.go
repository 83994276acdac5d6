package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fundlens/fundlens/internal/engine"
	"github.com/fundlens/fundlens/internal/storage"
)

// embedFunc is a test Engine whose Embed is the given function. Chat and the
// lifecycle methods are never called by the retrieval package.
type embedFunc func(ctx context.Context, model, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return f(ctx, model, text)
}

func (f embedFunc) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	return "", errors.New("not implemented")
}

func (f embedFunc) IsRunning(ctx context.Context) bool             { return true }
func (f embedFunc) HasModel(ctx context.Context, name string) bool { return true }
func (f embedFunc) PullModel(ctx context.Context, name string, onProgress func(engine.PullProgress)) error {
	return nil
}

// keywordEmbed maps text to a 3-dim vector by keyword presence so similarity
// is predictable in tests.
func keywordEmbed(ctx context.Context, model, text string) ([]float32, error) {
	v := []float32{0.1, 0.1, 0.1}
	if strings.Contains(text, "capital") {
		v[0] = 1
	}
	if strings.Contains(text, "distribution") {
		v[1] = 1
	}
	if strings.Contains(text, "report") {
		v[2] = 1
	}
	return v, nil
}

func newTestIndex(t *testing.T, embed embedFunc) *Index {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	embedder := NewEmbedder(embed, "test-embed", 3, time.Second)
	return NewIndex(embedder, NewSQLiteStore(db.DB()), nil)
}

func TestIndexAddAndSearch(t *testing.T) {
	x := newTestIndex(t, keywordEmbed)
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "d1", FundID: "f1", Content: "capital call notice for Q1"},
		{DocumentID: "d1", FundID: "f1", Content: "distribution paid to partners"},
		{DocumentID: "d2", FundID: "f2", Content: "annual report summary"},
	}
	if err := x.Add(ctx, chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results := x.Search(ctx, "capital call", 2, Filter{FundID: "f1"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !strings.Contains(results[0].Content, "capital") {
		t.Errorf("top result = %q, want the capital call chunk", results[0].Content)
	}
	for _, r := range results {
		if r.FundID != "f1" {
			t.Errorf("result from fund %q leaked through filter", r.FundID)
		}
	}
}

func TestIndexAddDimensionMismatch(t *testing.T) {
	bad := embedFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		return []float32{1, 2}, nil // configured dim is 3
	})
	x := newTestIndex(t, bad)

	err := x.Add(context.Background(), []Chunk{{DocumentID: "d1", FundID: "f1", Content: "text"}})
	if err == nil {
		t.Fatal("Add with wrong embedding dimension should fail")
	}
}

func TestIndexSearchDegradesOnEmbedFailure(t *testing.T) {
	calls := 0
	flaky := embedFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("engine down")
		}
		return []float32{1, 0, 0}, nil
	})
	x := newTestIndex(t, flaky)
	ctx := context.Background()

	if err := x.Add(ctx, []Chunk{{DocumentID: "d1", FundID: "f1", Content: "text"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results := x.Search(ctx, "query", 3, Filter{})
	if results != nil {
		t.Errorf("Search with failing embedder = %v, want nil", results)
	}
}

func TestIndexClear(t *testing.T) {
	x := newTestIndex(t, keywordEmbed)
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "d1", FundID: "f1", Content: "capital"},
		{DocumentID: "d2", FundID: "f1", Content: "distribution"},
	}
	if err := x.Add(ctx, chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := x.Clear(ctx, "f1")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}

	if results := x.Search(ctx, "capital", 5, Filter{FundID: "f1"}); len(results) != 0 {
		t.Errorf("Search after Clear returned %d results", len(results))
	}

	// Clearing an already empty fund is fine.
	if _, err := x.Clear(ctx, "f1"); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestIndexClearAllFunds(t *testing.T) {
	x := newTestIndex(t, keywordEmbed)
	ctx := context.Background()

	chunks := []Chunk{
		{DocumentID: "d1", FundID: "f1", Content: "capital"},
		{DocumentID: "d2", FundID: "f2", Content: "distribution"},
	}
	if err := x.Add(ctx, chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := x.Clear(ctx, "")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2 across both funds", n)
	}

	for _, fund := range []string{"f1", "f2"} {
		if results := x.Search(ctx, "capital", 5, Filter{FundID: fund}); len(results) != 0 {
			t.Errorf("Search fund %s after Clear returned %d results", fund, len(results))
		}
	}
}
