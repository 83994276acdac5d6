package engine

import "context"

// Engine abstracts the local inference backend behind one normalized
// interface. Both the generation and embedding capabilities of the pipeline
// go through it, so callers never deal with backend-specific response
// shapes: Chat always yields plain text, Embed always yields a vector.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's
	// response text. When jsonSchema is non-nil, structured JSON output is
	// requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the
	// specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress
	// updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
