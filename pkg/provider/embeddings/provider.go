// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text strings to dense float32 vectors (e.g.
// OpenAI text-embedding-3 or a local Ollama model). The memory layer uses
// these vectors to retrieve conversation snippets relevant to the current
// user message.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors produced by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different models
// must never be compared in the same similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or
	// ctx is cancelled. Text is passed through verbatim; any model-specific
	// formatting is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. On error the entire result is nil;
	// partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, determined by the underlying model.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small"). Useful for logging and for detecting
	// model drift between a stored index and the live provider.
	ModelID() string
}
