// Package mock provides a test double for the embeddings.Provider interface.
//
// By default the mock derives a deterministic vector from the input text, so
// tests exercising similarity ranking get stable, distinguishable vectors
// without a live model. Canned results and errors can be configured for
// failure-path tests.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/gauravmad/wave-length-backend/pkg/provider/embeddings"
)

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
//
// The zero value is usable: Embed returns a deterministic 8-dimensional unit
// vector derived from the text, so identical texts embed identically and
// different texts (almost always) differ.
type Provider struct {
	mu sync.Mutex

	// EmbedResult, if non-nil, is returned by Embed instead of the derived vector.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue overrides the reported dimension. Zero means the
	// default derived-vector dimension.
	DimensionsValue int

	// ModelIDValue is returned by ModelID. Empty means "mock-embed".
	ModelIDValue string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

const derivedDims = 8

// Embed records the call and returns either the canned result or a
// deterministic vector derived from text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedResult != nil {
		return p.EmbedResult, nil
	}
	return deriveVector(text), nil
}

// EmbedBatch embeds each text via the same rules as Embed.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err() != nil {
		return nil, p.Err()
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

// Err returns the configured embed error, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.EmbedErr
}

// Dimensions returns DimensionsValue, or the derived-vector dimension.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DimensionsValue != 0 {
		return p.DimensionsValue
	}
	if p.EmbedResult != nil {
		return len(p.EmbedResult)
	}
	return derivedDims
}

// ModelID returns ModelIDValue, or "mock-embed".
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelIDValue != "" {
		return p.ModelIDValue
	}
	return "mock-embed"
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

// deriveVector hashes the text into a stable unit vector.
func deriveVector(text string) []float32 {
	vec := make([]float32, derivedDims)
	var norm float64
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		// Map the hash into [-1, 1).
		v := float64(int32(h.Sum32())) / math.MaxInt32
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
