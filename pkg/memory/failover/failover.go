// Package failover wraps two [memory.SemanticBackend] implementations into
// one that prefers the primary and falls back to the secondary when the
// primary fails. The intended pairing is a hosted memory API as primary and
// a local pgvector store as secondary, so conversations keep their long-term
// memory through cloud outages.
//
// A [resilience.CircuitBreaker] guards the primary: after enough consecutive
// failures calls go straight to the secondary instead of waiting out the
// primary's timeout on every turn.
package failover

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gauravmad/wave-length-backend/internal/resilience"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
)

// Compile-time interface check.
var _ memory.SemanticBackend = (*Backend)(nil)

// Backend is a [memory.SemanticBackend] with per-call failover. Every call
// tries the primary first; on error it logs the failure, flips the degraded
// flag, and retries against the secondary. A later successful primary call
// clears the flag.
type Backend struct {
	primary   memory.SemanticBackend
	secondary memory.SemanticBackend
	breaker   *resilience.CircuitBreaker
	log       *slog.Logger
	degraded  atomic.Bool

	// onFallback, when set, is invoked once per call that fell back.
	onFallback func(op string)
}

// Option is a functional option for Backend.
type Option func(*Backend)

// WithLogger sets the logger used for fallback warnings.
func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) {
		b.log = log
	}
}

// WithFallbackHook registers fn to be called with the operation name each
// time a call falls back to the secondary. Used to feed metrics.
func WithFallbackHook(fn func(op string)) Option {
	return func(b *Backend) {
		b.onFallback = fn
	}
}

// WithBreakerConfig tunes the circuit breaker guarding the primary.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(b *Backend) {
		if cfg.Name == "" {
			cfg.Name = "memory-primary"
		}
		b.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// New constructs a failover Backend over primary and secondary.
func New(primary, secondary memory.SemanticBackend, opts ...Option) *Backend {
	b := &Backend{
		primary:   primary,
		secondary: secondary,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.breaker == nil {
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "memory-primary",
			Logger: b.log,
		})
	}
	return b
}

// Degraded reports whether the most recent call was served by the secondary.
func (b *Backend) Degraded() bool {
	return b.degraded.Load()
}

// fellBack records a primary failure before the secondary attempt.
func (b *Backend) fellBack(op string, err error) {
	b.degraded.Store(true)
	b.log.Warn("primary memory backend failed, falling back",
		"op", op, "error", err)
	if b.onFallback != nil {
		b.onFallback(op)
	}
}

// Add implements [memory.SemanticBackend].
func (b *Backend) Add(ctx context.Context, key, text string, meta memory.RecordMetadata) error {
	err := b.breaker.Execute(func() error {
		return b.primary.Add(ctx, key, text, meta)
	})
	if err == nil {
		b.degraded.Store(false)
		return nil
	}
	b.fellBack("add", err)
	return b.secondary.Add(ctx, key, text, meta)
}

// Search implements [memory.SemanticBackend].
func (b *Backend) Search(ctx context.Context, key, query string, limit int) ([]memory.SearchResult, error) {
	var results []memory.SearchResult
	err := b.breaker.Execute(func() (serr error) {
		results, serr = b.primary.Search(ctx, key, query, limit)
		return serr
	})
	if err == nil {
		b.degraded.Store(false)
		return results, nil
	}
	b.fellBack("search", err)
	return b.secondary.Search(ctx, key, query, limit)
}

// ListAll implements [memory.SemanticBackend].
func (b *Backend) ListAll(ctx context.Context, key string) ([]memory.MemoryRecord, error) {
	var records []memory.MemoryRecord
	err := b.breaker.Execute(func() (lerr error) {
		records, lerr = b.primary.ListAll(ctx, key)
		return lerr
	})
	if err == nil {
		b.degraded.Store(false)
		return records, nil
	}
	b.fellBack("list_all", err)
	return b.secondary.ListAll(ctx, key)
}

// DeleteByID implements [memory.SemanticBackend].
func (b *Backend) DeleteByID(ctx context.Context, id string) error {
	err := b.breaker.Execute(func() error {
		return b.primary.DeleteByID(ctx, id)
	})
	if err == nil {
		b.degraded.Store(false)
		return nil
	}
	b.fellBack("delete", err)
	return b.secondary.DeleteByID(ctx, id)
}
