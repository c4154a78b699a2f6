// Package memstore adapts the raw semantic memory backend into the
// conversation-facing operations the turn pipeline needs: best-effort writes,
// threshold-filtered search rendered as a prompt section, and bulk reset.
//
// The adapter owns the policy decisions the backend must not know about:
// what relevance is "good enough" for a prompt, how retrieved memories are
// formatted, and that memory failures degrade the conversation instead of
// aborting it.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
)

// NoMemoriesSentinel is returned by [Adapter.SearchRelevant] when no stored
// memory clears the relevance threshold. Callers check the accompanying
// boolean and omit the memory section entirely rather than injecting this
// text under an empty header.
const NoMemoriesSentinel = "No relevant memories found."

// DefaultRelevanceThreshold is the minimum search score a memory needs to be
// included in a prompt. Hosted memory APIs return plenty of sub-0.3 matches
// that read as non-sequiturs in conversation.
const DefaultRelevanceThreshold = 0.3

// Stats summarises one pair's memory collection.
type Stats struct {
	TotalMemories int
	CompositeKey  string
}

// Adapter wraps a [memory.SemanticBackend] with per-pair scoping and prompt
// formatting. Safe for concurrent use.
type Adapter struct {
	backend   memory.SemanticBackend
	log       *slog.Logger
	threshold float64
}

// Option is a functional option for Adapter.
type Option func(*Adapter)

// WithLogger sets the logger for degraded-memory warnings.
func WithLogger(log *slog.Logger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// WithThreshold overrides the relevance threshold.
func WithThreshold(threshold float64) Option {
	return func(a *Adapter) {
		a.threshold = threshold
	}
}

// New constructs an Adapter over backend.
func New(backend memory.SemanticBackend, opts ...Option) *Adapter {
	a := &Adapter{
		backend:   backend,
		log:       slog.Default(),
		threshold: DefaultRelevanceThreshold,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddMessage stores one conversation message in long-term memory. It never
// returns an error: a backend failure is logged and reported as false, and
// the conversation continues without the write.
func (a *Adapter) AddMessage(ctx context.Context, userID, characterID, text string, sender memory.Sender) bool {
	key := memory.PairKey(userID, characterID)
	meta := memory.RecordMetadata{
		Sender:      sender,
		UserID:      userID,
		CharacterID: characterID,
		Timestamp:   time.Now().UTC(),
		MessageType: "chat",
	}
	if err := a.backend.Add(ctx, key, text, meta); err != nil {
		a.log.Warn("memory write failed, continuing without it",
			"key", key, "sender", sender, "error", err)
		return false
	}
	return true
}

// SearchRelevant performs a semantic search scoped to the pair and renders
// the qualifying results as a numbered prompt section. Scored results below
// the relevance threshold are dropped; unscored results always qualify,
// since their backend reported no score to filter on. When nothing
// qualifies (or the backend
// fails), it returns (NoMemoriesSentinel, false) so the caller can omit the
// section.
func (a *Adapter) SearchRelevant(ctx context.Context, userID, characterID, query string, limit int) (string, bool) {
	key := memory.PairKey(userID, characterID)

	results, err := a.backend.Search(ctx, key, query, limit)
	if err != nil {
		a.log.Warn("memory search failed, continuing without memories",
			"key", key, "error", err)
		return NoMemoriesSentinel, false
	}

	var b strings.Builder
	n := 0
	for _, r := range results {
		// Unscored results come from backend shapes that report no
		// relevance; the backend already ranked them, so they qualify.
		if !r.Unscored && r.Score < a.threshold {
			continue
		}
		n++
		if n == 1 {
			b.WriteString("## Relevant Memories:\n")
		}
		fmt.Fprintf(&b, "%d. %s", n, stripRolePrefix(r.Record.Text))
		if !r.Unscored {
			fmt.Fprintf(&b, " (relevance: %.2f", r.Score)
			if ts := r.Record.Metadata.Timestamp; !ts.IsZero() {
				fmt.Fprintf(&b, ", from %s", ts.UTC().Format("Jan 2, 2006"))
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	if n == 0 {
		return NoMemoriesSentinel, false
	}
	return strings.TrimRight(b.String(), "\n"), true
}

// GetAll returns every memory record stored for the pair.
func (a *Adapter) GetAll(ctx context.Context, userID, characterID string) ([]memory.MemoryRecord, error) {
	records, err := a.backend.ListAll(ctx, memory.PairKey(userID, characterID))
	if err != nil {
		return nil, fmt.Errorf("memstore: get all: %w", err)
	}
	return records, nil
}

// DeleteOne removes a single memory record by ID.
func (a *Adapter) DeleteOne(ctx context.Context, memoryID string) error {
	if err := a.backend.DeleteByID(ctx, memoryID); err != nil {
		return fmt.Errorf("memstore: delete %s: %w", memoryID, err)
	}
	return nil
}

// ResetAll deletes every memory record for the pair. Deletion is best-effort:
// one failed delete does not abort the rest. It returns whether the whole
// reset succeeded and how many records remain. Resetting an already-empty
// pair is a no-op reporting (true, 0).
func (a *Adapter) ResetAll(ctx context.Context, userID, characterID string) (bool, int) {
	key := memory.PairKey(userID, characterID)

	records, err := a.backend.ListAll(ctx, key)
	if err != nil {
		a.log.Warn("memory reset could not list records", "key", key, "error", err)
		return false, 0
	}

	remaining := 0
	for _, r := range records {
		if err := a.backend.DeleteByID(ctx, r.ID); err != nil {
			a.log.Warn("memory reset failed to delete record",
				"key", key, "memory_id", r.ID, "error", err)
			remaining++
		}
	}
	return remaining == 0, remaining
}

// Stats reports the pair's memory count and composite key.
func (a *Adapter) Stats(ctx context.Context, userID, characterID string) (Stats, error) {
	key := memory.PairKey(userID, characterID)
	records, err := a.backend.ListAll(ctx, key)
	if err != nil {
		return Stats{}, fmt.Errorf("memstore: stats: %w", err)
	}
	return Stats{TotalMemories: len(records), CompositeKey: key}, nil
}

// stripRolePrefix removes a leading "User:" or "AI:" role marker left over
// from older storage formats that embedded the role in the text.
func stripRolePrefix(text string) string {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range []string{"User:", "AI:"} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
	}
	return trimmed
}
