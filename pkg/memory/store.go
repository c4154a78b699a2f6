// Package memory defines the storage contracts for the Wavelength
// conversation core:
//
//   - [ChatStore]: the append-only per-pair turn log.
//   - [SummaryStore]: the single rolling summary per pair.
//   - [SemanticBackend]: the long-term vector memory, searchable by meaning.
//   - [UserStore]: read-only user profile lookup.
//
// All interfaces are public so external packages can supply alternative
// backends (Postgres/pgvector, a hosted memory API, in-memory test doubles)
// without depending on application internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// Order selects the timestamp sort direction of a chat history query.
type Order int

const (
	// Ascending returns the oldest turns first.
	Ascending Order = iota

	// Descending returns the newest turns first.
	Descending
)

// ErrNoSummary is returned by [SummaryStore.FindByPair] when no rolling
// summary exists yet for the pair. Absence is an expected state, not a
// storage failure.
var ErrNoSummary = errors.New("memory: no summary for pair")

// ChatStore is the per-pair conversation log. Turns are immutable: the store
// supports insertion and bulk deletion only, never updates.
type ChatStore interface {
	// Insert appends a turn and returns its store-assigned ID. A zero
	// Timestamp is filled with the current UTC time.
	Insert(ctx context.Context, turn ConversationTurn) (string, error)

	// FindByPair returns the pair's turns sorted by timestamp in the given
	// order. limit caps the result count; 0 means no cap. Returns an empty
	// (non-nil) slice when the pair has no history.
	FindByPair(ctx context.Context, userID, characterID string, order Order, limit int) ([]ConversationTurn, error)

	// DeleteMany removes the turns with the given IDs. Unknown IDs are
	// ignored rather than reported as errors.
	DeleteMany(ctx context.Context, ids []string) error
}

// SummaryStore keeps at most one [RollingSummary] per pair.
type SummaryStore interface {
	// FindByPair returns the pair's summary, or [ErrNoSummary] when none
	// exists yet.
	FindByPair(ctx context.Context, userID, characterID string) (*RollingSummary, error)

	// UpsertByPair replaces the pair's summary text, creating the summary
	// when absent. UpdatedAt is set to the current UTC time.
	UpsertByPair(ctx context.Context, userID, characterID, summaryText string) error
}

// BlockAppender is the optional extension implemented by summary stores that
// keep an ordered list of summary blocks instead of one replaced document.
// The current summary of such a store is the chronological concatenation of
// its blocks.
type BlockAppender interface {
	// AppendByPair adds one block to the end of the pair's block list.
	AppendByPair(ctx context.Context, userID, characterID, blockText string) error
}

// SemanticBackend is the long-term vector memory, keyed by the composite
// pair identity from [PairKey]. It is deliberately narrow so that a cloud
// memory API and a local pgvector deployment are interchangeable — the
// cloud-to-local fallback pattern is part of the contract.
type SemanticBackend interface {
	// Add stores one memory record under key.
	Add(ctx context.Context, key, text string, meta RecordMetadata) error

	// Search returns up to limit records relevant to query, ordered by
	// descending Score. Returns an empty (non-nil) slice when nothing
	// matches; relevance filtering is the caller's concern.
	Search(ctx context.Context, key, query string, limit int) ([]SearchResult, error)

	// ListAll returns every record stored under key.
	ListAll(ctx context.Context, key string) ([]MemoryRecord, error)

	// DeleteByID removes one record. Deleting an unknown ID is not an error.
	DeleteByID(ctx context.Context, id string) error
}

// UserStore is the read-only profile lookup used for prompt substitution.
type UserStore interface {
	// FindByID returns the user's profile, or (nil, nil) when the user does
	// not exist — a missing profile is never fatal.
	FindByID(ctx context.Context, userID string) (*Profile, error)
}
