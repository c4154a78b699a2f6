// Package mock provides in-memory test doubles for the memory storage
// contracts.
//
// The doubles are functional fakes: [ChatStore] really keeps turns,
// [SummaryStore] really keeps summaries, and [SemanticBackend] really keeps
// records per composite key, so orchestration tests can run a whole turn
// against them. Exported *Err fields inject failures. All mocks are safe for
// concurrent use.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
)

// ─────────────────────────────────────────────────────────────────────────────
// ChatStore
// ─────────────────────────────────────────────────────────────────────────────

// ChatStore is a functional in-memory [memory.ChatStore].
type ChatStore struct {
	mu     sync.Mutex
	nextID int
	turns  []memory.ConversationTurn

	// InsertErr is returned by Insert when non-nil.
	InsertErr error

	// FindErr is returned by FindByPair when non-nil.
	FindErr error
}

// Compile-time check.
var _ memory.ChatStore = (*ChatStore)(nil)

// Insert implements [memory.ChatStore].
func (s *ChatStore) Insert(_ context.Context, turn memory.ConversationTurn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return "", s.InsertErr
	}
	s.nextID++
	turn.ID = fmt.Sprintf("turn-%d", s.nextID)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.turns = append(s.turns, turn)
	return turn.ID, nil
}

// FindByPair implements [memory.ChatStore].
func (s *ChatStore) FindByPair(_ context.Context, userID, characterID string, order memory.Order, limit int) ([]memory.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	out := []memory.ConversationTurn{}
	for _, t := range s.turns {
		if t.UserID == userID && t.CharacterID == characterID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == memory.Descending {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteMany implements [memory.ChatStore].
func (s *ChatStore) DeleteMany(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.turns[:0]
	for _, t := range s.turns {
		if !drop[t.ID] {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	return nil
}

// Turns returns a copy of all stored turns in insertion order.
func (s *ChatStore) Turns() []memory.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Seed inserts turns directly, bypassing error injection. Useful for
// arranging history in tests.
func (s *ChatStore) Seed(turns ...memory.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		s.nextID++
		if t.ID == "" {
			t.ID = fmt.Sprintf("turn-%d", s.nextID)
		}
		s.turns = append(s.turns, t)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// SummaryStore
// ─────────────────────────────────────────────────────────────────────────────

// SummaryStore is a functional in-memory [memory.SummaryStore].
type SummaryStore struct {
	mu        sync.Mutex
	summaries map[string]*memory.RollingSummary

	// FindErr is returned by FindByPair when non-nil. Takes precedence over
	// [memory.ErrNoSummary].
	FindErr error

	// UpsertErr is returned by UpsertByPair when non-nil.
	UpsertErr error

	// Upserts counts successful UpsertByPair calls.
	Upserts int

	// Appends records the block texts passed to AppendByPair, in order.
	Appends []string

	// AppendErr is returned by AppendByPair when non-nil.
	AppendErr error
}

// Compile-time checks.
var (
	_ memory.SummaryStore  = (*SummaryStore)(nil)
	_ memory.BlockAppender = (*SummaryStore)(nil)
)

// FindByPair implements [memory.SummaryStore].
func (s *SummaryStore) FindByPair(_ context.Context, userID, characterID string) (*memory.RollingSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	sum, ok := s.summaries[memory.PairKey(userID, characterID)]
	if !ok {
		return nil, memory.ErrNoSummary
	}
	cp := *sum
	return &cp, nil
}

// UpsertByPair implements [memory.SummaryStore].
func (s *SummaryStore) UpsertByPair(_ context.Context, userID, characterID, summaryText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if s.summaries == nil {
		s.summaries = map[string]*memory.RollingSummary{}
	}
	s.summaries[memory.PairKey(userID, characterID)] = &memory.RollingSummary{
		UserID:      userID,
		CharacterID: characterID,
		SummaryText: summaryText,
		UpdatedAt:   time.Now().UTC(),
	}
	s.Upserts++
	return nil
}

// AppendByPair implements [memory.BlockAppender]. Blocks are joined with
// blank lines into the pair's SummaryText, matching the concatenation the
// postgres store performs.
func (s *SummaryStore) AppendByPair(_ context.Context, userID, characterID, blockText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if s.summaries == nil {
		s.summaries = map[string]*memory.RollingSummary{}
	}
	key := memory.PairKey(userID, characterID)
	if existing, ok := s.summaries[key]; ok {
		existing.SummaryText += "\n\n" + blockText
		existing.UpdatedAt = time.Now().UTC()
	} else {
		s.summaries[key] = &memory.RollingSummary{
			UserID:      userID,
			CharacterID: characterID,
			SummaryText: blockText,
			UpdatedAt:   time.Now().UTC(),
		}
	}
	s.Appends = append(s.Appends, blockText)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SemanticBackend
// ─────────────────────────────────────────────────────────────────────────────

// SemanticBackend is a functional in-memory [memory.SemanticBackend].
//
// Search scores records by naive substring overlap unless SearchResults is
// set, in which case that canned slice is returned for every query.
type SemanticBackend struct {
	mu      sync.Mutex
	nextID  int
	records map[string][]memory.MemoryRecord // by composite key

	// SearchResults, when non-nil, is returned verbatim by Search.
	SearchResults []memory.SearchResult

	// AddErr is returned by Add when non-nil.
	AddErr error

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// ListErr is returned by ListAll when non-nil.
	ListErr error

	// DeleteErr is returned by DeleteByID when non-nil. FailDeleteIDs limits
	// the failure to specific record IDs, for continue-on-error tests.
	DeleteErr     error
	FailDeleteIDs map[string]bool
}

// Compile-time check.
var _ memory.SemanticBackend = (*SemanticBackend)(nil)

// Add implements [memory.SemanticBackend].
func (b *SemanticBackend) Add(_ context.Context, key, text string, meta memory.RecordMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.AddErr != nil {
		return b.AddErr
	}
	if b.records == nil {
		b.records = map[string][]memory.MemoryRecord{}
	}
	b.nextID++
	b.records[key] = append(b.records[key], memory.MemoryRecord{
		ID:       fmt.Sprintf("mem-%d", b.nextID),
		Text:     text,
		Metadata: meta,
	})
	return nil
}

// Search implements [memory.SemanticBackend].
func (b *SemanticBackend) Search(_ context.Context, key, query string, limit int) ([]memory.SearchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SearchErr != nil {
		return nil, b.SearchErr
	}
	if b.SearchResults != nil {
		out := make([]memory.SearchResult, len(b.SearchResults))
		copy(out, b.SearchResults)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	out := []memory.SearchResult{}
	for _, r := range b.records[key] {
		score := overlapScore(r.Text, query)
		if score > 0 {
			out = append(out, memory.SearchResult{Record: r, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListAll implements [memory.SemanticBackend].
func (b *SemanticBackend) ListAll(_ context.Context, key string) ([]memory.MemoryRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make([]memory.MemoryRecord, len(b.records[key]))
	copy(out, b.records[key])
	return out, nil
}

// DeleteByID implements [memory.SemanticBackend].
func (b *SemanticBackend) DeleteByID(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DeleteErr != nil && (b.FailDeleteIDs == nil || b.FailDeleteIDs[id]) {
		return b.DeleteErr
	}
	for key, recs := range b.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		b.records[key] = kept
	}
	return nil
}

// Count returns the number of records stored under key.
func (b *SemanticBackend) Count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records[key])
}

// overlapScore is a toy relevance metric: the fraction of query words that
// appear in text. Good enough to make fake search results ordered.
func overlapScore(text, query string) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// ─────────────────────────────────────────────────────────────────────────────
// UserStore
// ─────────────────────────────────────────────────────────────────────────────

// UserStore is a map-backed [memory.UserStore].
type UserStore struct {
	mu sync.Mutex

	// Profiles maps userID to profile. Unknown IDs yield (nil, nil).
	Profiles map[string]*memory.Profile

	// FindErr is returned by FindByID when non-nil.
	FindErr error
}

// Compile-time check.
var _ memory.UserStore = (*UserStore)(nil)

// FindByID implements [memory.UserStore].
func (s *UserStore) FindByID(_ context.Context, userID string) (*memory.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return nil, s.FindErr
	}
	p, ok := s.Profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
