package memstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
	memmock "github.com/gauravmad/wave-length-backend/pkg/memory/mock"
)

func TestAddMessageNeverErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("success writes under composite key", func(t *testing.T) {
		backend := &memmock.SemanticBackend{}
		a := New(backend)

		if ok := a.AddMessage(ctx, "u1", "nova", "I adopted a dog", memory.SenderUser); !ok {
			t.Fatal("AddMessage = false, want true")
		}
		if got := backend.Count(memory.PairKey("u1", "nova")); got != 1 {
			t.Errorf("stored %d records, want 1", got)
		}
	})

	t.Run("backend failure returns false", func(t *testing.T) {
		backend := &memmock.SemanticBackend{AddErr: errors.New("backend down")}
		a := New(backend)

		if ok := a.AddMessage(ctx, "u1", "nova", "text", memory.SenderAI); ok {
			t.Fatal("AddMessage = true, want false on backend failure")
		}
	})
}

func TestSearchRelevant(t *testing.T) {
	ctx := context.Background()

	t.Run("filters below threshold and formats block", func(t *testing.T) {
		backend := &memmock.SemanticBackend{
			SearchResults: []memory.SearchResult{
				{Record: memory.MemoryRecord{Text: "User: likes hiking in the hills",
					Metadata: memory.RecordMetadata{Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}}, Score: 0.88},
				{Record: memory.MemoryRecord{Text: "AI: suggested the Sinhagad trail"}, Score: 0.61},
				{Record: memory.MemoryRecord{Text: "irrelevant small talk"}, Score: 0.12},
			},
		}
		a := New(backend)

		block, found := a.SearchRelevant(ctx, "u1", "nova", "hiking", 10)
		if !found {
			t.Fatal("found = false, want true")
		}
		if !strings.HasPrefix(block, "## Relevant Memories:") {
			t.Errorf("block missing header:\n%s", block)
		}
		if !strings.Contains(block, "1. likes hiking in the hills") {
			t.Errorf("role prefix not stripped:\n%s", block)
		}
		if !strings.Contains(block, "2. suggested the Sinhagad trail") {
			t.Errorf("second result missing or prefix kept:\n%s", block)
		}
		if strings.Contains(block, "irrelevant small talk") {
			t.Errorf("below-threshold result leaked into block:\n%s", block)
		}
		if !strings.Contains(block, "from Mar 1, 2026") {
			t.Errorf("timestamp missing:\n%s", block)
		}
	})

	t.Run("nothing above threshold yields sentinel", func(t *testing.T) {
		backend := &memmock.SemanticBackend{
			SearchResults: []memory.SearchResult{
				{Record: memory.MemoryRecord{Text: "weak match"}, Score: 0.05},
			},
		}
		a := New(backend)

		block, found := a.SearchRelevant(ctx, "u1", "nova", "query", 10)
		if found {
			t.Fatal("found = true, want false")
		}
		if block != NoMemoriesSentinel {
			t.Errorf("block = %q, want sentinel", block)
		}
	})

	t.Run("backend error yields sentinel not failure", func(t *testing.T) {
		backend := &memmock.SemanticBackend{SearchErr: errors.New("search down")}
		a := New(backend)

		block, found := a.SearchRelevant(ctx, "u1", "nova", "query", 10)
		if found || block != NoMemoriesSentinel {
			t.Errorf("got (%q, %v), want (sentinel, false)", block, found)
		}
	})

	t.Run("unscored results bypass threshold", func(t *testing.T) {
		// Backends emitting the bare-string response shape report no
		// relevance; those results must survive the threshold filter.
		backend := &memmock.SemanticBackend{
			SearchResults: []memory.SearchResult{
				{Record: memory.MemoryRecord{Text: "User: likes hiking"}, Unscored: true},
				{Record: memory.MemoryRecord{Text: "AI: suggested a trail"}, Unscored: true},
			},
		}
		a := New(backend)

		block, found := a.SearchRelevant(ctx, "u1", "nova", "hiking", 10)
		if !found {
			t.Fatalf("found = false, want true; block = %q", block)
		}
		if !strings.Contains(block, "1. likes hiking") || !strings.Contains(block, "2. suggested a trail") {
			t.Errorf("unscored results missing from block:\n%s", block)
		}
		if strings.Contains(block, "relevance:") {
			t.Errorf("fabricated relevance shown for unscored results:\n%s", block)
		}
	})

	t.Run("custom threshold", func(t *testing.T) {
		backend := &memmock.SemanticBackend{
			SearchResults: []memory.SearchResult{
				{Record: memory.MemoryRecord{Text: "borderline"}, Score: 0.4},
			},
		}
		a := New(backend, WithThreshold(0.5))

		if _, found := a.SearchRelevant(ctx, "u1", "nova", "q", 10); found {
			t.Error("0.4 result passed a 0.5 threshold")
		}
	})
}

func TestResetAll(t *testing.T) {
	ctx := context.Background()

	seed := func(backend *memmock.SemanticBackend, n int) {
		for i := 0; i < n; i++ {
			if err := backend.Add(ctx, memory.PairKey("u1", "nova"), "memory", memory.RecordMetadata{}); err != nil {
				t.Fatal(err)
			}
		}
	}

	t.Run("deletes everything for the pair", func(t *testing.T) {
		backend := &memmock.SemanticBackend{}
		seed(backend, 3)
		a := New(backend)

		ok, remaining := a.ResetAll(ctx, "u1", "nova")
		if !ok || remaining != 0 {
			t.Fatalf("ResetAll = (%v, %d), want (true, 0)", ok, remaining)
		}
		if got := backend.Count(memory.PairKey("u1", "nova")); got != 0 {
			t.Errorf("%d records remain", got)
		}
	})

	t.Run("second reset is a no-op", func(t *testing.T) {
		backend := &memmock.SemanticBackend{}
		seed(backend, 2)
		a := New(backend)

		a.ResetAll(ctx, "u1", "nova")
		ok, remaining := a.ResetAll(ctx, "u1", "nova")
		if !ok || remaining != 0 {
			t.Fatalf("second ResetAll = (%v, %d), want (true, 0)", ok, remaining)
		}
	})

	t.Run("continues past individual delete failures", func(t *testing.T) {
		backend := &memmock.SemanticBackend{}
		seed(backend, 3)
		backend.DeleteErr = errors.New("record locked")
		backend.FailDeleteIDs = map[string]bool{"mem-2": true}
		a := New(backend)

		ok, remaining := a.ResetAll(ctx, "u1", "nova")
		if ok {
			t.Error("ok = true despite a failed delete")
		}
		if remaining != 1 {
			t.Errorf("remaining = %d, want 1", remaining)
		}
		if got := backend.Count(memory.PairKey("u1", "nova")); got != 1 {
			t.Errorf("backend holds %d records, want 1", got)
		}
	})
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	backend := &memmock.SemanticBackend{}
	a := New(backend)

	a.AddMessage(ctx, "u1", "nova", "one", memory.SenderUser)
	a.AddMessage(ctx, "u1", "nova", "two", memory.SenderAI)
	a.AddMessage(ctx, "u2", "nova", "other pair", memory.SenderUser)

	stats, err := a.Stats(ctx, "u1", "nova")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Errorf("TotalMemories = %d, want 2", stats.TotalMemories)
	}
	if stats.CompositeKey != "user_u1_char_nova" {
		t.Errorf("CompositeKey = %q", stats.CompositeKey)
	}
}

func TestDeleteOne(t *testing.T) {
	ctx := context.Background()
	backend := &memmock.SemanticBackend{}
	a := New(backend)
	a.AddMessage(ctx, "u1", "nova", "memory", memory.SenderUser)

	records, err := a.GetAll(ctx, "u1", "nova")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if err := a.DeleteOne(ctx, records[0].ID); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if got := backend.Count(memory.PairKey("u1", "nova")); got != 0 {
		t.Errorf("%d records remain", got)
	}
}
