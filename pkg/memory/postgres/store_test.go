package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/memory/postgres"
	embedmock "github.com/gauravmad/wave-length-backend/pkg/provider/embeddings/mock"
)

const testEmbeddingDim = 8

// testDSN returns the test database DSN from the environment, or skips the
// test if WAVELENGTH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("WAVELENGTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAVELENGTH_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema and
// registers cleanup to close it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range []string{"chat_turns", "summary_blocks", "memory_chunks", "users"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}

func TestChatStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	chats := store.Chats()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	texts := []string{"hey", "hello there", "how was your day"}
	for i, text := range texts {
		sender := memory.SenderUser
		if i%2 == 1 {
			sender = memory.SenderAI
		}
		id, err := chats.Insert(ctx, memory.ConversationTurn{
			UserID:      "u1",
			CharacterID: "nova",
			Sender:      sender,
			Text:        text,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		if id == "" {
			t.Fatalf("Insert %d: empty id", i)
		}
	}

	t.Run("ascending order", func(t *testing.T) {
		turns, err := chats.FindByPair(ctx, "u1", "nova", memory.Ascending, 0)
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("got %d turns, want 3", len(turns))
		}
		for i, turn := range turns {
			if turn.Text != texts[i] {
				t.Errorf("turn %d text = %q, want %q", i, turn.Text, texts[i])
			}
		}
	})

	t.Run("descending with limit", func(t *testing.T) {
		turns, err := chats.FindByPair(ctx, "u1", "nova", memory.Descending, 2)
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		if len(turns) != 2 {
			t.Fatalf("got %d turns, want 2", len(turns))
		}
		if turns[0].Text != "how was your day" {
			t.Errorf("newest turn = %q", turns[0].Text)
		}
	})

	t.Run("other pair is empty", func(t *testing.T) {
		turns, err := chats.FindByPair(ctx, "u2", "nova", memory.Ascending, 0)
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		if turns == nil || len(turns) != 0 {
			t.Fatalf("got %v, want empty non-nil slice", turns)
		}
	})

	t.Run("delete many", func(t *testing.T) {
		turns, _ := chats.FindByPair(ctx, "u1", "nova", memory.Ascending, 0)
		ids := []string{turns[0].ID, "definitely-not-a-real-id"}
		if err := chats.DeleteMany(ctx, ids); err != nil {
			t.Fatalf("DeleteMany: %v", err)
		}
		remaining, _ := chats.FindByPair(ctx, "u1", "nova", memory.Ascending, 0)
		if len(remaining) != 2 {
			t.Fatalf("got %d turns after delete, want 2", len(remaining))
		}
	})
}

func TestSummaryStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	summaries := store.Summaries()

	t.Run("absent pair returns ErrNoSummary", func(t *testing.T) {
		_, err := summaries.FindByPair(ctx, "u1", "nova")
		if !errors.Is(err, memory.ErrNoSummary) {
			t.Fatalf("got %v, want ErrNoSummary", err)
		}
	})

	t.Run("upsert then find", func(t *testing.T) {
		if err := summaries.UpsertByPair(ctx, "u1", "nova", "They met in March."); err != nil {
			t.Fatalf("UpsertByPair: %v", err)
		}
		sum, err := summaries.FindByPair(ctx, "u1", "nova")
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		if sum.SummaryText != "They met in March." {
			t.Errorf("SummaryText = %q", sum.SummaryText)
		}
		if sum.UpdatedAt.IsZero() {
			t.Error("UpdatedAt is zero")
		}
	})

	t.Run("append adds a block", func(t *testing.T) {
		if err := summaries.AppendByPair(ctx, "u1", "nova", "The user started a new job."); err != nil {
			t.Fatalf("AppendByPair: %v", err)
		}
		sum, err := summaries.FindByPair(ctx, "u1", "nova")
		if err != nil {
			t.Fatalf("FindByPair: %v", err)
		}
		want := "They met in March.\n\nThe user started a new job."
		if sum.SummaryText != want {
			t.Errorf("SummaryText = %q, want %q", sum.SummaryText, want)
		}
	})

	t.Run("upsert replaces all blocks", func(t *testing.T) {
		if err := summaries.UpsertByPair(ctx, "u1", "nova", "Compressed."); err != nil {
			t.Fatalf("UpsertByPair: %v", err)
		}
		sum, _ := summaries.FindByPair(ctx, "u1", "nova")
		if sum.SummaryText != "Compressed." {
			t.Errorf("SummaryText = %q, want %q", sum.SummaryText, "Compressed.")
		}
	})
}

func TestVectorBackend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	vectors := store.Vectors(&embedmock.Provider{})

	key := memory.PairKey("u1", "nova")
	texts := []string{
		"User: I adopted a golden retriever named Biscuit",
		"AI: Biscuit sounds adorable, how old is he?",
		"User: my sister lives in Pune",
	}
	for _, text := range texts {
		err := vectors.Add(ctx, key, text, memory.RecordMetadata{
			Sender:      memory.SenderUser,
			UserID:      "u1",
			CharacterID: "nova",
			MessageType: "chat",
		})
		if err != nil {
			t.Fatalf("Add %q: %v", text, err)
		}
	}

	t.Run("search finds exact text first", func(t *testing.T) {
		results, err := vectors.Search(ctx, key, "User: I adopted a golden retriever named Biscuit", 3)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("got %d results, want 3", len(results))
		}
		if results[0].Record.Text != texts[0] {
			t.Errorf("top result = %q, want %q", results[0].Record.Text, texts[0])
		}
		// Identical text embeds identically, so the top score is ~1.
		if results[0].Score < 0.99 {
			t.Errorf("top score = %v, want ~1", results[0].Score)
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Errorf("results not in descending score order at %d", i)
			}
		}
	})

	t.Run("other key is empty", func(t *testing.T) {
		results, err := vectors.Search(ctx, memory.PairKey("u2", "nova"), "dog", 5)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if results == nil || len(results) != 0 {
			t.Fatalf("got %v, want empty non-nil slice", results)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		records, err := vectors.ListAll(ctx, key)
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("got %d records, want 3", len(records))
		}
		if err := vectors.DeleteByID(ctx, records[0].ID); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		if err := vectors.DeleteByID(ctx, "no-such-record"); err != nil {
			t.Fatalf("DeleteByID unknown: %v", err)
		}
		remaining, _ := vectors.ListAll(ctx, key)
		if len(remaining) != 2 {
			t.Fatalf("got %d records after delete, want 2", len(remaining))
		}
	})
}

func TestUserStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("missing user is nil nil", func(t *testing.T) {
		p, err := store.Users().FindByID(ctx, "ghost")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if p != nil {
			t.Fatalf("got %+v, want nil", p)
		}
	})
}
