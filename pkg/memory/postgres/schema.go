// Package postgres provides the PostgreSQL-backed implementation of the
// Wavelength memory contracts: the chat turn log, the rolling summary blocks,
// the pgvector semantic memory, and the user profile lookup.
//
// All implementations share a single [pgxpool.Pool]. The pgvector extension
// must be available in the target database; [Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.Chats().Insert(ctx, turn)
//	sum, _ := store.Summaries().FindByPair(ctx, userID, characterID)
//	vectors := store.Vectors(embedder)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatTurns = `
CREATE TABLE IF NOT EXISTS chat_turns (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    character_id  TEXT         NOT NULL,
    sender        TEXT         NOT NULL,
    text          TEXT         NOT NULL DEFAULT '',
    media_kind    TEXT         NOT NULL DEFAULT '',
    media_url     TEXT         NOT NULL DEFAULT '',
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_turns_pair_timestamp
    ON chat_turns (user_id, character_id, timestamp);
`

const ddlSummaryBlocks = `
CREATE TABLE IF NOT EXISTS summary_blocks (
    id            BIGSERIAL    PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    character_id  TEXT         NOT NULL,
    position      INT          NOT NULL,
    block_text    TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (user_id, character_id, position)
);

CREATE INDEX IF NOT EXISTS idx_summary_blocks_pair
    ON summary_blocks (user_id, character_id);
`

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT  PRIMARY KEY,
    user_name      TEXT  NOT NULL DEFAULT '',
    gender         TEXT  NOT NULL DEFAULT '',
    age            INT   NOT NULL DEFAULT 0,
    mobile_number  TEXT  NOT NULL DEFAULT ''
);
`

// ddlMemoryChunks returns the semantic memory DDL with the embedding
// dimension substituted. The dimension is baked into the column type at
// schema creation time.
func ddlMemoryChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id            TEXT         PRIMARY KEY,
    pair_key      TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    embedding     vector(%d),
    sender        TEXT         NOT NULL DEFAULT '',
    user_id       TEXT         NOT NULL DEFAULT '',
    character_id  TEXT         NOT NULL DEFAULT '',
    user_name     TEXT         NOT NULL DEFAULT '',
    message_type  TEXT         NOT NULL DEFAULT '',
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_pair_key
    ON memory_chunks (pair_key);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlChatTurns,
		ddlSummaryBlocks,
		ddlUsers,
		ddlMemoryChunks(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
