package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ memory.SemanticBackend = (*VectorBackend)(nil)

// VectorBackend implements [memory.SemanticBackend] on the memory_chunks
// table with a pgvector HNSW index. Text is embedded through the configured
// embeddings provider at write and search time.
//
// Obtain one via [Store.Vectors]. Safe for concurrent use.
type VectorBackend struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Add implements [memory.SemanticBackend].
func (v *VectorBackend) Add(ctx context.Context, key, text string, meta memory.RecordMetadata) error {
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("vector backend: embed: %w", err)
	}

	ts := meta.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	const q = `
		INSERT INTO memory_chunks
		    (id, pair_key, text, embedding, sender, user_id, character_id, user_name, message_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = v.pool.Exec(ctx, q,
		uuid.NewString(), key, text, pgvector.NewVector(vec),
		string(meta.Sender), meta.UserID, meta.CharacterID,
		meta.UserName, meta.MessageType, ts,
	)
	if err != nil {
		return fmt.Errorf("vector backend: add: %w", err)
	}
	return nil
}

// Search implements [memory.SemanticBackend]. Results are ordered by
// descending score, where score = 1 - cosine distance clamped to [0, 1].
func (v *VectorBackend) Search(ctx context.Context, key, query string, limit int) ([]memory.SearchResult, error) {
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector backend: embed query: %w", err)
	}

	const q = `
		SELECT id, text, sender, user_id, character_id, user_name, message_type, timestamp,
		       embedding <=> $1 AS distance
		FROM   memory_chunks
		WHERE  pair_key = $2
		ORDER  BY distance
		LIMIT  $3`
	rows, err := v.pool.Query(ctx, q, pgvector.NewVector(vec), key, limit)
	if err != nil {
		return nil, fmt.Errorf("vector backend: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SearchResult, error) {
		var (
			r        memory.SearchResult
			sender   string
			distance float64
		)
		if err := row.Scan(
			&r.Record.ID,
			&r.Record.Text,
			&sender,
			&r.Record.Metadata.UserID,
			&r.Record.Metadata.CharacterID,
			&r.Record.Metadata.UserName,
			&r.Record.Metadata.MessageType,
			&r.Record.Metadata.Timestamp,
			&distance,
		); err != nil {
			return memory.SearchResult{}, err
		}
		r.Record.Metadata.Sender = memory.Sender(sender)
		r.Record.Metadata.Timestamp = r.Record.Metadata.Timestamp.UTC()
		r.Score = clampScore(1 - distance)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector backend: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// ListAll implements [memory.SemanticBackend].
func (v *VectorBackend) ListAll(ctx context.Context, key string) ([]memory.MemoryRecord, error) {
	const q = `
		SELECT id, text, sender, user_id, character_id, user_name, message_type, timestamp
		FROM   memory_chunks
		WHERE  pair_key = $1
		ORDER  BY timestamp`
	rows, err := v.pool.Query(ctx, q, key)
	if err != nil {
		return nil, fmt.Errorf("vector backend: list all: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.MemoryRecord, error) {
		var (
			r      memory.MemoryRecord
			sender string
		)
		if err := row.Scan(
			&r.ID,
			&r.Text,
			&sender,
			&r.Metadata.UserID,
			&r.Metadata.CharacterID,
			&r.Metadata.UserName,
			&r.Metadata.MessageType,
			&r.Metadata.Timestamp,
		); err != nil {
			return memory.MemoryRecord{}, err
		}
		r.Metadata.Sender = memory.Sender(sender)
		r.Metadata.Timestamp = r.Metadata.Timestamp.UTC()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector backend: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.MemoryRecord{}
	}
	return records, nil
}

// DeleteByID implements [memory.SemanticBackend]. Deleting an unknown ID is
// not an error.
func (v *VectorBackend) DeleteByID(ctx context.Context, id string) error {
	if _, err := v.pool.Exec(ctx, `DELETE FROM memory_chunks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("vector backend: delete: %w", err)
	}
	return nil
}

// clampScore keeps cosine similarity scores inside [0, 1]. Float rounding in
// the distance computation can push values slightly outside the range.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
