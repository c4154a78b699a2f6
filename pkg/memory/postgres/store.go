package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/embeddings"
)

// Compile-time interface checks.
//
// ChatStore and SummaryStore both define FindByPair with different
// signatures, so they are exposed as sub-types via [Store.Chats] and
// [Store.Summaries] rather than implemented on Store directly.
var (
	_ memory.ChatStore     = (*ChatStoreImpl)(nil)
	_ memory.SummaryStore  = (*SummaryStoreImpl)(nil)
	_ memory.BlockAppender = (*SummaryStoreImpl)(nil)
	_ memory.UserStore     = (*UserStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed store. It holds a single
// [pgxpool.Pool] and exposes the per-concern implementations:
//
//   - [Store.Chats] returns a [ChatStoreImpl] implementing [memory.ChatStore]
//   - [Store.Summaries] returns a [SummaryStoreImpl] implementing
//     [memory.SummaryStore] and [memory.BlockAppender]
//   - [Store.Users] returns a [UserStoreImpl] implementing [memory.UserStore]
//   - [Store.Vectors] returns a [VectorBackend] implementing [memory.SemanticBackend]
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	chats     *ChatStoreImpl
	summaries *SummaryStoreImpl
	users     *UserStoreImpl
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		chats:     &ChatStoreImpl{pool: pool},
		summaries: &SummaryStoreImpl{pool: pool},
		users:     &UserStoreImpl{pool: pool},
	}, nil
}

// Chats returns the chat log implementation.
func (s *Store) Chats() *ChatStoreImpl { return s.chats }

// Summaries returns the rolling summary implementation.
func (s *Store) Summaries() *SummaryStoreImpl { return s.summaries }

// Users returns the user profile lookup implementation.
func (s *Store) Users() *UserStoreImpl { return s.users }

// Vectors returns a [VectorBackend] that embeds text with embedder and stores
// the vectors in this database.
func (s *Store) Vectors(embedder embeddings.Provider) *VectorBackend {
	return &VectorBackend{pool: s.pool, embedder: embedder}
}

// Ping verifies the database is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ChatStoreImpl is the chat turn log backed by the chat_turns table.
// Obtain one via [Store.Chats]. Safe for concurrent use.
type ChatStoreImpl struct {
	pool *pgxpool.Pool
}

// Insert implements [memory.ChatStore].
func (c *ChatStoreImpl) Insert(ctx context.Context, turn memory.ConversationTurn) (string, error) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	id := uuid.NewString()

	var mediaKind, mediaURL string
	if turn.Media != nil {
		mediaKind = string(turn.Media.Kind)
		mediaURL = turn.Media.URL
	}

	const q = `
		INSERT INTO chat_turns
		    (id, user_id, character_id, sender, text, media_kind, media_url, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := c.pool.Exec(ctx, q,
		id, turn.UserID, turn.CharacterID, string(turn.Sender),
		turn.Text, mediaKind, mediaURL, turn.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("chat store: insert: %w", err)
	}
	return id, nil
}

// FindByPair implements [memory.ChatStore].
func (c *ChatStoreImpl) FindByPair(ctx context.Context, userID, characterID string, order memory.Order, limit int) ([]memory.ConversationTurn, error) {
	direction := "ASC"
	if order == memory.Descending {
		direction = "DESC"
	}

	q := fmt.Sprintf(`
		SELECT id, user_id, character_id, sender, text, media_kind, media_url, timestamp
		FROM   chat_turns
		WHERE  user_id = $1 AND character_id = $2
		ORDER  BY timestamp %s`, direction)
	args := []any{userID, characterID}
	if limit > 0 {
		q += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("chat store: find by pair: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ConversationTurn, error) {
		var (
			t         memory.ConversationTurn
			sender    string
			mediaKind string
			mediaURL  string
		)
		if err := row.Scan(&t.ID, &t.UserID, &t.CharacterID, &sender, &t.Text, &mediaKind, &mediaURL, &t.Timestamp); err != nil {
			return memory.ConversationTurn{}, err
		}
		t.Sender = memory.Sender(sender)
		t.Timestamp = t.Timestamp.UTC()
		if mediaURL != "" {
			t.Media = &memory.MediaRef{Kind: memory.MediaKind(mediaKind), URL: mediaURL}
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []memory.ConversationTurn{}
	}
	return turns, nil
}

// DeleteMany implements [memory.ChatStore].
func (c *ChatStoreImpl) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.pool.Exec(ctx, `DELETE FROM chat_turns WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("chat store: delete many: %w", err)
	}
	return nil
}

// SummaryStoreImpl keeps the rolling summary as an ordered list of blocks in
// the summary_blocks table. The pair's current summary is the concatenation
// of its blocks in position order.
//
// Obtain one via [Store.Summaries]. Safe for concurrent use.
type SummaryStoreImpl struct {
	pool *pgxpool.Pool
}

// FindByPair implements [memory.SummaryStore]. The returned SummaryText joins
// all blocks with blank lines; UpdatedAt is the newest block's creation time.
func (s *SummaryStoreImpl) FindByPair(ctx context.Context, userID, characterID string) (*memory.RollingSummary, error) {
	const q = `
		SELECT block_text, created_at
		FROM   summary_blocks
		WHERE  user_id = $1 AND character_id = $2
		ORDER  BY position`
	rows, err := s.pool.Query(ctx, q, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("summary store: find by pair: %w", err)
	}
	defer rows.Close()

	var (
		blocks    []string
		updatedAt time.Time
	)
	for rows.Next() {
		var (
			text      string
			createdAt time.Time
		)
		if err := rows.Scan(&text, &createdAt); err != nil {
			return nil, fmt.Errorf("summary store: scan row: %w", err)
		}
		blocks = append(blocks, text)
		if createdAt.After(updatedAt) {
			updatedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary store: find by pair: %w", err)
	}
	if len(blocks) == 0 {
		return nil, memory.ErrNoSummary
	}

	return &memory.RollingSummary{
		UserID:      userID,
		CharacterID: characterID,
		SummaryText: strings.Join(blocks, "\n\n"),
		UpdatedAt:   updatedAt.UTC(),
	}, nil
}

// UpsertByPair implements [memory.SummaryStore]. It replaces the pair's
// entire block list with a single block holding summaryText.
func (s *SummaryStoreImpl) UpsertByPair(ctx context.Context, userID, characterID, summaryText string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("summary store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM summary_blocks WHERE user_id = $1 AND character_id = $2`,
		userID, characterID,
	); err != nil {
		return fmt.Errorf("summary store: clear blocks: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO summary_blocks (user_id, character_id, position, block_text, created_at)
		 VALUES ($1, $2, 0, $3, now())`,
		userID, characterID, summaryText,
	); err != nil {
		return fmt.Errorf("summary store: insert block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("summary store: commit: %w", err)
	}
	return nil
}

// AppendByPair implements [memory.BlockAppender].
func (s *SummaryStoreImpl) AppendByPair(ctx context.Context, userID, characterID, blockText string) error {
	const q = `
		INSERT INTO summary_blocks (user_id, character_id, position, block_text, created_at)
		SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3, now()
		FROM   summary_blocks
		WHERE  user_id = $1 AND character_id = $2`
	if _, err := s.pool.Exec(ctx, q, userID, characterID, blockText); err != nil {
		return fmt.Errorf("summary store: append block: %w", err)
	}
	return nil
}

// UserStoreImpl is the user profile lookup backed by the users table.
// Obtain one via [Store.Users]. Safe for concurrent use.
type UserStoreImpl struct {
	pool *pgxpool.Pool
}

// FindByID implements [memory.UserStore].
func (u *UserStoreImpl) FindByID(ctx context.Context, userID string) (*memory.Profile, error) {
	const q = `
		SELECT user_name, gender, age, mobile_number
		FROM   users
		WHERE  id = $1`

	var p memory.Profile
	err := u.pool.QueryRow(ctx, q, userID).Scan(&p.UserName, &p.Gender, &p.Age, &p.MobileNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user store: find by id: %w", err)
	}
	return &p, nil
}
