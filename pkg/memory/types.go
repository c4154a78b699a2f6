package memory

import (
	"fmt"
	"time"
)

// Sender identifies who produced a conversation turn.
type Sender string

const (
	// SenderUser marks a turn authored by the human user.
	SenderUser Sender = "user"

	// SenderAI marks a turn authored by the AI character.
	SenderAI Sender = "ai"
)

// IsValid reports whether s is a recognised sender.
func (s Sender) IsValid() bool {
	return s == SenderUser || s == SenderAI
}

// MediaKind classifies a media reference attached to a turn.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// MediaRef points at an uploaded media object attached to a turn. In practice
// a turn carries either free text or a media reference, not both.
type MediaRef struct {
	// Kind is the media type.
	Kind MediaKind

	// URL is the location of the stored media object.
	URL string
}

// ConversationTurn is one message in a user-character dialogue. Turns are
// immutable once written: the chat store only inserts and bulk-deletes them.
//
// Timestamp is always UTC. Store implementations must normalise whatever
// representation the backing database holds into time.Time at the read
// boundary — ambiguous timestamp typing must not leak past this struct.
type ConversationTurn struct {
	// ID is the store-assigned identifier, set on read and after Insert.
	ID string

	// UserID and CharacterID form the pair identity scoping this turn.
	UserID      string
	CharacterID string

	// Sender is who authored the turn.
	Sender Sender

	// Text is the message body. Empty for media-only turns.
	Text string

	// Media is an optional image or audio reference. Nil for text turns.
	Media *MediaRef

	// Timestamp is when the turn was recorded, ascending per pair.
	Timestamp time.Time
}

// RollingSummary is the single evolving narrative summary for one
// (user, character) pair. At most one live summary exists per pair; it is
// replaced, never appended, on every update.
type RollingSummary struct {
	UserID      string
	CharacterID string

	// SummaryText is the current narrative text.
	SummaryText string

	// UpdatedAt is when the summary was last replaced.
	UpdatedAt time.Time
}

// RecordMetadata is the metadata stored alongside every [MemoryRecord].
type RecordMetadata struct {
	// Sender is who authored the remembered message.
	Sender Sender

	// UserID and CharacterID are the original pair identity. Kept in the
	// metadata even though the record is already scoped by composite key,
	// so individual records stay attributable after bulk export.
	UserID      string
	CharacterID string

	// UserName is the user's display name at write time.
	UserName string

	// Timestamp is when the remembered message was sent.
	Timestamp time.Time

	// MessageType classifies the record (e.g. "chat").
	MessageType string
}

// MemoryRecord is one semantic memory unit stored in the memory backend.
type MemoryRecord struct {
	// ID is the backend-assigned record identifier.
	ID string

	// Text is the remembered content.
	Text string

	// Metadata carries provenance for the record.
	Metadata RecordMetadata
}

// SearchResult pairs a retrieved [MemoryRecord] with its relevance score.
// Score is in [0, 1], higher is more relevant, and is produced only by
// search — it is not a stored attribute.
type SearchResult struct {
	Record MemoryRecord
	Score  float64

	// Unscored marks results from backend response shapes that carry no
	// relevance score. Consumers must not threshold-filter unscored
	// results: the backend already ranked them.
	Unscored bool
}

// Profile holds the user profile fields substituted into character prompts.
// Every field is independently optional.
type Profile struct {
	UserName     string
	Gender       string
	Age          int
	MobileNumber string
}

// PairKey derives the composite identity scoping all memory operations for a
// (user, character) pair. It is a pure function: the same inputs always
// produce the same key, and changing either input changes the key.
func PairKey(userID, characterID string) string {
	return fmt.Sprintf("user_%s_char_%s", userID, characterID)
}
