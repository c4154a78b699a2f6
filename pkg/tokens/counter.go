// Package tokens provides token counting and context-window budget arithmetic
// for the Wavelength conversation pipeline.
//
// Two [Counter] implementations are available:
//
//   - [BPECounter]: exact counts via the cl100k_base BPE encoding
//     (github.com/pkoukk/tiktoken-go), consistent with the GPT/Claude model
//     families the product targets.
//   - [HeuristicCounter]: the ~4-characters-per-token approximation. Fast,
//     dependency-free, and clearly flagged as approximate.
//
// Use [NewCounter] to get the best counter available: it returns a
// [BPECounter] and degrades to a [HeuristicCounter] when the encoding data
// cannot be loaded. Counting never fails — on any internal error both
// implementations fall back to ceil(len/4), with a minimum of 1 for non-empty
// text.
//
// All counters are safe for concurrent use.
package tokens

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the heuristic ratio used for approximate counting.
// English text averages roughly 4 characters per token across common
// LLM tokenizers.
const charsPerToken = 4

// encodingName is the BPE encoding used by [BPECounter].
const encodingName = "cl100k_base"

// Counter counts tokens in UTF-8 text and performs token-precise truncation.
//
// Implementations must never panic or return an error: on internal failure
// they fall back to the chars/4 approximation.
type Counter interface {
	// Count returns the number of tokens in text. Count("") is always 0 and
	// the result is always >= 1 for non-empty text.
	Count(text string) int

	// Truncate returns text shortened to at most maxTokens tokens. Text that
	// already fits is returned unchanged. maxTokens <= 0 yields "".
	Truncate(text string, maxTokens int) string

	// Approximate reports whether this counter estimates rather than encodes.
	Approximate() bool
}

// NewCounter returns the most precise counter available: a [BPECounter] when
// the cl100k_base encoding loads, otherwise a [HeuristicCounter]. It never
// returns an error — a failed encoding load is logged and degraded.
func NewCounter() Counter {
	c, err := NewBPECounter()
	if err != nil {
		slog.Warn("tokens: BPE encoding unavailable, using chars/4 approximation", "error", err)
		return HeuristicCounter{}
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// BPE counter
// ─────────────────────────────────────────────────────────────────────────────

// BPECounter counts tokens with the cl100k_base BPE encoding.
type BPECounter struct {
	enc *tiktoken.Tiktoken
}

// Compile-time check that BPECounter satisfies Counter.
var _ Counter = (*BPECounter)(nil)

// NewBPECounter loads the cl100k_base encoding and returns a counter backed
// by it.
func NewBPECounter() (*BPECounter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &BPECounter{enc: enc}, nil
}

// Count implements [Counter]. An encoder panic falls back to the chars/4
// approximation rather than propagating.
func (c *BPECounter) Count(text string) (n int) {
	if text == "" {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("tokens: encode failed, falling back to approximation", "panic", r)
			n = approximateCount(text)
		}
	}()
	n = len(c.enc.Encode(text, nil, nil))
	if n == 0 {
		n = 1
	}
	return n
}

// Truncate implements [Counter]: encode, slice the token sequence, decode.
func (c *BPECounter) Truncate(text string, maxTokens int) (out string) {
	if maxTokens <= 0 {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("tokens: truncate failed, falling back to approximation", "panic", r)
			out = approximateTruncate(text, maxTokens)
		}
	}()
	ids := c.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return c.enc.Decode(ids[:maxTokens])
}

// Approximate implements [Counter].
func (c *BPECounter) Approximate() bool { return false }

// ─────────────────────────────────────────────────────────────────────────────
// Heuristic counter
// ─────────────────────────────────────────────────────────────────────────────

// HeuristicCounter approximates token counts as ceil(len/4). Counts are
// APPROXIMATE: they satisfy the monotonicity and zero-on-empty contracts of
// [Counter] but are not exact per-model token counts.
type HeuristicCounter struct{}

// Compile-time check that HeuristicCounter satisfies Counter.
var _ Counter = HeuristicCounter{}

// Count implements [Counter].
func (HeuristicCounter) Count(text string) int {
	return approximateCount(text)
}

// Truncate implements [Counter]. The cut lands on a rune boundary so the
// result is always valid UTF-8.
func (HeuristicCounter) Truncate(text string, maxTokens int) string {
	return approximateTruncate(text, maxTokens)
}

// Approximate implements [Counter].
func (HeuristicCounter) Approximate() bool { return true }

// approximateCount is the shared ceil(len/4) fallback, minimum 1 for
// non-empty text.
func approximateCount(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// approximateTruncate cuts text to roughly maxTokens worth of bytes, backing
// up to the nearest rune boundary.
func approximateTruncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * charsPerToken
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	// Back off a partial rune at the cut point.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRight(cut, " ")
}
