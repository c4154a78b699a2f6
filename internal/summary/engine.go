// Package summary maintains the rolling relationship summary for each
// (user, character) pair: one bounded narrative that stands in for full
// history when full history would not fit the context window.
//
// Per pair, the summary moves through a simple lifecycle: absent until the
// first create, then replaced on every incremental update, then shrunk by an
// explicit compress. Absence is never an error in the update path — updating
// a pair with no summary transparently creates one from full history.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
)

// Template names the engine resolves through its prompt source. All three
// are required; a missing template fails the operation rather than running
// summarisation with a blank identity.
const (
	TemplateCreate   = "summarize"
	TemplateUpdate   = "inputsummary"
	TemplateCompress = "compress_summary"
)

// Summarisation favours determinism over creativity, so temperatures sit
// well below conversational defaults. Compression gets the lowest setting
// and the tightest output ceiling since it must only shrink, never invent.
const (
	createTemperature   = 0.4
	createMaxTokens     = 2048
	compressTemperature = 0.3
	compressMaxTokens   = 1024
)

// DefaultUserName substitutes for a missing display name in templates.
const DefaultUserName = "bestie"

// Engine drives summary creation, incremental updates, and compression.
// Safe for concurrent use, but callers must serialise operations per pair:
// two concurrent updates to the same pair race on the stored summary.
type Engine struct {
	chat      memory.ChatStore
	store     memory.SummaryStore
	users     memory.UserStore
	llm       llm.Client
	templates prompts.Source
	log       *slog.Logger
	now       func() time.Time

	// appendBlocks routes incremental updates to the store's block list
	// instead of replacing the whole summary. Requires a store implementing
	// [memory.BlockAppender].
	appendBlocks bool
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock overrides the time source used for {{todaysDate}}.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBlockAppend switches incremental updates to append-only summary
// blocks: each update appends a summary of just the new message, and
// [Engine.Compress] folds the accumulated block list back into one block.
// The store must implement [memory.BlockAppender]; New panics otherwise,
// since this is a wiring mistake, not a runtime condition.
func WithBlockAppend() Option {
	return func(e *Engine) {
		e.appendBlocks = true
	}
}

// New constructs an Engine.
func New(chat memory.ChatStore, store memory.SummaryStore, users memory.UserStore, client llm.Client, templates prompts.Source, opts ...Option) *Engine {
	e := &Engine{
		chat:      chat,
		store:     store,
		users:     users,
		llm:       client,
		templates: templates,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.appendBlocks {
		if _, ok := store.(memory.BlockAppender); !ok {
			panic("summary: WithBlockAppend requires a store implementing memory.BlockAppender")
		}
	}
	return e
}

// CreateFromScratch reads the pair's full history and produces a structured
// summary of the whole relationship, replacing any stored summary. A pair
// with no history produces no summary and no error. Returns the new summary
// text, or "" when nothing was created.
func (e *Engine) CreateFromScratch(ctx context.Context, userID, characterID string) (string, error) {
	turns, err := e.chat.FindByPair(ctx, userID, characterID, memory.Ascending, 0)
	if err != nil {
		return "", fmt.Errorf("summary: read history: %w", err)
	}
	if len(turns) == 0 {
		return "", nil
	}

	userName := e.resolveUserName(ctx, userID)
	transcript := renderTranscript(turns, userName, characterID)

	system, err := e.renderTemplate(TemplateCreate, userName)
	if err != nil {
		return "", err
	}

	text, err := e.complete(ctx, system, transcript, createTemperature, createMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summary: create: %w", err)
	}

	if err := e.store.UpsertByPair(ctx, userID, characterID, text); err != nil {
		return "", fmt.Errorf("summary: store: %w", err)
	}
	return text, nil
}

// Update merges one new message into the pair's summary. When the pair has
// no summary yet, it transparently falls back to CreateFromScratch.
func (e *Engine) Update(ctx context.Context, userID, characterID, newMessage string) (string, error) {
	existing, err := e.store.FindByPair(ctx, userID, characterID)
	if errors.Is(err, memory.ErrNoSummary) {
		return e.CreateFromScratch(ctx, userID, characterID)
	}
	if err != nil {
		return "", fmt.Errorf("summary: read summary: %w", err)
	}

	userName := e.resolveUserName(ctx, userID)
	system, err := e.renderTemplate(TemplateUpdate, userName)
	if err != nil {
		return "", err
	}

	input := fmt.Sprintf("Current summary:\n%s\n\nNew message:\n%s", existing.SummaryText, newMessage)
	if e.appendBlocks {
		// Prior content already lives in earlier blocks, so the appended
		// block summarises only the new message. Threading the merged
		// summary back in would re-embed every earlier block in each new
		// one, and the concatenated summary would grow with the square of
		// the block count.
		input = fmt.Sprintf("New message:\n%s", newMessage)
	}
	text, err := e.complete(ctx, system, input, createTemperature, createMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summary: update: %w", err)
	}

	if e.appendBlocks {
		appender := e.store.(memory.BlockAppender)
		if err := appender.AppendByPair(ctx, userID, characterID, text); err != nil {
			return "", fmt.Errorf("summary: append block: %w", err)
		}
	} else {
		if err := e.store.UpsertByPair(ctx, userID, characterID, text); err != nil {
			return "", fmt.Errorf("summary: store: %w", err)
		}
	}
	return text, nil
}

// Compress shrinks an oversized summary while preserving salient facts. It
// is the only size-reducing transition and requires an existing summary:
// calling it on a pair without one returns an error wrapping
// [memory.ErrNoSummary].
func (e *Engine) Compress(ctx context.Context, userID, characterID string) (string, error) {
	existing, err := e.store.FindByPair(ctx, userID, characterID)
	if err != nil {
		return "", fmt.Errorf("summary: compress: %w", err)
	}

	userName := e.resolveUserName(ctx, userID)
	system, err := e.renderTemplate(TemplateCompress, userName)
	if err != nil {
		return "", err
	}

	text, err := e.complete(ctx, system, existing.SummaryText, compressTemperature, compressMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summary: compress: %w", err)
	}

	if err := e.store.UpsertByPair(ctx, userID, characterID, text); err != nil {
		return "", fmt.Errorf("summary: store: %w", err)
	}
	return text, nil
}

// Current returns the pair's stored summary text, or ("", false) when none
// exists. Read-only; used by the context assembler.
func (e *Engine) Current(ctx context.Context, userID, characterID string) (string, bool, error) {
	existing, err := e.store.FindByPair(ctx, userID, characterID)
	if errors.Is(err, memory.ErrNoSummary) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("summary: read summary: %w", err)
	}
	return existing.SummaryText, true, nil
}

// resolveUserName looks up the user's display name, falling back to
// DefaultUserName. Lookup failures are logged, never fatal.
func (e *Engine) resolveUserName(ctx context.Context, userID string) string {
	profile, err := e.users.FindByID(ctx, userID)
	if err != nil {
		e.log.Warn("user lookup failed, using default name", "user_id", userID, "error", err)
		return DefaultUserName
	}
	if profile == nil || profile.UserName == "" {
		return DefaultUserName
	}
	return profile.UserName
}

// renderTemplate loads and renders a summarisation template. A missing
// template is a configuration fault and surfaces as an error wrapping
// [prompts.ErrTemplateMissing].
func (e *Engine) renderTemplate(name, userName string) (string, error) {
	tmpl, err := e.templates.Template(name)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	return prompts.Render(tmpl, map[string]string{
		"userName":   userName,
		"todaysDate": e.now().UTC().Format("January 2, 2006"),
	}), nil
}

func (e *Engine) complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	resp, err := e.llm.Complete(ctx, llm.Request{
		SystemPrompt:    system,
		UserPrompt:      user,
		Temperature:     temperature,
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// renderTranscript formats history as "<speaker>: <text>" lines, oldest
// first. The user speaks as their display name, the character as its ID.
// Media-only turns are represented by a bracketed marker.
func renderTranscript(turns []memory.ConversationTurn, userName, characterID string) string {
	var b strings.Builder
	for _, t := range turns {
		speaker := characterID
		if t.Sender == memory.SenderUser {
			speaker = userName
		}
		text := t.Text
		if text == "" && t.Media != nil {
			text = fmt.Sprintf("[%s attachment]", t.Media.Kind)
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
