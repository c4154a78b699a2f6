package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gauravmad/wave-length-backend/internal/assembler"
	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/observe"
	"github.com/gauravmad/wave-length-backend/internal/summary"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
)

// FallbackReply is returned and persisted when the completion backend fails.
// The conversation record stays consistent either way: every inbound message
// gets exactly one AI turn after it.
const FallbackReply = "Sorry, I'm having trouble responding right now."

// DefaultLLMTimeout bounds a single completion call. Completion APIs tend to
// fail slow; without a cap a stuck backend would hold the pair lock
// indefinitely.
const DefaultLLMTimeout = 60 * time.Second

// DefaultReplyMaxTokens caps chat reply length.
const DefaultReplyMaxTokens = 4096

// DefaultReplyTemperature is the sampling temperature for chat replies.
// Higher than the summary engine's, since character chat wants personality
// over determinism.
const DefaultReplyTemperature = 0.8

// ErrInvalidRequest marks requests rejected before any side effect.
var ErrInvalidRequest = errors.New("turn: invalid request")

// Request is one inbound user message.
type Request struct {
	UserID      string
	CharacterID string

	// Message is the user's text. May be empty when Image is set.
	Message string

	// Image is an optional attachment for multimodal turns.
	Image *llm.Attachment
}

// Response is the outcome of one handled turn. A failed completion is not a
// handler error: the response carries [FallbackReply] with Success false and
// the turn is fully persisted.
type Response struct {
	// Reply is the AI's message, or [FallbackReply] on completion failure.
	Reply string

	// Success reports whether the completion backend produced the reply.
	Success bool

	// Truncated reports whether context was cut to fit the token window.
	Truncated bool

	// Tokens is the per-section accounting of the assembled prompt.
	Tokens assembler.SectionTokens

	// Usage is the backend-reported token usage. Zero on failure.
	Usage llm.Usage
}

// Handler executes conversational turns. Turns within one user/character
// pair run strictly one at a time; different pairs do not contend.
type Handler struct {
	chat      memory.ChatStore
	memories  *memstore.Adapter
	summaries *summary.Engine
	asm       *assembler.Assembler
	client    llm.Client
	locks     *pairLocks
	log       *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	llmTimeout       time.Duration
	replyMaxTokens   int
	replyTemperature float64
}

// Option customises a [Handler].
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithLLMTimeout bounds each completion call.
func WithLLMTimeout(d time.Duration) Option {
	return func(h *Handler) { h.llmTimeout = d }
}

// WithReplyParams sets the completion parameters for chat replies.
func WithReplyParams(maxTokens int, temperature float64) Option {
	return func(h *Handler) {
		h.replyMaxTokens = maxTokens
		h.replyTemperature = temperature
	}
}

// New creates a turn handler.
func New(chat memory.ChatStore, memories *memstore.Adapter, summaries *summary.Engine, asm *assembler.Assembler, client llm.Client, opts ...Option) *Handler {
	h := &Handler{
		chat:             chat,
		memories:         memories,
		summaries:        summaries,
		asm:              asm,
		client:           client,
		locks:            newPairLocks(),
		log:              slog.Default(),
		now:              time.Now,
		llmTimeout:       DefaultLLMTimeout,
		replyMaxTokens:   DefaultReplyMaxTokens,
		replyTemperature: DefaultReplyTemperature,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Handle runs one full turn: persist the inbound message, assemble context,
// complete, persist the reply, then update semantic memory and the rolling
// summary. It returns an error only for invalid requests, persistence
// failures on the inbound message, or unusable prompt templates — completion
// failures degrade to [FallbackReply] instead.
func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	key := memory.PairKey(req.UserID, req.CharacterID)
	unlock := h.locks.Lock(key)
	defer unlock()

	h.metrics.ActiveTurns.Add(ctx, 1)
	defer h.metrics.ActiveTurns.Add(ctx, -1)

	start := h.now()
	defer func() {
		h.metrics.TurnDuration.Record(ctx, h.now().Sub(start).Seconds())
	}()

	ts := h.now().UTC()
	if err := h.persistUserTurn(ctx, req, ts); err != nil {
		return nil, err
	}

	prompt, err := h.assemble(ctx, req, ts)
	if err != nil {
		return nil, err
	}
	if prompt.Truncated {
		h.metrics.RecordTruncation(ctx, req.CharacterID)
	}

	reply, usage, completed := h.complete(ctx, req, prompt)
	if !completed {
		reply = FallbackReply
	}
	h.persistReply(ctx, req, reply)

	if completed {
		h.writeBack(ctx, req, reply)
	}

	return &Response{
		Reply:     reply,
		Success:   completed,
		Truncated: prompt.Truncated,
		Tokens:    prompt.Tokens,
		Usage:     usage,
	}, nil
}

func validate(req Request) error {
	if req.UserID == "" || req.CharacterID == "" {
		return fmt.Errorf("%w: user and character IDs are required", ErrInvalidRequest)
	}
	if req.Message == "" && req.Image == nil {
		return fmt.Errorf("%w: message text or an image is required", ErrInvalidRequest)
	}
	return nil
}

func (h *Handler) persistUserTurn(ctx context.Context, req Request, ts time.Time) error {
	turn := memory.ConversationTurn{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Sender:      memory.SenderUser,
		Text:        req.Message,
		Timestamp:   ts,
	}
	if req.Image != nil {
		turn.Media = &memory.MediaRef{Kind: memory.MediaImage, URL: req.Image.URL}
	}
	if _, err := h.chat.Insert(ctx, turn); err != nil {
		return fmt.Errorf("turn: persist user message: %w", err)
	}
	return nil
}

func (h *Handler) assemble(ctx context.Context, req Request, ts time.Time) (*assembler.Prompt, error) {
	start := h.now()
	prompt, err := h.asm.Assemble(ctx, assembler.TurnRequest{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Message:     req.Message,
		Image:       req.Image,
		Timestamp:   ts,
	})
	h.metrics.AssemblyDuration.Record(ctx, h.now().Sub(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("turn: assemble context: %w", err)
	}
	return prompt, nil
}

// complete calls the model under the configured timeout. The bool reports
// whether a real reply came back.
func (h *Handler) complete(ctx context.Context, req Request, prompt *assembler.Prompt) (string, llm.Usage, bool) {
	cctx, cancel := context.WithTimeout(ctx, h.llmTimeout)
	defer cancel()

	start := h.now()
	resp, err := h.client.Complete(cctx, llm.Request{
		SystemPrompt:    prompt.SystemPrompt,
		UserPrompt:      prompt.UserPrompt,
		MaxOutputTokens: h.replyMaxTokens,
		Temperature:     h.replyTemperature,
		Image:           prompt.Image,
	})
	h.metrics.LLMDuration.Record(ctx, h.now().Sub(start).Seconds())
	if err != nil {
		h.metrics.CompletionFailures.Add(ctx, 1)
		h.log.Error("completion failed, sending fallback reply",
			slog.String("user_id", req.UserID),
			slog.String("character_id", req.CharacterID),
			slog.String("error", err.Error()))
		return "", llm.Usage{}, false
	}
	return resp.Content, resp.Usage, true
}

func (h *Handler) persistReply(ctx context.Context, req Request, reply string) {
	_, err := h.chat.Insert(ctx, memory.ConversationTurn{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Sender:      memory.SenderAI,
		Text:        reply,
		Timestamp:   h.now().UTC(),
	})
	if err != nil {
		// The reply is already generated; losing the record is worth a
		// loud log but not a failed turn.
		h.log.Error("failed to persist AI reply",
			slog.String("user_id", req.UserID),
			slog.String("character_id", req.CharacterID),
			slog.String("error", err.Error()))
	}
}

// writeBack pushes the exchange into semantic memory and the rolling summary.
// Both are best-effort: the reply has already been delivered.
func (h *Handler) writeBack(ctx context.Context, req Request, reply string) {
	userText := req.Message
	if userText == "" {
		userText = "[image attachment]"
	}

	if !h.memories.AddMessage(ctx, req.UserID, req.CharacterID, userText, memory.SenderUser) {
		h.metrics.RecordMemoryDegraded(ctx, "add")
	}
	if !h.memories.AddMessage(ctx, req.UserID, req.CharacterID, reply, memory.SenderAI) {
		h.metrics.RecordMemoryDegraded(ctx, "add")
	}

	merged := fmt.Sprintf("User: %s\nAI: %s", userText, reply)
	if _, err := h.summaries.Update(ctx, req.UserID, req.CharacterID, merged); err != nil {
		h.log.Warn("summary update failed",
			slog.String("user_id", req.UserID),
			slog.String("character_id", req.CharacterID),
			slog.String("error", err.Error()))
	}
}
