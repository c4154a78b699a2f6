// Package assembler builds the exact (system prompt, user prompt) pair for
// one conversational turn, guaranteed to fit the target model's context
// window.
//
// Context candidates are gathered concurrently, ranked by priority (recent
// raw messages highest, semantic memories next, rolling summary last), and
// truncated in strict reverse-priority order when the token budget runs
// negative. Gathering failures degrade to explicit placeholder text; only a
// missing character template is fatal for the turn.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
	"github.com/gauravmad/wave-length-backend/pkg/tokens"
)

// ContextMode selects which context candidates are gathered for a turn.
// Recent raw messages are always active; memory and summary participation is
// a deployment choice.
type ContextMode string

const (
	ModeRecent        ContextMode = "recent"
	ModeRecentMemory  ContextMode = "recent_memory"
	ModeRecentSummary ContextMode = "recent_summary"
	ModeAll           ContextMode = "all"
)

// IsValid reports whether m is a recognised context mode.
func (m ContextMode) IsValid() bool {
	switch m {
	case ModeRecent, ModeRecentMemory, ModeRecentSummary, ModeAll:
		return true
	}
	return false
}

func (m ContextMode) wantsMemory() bool {
	return m == ModeRecentMemory || m == ModeAll
}

func (m ContextMode) wantsSummary() bool {
	return m == ModeRecentSummary || m == ModeAll
}

// Defaults for [Config] fields left zero.
const (
	DefaultRecentWindow         = 20
	DefaultSearchLimit          = 15
	DefaultMaxContextTokens     = 200_000
	DefaultReservedOutputTokens = 4096
)

// NoHistoryPlaceholder substitutes for any context section whose gathering
// failed or returned nothing. An explicit sentinel keeps prompt sections
// visibly absent instead of silently blank.
const NoHistoryPlaceholder = "No previous conversation history available."

// Placeholders injected when truncation leaves a section no allotment at all.
const (
	SummaryTooLargePlaceholder = "Conversation summary too large to include."
	MemoryTooLargePlaceholder  = "Memory context too large to include."
	RecentTooLargePlaceholder  = "Recent chat history too large to include."
)

// TruncatedMarker prefixes any section that was token-sliced, so the model
// knows content was cut.
const TruncatedMarker = "[Truncated]\n"

// SummaryReader is the summary engine surface the assembler needs.
type SummaryReader interface {
	// Current returns the pair's summary text, ok=false when none exists.
	Current(ctx context.Context, userID, characterID string) (string, bool, error)
}

// Config tunes assembly. Zero fields take the package defaults; a zero Mode
// means [ModeAll].
type Config struct {
	RecentWindow         int
	SearchLimit          int
	MaxContextTokens     int
	ReservedOutputTokens int
	Mode                 ContextMode
}

func (c Config) withDefaults() Config {
	if c.RecentWindow == 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = DefaultSearchLimit
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = DefaultMaxContextTokens
	}
	if c.ReservedOutputTokens == 0 {
		c.ReservedOutputTokens = DefaultReservedOutputTokens
	}
	if c.Mode == "" {
		c.Mode = ModeAll
	}
	return c
}

// TurnRequest describes one inbound message to assemble context for.
type TurnRequest struct {
	UserID      string
	CharacterID string

	// Message is the raw user message text.
	Message string

	// Image is an optional attachment forwarded to the completion client.
	Image *llm.Attachment

	// Timestamp is when the message arrived. Zero means now.
	Timestamp time.Time
}

// SectionTokens is the per-section token accounting of an assembled prompt.
type SectionTokens struct {
	System  int
	User    int
	Summary int
	Memory  int
	Recent  int
}

// Prompt is the assembled result, ready to hand to the completion client.
type Prompt struct {
	SystemPrompt string
	UserPrompt   string
	Image        *llm.Attachment

	// Budget is the final token budget after any truncation.
	Budget tokens.Budget

	// Truncated reports whether any section was cut or replaced.
	Truncated bool

	// Tokens breaks the prompt down per section.
	Tokens SectionTokens
}

// Assembler gathers, budgets, and renders turn context. Safe for concurrent
// use across pairs; the caller serialises turns within a pair.
type Assembler struct {
	chat      memory.ChatStore
	users     memory.UserStore
	memories  *memstore.Adapter
	summaries SummaryReader
	templates prompts.Source
	counter   tokens.Counter
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	// onTruncation, when set, is invoked once per truncated assembly.
	onTruncation func()
}

// Option is a functional option for Assembler.
type Option func(*Assembler)

// WithLogger sets the assembler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Assembler) {
		a.log = log
	}
}

// WithClock overrides the time source for narration and budget timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithTruncationHook registers fn to run whenever an assembly truncates.
// Used to feed metrics.
func WithTruncationHook(fn func()) Option {
	return func(a *Assembler) {
		a.onTruncation = fn
	}
}

// New constructs an Assembler.
func New(chat memory.ChatStore, users memory.UserStore, memories *memstore.Adapter, summaries SummaryReader, templates prompts.Source, counter tokens.Counter, cfg Config, opts ...Option) *Assembler {
	a := &Assembler{
		chat:      chat,
		users:     users,
		memories:  memories,
		summaries: summaries,
		templates: templates,
		counter:   counter,
		cfg:       cfg.withDefaults(),
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble produces the prompt for one turn. The only fatal failure is a
// missing character template; every other gathering failure degrades to a
// placeholder section.
func (a *Assembler) Assemble(ctx context.Context, req TurnRequest) (*Prompt, error) {
	tmpl, err := a.templates.Template(req.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("assembler: character template: %w", err)
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = a.now().UTC()
	}

	profile := a.lookupProfile(ctx, req.UserID)
	gathered := a.gather(ctx, req, profile.UserName)

	sections := []*section{
		{name: "recentMessages", text: gathered.recent, emptyPlaceholder: RecentTooLargePlaceholder},
		{name: "relevantMemories", text: gathered.memories, emptyPlaceholder: MemoryTooLargePlaceholder},
		{name: "conversationSummary", text: gathered.summary, emptyPlaceholder: SummaryTooLargePlaceholder},
	}

	render := func() string {
		vars := map[string]string{
			"userName":      profile.UserName,
			"gender":        profile.Gender,
			"age":           profile.Age,
			"mobileNumber":  profile.MobileNumber,
			"timestampInfo": gathered.narration,
			"todaysDate":    req.Timestamp.UTC().Format("January 2, 2006"),
		}
		for _, s := range sections {
			vars[s.name] = s.text
		}
		return prompts.Render(tmpl, vars)
	}

	system := render()
	budget := tokens.ComputeBudget(a.counter, a.cfg.MaxContextTokens, a.cfg.ReservedOutputTokens, system, req.Message)

	truncated := false
	if budget.NeedsTruncation() {
		// Cut in reverse priority order: summary first, recent messages last.
		for i := len(sections) - 1; i >= 0 && budget.NeedsTruncation(); i-- {
			s := sections[i]
			have := a.counter.Count(s.text)
			if have == 0 {
				continue
			}
			// The marker itself costs tokens; charge it to this section's
			// allotment so the cut fully covers the deficit.
			allowed := have - budget.Deficit() - a.counter.Count(TruncatedMarker)
			if allowed > 0 {
				s.text = TruncatedMarker + a.counter.Truncate(s.text, allowed)
			} else {
				s.text = s.emptyPlaceholder
			}
			truncated = true
			system = render()
			budget = tokens.ComputeBudget(a.counter, a.cfg.MaxContextTokens, a.cfg.ReservedOutputTokens, system, req.Message)
		}
		a.log.Info("assembled prompt required truncation",
			"user_id", req.UserID,
			"character_id", req.CharacterID,
			"remaining", budget.Remaining)
		if a.onTruncation != nil {
			a.onTruncation()
		}
	}

	return &Prompt{
		SystemPrompt: system,
		UserPrompt:   req.Message,
		Image:        req.Image,
		Budget:       budget,
		Truncated:    truncated,
		Tokens: SectionTokens{
			System:  budget.SystemPromptTokens,
			User:    budget.UserPromptTokens,
			Recent:  a.counter.Count(sections[0].text),
			Memory:  a.counter.Count(sections[1].text),
			Summary: a.counter.Count(sections[2].text),
		},
	}, nil
}

// section is one substitutable context candidate during assembly.
type section struct {
	name             string
	text             string
	emptyPlaceholder string
}

// profileVars is the resolved, defaulted profile substitution set.
type profileVars struct {
	UserName     string
	Gender       string
	Age          string
	MobileNumber string
}

// lookupProfile resolves profile fields with per-field defaults. A lookup
// failure or missing user is never fatal.
func (a *Assembler) lookupProfile(ctx context.Context, userID string) profileVars {
	vars := profileVars{UserName: "bestie"}

	profile, err := a.users.FindByID(ctx, userID)
	if err != nil {
		a.log.Warn("profile lookup failed, using defaults", "user_id", userID, "error", err)
		return vars
	}
	if profile == nil {
		return vars
	}
	if profile.UserName != "" {
		vars.UserName = profile.UserName
	}
	vars.Gender = profile.Gender
	if profile.Age > 0 {
		vars.Age = strconv.Itoa(profile.Age)
	}
	vars.MobileNumber = profile.MobileNumber
	return vars
}

// gatherResult carries the concurrently fetched context candidates.
type gatherResult struct {
	recent    string
	memories  string
	summary   string
	narration string
}

// gather fetches the active context candidates concurrently. Goroutines
// never return errors: a failed fetch logs and leaves its placeholder.
func (a *Assembler) gather(ctx context.Context, req TurnRequest, userName string) gatherResult {
	out := gatherResult{
		recent:   NoHistoryPlaceholder,
		memories: memstore.NoMemoriesSentinel,
		summary:  NoHistoryPlaceholder,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		turns, err := a.chat.FindByPair(egCtx, req.UserID, req.CharacterID, memory.Descending, a.cfg.RecentWindow)
		if err != nil {
			a.log.Warn("recent history fetch failed, using placeholder",
				"user_id", req.UserID, "character_id", req.CharacterID, "error", err)
			out.narration = Narrate(nil, req.Timestamp)
			return nil
		}
		out.narration = Narrate(previousUserTime(turns, req.Timestamp), req.Timestamp)
		if len(turns) > 0 {
			out.recent = renderRecent(turns, userName, req.CharacterID)
		}
		return nil
	})

	if a.cfg.Mode.wantsMemory() {
		eg.Go(func() error {
			block, found := a.memories.SearchRelevant(egCtx, req.UserID, req.CharacterID, req.Message, a.cfg.SearchLimit)
			if found {
				out.memories = block
			}
			return nil
		})
	}

	if a.cfg.Mode.wantsSummary() {
		eg.Go(func() error {
			text, ok, err := a.summaries.Current(egCtx, req.UserID, req.CharacterID)
			if err != nil {
				a.log.Warn("summary fetch failed, using placeholder",
					"user_id", req.UserID, "character_id", req.CharacterID, "error", err)
				return nil
			}
			if ok {
				out.summary = text
			}
			return nil
		})
	}

	eg.Wait()
	return out
}

// previousUserTime finds the newest user-authored turn strictly before the
// current message, for the narration block. turns are newest-first.
func previousUserTime(turns []memory.ConversationTurn, current time.Time) *time.Time {
	for _, t := range turns {
		if t.Sender == memory.SenderUser && t.Timestamp.Before(current) {
			ts := t.Timestamp
			return &ts
		}
	}
	return nil
}

// renderRecent formats the recent window oldest-first as
// "<speaker> (<time>): <text>" lines.
func renderRecent(turns []memory.ConversationTurn, userName, characterID string) string {
	var b strings.Builder
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		speaker := characterID
		if t.Sender == memory.SenderUser {
			speaker = userName
		}
		text := t.Text
		if text == "" && t.Media != nil {
			text = fmt.Sprintf("[%s attachment]", t.Media.Kind)
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", speaker, t.Timestamp.UTC().Format("Jan 2, 2006 3:04 PM"), text)
	}
	return strings.TrimRight(b.String(), "\n")
}
