package assembler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	memmock "github.com/gauravmad/wave-length-backend/pkg/memory/mock"
	"github.com/gauravmad/wave-length-backend/pkg/tokens"
)

const novaTemplate = `You are Nova, speaking with {{userName}}.

{{timestampInfo}}

Summary:
{{conversationSummary}}

Memories:
{{relevantMemories}}

Recent:
{{recentMessages}}`

var testNow = time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

// fakeSummary satisfies SummaryReader with canned state.
type fakeSummary struct {
	text string
	ok   bool
	err  error
}

func (f *fakeSummary) Current(context.Context, string, string) (string, bool, error) {
	return f.text, f.ok, f.err
}

type fixture struct {
	chat    *memmock.ChatStore
	backend *memmock.SemanticBackend
	summary *fakeSummary
	users   *memmock.UserStore
	cfg     Config
}

func (f *fixture) build() *Assembler {
	if f.chat == nil {
		f.chat = &memmock.ChatStore{}
	}
	if f.backend == nil {
		f.backend = &memmock.SemanticBackend{}
	}
	if f.summary == nil {
		f.summary = &fakeSummary{}
	}
	if f.users == nil {
		f.users = &memmock.UserStore{}
	}
	return New(
		f.chat,
		f.users,
		memstore.New(f.backend),
		f.summary,
		prompts.MapSource{"nova": novaTemplate},
		tokens.HeuristicCounter{},
		f.cfg,
		WithClock(func() time.Time { return testNow }),
	)
}

func request() TurnRequest {
	return TurnRequest{
		UserID:      "u1",
		CharacterID: "nova",
		Message:     "how was your day?",
		Timestamp:   testNow,
	}
}

func TestAssembleHappyPath(t *testing.T) {
	f := &fixture{
		summary: &fakeSummary{text: "They bonded over guitar.", ok: true},
		users: &memmock.UserStore{Profiles: map[string]*memory.Profile{
			"u1": {UserName: "Asha"},
		}},
	}
	f.chat = &memmock.ChatStore{}
	f.chat.Seed(
		memory.ConversationTurn{UserID: "u1", CharacterID: "nova", Sender: memory.SenderUser,
			Text: "hey Nova", Timestamp: testNow.Add(-2 * time.Hour)},
		memory.ConversationTurn{UserID: "u1", CharacterID: "nova", Sender: memory.SenderAI,
			Text: "hey Asha!", Timestamp: testNow.Add(-2*time.Hour + time.Minute)},
	)
	f.backend = &memmock.SemanticBackend{SearchResults: []memory.SearchResult{
		{Record: memory.MemoryRecord{Text: "learning guitar"}, Score: 0.8},
	}}
	a := f.build()

	p, err := a.Assemble(context.Background(), request())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !strings.Contains(p.SystemPrompt, "speaking with Asha") {
		t.Errorf("profile not substituted:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "They bonded over guitar.") {
		t.Errorf("summary missing:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "learning guitar") {
		t.Errorf("memories missing:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "Asha (Mar 15, 2026 12:30 PM): hey Nova") {
		t.Errorf("recent messages missing or misformatted:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "(2 hours later)") {
		t.Errorf("narration missing:\n%s", p.SystemPrompt)
	}
	if strings.Contains(p.SystemPrompt, "{{") {
		t.Errorf("unsubstituted placeholder remains:\n%s", p.SystemPrompt)
	}
	if p.UserPrompt != "how was your day?" {
		t.Errorf("UserPrompt = %q", p.UserPrompt)
	}
	if p.Truncated {
		t.Error("Truncated = true on a small prompt")
	}
	if p.Budget.Remaining < 0 {
		t.Errorf("Remaining = %d", p.Budget.Remaining)
	}
}

func TestAssembleDegradesGracefully(t *testing.T) {
	t.Run("chat store failure", func(t *testing.T) {
		f := &fixture{chat: &memmock.ChatStore{FindErr: errors.New("db down")}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, NoHistoryPlaceholder) {
			t.Errorf("placeholder missing:\n%s", p.SystemPrompt)
		}
		if !strings.Contains(p.SystemPrompt, "first interaction") {
			t.Errorf("narration should fall back to first interaction:\n%s", p.SystemPrompt)
		}
	})

	t.Run("summary failure", func(t *testing.T) {
		f := &fixture{summary: &fakeSummary{err: errors.New("summary store down")}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, NoHistoryPlaceholder) {
			t.Errorf("placeholder missing:\n%s", p.SystemPrompt)
		}
	})

	t.Run("memory backend failure", func(t *testing.T) {
		f := &fixture{backend: &memmock.SemanticBackend{SearchErr: errors.New("vector store down")}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, memstore.NoMemoriesSentinel) {
			t.Errorf("memory sentinel missing:\n%s", p.SystemPrompt)
		}
	})

	t.Run("missing template is fatal", func(t *testing.T) {
		f := &fixture{}
		a := f.build()
		req := request()
		req.CharacterID = "ghost"
		if _, err := a.Assemble(context.Background(), req); !errors.Is(err, prompts.ErrTemplateMissing) {
			t.Fatalf("got %v, want ErrTemplateMissing", err)
		}
	})

	t.Run("missing profile uses defaults", func(t *testing.T) {
		f := &fixture{}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, "speaking with bestie") {
			t.Errorf("default name missing:\n%s", p.SystemPrompt)
		}
	})
}

func TestAssembleTruncationOrder(t *testing.T) {
	// With the heuristic counter, tokens = ceil(len/4). Sizes are chosen so
	// the deficit is covered entirely by cutting the summary.
	longSummary := strings.Repeat("summary facts. ", 200) // ~750 tokens
	f := &fixture{
		summary: &fakeSummary{text: longSummary, ok: true},
		backend: &memmock.SemanticBackend{SearchResults: []memory.SearchResult{
			{Record: memory.MemoryRecord{Text: "remembers the dog Biscuit"}, Score: 0.9},
		}},
		cfg: Config{MaxContextTokens: 700, ReservedOutputTokens: 100},
	}
	f.chat = &memmock.ChatStore{}
	f.chat.Seed(memory.ConversationTurn{
		UserID: "u1", CharacterID: "nova", Sender: memory.SenderUser,
		Text: "hi", Timestamp: testNow.Add(-time.Hour),
	})
	a := f.build()

	p, err := a.Assemble(context.Background(), request())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !p.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if !strings.Contains(p.SystemPrompt, TruncatedMarker) {
		t.Errorf("truncation marker missing:\n%s", p.SystemPrompt)
	}
	// Higher-priority sections survive the cut.
	if !strings.Contains(p.SystemPrompt, "remembers the dog Biscuit") {
		t.Errorf("memory section was cut before summary:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "hi") {
		t.Errorf("recent messages were cut before summary:\n%s", p.SystemPrompt)
	}
	if p.Budget.Remaining < 0 {
		t.Errorf("Remaining = %d after truncation", p.Budget.Remaining)
	}
}

func TestAssembleZeroAllotmentPlaceholder(t *testing.T) {
	// Budget so small the whole summary allotment collapses to zero.
	f := &fixture{
		summary: &fakeSummary{text: strings.Repeat("x", 4000), ok: true},
		cfg:     Config{MaxContextTokens: 120, ReservedOutputTokens: 20},
	}
	a := f.build()

	p, err := a.Assemble(context.Background(), request())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !p.Truncated {
		t.Fatal("Truncated = false")
	}
	if !strings.Contains(p.SystemPrompt, SummaryTooLargePlaceholder) {
		t.Errorf("zero-allotment placeholder missing:\n%s", p.SystemPrompt)
	}
	if strings.Contains(p.SystemPrompt, "xxxx") {
		t.Errorf("summary content leaked past placeholder:\n%s", p.SystemPrompt)
	}
}

func TestAssembleTruncationCascade(t *testing.T) {
	// Deficit larger than summary and memories combined: both collapse to
	// placeholders and the remainder spills into recent messages, which are
	// cut partially, not wholesale.
	f := &fixture{
		summary: &fakeSummary{text: strings.Repeat("old history. ", 100), ok: true},
		backend: &memmock.SemanticBackend{SearchResults: []memory.SearchResult{
			{Record: memory.MemoryRecord{Text: strings.Repeat("guitar facts. ", 30)}, Score: 0.9},
		}},
		cfg: Config{MaxContextTokens: 500, ReservedOutputTokens: 100},
	}
	f.chat = &memmock.ChatStore{}
	f.chat.Seed(memory.ConversationTurn{
		UserID: "u1", CharacterID: "nova", Sender: memory.SenderUser,
		Text: strings.Repeat("recent facts. ", 180), Timestamp: testNow.Add(-time.Hour),
	})
	a := f.build()

	p, err := a.Assemble(context.Background(), request())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !p.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if !strings.Contains(p.SystemPrompt, SummaryTooLargePlaceholder) {
		t.Errorf("summary not collapsed to placeholder:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, MemoryTooLargePlaceholder) {
		t.Errorf("memories not collapsed to placeholder:\n%s", p.SystemPrompt)
	}
	if strings.Contains(p.SystemPrompt, "old history.") || strings.Contains(p.SystemPrompt, "guitar facts.") {
		t.Errorf("collapsed section content leaked past placeholder:\n%s", p.SystemPrompt)
	}
	// Recent messages are cut last and only partially.
	if strings.Contains(p.SystemPrompt, RecentTooLargePlaceholder) {
		t.Errorf("recent messages collapsed instead of partial cut:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, TruncatedMarker) {
		t.Errorf("partial cut missing its marker:\n%s", p.SystemPrompt)
	}
	if !strings.Contains(p.SystemPrompt, "recent facts.") {
		t.Errorf("no recent content survived the cut:\n%s", p.SystemPrompt)
	}
	if p.Budget.Remaining < 0 {
		t.Errorf("Remaining = %d after cascade", p.Budget.Remaining)
	}
	if p.Tokens.Recent <= p.Tokens.Summary {
		t.Errorf("recent (%d tokens) should retain more than collapsed summary (%d)",
			p.Tokens.Recent, p.Tokens.Summary)
	}
}

func TestContextModes(t *testing.T) {
	backend := &memmock.SemanticBackend{SearchResults: []memory.SearchResult{
		{Record: memory.MemoryRecord{Text: "stored memory"}, Score: 0.9},
	}}
	summary := &fakeSummary{text: "the summary", ok: true}

	t.Run("recent only skips memory and summary", func(t *testing.T) {
		f := &fixture{backend: backend, summary: summary, cfg: Config{Mode: ModeRecent}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if strings.Contains(p.SystemPrompt, "stored memory") {
			t.Error("memory gathered in recent-only mode")
		}
		if strings.Contains(p.SystemPrompt, "the summary") {
			t.Error("summary gathered in recent-only mode")
		}
	})

	t.Run("recent_summary skips memory", func(t *testing.T) {
		f := &fixture{backend: backend, summary: summary, cfg: Config{Mode: ModeRecentSummary}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if strings.Contains(p.SystemPrompt, "stored memory") {
			t.Error("memory gathered in recent_summary mode")
		}
		if !strings.Contains(p.SystemPrompt, "the summary") {
			t.Error("summary missing in recent_summary mode")
		}
	})

	// Modes arrive from YAML as raw strings, so the string spellings are
	// part of the contract, not just the constant names.
	t.Run("recent_memory string from config gathers memory", func(t *testing.T) {
		f := &fixture{backend: backend, summary: summary, cfg: Config{Mode: ContextMode("recent_memory")}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, "stored memory") {
			t.Error("memory missing in recent_memory mode")
		}
		if strings.Contains(p.SystemPrompt, "the summary") {
			t.Error("summary gathered in recent_memory mode")
		}
	})

	t.Run("all gathers everything", func(t *testing.T) {
		f := &fixture{backend: backend, summary: summary, cfg: Config{Mode: ModeAll}}
		p, err := f.build().Assemble(context.Background(), request())
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if !strings.Contains(p.SystemPrompt, "stored memory") || !strings.Contains(p.SystemPrompt, "the summary") {
			t.Errorf("sections missing in all mode:\n%s", p.SystemPrompt)
		}
	})
}

func TestContextModeValidity(t *testing.T) {
	for _, m := range []ContextMode{ModeRecent, ModeRecentMemory, ModeRecentSummary, ModeAll} {
		if !m.IsValid() {
			t.Errorf("%q reported invalid", m)
		}
	}
	// The YAML spellings must parse directly into valid modes.
	for _, s := range []string{"recent", "recent_memory", "recent_summary", "all"} {
		if !ContextMode(s).IsValid() {
			t.Errorf("config spelling %q reported invalid", s)
		}
	}
	if ContextMode("everything").IsValid() {
		t.Error("unknown mode reported valid")
	}
}
