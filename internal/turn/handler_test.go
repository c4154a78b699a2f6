package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gauravmad/wave-length-backend/internal/assembler"
	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/observe"
	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/internal/summary"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	memmock "github.com/gauravmad/wave-length-backend/pkg/memory/mock"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
	llmmock "github.com/gauravmad/wave-length-backend/pkg/provider/llm/mock"
	"github.com/gauravmad/wave-length-backend/pkg/tokens"
)

const turnTestTemplate = `You are Nova talking to {{userName}}.
## Summary
{{conversationSummary}}
## Memories
{{relevantMemories}}
## Recent
{{recentMessages}}
## Timing
{{timestampInfo}}`

func testTemplates() prompts.MapSource {
	return prompts.MapSource{
		"nova":             turnTestTemplate,
		"summarize":        "Summarize the conversation with {{userName}}. Today is {{todaysDate}}.",
		"inputsummary":     "Fold the new message into the summary for {{userName}}.",
		"compress_summary": "Compress the summary for {{userName}}.",
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type fixture struct {
	chat     *memmock.ChatStore
	backend  *memmock.SemanticBackend
	sumStore *memmock.SummaryStore
	users    *memmock.UserStore
	client   *llmmock.Client
	handler  *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		chat:     &memmock.ChatStore{},
		backend:  &memmock.SemanticBackend{},
		sumStore: &memmock.SummaryStore{},
		users: &memmock.UserStore{Profiles: map[string]*memory.Profile{
			"u1": {UserName: "Asha", Gender: "female", Age: 27},
		}},
		client: &llmmock.Client{},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates := testTemplates()
	adapter := memstore.New(f.backend, memstore.WithLogger(log))
	engine := summary.New(f.chat, f.sumStore, f.users, f.client, templates,
		summary.WithLogger(log))
	asm := assembler.New(f.chat, f.users, adapter, engine, templates,
		tokens.HeuristicCounter{}, assembler.Config{}, assembler.WithLogger(log))

	f.handler = New(f.chat, adapter, engine, asm, f.client,
		WithLogger(log), WithMetrics(testMetrics(t)))
	return f
}

func TestHandleHappyPath(t *testing.T) {
	f := newFixture(t)
	f.client.Responses = []*llm.Response{
		{Content: "Hey Asha, good to hear from you!", Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}},
		{Content: "Asha greeted Nova warmly."},
	}

	resp, err := f.handler.Handle(context.Background(), Request{
		UserID: "u1", CharacterID: "nova", Message: "hi there",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.Success {
		t.Error("Success = false, want true")
	}
	if resp.Reply != "Hey Asha, good to hear from you!" {
		t.Errorf("Reply = %q", resp.Reply)
	}
	if resp.Usage.TotalTokens != 120 {
		t.Errorf("Usage.TotalTokens = %d, want 120", resp.Usage.TotalTokens)
	}

	turns := f.chat.Turns()
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[0].Sender != memory.SenderUser || turns[0].Text != "hi there" {
		t.Errorf("first turn = %+v, want user 'hi there'", turns[0])
	}
	if turns[1].Sender != memory.SenderAI || turns[1].Text != resp.Reply {
		t.Errorf("second turn = %+v, want AI reply", turns[1])
	}

	if got := f.backend.Count("user_u1_char_nova"); got != 2 {
		t.Errorf("semantic memory records = %d, want 2 (user + reply)", got)
	}
	if f.sumStore.Upserts != 1 {
		t.Errorf("summary upserts = %d, want 1", f.sumStore.Upserts)
	}

	chatReq := f.client.CompleteCalls[0].Req
	if chatReq.Temperature != DefaultReplyTemperature {
		t.Errorf("chat Temperature = %v, want %v", chatReq.Temperature, DefaultReplyTemperature)
	}
	if chatReq.MaxOutputTokens != DefaultReplyMaxTokens {
		t.Errorf("chat MaxOutputTokens = %d, want %d", chatReq.MaxOutputTokens, DefaultReplyMaxTokens)
	}
	if !strings.Contains(chatReq.SystemPrompt, "Asha") {
		t.Error("system prompt missing the user's display name")
	}
	if chatReq.UserPrompt != "hi there" {
		t.Errorf("UserPrompt = %q, want raw message", chatReq.UserPrompt)
	}
}

func TestHandleValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  Request
	}{
		{"missing user", Request{CharacterID: "nova", Message: "hi"}},
		{"missing character", Request{UserID: "u1", Message: "hi"}},
		{"no content", Request{UserID: "u1", CharacterID: "nova"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.handler.Handle(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if got := len(f.chat.Turns()); got != 0 {
		t.Errorf("rejected requests persisted %d turns", got)
	}
}

func TestHandleCompletionFailure(t *testing.T) {
	f := newFixture(t)
	f.client.Err = errors.New("backend on fire")

	resp, err := f.handler.Handle(context.Background(), Request{
		UserID: "u1", CharacterID: "nova", Message: "are you there?",
	})
	if err != nil {
		t.Fatalf("Handle: %v (completion failure must not surface as an error)", err)
	}
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Reply != FallbackReply {
		t.Errorf("Reply = %q, want fallback", resp.Reply)
	}

	turns := f.chat.Turns()
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2 (fallback must be recorded)", len(turns))
	}
	if turns[1].Sender != memory.SenderAI || turns[1].Text != FallbackReply {
		t.Errorf("second turn = %+v, want persisted fallback reply", turns[1])
	}

	if got := f.backend.Count("user_u1_char_nova"); got != 0 {
		t.Errorf("semantic memory records = %d, want 0 after a failed turn", got)
	}
	if f.sumStore.Upserts != 0 {
		t.Errorf("summary upserts = %d, want 0 after a failed turn", f.sumStore.Upserts)
	}
}

func TestHandleInboundPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.chat.InsertErr = errors.New("db down")

	_, err := f.handler.Handle(context.Background(), Request{
		UserID: "u1", CharacterID: "nova", Message: "hi",
	})
	if err == nil {
		t.Fatal("Handle succeeded although the inbound message could not be persisted")
	}
	if len(f.client.CompleteCalls) != 0 {
		t.Error("completion was attempted without a persisted inbound message")
	}
}

func TestHandleMissingTemplate(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.Handle(context.Background(), Request{
		UserID: "u1", CharacterID: "unknown-character", Message: "hi",
	})
	if !errors.Is(err, prompts.ErrTemplateMissing) {
		t.Fatalf("err = %v, want ErrTemplateMissing", err)
	}
}

func TestHandleImageOnlyTurn(t *testing.T) {
	f := newFixture(t)
	f.client.Responses = []*llm.Response{
		{Content: "Cute cat!"},
		{Content: "Asha shared a cat photo."},
	}

	resp, err := f.handler.Handle(context.Background(), Request{
		UserID:      "u1",
		CharacterID: "nova",
		Image:       &llm.Attachment{URL: "https://cdn.example.com/cat.jpg", MediaType: "image/jpeg"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !resp.Success {
		t.Fatal("Success = false")
	}

	chatReq := f.client.CompleteCalls[0].Req
	if chatReq.Image == nil || chatReq.Image.URL != "https://cdn.example.com/cat.jpg" {
		t.Errorf("completion request image = %+v, want the attachment forwarded", chatReq.Image)
	}

	turns := f.chat.Turns()
	if turns[0].Media == nil || turns[0].Media.Kind != memory.MediaImage {
		t.Errorf("user turn media = %+v, want image ref", turns[0].Media)
	}

	records, err := f.backend.ListAll(context.Background(), "user_u1_char_nova")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("memory records = %d, want 2", len(records))
	}
	if records[0].Text != "[image attachment]" {
		t.Errorf("user memory text = %q, want image placeholder", records[0].Text)
	}
}

func TestHandleSerialisesSamePair(t *testing.T) {
	f := newFixture(t)

	var inFlight, maxInFlight atomic.Int32
	f.client.CompleteFunc = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		n := inFlight.Add(1)
		for {
			max := maxInFlight.Load()
			if n <= max || maxInFlight.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &llm.Response{Content: "ok"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.handler.Handle(context.Background(), Request{
				UserID: "u1", CharacterID: "nova", Message: "ping",
			})
			if err != nil {
				t.Errorf("Handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent completions for one pair = %d, want 1", got)
	}
}
