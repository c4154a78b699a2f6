// Command wavelength is the main entry point for the Wavelength companion
// chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/gauravmad/wave-length-backend/internal/assembler"
	"github.com/gauravmad/wave-length-backend/internal/config"
	"github.com/gauravmad/wave-length-backend/internal/health"
	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/observe"
	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/internal/server"
	"github.com/gauravmad/wave-length-backend/internal/summary"
	"github.com/gauravmad/wave-length-backend/internal/turn"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/memory/failover"
	"github.com/gauravmad/wave-length-backend/pkg/memory/postgres"
	"github.com/gauravmad/wave-length-backend/pkg/memory/remote"
	"github.com/gauravmad/wave-length-backend/pkg/provider/embeddings"
	ollamaembed "github.com/gauravmad/wave-length-backend/pkg/provider/embeddings/ollama"
	oaembed "github.com/gauravmad/wave-length-backend/pkg/provider/embeddings/openai"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm/anyllm"
	oaillm "github.com/gauravmad/wave-length-backend/pkg/provider/llm/openai"
	"github.com/gauravmad/wave-length-backend/pkg/tokens"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wavelength: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wavelength: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("wavelength starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "wavelength",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	dims := cfg.Memory.EmbeddingDimensions
	if dims <= 0 {
		dims = 1536
	}
	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, dims)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	backend, err := buildMemoryBackend(cfg, store, metrics)
	if err != nil {
		slog.Error("failed to build memory backend", "err", err)
		return 1
	}

	llmClient, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}

	templates := &prompts.DirSource{Dir: cfg.Prompts.Dir}
	counter := tokens.NewCounter()

	memOpts := []memstore.Option{}
	if cfg.Memory.RelevanceThreshold > 0 {
		memOpts = append(memOpts, memstore.WithThreshold(cfg.Memory.RelevanceThreshold))
	}
	memories := memstore.New(backend, memOpts...)

	sumOpts := []summary.Option{}
	if cfg.Pipeline.SummaryRepresentation == config.SummaryBlocks {
		sumOpts = append(sumOpts, summary.WithBlockAppend())
	}
	summaries := summary.New(store.Chats(), store.Summaries(), store.Users(), llmClient, templates, sumOpts...)

	asm := assembler.New(store.Chats(), store.Users(), memories, summaries, templates, counter, assembler.Config{
		RecentWindow:         cfg.Pipeline.RecentWindow,
		SearchLimit:          cfg.Memory.SearchLimit,
		MaxContextTokens:     cfg.Pipeline.MaxContextTokens,
		ReservedOutputTokens: cfg.Pipeline.ReservedOutputTokens,
		Mode:                 assembler.ContextMode(cfg.Pipeline.ContextMode),
	})

	turnOpts := []turn.Option{turn.WithMetrics(metrics)}
	if cfg.Providers.LLM.Timeout > 0 {
		turnOpts = append(turnOpts, turn.WithLLMTimeout(cfg.Providers.LLM.Timeout.Std()))
	}
	if cfg.Pipeline.ReplyMaxTokens > 0 || cfg.Pipeline.ReplyTemperature > 0 {
		maxTokens := cfg.Pipeline.ReplyMaxTokens
		if maxTokens <= 0 {
			maxTokens = turn.DefaultReplyMaxTokens
		}
		temp := cfg.Pipeline.ReplyTemperature
		if temp <= 0 {
			temp = turn.DefaultReplyTemperature
		}
		turnOpts = append(turnOpts, turn.WithReplyParams(maxTokens, temp))
	}
	turns := turn.New(store.Chats(), memories, summaries, asm, llmClient, turnOpts...)

	checkers := []health.Checker{
		health.Database(store),
		health.Templates(templates, summary.TemplateCreate, summary.TemplateUpdate, summary.TemplateCompress),
	}
	if fb, ok := backend.(*failover.Backend); ok {
		checkers = append(checkers, health.MemoryBackend(fb.Degraded))
	}

	srv := server.New(turns, store.Chats(), memories, summaries,
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checkers...)))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// buildMemoryBackend assembles the semantic memory stack selected in cfg.
func buildMemoryBackend(cfg *config.Config, store *postgres.Store, metrics *observe.Metrics) (memory.SemanticBackend, error) {
	local := func() (memory.SemanticBackend, error) {
		embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, err
		}
		return store.Vectors(embedder), nil
	}
	cloud := func() (memory.SemanticBackend, error) {
		var opts []remote.Option
		if cfg.Memory.Remote.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(cfg.Memory.Remote.Timeout.Std()))
		}
		return remote.New(cfg.Memory.Remote.BaseURL, cfg.Memory.Remote.APIKey, opts...)
	}

	switch cfg.Memory.Backend {
	case config.MemoryRemote:
		return cloud()
	case config.MemoryFailover:
		primary, err := cloud()
		if err != nil {
			return nil, err
		}
		secondary, err := local()
		if err != nil {
			return nil, err
		}
		return failover.New(primary, secondary, failover.WithFallbackHook(func(op string) {
			metrics.RecordMemoryDegraded(context.Background(), op)
		})), nil
	default:
		return local()
	}
}

// buildLLM constructs the completion client named in entry. "openai" uses the
// native client so image turns work; everything else goes through any-llm-go.
func buildLLM(entry config.ProviderEntry) (llm.Client, error) {
	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(entry.Timeout.Std()))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildEmbeddings constructs the embedding provider named in entry.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "ollama":
		var opts []ollamaembed.Option
		if entry.Timeout > 0 {
			opts = append(opts, ollamaembed.WithTimeout(entry.Timeout.Std()))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	case "openai", "":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaembed.WithTimeout(entry.Timeout.Std()))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// newLogger builds a text slog.Logger honouring the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
