package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/gauravmad/wave-length-backend/internal/assembler"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
}


// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}

	backend := cfg.Memory.Backend
	if backend != "" && !backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: postgres, remote, failover", backend))
	}
	// Chat history always lives in Postgres, so the DSN is required even
	// when semantic memory is remote.
	if cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required"))
	}
	if backend == MemoryPostgres || backend == MemoryFailover || backend == "" {
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, fmt.Errorf("memory.backend %q requires providers.embeddings", orDefault(string(backend), "postgres")))
		}
		if cfg.Memory.EmbeddingDimensions <= 0 {
			slog.Warn("memory.embedding_dimensions is not set; defaulting to 1536")
		}
	}
	if backend == MemoryRemote || backend == MemoryFailover {
		if cfg.Memory.Remote.BaseURL == "" {
			errs = append(errs, fmt.Errorf("memory.backend %q requires memory.remote.base_url", backend))
		}
	}
	if t := cfg.Memory.RelevanceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("memory.relevance_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Memory.SearchLimit < 0 {
		errs = append(errs, fmt.Errorf("memory.search_limit %d is negative", cfg.Memory.SearchLimit))
	}

	// Mode strings are validated by the assembler itself, so a value that
	// passes here can never fall through the assembler's mode switch.
	if mode := cfg.Pipeline.ContextMode; mode != "" && !assembler.ContextMode(mode).IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.context_mode %q is invalid; valid values: %s, %s, %s, %s",
			mode, assembler.ModeRecent, assembler.ModeRecentMemory, assembler.ModeRecentSummary, assembler.ModeAll))
	}
	if rep := cfg.Pipeline.SummaryRepresentation; rep != "" && !rep.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.summary_representation %q is invalid; valid values: rolling, blocks", rep))
	}
	if cfg.Pipeline.MaxContextTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_context_tokens %d is negative", cfg.Pipeline.MaxContextTokens))
	}
	if cfg.Pipeline.ReservedOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.reserved_output_tokens %d is negative", cfg.Pipeline.ReservedOutputTokens))
	}
	if max, res := cfg.Pipeline.MaxContextTokens, cfg.Pipeline.ReservedOutputTokens; max > 0 && res >= max {
		errs = append(errs, fmt.Errorf("pipeline.reserved_output_tokens %d leaves no room in a %d-token window", res, max))
	}
	if temp := cfg.Pipeline.ReplyTemperature; temp < 0 || temp > 2 {
		errs = append(errs, fmt.Errorf("pipeline.reply_temperature %.2f is out of range [0, 2]", temp))
	}

	if cfg.Prompts.Dir == "" {
		errs = append(errs, errors.New("prompts.dir is required"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
