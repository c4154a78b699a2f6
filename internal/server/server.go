// Package server exposes the Wavelength conversation core over HTTP.
//
// The API is JSON over a [chi] router: chat turns, history, memory
// management, summary maintenance, plus /healthz and Prometheus /metrics.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gauravmad/wave-length-backend/internal/health"
	"github.com/gauravmad/wave-length-backend/internal/memstore"
	"github.com/gauravmad/wave-length-backend/internal/observe"
	"github.com/gauravmad/wave-length-backend/internal/prompts"
	"github.com/gauravmad/wave-length-backend/internal/summary"
	"github.com/gauravmad/wave-length-backend/internal/turn"
	"github.com/gauravmad/wave-length-backend/pkg/memory"
	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
)

// Server wires the conversation core into HTTP handlers.
type Server struct {
	turns     *turn.Handler
	chat      memory.ChatStore
	memories  *memstore.Adapter
	summaries *summary.Engine
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Option customises a [Server].
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth sets the health handler backing /healthz and /readyz. Defaults
// to a handler with no readiness checkers.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// New creates the HTTP server facade.
func New(turns *turn.Handler, chat memory.ChatStore, memories *memstore.Adapter, summaries *summary.Engine, opts ...Option) *Server {
	s := &Server{
		turns:     turns,
		chat:      chat,
		memories:  memories,
		summaries: summaries,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.timed)

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/history", s.handleHistory)

	r.Get("/v1/memories", s.handleListMemories)
	r.Get("/v1/memories/stats", s.handleMemoryStats)
	r.Delete("/v1/memories/{id}", s.handleDeleteMemory)
	r.Post("/v1/memories/reset", s.handleResetMemories)

	r.Post("/v1/summaries/rebuild", s.handleRebuildSummary)
	r.Post("/v1/summaries/compress", s.handleCompressSummary)

	return r
}

// timed records request latency tagged with the matched route pattern.
func (s *Server) timed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, pattern, time.Since(start).Seconds())
	})
}

type chatRequest struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	Message     string `json:"message"`
	ImageURL    string `json:"image_url,omitempty"`
}

type chatResponse struct {
	Reply     string         `json:"reply"`
	Success   bool           `json:"success"`
	Truncated bool           `json:"truncated"`
	Tokens    map[string]int `json:"tokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	treq := turn.Request{
		UserID:      req.UserID,
		CharacterID: req.CharacterID,
		Message:     req.Message,
	}
	if req.ImageURL != "" {
		treq.Image = &llm.Attachment{URL: req.ImageURL}
	}

	resp, err := s.turns.Handle(r.Context(), treq)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrInvalidRequest):
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, prompts.ErrTemplateMissing):
			respondError(w, http.StatusInternalServerError, "configuration_error", err.Error())
		default:
			s.log.Error("chat turn failed", slog.String("error", err.Error()))
			respondError(w, http.StatusInternalServerError, "internal_error", "failed to process the message")
		}
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		Reply:     resp.Reply,
		Success:   resp.Success,
		Truncated: resp.Truncated,
		Tokens: map[string]int{
			"system":     resp.Tokens.System,
			"user":       resp.Tokens.User,
			"summary":    resp.Tokens.Summary,
			"memory":     resp.Tokens.Memory,
			"recent":     resp.Tokens.Recent,
			"completion": resp.Usage.CompletionTokens,
		},
	})
}

type historyTurn struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	MediaURL  string `json:"media_url,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, characterID, ok := pairParams(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := s.chat.FindByPair(r.Context(), userID, characterID, memory.Ascending, limit)
	if err != nil {
		s.log.Error("history lookup failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}

	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		ht := historyTurn{
			ID:        t.ID,
			Sender:    string(t.Sender),
			Text:      t.Text,
			Timestamp: t.Timestamp.Format(time.RFC3339),
		}
		if t.Media != nil {
			ht.MediaURL = t.Media.URL
		}
		out = append(out, ht)
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID, characterID, ok := pairParams(w, r)
	if !ok {
		return
	}
	records, err := s.memories.GetAll(r.Context(), userID, characterID)
	if err != nil {
		s.log.Error("memory listing failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list memories")
		return
	}

	type memoryItem struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Sender    string `json:"sender"`
		Timestamp string `json:"timestamp"`
	}
	out := make([]memoryItem, 0, len(records))
	for _, rec := range records {
		out = append(out, memoryItem{
			ID:        rec.ID,
			Text:      rec.Text,
			Sender:    string(rec.Metadata.Sender),
			Timestamp: rec.Metadata.Timestamp.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": out})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	userID, characterID, ok := pairParams(w, r)
	if !ok {
		return
	}
	stats, err := s.memories.Stats(r.Context(), userID, characterID)
	if err != nil {
		s.log.Error("memory stats failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_memories": stats.TotalMemories,
		"composite_key":  stats.CompositeKey,
	})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.memories.DeleteOne(r.Context(), id); err != nil {
		s.log.Error("memory delete failed", slog.String("memory_id", id), slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to delete memory")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type pairRequest struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
}

func (s *Server) handleResetMemories(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePair(w, r)
	if !ok {
		return
	}
	complete, remaining := s.memories.ResetAll(r.Context(), req.UserID, req.CharacterID)
	respondJSON(w, http.StatusOK, map[string]any{
		"complete":  complete,
		"remaining": remaining,
	})
}

func (s *Server) handleRebuildSummary(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePair(w, r)
	if !ok {
		return
	}
	text, err := s.summaries.CreateFromScratch(r.Context(), req.UserID, req.CharacterID)
	if err != nil {
		s.summaryError(w, "summary rebuild failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": text})
}

func (s *Server) handleCompressSummary(w http.ResponseWriter, r *http.Request) {
	req, ok := decodePair(w, r)
	if !ok {
		return
	}
	text, err := s.summaries.Compress(r.Context(), req.UserID, req.CharacterID)
	if err != nil {
		if errors.Is(err, memory.ErrNoSummary) {
			respondError(w, http.StatusNotFound, "not_found", "no summary exists for this pair")
			return
		}
		s.summaryError(w, "summary compression failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": text})
}

func (s *Server) summaryError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, prompts.ErrTemplateMissing) {
		respondError(w, http.StatusInternalServerError, "configuration_error", err.Error())
		return
	}
	s.log.Error(msg, slog.String("error", err.Error()))
	respondError(w, http.StatusInternalServerError, "internal_error", msg)
}

func pairParams(w http.ResponseWriter, r *http.Request) (userID, characterID string, ok bool) {
	q := r.URL.Query()
	userID = strings.TrimSpace(q.Get("user_id"))
	characterID = strings.TrimSpace(q.Get("character_id"))
	if userID == "" || characterID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and character_id query parameters are required")
		return "", "", false
	}
	return userID, characterID, true
}

func decodePair(w http.ResponseWriter, r *http.Request) (pairRequest, bool) {
	var req pairRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return pairRequest{}, false
	}
	if req.UserID == "" || req.CharacterID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and character_id are required")
		return pairRequest{}, false
	}
	return req, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
