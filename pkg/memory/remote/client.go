// Package remote implements [memory.SemanticBackend] against a hosted memory
// API over HTTP.
//
// Hosted memory services are loose about response framing: depending on the
// endpoint and API version, a result set may arrive as an object with a
// "results" array, as a bare array of record objects, or as a bare array of
// strings. This client normalises all three shapes into the same Go types at
// the decode boundary, so callers never see the difference.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gauravmad/wave-length-backend/pkg/memory"
)

// DefaultTimeout is the per-request HTTP timeout applied when no explicit
// timeout option is given. Memory calls sit on the hot path of every turn,
// so an unbounded request would stall the whole conversation.
const DefaultTimeout = 10 * time.Second

// Compile-time interface check.
var _ memory.SemanticBackend = (*Client)(nil)

// Client talks to a hosted memory API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type config struct {
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*config)

// WithTimeout sets the per-request HTTP timeout. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client entirely. Useful for
// tests and custom transports; the caller owns timeout configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Client for the memory API at baseURL.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote memory: baseURL must not be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{timeout: DefaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}

	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: hc}, nil
}

// addRequest is the JSON body for the add endpoint. The remembered text is
// wrapped as a single-message conversation, which is the framing hosted
// memory APIs extract facts from.
type addRequest struct {
	Messages []addMessage      `json:"messages"`
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type addMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// searchRequest is the JSON body for the search endpoint.
type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// Add implements [memory.SemanticBackend].
func (c *Client) Add(ctx context.Context, key, text string, meta memory.RecordMetadata) error {
	role := "user"
	if meta.Sender == memory.SenderAI {
		role = "assistant"
	}

	md := map[string]string{
		"sender":       string(meta.Sender),
		"user_id":      meta.UserID,
		"character_id": meta.CharacterID,
	}
	if meta.UserName != "" {
		md["user_name"] = meta.UserName
	}
	if meta.MessageType != "" {
		md["message_type"] = meta.MessageType
	}
	if !meta.Timestamp.IsZero() {
		md["timestamp"] = meta.Timestamp.UTC().Format(time.RFC3339)
	}

	body := addRequest{
		Messages: []addMessage{{Role: role, Content: text}},
		UserID:   key,
		Metadata: md,
	}
	if err := c.do(ctx, http.MethodPost, "/v1/memories/", body, nil); err != nil {
		return fmt.Errorf("remote memory: add: %w", err)
	}
	return nil
}

// Search implements [memory.SemanticBackend].
func (c *Client) Search(ctx context.Context, key, query string, limit int) ([]memory.SearchResult, error) {
	body := searchRequest{Query: query, UserID: key, Limit: limit}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/v1/memories/search/", body, &raw); err != nil {
		return nil, fmt.Errorf("remote memory: search: %w", err)
	}

	results, err := decodeResults(raw)
	if err != nil {
		return nil, fmt.Errorf("remote memory: search: %w", err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListAll implements [memory.SemanticBackend].
func (c *Client) ListAll(ctx context.Context, key string) ([]memory.MemoryRecord, error) {
	path := "/v1/memories/?user_id=" + url.QueryEscape(key)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("remote memory: list all: %w", err)
	}

	results, err := decodeResults(raw)
	if err != nil {
		return nil, fmt.Errorf("remote memory: list all: %w", err)
	}
	records := make([]memory.MemoryRecord, len(results))
	for i, r := range results {
		records[i] = r.Record
	}
	return records, nil
}

// DeleteByID implements [memory.SemanticBackend]. A 404 from the API is
// treated as success: the record is gone either way.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(id)+"/", nil, nil)
	if err != nil {
		var se *statusError
		if asStatusError(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("remote memory: delete: %w", err)
	}
	return nil
}

// statusError reports a non-2xx HTTP response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if ok {
		*target = se
	}
	return ok
}

// do issues one API request. A non-nil out receives the decoded response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
