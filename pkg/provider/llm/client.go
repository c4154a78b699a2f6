// Package llm defines the completion client interface for Large Language
// Model backends.
//
// The conversation core hands a fully assembled (system prompt, user prompt)
// pair to a [Client] and receives plain text back. Clients wrap a remote API
// (OpenAI, an OpenRouter-compatible gateway, a local model server) and must
// be safe for concurrent use; each call should propagate context cancellation
// promptly since completion APIs commonly fail slow, not fast.
package llm

import "context"

// Attachment is an optional image carried alongside the user prompt for
// multimodal turns.
type Attachment struct {
	// URL is the publicly resolvable location of the image.
	URL string

	// MediaType is the MIME type (e.g. "image/jpeg"). May be empty when the
	// backend infers it from the URL.
	MediaType string
}

// Request carries everything a completion call needs. SystemPrompt and
// UserPrompt must both be non-empty; a zero-value Request is invalid.
type Request struct {
	// SystemPrompt is the fully substituted character prompt.
	SystemPrompt string

	// UserPrompt is the raw inbound user message.
	UserPrompt string

	// MaxOutputTokens caps the reply length. Zero means the backend default.
	MaxOutputTokens int

	// Temperature controls output randomness in [0.0, 2.0]. The summary
	// engine runs low temperatures for consistency; chat turns run higher.
	Temperature float64

	// Image is an optional attachment for multimodal turns.
	Image *Attachment
}

// Usage holds token accounting reported by the backend. Counts are in the
// model's native token unit and may differ between backends for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a completion call.
type Response struct {
	// Content is the model's reply text.
	Content string

	// Usage is the backend-reported token accounting, when available.
	Usage Usage
}

// Client is the abstraction over any completion backend.
//
// Complete performs one blocking completion. It must return an error when the
// request fails or ctx expires — the turn handler owns retry and fallback
// policy, so implementations must not retry internally.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
