// Package mock provides a test double for the llm.Client interface.
//
// Use Client in unit tests to verify the exact Request the pipeline builds
// and to feed controlled replies without a live backend.
//
// Example:
//
//	c := &mock.Client{Response: &llm.Response{Content: "Hello!"}}
//	resp, err := c.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context

	// Req is the Request passed to Complete.
	Req llm.Request
}

// Client is a mock implementation of llm.Client. Zero values cause Complete
// to return (nil, nil); set Err to inject a failure.
type Client struct {
	mu sync.Mutex

	// Response is returned by Complete. May be nil.
	Response *llm.Response

	// Responses, when non-empty, is consumed one element per call before
	// falling back to Response. Useful when a test drives several LLM calls
	// with different expected replies.
	Responses []*llm.Response

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// CompleteFunc, when non-nil, overrides all canned behaviour.
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// CompleteCalls records every invocation in order.
	CompleteCalls []CompleteCall
}

// Compile-time check that Client satisfies llm.Client.
var _ llm.Client = (*Client)(nil)

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if c.CompleteFunc != nil {
		return c.CompleteFunc(ctx, req)
	}
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Responses) > 0 {
		resp := c.Responses[0]
		c.Responses = c.Responses[1:]
		return resp, nil
	}
	return c.Response, nil
}

// LastRequest returns the Request of the most recent Complete call, or a zero
// Request when Complete was never called.
func (c *Client) LastRequest() llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.CompleteCalls) == 0 {
		return llm.Request{}
	}
	return c.CompleteCalls[len(c.CompleteCalls)-1].Req
}
