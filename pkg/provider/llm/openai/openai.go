// Package openai provides a completion client backed by the OpenAI API or
// any OpenAI-compatible gateway (set a base URL to target OpenRouter or a
// local server).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/gauravmad/wave-length-backend/pkg/provider/llm"
)

// Compile-time check that Client satisfies llm.Client.
var _ llm.Client = (*Client)(nil)

// Client implements llm.Client using the OpenAI chat completions API.
type Client struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Use this to target
// an OpenAI-compatible gateway such as OpenRouter.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Completion backends commonly
// fail slow; production deployments should always set this.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI completion Client.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildParams converts a llm.Request into OpenAI SDK params.
func (c *Client) buildParams(req llm.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, userMessage(req))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}
	return params
}

// userMessage renders the user prompt, as plain text or as multimodal
// content parts when an image attachment is present.
func userMessage(req llm.Request) oai.ChatCompletionMessageParamUnion {
	if req.Image == nil {
		return oai.UserMessage(req.UserPrompt)
	}

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.UserPrompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: req.Image.URL,
		}),
	}
	mp := oai.ChatCompletionUserMessageParam{
		Content: oai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: parts,
		},
	}
	return oai.ChatCompletionMessageParamUnion{OfUser: &mp}
}
