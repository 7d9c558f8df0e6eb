// Package openai provides an oracle.LLM backed by the OpenAI Responses API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/bprzybys-nc/manager-sub001/oracle"
)

// DefaultModel is used when no model is configured.
var DefaultModel = openai.ChatModelGPT4o

var _ oracle.LLM = (*Client)(nil)

// Client completes prompts with an OpenAI model.
type Client struct {
	client    openai.Client
	model     openai.ChatModel
	maxTokens int64
	options   []option.RequestOption
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the API key. Defaults to OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.options = append(c.options, option.WithAPIKey(key)) }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.options = append(c.options, option.WithBaseURL(url)) }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = openai.ChatModel(model) }
}

// WithMaxTokens caps output tokens per completion.
func WithMaxTokens(n int64) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithRequestOptions appends raw SDK request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *Client) { c.options = append(c.options, opts...) }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{model: DefaultModel, maxTokens: 4096}
	for _, opt := range opts {
		opt(c)
	}
	c.client = openai.NewClient(c.options...)
	return c
}

// Complete implements oracle.LLM.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := responses.ResponseNewParams{
		Model:        c.model,
		Instructions: openai.String(system),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(c.maxTokens)
	}
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	text := resp.OutputText()
	if text == "" {
		return "", errors.New("openai: empty response")
	}
	return text, nil
}
