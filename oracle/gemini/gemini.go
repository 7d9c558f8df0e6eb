// Package gemini provides an oracle.LLM backed by Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/bprzybys-nc/manager-sub001/oracle"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

var _ oracle.LLM = (*Client)(nil)

// Client completes prompts with a Gemini model. The SDK client is created
// lazily on first use.
type Client struct {
	apiKey    string
	projectID string
	location  string
	model     string
	baseURL   string

	mu     sync.Mutex
	client *genai.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the Gemini API key.
func WithAPIKey(key string) Option { return func(c *Client) { c.apiKey = key } }

// WithVertex targets a Vertex AI project and location instead of an API key.
func WithVertex(projectID, location string) Option {
	return func(c *Client) {
		c.projectID = projectID
		c.location = location
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option { return func(c *Client) { c.baseURL = url } }

// WithModel sets the model name.
func WithModel(model string) Option { return func(c *Client) { c.model = model } }

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) init(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI}
	if c.projectID != "" {
		cfg = &genai.ClientConfig{
			Project:  c.projectID,
			Location: c.location,
			Backend:  genai.BackendVertexAI,
		}
	}
	if c.baseURL != "" {
		cfg.HTTPOptions.BaseURL = c.baseURL
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = client
	return client, nil
}

// Complete implements oracle.LLM.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	client, err := c.init(ctx)
	if err != nil {
		return "", err
	}
	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}
