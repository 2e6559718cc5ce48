// Package llm is the completion gateway: one prompt in, one response plus
// token usage out, across OpenAI, Anthropic, and Google backends.
//
// Providers are abstracted behind the CoreLLM interface and composed with
// middleware for timeouts, rate limiting, metrics, and tracing. The gateway
// itself never retries; retry policy belongs to callers, since most of the
// pipeline's completion calls are paid API requests.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o",
//	})
//	answer, in, out, err := client.CompleteWithUsage(ctx, prompt, nil)
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/kuberag/kuberag/internal/ports"
)

// CoreLLM is the minimal surface a provider must implement. Middleware wraps
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the response
	// text together with input and output token counts. The opts map
	// carries provider-tunable parameters such as temperature or
	// max_tokens.
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (response string, tokensIn, tokensOut int, err error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel switches the model for subsequent requests.
	SetModel(model string)
}

// TokenEstimator approximates token counts before a request is made, for
// pre-flight cost estimates.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ClientConfig holds everything needed to build a gateway client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model selects the model for requests.
	Model string

	// BaseURL overrides the provider's default endpoint. Empty uses the
	// default.
	BaseURL string

	// Timeout bounds individual requests. Zero means no timeout.
	Timeout time.Duration

	// TokenEstimator supplies custom token counting. Nil selects a
	// character-based estimator.
	TokenEstimator TokenEstimator

	// Middleware is applied in order, first entry outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM to add cross-cutting behavior without touching
// provider code.
type Middleware func(CoreLLM) CoreLLM

// Client implements ports.LLMClient over a middleware-wrapped provider.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient builds a gateway client for the named provider and wraps it in
// the configured middleware chain.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", providerType, err)
	}

	// Apply middleware in reverse so the first entry ends up outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{core: core, estimator: estimator}, nil
}

// Complete sends a prompt and returns only the response text.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage sends a prompt and returns the response text with the
// prompt and completion token counts reported by the provider.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens approximates the token count of text without making a
// request.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SetModel switches the model for subsequent requests.
func (c *Client) SetModel(model string) { c.core.SetModel(model) }

// SimpleTokenEstimator estimates roughly four characters per token, a
// workable approximation for English text.
type SimpleTokenEstimator struct{}

// EstimateTokens returns an approximate token count for text.
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory builds a CoreLLM from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider under a name. Built-in
// providers register themselves in init; custom providers may be added the
// same way.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}
