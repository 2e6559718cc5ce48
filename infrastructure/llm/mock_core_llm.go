package llm

import (
	"context"
	"sync"
)

// MockCoreLLM is a configurable CoreLLM test double. It records every
// request and returns either the configured function's result or the static
// response fields.
type MockCoreLLM struct {
	mu sync.Mutex

	// DoRequestFunc, when set, handles requests entirely.
	DoRequestFunc func(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error)

	// Static results used when DoRequestFunc is nil.
	Response  string
	TokensIn  int
	TokensOut int
	Err       error

	// Model is the reported model name.
	Model string

	// Prompts holds every prompt received, in order.
	Prompts []string
}

// DoRequest records the prompt and returns the configured result.
func (m *MockCoreLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.DoRequestFunc != nil {
		return m.DoRequestFunc(ctx, prompt, opts)
	}
	return m.Response, m.TokensIn, m.TokensOut, m.Err
}

// CallCount returns how many requests have been made.
func (m *MockCoreLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the configured model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}
