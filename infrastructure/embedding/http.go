// Package embedding provides query and document embedders: an HTTP client
// for a self-hosted sentence-transformer server and an OpenAI-backed
// implementation. Both yield fixed-dimension vectors and fail loudly when
// the backing model is unreachable; a zero vector is never substituted.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/charmbracelet/log"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// HTTPConfig configures the sentence-transformer HTTP embedder.
type HTTPConfig struct {
	URL           string
	ModelName     string
	Dimensions    int
	Timeout       time.Duration
	RetryAttempts uint
	Logger        *log.Logger
}

// NewHTTPConfig returns a config with workable defaults.
func NewHTTPConfig() HTTPConfig {
	return HTTPConfig{
		URL:           "http://localhost:8080",
		ModelName:     "multi-qa-MiniLM-L6-cos-v1",
		Dimensions:    domain.VectorDims,
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
	}
}

// Validate checks the configuration for required fields.
func (c HTTPConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("embedding service URL is required")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be greater than 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.RetryAttempts == 0 {
		return fmt.Errorf("retry attempts must be greater than 0")
	}
	return nil
}

// HTTPEmbedder calls a sentence-transformer server speaking the common
// /embed protocol: POST {"content": text}, response {"embedding": [...]}.
type HTTPEmbedder struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *log.Logger
}

var _ ports.Embedder = (*HTTPEmbedder)(nil)

type embedRequest struct {
	Content string `json:"content"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewHTTPEmbedder builds an embedder from config.
func NewHTTPEmbedder(config HTTPConfig) (*HTTPEmbedder, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPEmbedder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Embed returns the vector for text. Transient failures are retried with
// backoff; exhausted retries surface as an error wrapping
// domain.ErrModelUnavailable.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{Content: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	baseURL, err := url.Parse(e.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	embedURL := baseURL.JoinPath("embed").String()

	var vector []float32
	err = retry.Do(
		func() error {
			// Build the request per attempt; the body reader is
			// consumed on each try.
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, embedURL, bytes.NewReader(jsonBody))
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := e.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("requesting embedding: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, body)
			}

			var parsed embedResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				e.logger.Debug("unparseable embedding response", "body", string(body), "error", err)
				return fmt.Errorf("unmarshaling response: %w", err)
			}
			if len(parsed.Embedding) == 0 {
				return fmt.Errorf("empty embedding returned from server")
			}
			vector = parsed.Embedding
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(e.config.RetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying embedding request",
				"attempt", n+1, "max_attempts", e.config.RetryAttempts, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	if len(vector) != e.config.Dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d",
			domain.ErrModelUnavailable, e.config.Dimensions, len(vector))
	}
	return vector, nil
}

// Dimensions returns the configured vector length.
func (e *HTTPEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the embedding model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.config.ModelName }
