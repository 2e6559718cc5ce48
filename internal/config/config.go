// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration shared by the CLI, the indexing
// job, and the HTTP server. Every field maps to one environment variable.
type Config struct {
	// Elasticsearch connection and target index.
	ElasticsearchHost  string `validate:"required,url"`
	ElasticsearchIndex string `validate:"required"`

	// Embedding backend. Provider selects the implementation: "http" for
	// a self-hosted sentence-transformer endpoint, "openai" for the
	// OpenAI embeddings API.
	EmbeddingProvider string `validate:"oneof=http openai"`
	EmbeddingURL      string
	EmbeddingModel    string `validate:"required"`
	EmbeddingDims     int    `validate:"gt=0"`

	// Completion gateway. EvalModel defaults to Model so a single model
	// serves generation and evaluation unless overridden.
	LLMProvider     string `validate:"oneof=openai anthropic google"`
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	Model           string `validate:"required"`
	EvalModel       string `validate:"required"`

	// Pipeline knobs.
	RewriteQuery bool
	PricingFile  string

	// DataDir holds the conversation database and the source corpus.
	DataDir string `validate:"required"`

	LogLevel string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win
// over .env entries.
func Load() (*Config, error) {
	// godotenv.Load never overrides variables already set.
	_ = godotenv.Load()

	cfg := &Config{
		ElasticsearchHost:  getenv("ELASTICSEARCH_HOST", "http://localhost:9200"),
		ElasticsearchIndex: getenv("ELASTICSEARCH_INDEX", "k8s-questions"),
		EmbeddingProvider:  getenv("EMBEDDING_PROVIDER", "http"),
		EmbeddingURL:       getenv("EMBEDDING_URL", "http://localhost:8080"),
		EmbeddingModel:     getenv("EMBEDDING_MODEL", "multi-qa-MiniLM-L6-cos-v1"),
		LLMProvider:        getenv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		Model:              getenv("KUBERAG_MODEL", "gpt-4o"),
		PricingFile:        os.Getenv("KUBERAG_PRICING_FILE"),
		DataDir:            getenv("KUBERAG_DATA_DIR", "data"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}
	cfg.EvalModel = getenv("KUBERAG_EVAL_MODEL", cfg.Model)

	dims, err := getenvInt("EMBEDDING_DIMS", 384)
	if err != nil {
		return nil, err
	}
	cfg.EmbeddingDims = dims

	rewrite, err := getenvBool("KUBERAG_REWRITE_QUERY", false)
	if err != nil {
		return nil, err
	}
	cfg.RewriteQuery = rewrite

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.checkProviderKeys(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkProviderKeys verifies the selected providers have the credentials
// they need, so a missing key fails at startup instead of on the first query.
func (c *Config) checkProviderKeys() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
	case "google":
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=google requires GOOGLE_API_KEY")
		}
	}
	if c.EmbeddingProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
	}
	if c.EmbeddingProvider == "http" && c.EmbeddingURL == "" {
		return fmt.Errorf("EMBEDDING_PROVIDER=http requires EMBEDDING_URL")
	}
	return nil
}

// APIKey returns the credential for the configured completion provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "google":
		return c.GoogleAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected an integer, got %q", key, v)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: expected a boolean, got %q", key, v)
	}
	return b, nil
}
