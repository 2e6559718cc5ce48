// Package commands holds the wiring shared by the CLI, the indexing job,
// and the HTTP server: logger construction and assembly of the pipeline
// from configuration.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/kuberag/kuberag/infrastructure/embedding"
	"github.com/kuberag/kuberag/infrastructure/llm"
	"github.com/kuberag/kuberag/infrastructure/search"
	"github.com/kuberag/kuberag/internal/config"
	"github.com/kuberag/kuberag/internal/ports"
	"github.com/kuberag/kuberag/internal/rag"
)

// NewLogger builds a charm logger writing to stderr at the given level.
func NewLogger(levelName string) (*log.Logger, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	logger.SetLevel(level)
	return logger, nil
}

// BuildEmbedder constructs the configured embedding backend.
func BuildEmbedder(cfg *config.Config, logger *log.Logger) (ports.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDims)
	default:
		ec := embedding.NewHTTPConfig()
		ec.URL = cfg.EmbeddingURL
		ec.ModelName = cfg.EmbeddingModel
		ec.Dimensions = cfg.EmbeddingDims
		ec.Logger = logger
		return embedding.NewHTTPEmbedder(ec)
	}
}

// BuildSearchClient connects to the configured Elasticsearch node.
func BuildSearchClient(cfg *config.Config) (*search.Client, error) {
	return search.NewClient(cfg.ElasticsearchHost)
}

// BuildLLMClient constructs a completion gateway for the given model with
// the standard middleware chain: tracing outermost, then metrics, rate
// limiting, and a per-request timeout.
func BuildLLMClient(cfg *config.Config, model string, collector ports.MetricsCollector) (*llm.Client, error) {
	return llm.NewClient(cfg.LLMProvider, llm.ClientConfig{
		APIKey: cfg.APIKey(),
		Model:  model,
		Middleware: []llm.Middleware{
			llm.TracingMiddleware("kuberag"),
			llm.MetricsMiddleware(collector),
			llm.RateLimitMiddleware(rate.Limit(5), 10),
			llm.TimeoutMiddleware(2 * time.Minute),
		},
	})
}

// LoadPricing returns the cost accountant, reading the configured pricing
// file when one is set and falling back to the built-in table otherwise.
func LoadPricing(cfg *config.Config) (*rag.CostAccountant, error) {
	if cfg.PricingFile == "" {
		return rag.NewCostAccountant(nil), nil
	}
	f, err := os.Open(cfg.PricingFile)
	if err != nil {
		return nil, fmt.Errorf("opening pricing file: %w", err)
	}
	defer f.Close()

	table, err := rag.LoadPricingTable(f)
	if err != nil {
		return nil, err
	}
	return rag.NewCostAccountant(table), nil
}

// BuildOrchestrator assembles the full query pipeline from configuration.
func BuildOrchestrator(cfg *config.Config, logger *log.Logger, collector ports.MetricsCollector) (*rag.Orchestrator, error) {
	embedder, err := BuildEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building embedder: %w", err)
	}

	searchClient, err := BuildSearchClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building search client: %w", err)
	}

	generator, err := BuildLLMClient(cfg, cfg.Model, collector)
	if err != nil {
		return nil, fmt.Errorf("building generation client: %w", err)
	}

	// The evaluator gets its own client so a cheaper judge model can be
	// configured independently of the generation model.
	evalClient := generator
	if cfg.EvalModel != cfg.Model {
		evalClient, err = BuildLLMClient(cfg, cfg.EvalModel, collector)
		if err != nil {
			return nil, fmt.Errorf("building evaluation client: %w", err)
		}
	}

	prompts := rag.NewPromptBuilder()
	evaluator, err := rag.NewRelevanceEvaluator(evalClient, prompts)
	if err != nil {
		return nil, err
	}

	pricing, err := LoadPricing(cfg)
	if err != nil {
		return nil, err
	}

	return rag.NewOrchestrator(rag.Config{
		IndexName:    cfg.ElasticsearchIndex,
		RewriteQuery: cfg.RewriteQuery,
	}, rag.Deps{
		Embedder:  embedder,
		Search:    searchClient,
		Generator: generator,
		Evaluator: evaluator,
		Prompts:   prompts,
		Pricing:   pricing,
		Metrics:   collector,
		Logger:    logger,
	})
}
