// Package ports defines the interfaces between the query pipeline and its
// infrastructure collaborators. Implementations live under infrastructure/
// and internal/store; the pipeline itself depends only on these contracts,
// which keeps every stage swappable for a test double.
package ports

import (
	"context"
	"time"

	"github.com/kuberag/kuberag/internal/domain"
)

// Embedder converts text into a fixed-dimension dense vector. For a fixed
// model version the mapping is deterministic: the same text always yields
// the same vector.
type Embedder interface {
	// Embed returns the vector for the given text. When the backing
	// model is unreachable the error wraps domain.ErrModelUnavailable;
	// implementations never return a zero vector in place of a failure.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length this embedder produces.
	Dimensions() int

	// ModelName returns the embedding model identifier, for logging.
	ModelName() string
}

// HybridQuery describes one fused vector+keyword search request. The two
// boost weights blend the k-NN and lexical scores inside a single ranked
// query; this is not two passes stitched together.
type HybridQuery struct {
	// Index is the target index name.
	Index string

	// Query is the lexical query string.
	Query string

	// Vector is the dense query vector, VectorField its target field.
	Vector      []float32
	VectorField string

	// K caps the result count; NumCandidates sizes the k-NN candidate
	// pool considered per shard.
	K             int
	NumCandidates int

	// VectorBoost and KeywordBoost weight the two scoring components.
	VectorBoost  float64
	KeywordBoost float64
}

// SearchClient issues queries against the document index.
type SearchClient interface {
	// IndexExists reports whether the named index exists. The pipeline
	// rechecks this at the start of every query because the index may be
	// created or dropped between queries.
	IndexExists(ctx context.Context, index string) (bool, error)

	// HybridSearch runs one fused vector+keyword query and returns at
	// most q.K documents in rank order. A missing index is an error
	// wrapping domain.ErrIndexNotFound, never an empty slice.
	HybridSearch(ctx context.Context, q HybridQuery) ([]domain.Document, error)
}

// LLMClient is the completion gateway: one prompt in, one response out.
// No streaming and no built-in retry; retry policy belongs to callers so a
// paid generation API is never hammered implicitly.
type LLMClient interface {
	// Complete sends a completion request and returns the generated text,
	// discarding usage information.
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithUsage sends a completion request and additionally
	// returns the prompt and completion token counts reported by the
	// provider.
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error)

	// EstimateTokens approximates the token count of text before any
	// request is made, for pre-flight cost estimates.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier this client targets.
	GetModel() string
}

// ConversationRecord is what the persistence collaborator stores about one
// completed query. The core emits the QueryResult; session identity and
// timestamps are the caller's concern.
type ConversationRecord struct {
	SessionID string
	Question  string
	Result    *domain.QueryResult
	Timestamp time.Time
}

// FeedbackRecord is one explicit user judgement on an answer.
// Value is +1 (helpful) or -1 (not helpful).
type FeedbackRecord struct {
	SessionID string
	Question  string
	Answer    string
	Value     int
	Timestamp time.Time
}

// ConversationStore persists conversations and feedback. The pipeline core
// never calls it; commands and the HTTP surface do.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec ConversationRecord) error
	SaveFeedback(ctx context.Context, rec FeedbackRecord) error
}

// MetricsCollector abstracts the metrics backend so pipeline and gateway
// code can record observations without importing a concrete client.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
