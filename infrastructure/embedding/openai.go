package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// OpenAIEmbedder produces vectors through the OpenAI embeddings API. The
// requested dimension count is passed to the API so the index mapping and
// the model output always agree.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

var _ ports.Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds an embedder for the given model. A zero
// dimensions value uses the model's native output size.
func NewOpenAIEmbedder(apiKey, model string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns the vector for text. API failures surface as errors wrapping
// domain.ErrModelUnavailable.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", domain.ErrModelUnavailable)
	}

	vector := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vector) != e.dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d",
			domain.ErrModelUnavailable, e.dimensions, len(vector))
	}
	return vector, nil
}

// Dimensions returns the configured vector length, or zero when the model's
// native size is used.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the embedding model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.model }
