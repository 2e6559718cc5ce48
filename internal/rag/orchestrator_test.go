package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// mockLLM is an in-memory ports.LLMClient. When fn is set it decides the
// response per prompt; otherwise the fixed response/tokens/err fields apply.
type mockLLM struct {
	mu        sync.Mutex
	model     string
	response  string
	tokensIn  int
	tokensOut int
	err       error
	fn        func(prompt string) (string, int, int, error)
	prompts   []string
}

func (m *mockLLM) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	text, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return text, err
}

func (m *mockLLM) CompleteWithUsage(_ context.Context, prompt string, _ map[string]any) (string, int, int, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(prompt)
	}
	if m.err != nil {
		return "", 0, 0, m.err
	}
	return m.response, m.tokensIn, m.tokensOut, nil
}

func (m *mockLLM) EstimateTokens(text string) (int, error) { return (len(text) + 3) / 4, nil }

func (m *mockLLM) GetModel() string { return m.model }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Dimensions() int   { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

type fakeSearch struct {
	exists    bool
	existsErr error
	docs      []domain.Document
	searchErr error
	lastQuery ports.HybridQuery
	searches  int
}

func (f *fakeSearch) IndexExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeSearch) HybridSearch(_ context.Context, q ports.HybridQuery) ([]domain.Document, error) {
	f.searches++
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.docs, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func testDeps(t *testing.T, llm *mockLLM, search *fakeSearch, embedder *fakeEmbedder, withEvaluator bool) Deps {
	t.Helper()
	deps := Deps{
		Embedder:  embedder,
		Search:    search,
		Generator: llm,
		Logger:    quietLogger(),
	}
	if withEvaluator {
		eval, err := NewRelevanceEvaluator(llm, NewPromptBuilder())
		require.NoError(t, err)
		deps.Evaluator = eval
	}
	return deps
}

// answerOrEvaluate routes the generation prompt to a fixed answer and the
// evaluation prompt to the given verdict payload.
func answerOrEvaluate(answer, evaluation string) func(string) (string, int, int, error) {
	return func(prompt string) (string, int, int, error) {
		if strings.Contains(prompt, "expert evaluator") {
			return evaluation, 50, 15, nil
		}
		return answer, 200, 40, nil
	}
}

// TestQuery_HappyPath runs the whole pipeline with two retrieved documents
// and checks the assembled result end to end.
func TestQuery_HappyPath(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		fn: answerOrEvaluate(
			"Use kubectl apply -f manifest.yaml.",
			`{"Relevance": "RELEVANT", "Explanation": "Answers the question."}`,
		),
	}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, true))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "How do I apply a manifest?")
	require.NoError(t, err)

	assert.Equal(t, "Use kubectl apply -f manifest.yaml.", result.Answer)
	assert.Equal(t, sampleDocs(), result.SearchResults)
	assert.Equal(t, domain.Relevant, result.Relevance)
	assert.Equal(t, 200, result.PromptTokens)
	assert.Equal(t, 40, result.CompletionTokens)
	assert.Equal(t, 240, result.TotalTokens)
	assert.Zero(t, result.RewriteTokens)
	assert.Equal(t, 50, result.EvalPromptTokens)
	assert.Equal(t, 15, result.EvalCompletionTokens)
	assert.Equal(t, 65, result.EvalTotalTokens)
	assert.Greater(t, result.ResponseTime, 0.0)

	// 250 prompt + 55 completion tokens of gpt-4o.
	want := decimal.RequireFromString("0.000625").Add(decimal.RequireFromString("0.00055"))
	assert.True(t, result.Cost.Equal(want), "cost %s, want %s", result.Cost, want)

	// Both retrieved documents must reach the generation prompt.
	require.GreaterOrEqual(t, llm.callCount(), 1)
	genPrompt := llm.prompts[0]
	assert.Contains(t, genPrompt, "Applying manifests")
	assert.Contains(t, genPrompt, "Deleting pods")
}

// TestQuery_MissingIndexAborts verifies a missing index aborts before any
// model call and carries the indexing remedy.
func TestQuery_MissingIndexAborts(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o"}
	search := &fakeSearch{exists: false}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, true))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "anything")
	require.Error(t, err)

	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.StageIndexChecked, perr.Stage)
	assert.Contains(t, perr.Remedy, "kuberag-index")
	assert.True(t, errors.Is(err, domain.ErrIndexNotFound))

	assert.Zero(t, embedder.calls, "no embedding call on a missing index")
	assert.Zero(t, llm.callCount(), "no model call on a missing index")
	assert.Zero(t, search.searches)
}

// TestQuery_EmptyQuestionAborts verifies whitespace-only input never reaches
// the index check.
func TestQuery_EmptyQuestionAborts(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o"}
	search := &fakeSearch{exists: true}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "   \n\t ")
	require.Error(t, err)

	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.StageReceivedQuery, perr.Stage)
}

// TestQuery_EmbedderDownAborts verifies an unreachable embedding model is
// fatal at the embedding stage, with no zero-vector fallback.
func TestQuery_EmbedderDownAborts(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o"}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{err: fmt.Errorf("%w: connection refused", domain.ErrModelUnavailable)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "q")
	require.Error(t, err)

	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.StageEmbedded, perr.Stage)
	assert.True(t, errors.Is(err, domain.ErrModelUnavailable))
	assert.Zero(t, search.searches)
}

// TestQuery_GenerationFailureAborts verifies a failed generation call is
// fatal and wraps the completion sentinel.
func TestQuery_GenerationFailureAborts(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o", err: errors.New("429 too many requests")}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, true))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "q")
	require.Error(t, err)

	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.StageAnswerGenerated, perr.Stage)
	assert.True(t, errors.Is(err, domain.ErrCompletionFailed))
}

// TestQuery_MalformedEvaluationDegrades verifies unparseable evaluation
// output yields Unknown while keeping the answer and billing intact.
func TestQuery_MalformedEvaluationDegrades(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		fn:    answerOrEvaluate("the answer", "sure, looks relevant to me!"),
	}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, true))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "q")
	require.NoError(t, err, "malformed evaluation must not fail the query")

	assert.Equal(t, "the answer", result.Answer)
	assert.Equal(t, domain.Unknown, result.Relevance)
	assert.NotEmpty(t, result.RelevanceExplanation)
	assert.Equal(t, 65, result.EvalTotalTokens, "unparseable output still burned tokens")
	assert.True(t, result.Cost.GreaterThan(decimal.Zero))
}

// TestQuery_EvaluationGatewayFailureDegrades verifies a dead evaluation call
// softens to Unknown with zero evaluation usage.
func TestQuery_EvaluationGatewayFailureDegrades(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		fn: func(prompt string) (string, int, int, error) {
			if strings.Contains(prompt, "expert evaluator") {
				return "", 0, 0, errors.New("connection reset")
			}
			return "the answer", 200, 40, nil
		},
	}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, true))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, domain.Unknown, result.Relevance)
	assert.Contains(t, result.RelevanceExplanation, "evaluation failed")
	assert.Zero(t, result.EvalTotalTokens)
}

// TestQuery_WithoutEvaluator verifies the pipeline runs with evaluation
// disabled and reports Unknown.
func TestQuery_WithoutEvaluator(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o", response: "the answer", tokensIn: 100, tokensOut: 20}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "k8s-questions"}, testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, domain.Unknown, result.Relevance)
	assert.Equal(t, 1, llm.callCount(), "generation only, no evaluation call")
	assert.Zero(t, result.EvalTotalTokens)
}

// TestQuery_RewriteDrivesRetrieval verifies the rewritten question replaces
// the original for search and generation, and its tokens are tracked.
func TestQuery_RewriteDrivesRetrieval(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		fn: func(prompt string) (string, int, int, error) {
			if strings.Contains(prompt, "Return only the rewritten query.") {
				return `"draining a node with kubectl drain"`, 30, 10, nil
			}
			return "the answer", 200, 40, nil
		},
	}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(
		Config{IndexName: "k8s-questions", RewriteQuery: true},
		testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "how do i empty a node")
	require.NoError(t, err)

	assert.Equal(t, "draining a node with kubectl drain", search.lastQuery.Query,
		"retrieval must use the unquoted rewritten question")
	assert.Equal(t, 40, result.RewriteTokens)

	// 230 prompt + 50 completion tokens billed together at the generation
	// model's rates.
	want := decimal.RequireFromString("0.000575").Add(decimal.RequireFromString("0.0005"))
	assert.True(t, result.Cost.Equal(want), "cost %s, want %s", result.Cost, want)
}

// TestQuery_EmptyRewriteFallsBack verifies an empty rewrite keeps the
// original question instead of searching for nothing.
func TestQuery_EmptyRewriteFallsBack(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		fn: func(prompt string) (string, int, int, error) {
			if strings.Contains(prompt, "Return only the rewritten query.") {
				return "   ", 20, 1, nil
			}
			return "the answer", 200, 40, nil
		},
	}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(
		Config{IndexName: "k8s-questions", RewriteQuery: true},
		testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "how do i empty a node")
	require.NoError(t, err)
	assert.Equal(t, "how do i empty a node", search.lastQuery.Query)
	assert.Equal(t, 21, result.RewriteTokens, "a useless rewrite still cost tokens")
}

// TestQuery_SearchConfigPropagates verifies the configured knobs reach the
// search request.
func TestQuery_SearchConfigPropagates(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o", response: "the answer"}
	search := &fakeSearch{exists: true, docs: sampleDocs()}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{
		IndexName:     "k8s-questions",
		VectorField:   "title_text_vector",
		TopK:          3,
		NumCandidates: 500,
		VectorBoost:   0.7,
		KeywordBoost:  0.3,
	}, testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "q")
	require.NoError(t, err)

	q := search.lastQuery
	assert.Equal(t, "k8s-questions", q.Index)
	assert.Equal(t, "title_text_vector", q.VectorField)
	assert.Equal(t, 3, q.K)
	assert.Equal(t, 500, q.NumCandidates)
	assert.Equal(t, 0.7, q.VectorBoost)
	assert.Equal(t, 0.3, q.KeywordBoost)
	assert.Len(t, q.Vector, domain.VectorDims)
}

// TestQuery_DefaultsApplied verifies the zero-value config picks the
// documented defaults.
func TestQuery_DefaultsApplied(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o", response: "the answer"}
	search := &fakeSearch{exists: true}
	embedder := &fakeEmbedder{vector: make([]float32, domain.VectorDims)}

	o, err := NewOrchestrator(Config{IndexName: "idx"}, testDeps(t, llm, search, embedder, false))
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "q")
	require.NoError(t, err)

	q := search.lastQuery
	assert.Equal(t, "title_vector", q.VectorField)
	assert.Equal(t, 5, q.K)
	assert.Equal(t, 10000, q.NumCandidates)
	assert.Equal(t, 0.5, q.VectorBoost)
	assert.Equal(t, 0.5, q.KeywordBoost)
}

// TestNewOrchestrator_RequiresDependencies verifies construction rejects a
// missing collaborator outright.
func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o"}
	search := &fakeSearch{}
	embedder := &fakeEmbedder{}

	_, err := NewOrchestrator(Config{}, Deps{Embedder: embedder, Search: search, Generator: llm})
	assert.Error(t, err, "index name is required")

	_, err = NewOrchestrator(Config{IndexName: "idx"}, Deps{Search: search, Generator: llm})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{IndexName: "idx"}, Deps{Embedder: embedder, Generator: llm})
	assert.Error(t, err)

	_, err = NewOrchestrator(Config{IndexName: "idx"}, Deps{Embedder: embedder, Search: search})
	assert.Error(t, err)
}
