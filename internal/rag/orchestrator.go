package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// indexRemedy is shown to users when the search index is missing.
const indexRemedy = "run the indexing job (kuberag-index) to create and populate the index"

// Config tunes the pipeline. Zero values for the numeric knobs select the
// defaults below.
type Config struct {
	// IndexName is the search index queried for context documents.
	IndexName string

	// VectorField is the dense-vector field targeted by the k-NN leg of
	// the hybrid search. Defaults to "title_vector".
	VectorField string

	// TopK caps the number of retrieved documents. Defaults to 5.
	TopK int

	// NumCandidates sizes the per-shard k-NN candidate pool.
	// Defaults to 10000.
	NumCandidates int

	// VectorBoost and KeywordBoost weight the two legs of the hybrid
	// search. Both default to 0.5, an even blend.
	VectorBoost  float64
	KeywordBoost float64

	// RewriteQuery enables the optional query-rewrite stage. When set,
	// the question is rewritten toward documentation terminology before
	// embedding, and the rewritten form drives retrieval, generation,
	// and evaluation.
	RewriteQuery bool
}

func (c *Config) applyDefaults() {
	if c.VectorField == "" {
		c.VectorField = "title_vector"
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.NumCandidates <= 0 {
		c.NumCandidates = 10000
	}
	if c.VectorBoost == 0 {
		c.VectorBoost = 0.5
	}
	if c.KeywordBoost == 0 {
		c.KeywordBoost = 0.5
	}
}

// Deps are the orchestrator's collaborators. Embedder, Search, and Generator
// are required; Evaluator, Metrics, and Logger are optional.
type Deps struct {
	Embedder  ports.Embedder
	Search    ports.SearchClient
	Generator ports.LLMClient
	Evaluator *RelevanceEvaluator
	Prompts   *PromptBuilder
	Pricing   *CostAccountant
	Metrics   ports.MetricsCollector
	Logger    *log.Logger
}

// Orchestrator runs a question through the full pipeline: index check,
// optional rewrite, embedding, hybrid search, prompt construction, answer
// generation, relevance evaluation, and cost accounting. It holds no
// per-query state; a single Orchestrator serves concurrent queries.
type Orchestrator struct {
	cfg       Config
	embedder  ports.Embedder
	search    ports.SearchClient
	generator ports.LLMClient
	evaluator *RelevanceEvaluator
	prompts   *PromptBuilder
	pricing   *CostAccountant
	metrics   ports.MetricsCollector
	logger    *log.Logger
}

// NewOrchestrator validates the dependency set and builds a pipeline.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.IndexName == "" {
		return nil, fmt.Errorf("orchestrator requires an index name")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("orchestrator requires an embedder")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("orchestrator requires a search client")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("orchestrator requires a generation client")
	}
	cfg.applyDefaults()

	if deps.Prompts == nil {
		deps.Prompts = NewPromptBuilder()
	}
	if deps.Pricing == nil {
		deps.Pricing = NewCostAccountant(nil)
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}

	return &Orchestrator{
		cfg:       cfg,
		embedder:  deps.Embedder,
		search:    deps.Search,
		generator: deps.Generator,
		evaluator: deps.Evaluator,
		prompts:   deps.Prompts,
		pricing:   deps.Pricing,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}, nil
}

// Query runs one question through the pipeline and returns the assembled
// result. On a fatal stage failure it returns a *domain.PipelineError naming
// the stage; no partial QueryResult is ever returned alongside an error.
//
// Evaluation failures are the one deliberate soft spot: the answer has
// already been generated and paid for, so a broken evaluation degrades the
// verdict to Unknown instead of discarding the answer.
func (o *Orchestrator) Query(ctx context.Context, question string) (*domain.QueryResult, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, o.abort(start, domain.StageReceivedQuery, "", fmt.Errorf("question must not be empty"))
	}
	o.logger.Debug("query received", "question", question)

	exists, err := o.search.IndexExists(ctx, o.cfg.IndexName)
	if err != nil {
		return nil, o.abort(start, domain.StageIndexChecked, "", fmt.Errorf("checking index %q: %w", o.cfg.IndexName, err))
	}
	if !exists {
		return nil, o.abort(start, domain.StageIndexChecked, indexRemedy,
			fmt.Errorf("%w: %q", domain.ErrIndexNotFound, o.cfg.IndexName))
	}

	// Optional rewrite. The rewritten question replaces the original for
	// every downstream stage, and its tokens are billed with generation.
	searchQuestion := question
	rewriteTokens := 0
	var rewritePrompt, rewriteCompletion int
	if o.cfg.RewriteQuery {
		rewritten, pt, ct, err := o.rewrite(ctx, question)
		if err != nil {
			return nil, o.abort(start, domain.StageQueryRewritten, "", err)
		}
		searchQuestion = rewritten
		rewritePrompt, rewriteCompletion = pt, ct
		rewriteTokens = pt + ct
		o.logger.Debug("query rewritten", "rewritten", rewritten, "tokens", rewriteTokens)
	}

	vector, err := o.embedder.Embed(ctx, searchQuestion)
	if err != nil {
		return nil, o.abort(start, domain.StageEmbedded, "", fmt.Errorf("embedding query: %w", err))
	}

	docs, err := o.search.HybridSearch(ctx, ports.HybridQuery{
		Index:         o.cfg.IndexName,
		Query:         searchQuestion,
		Vector:        vector,
		VectorField:   o.cfg.VectorField,
		K:             o.cfg.TopK,
		NumCandidates: o.cfg.NumCandidates,
		VectorBoost:   o.cfg.VectorBoost,
		KeywordBoost:  o.cfg.KeywordBoost,
	})
	if err != nil {
		remedy := ""
		if isIndexNotFound(err) {
			remedy = indexRemedy
		}
		return nil, o.abort(start, domain.StageSearched, remedy, fmt.Errorf("hybrid search: %w", err))
	}
	o.logger.Debug("search complete", "hits", len(docs))

	prompt, err := o.prompts.BuildAnswerPrompt(searchQuestion, docs)
	if err != nil {
		return nil, o.abort(start, domain.StagePromptBuilt, "", err)
	}

	answer, promptTokens, completionTokens, err := o.generator.CompleteWithUsage(ctx, prompt, nil)
	if err != nil {
		return nil, o.abort(start, domain.StageAnswerGenerated, "",
			fmt.Errorf("%w: answer generation: %v", domain.ErrCompletionFailed, err))
	}
	generation := domain.NewCompletion(answer, promptTokens, completionTokens)

	verdict, evalUsage := o.evaluate(ctx, searchQuestion, answer)

	cost := o.pricing.Cost(o.generator.GetModel(), generation.PromptTokens+rewritePrompt, generation.CompletionTokens+rewriteCompletion)
	if o.evaluator != nil {
		cost = cost.Add(o.pricing.Cost(o.evaluator.Model(), evalUsage.PromptTokens, evalUsage.CompletionTokens))
	}

	elapsed := time.Since(start)
	result := &domain.QueryResult{
		Answer:               generation.Text,
		SearchResults:        docs,
		ResponseTime:         elapsed.Seconds(),
		Relevance:            verdict.Relevance,
		RelevanceExplanation: verdict.Explanation,
		PromptTokens:         generation.PromptTokens,
		CompletionTokens:     generation.CompletionTokens,
		TotalTokens:          generation.TotalTokens,
		RewriteTokens:        rewriteTokens,
		EvalPromptTokens:     evalUsage.PromptTokens,
		EvalCompletionTokens: evalUsage.CompletionTokens,
		EvalTotalTokens:      evalUsage.TotalTokens,
		Cost:                 cost,
	}

	o.recordQuery(result, elapsed)
	o.logger.Info("query complete",
		"response_time", elapsed,
		"relevance", result.Relevance,
		"total_tokens", result.TotalTokens+result.RewriteTokens+result.EvalTotalTokens,
		"cost", result.Cost)
	return result, nil
}

// rewrite asks the generation model to restate the question in documentation
// terminology. Models sometimes quote the rewritten query; the quotes are
// stripped so retrieval does not search for literal quote marks.
func (o *Orchestrator) rewrite(ctx context.Context, question string) (string, int, int, error) {
	prompt, err := o.prompts.BuildRewritePrompt(question)
	if err != nil {
		return "", 0, 0, err
	}
	rewritten, pt, ct, err := o.generator.CompleteWithUsage(ctx, prompt, nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: query rewrite: %v", domain.ErrCompletionFailed, err)
	}
	rewritten = strings.Trim(strings.TrimSpace(rewritten), `"`)
	if rewritten == "" {
		// An empty rewrite would make every later stage meaningless;
		// fall back to the original question.
		return question, pt, ct, nil
	}
	return rewritten, pt, ct, nil
}

// evaluate runs the relevance evaluation and absorbs every failure into an
// Unknown verdict. Token usage is returned even for unparseable output.
func (o *Orchestrator) evaluate(ctx context.Context, question, answer string) (domain.RelevanceVerdict, domain.Completion) {
	if o.evaluator == nil {
		return domain.RelevanceVerdict{
			Relevance:   domain.Unknown,
			Explanation: "relevance evaluation disabled",
		}, domain.Completion{}
	}

	eval, err := o.evaluator.Evaluate(ctx, question, answer)
	if err != nil {
		o.logger.Warn("relevance evaluation failed", "err", err)
		o.recordCounter("rag_evaluation_failures_total", 1, nil)
		return domain.RelevanceVerdict{
			Relevance:   domain.Unknown,
			Explanation: fmt.Sprintf("evaluation failed: %v", err),
		}, domain.Completion{}
	}
	return eval.Verdict, eval.Usage
}

// abort wraps err into the terminal pipeline error for the given stage and
// records the failure.
func (o *Orchestrator) abort(start time.Time, stage domain.Stage, remedy string, err error) error {
	perr := domain.NewPipelineError(stage, remedy, err)
	o.logger.Error("query aborted", "stage", stage, "err", err)
	if o.metrics != nil {
		o.metrics.RecordLatency("rag_query", time.Since(start), map[string]string{"status": "aborted"})
		o.metrics.RecordCounter("rag_query_aborts_total", 1, map[string]string{"stage": string(stage)})
	}
	return perr
}

func (o *Orchestrator) recordQuery(result *domain.QueryResult, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordLatency("rag_query", elapsed, map[string]string{"status": "complete"})
	o.metrics.RecordCounter("rag_tokens_total", float64(result.TotalTokens), map[string]string{"kind": "generation"})
	o.metrics.RecordCounter("rag_tokens_total", float64(result.RewriteTokens), map[string]string{"kind": "rewrite"})
	o.metrics.RecordCounter("rag_tokens_total", float64(result.EvalTotalTokens), map[string]string{"kind": "evaluation"})
	o.metrics.RecordCounter("rag_relevance_verdicts_total", 1, map[string]string{"verdict": string(result.Relevance)})
	if !result.Cost.Equal(decimal.Zero) {
		o.metrics.RecordCounter("rag_query_cost_dollars_total", result.Cost.InexactFloat64(), nil)
	}
}

func (o *Orchestrator) recordCounter(metric string, value float64, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.RecordCounter(metric, value, labels)
	}
}

func isIndexNotFound(err error) bool {
	return errors.Is(err, domain.ErrIndexNotFound)
}
