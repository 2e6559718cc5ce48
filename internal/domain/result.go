package domain

import "github.com/shopspring/decimal"

// QueryResult is the sole externally visible artifact of one pipeline run.
// It is assembled once by the orchestrator, is not retained by the core, and
// carries every field a persistence collaborator may want to store verbatim.
type QueryResult struct {
	// Answer is the generated Markdown answer.
	Answer string `json:"answer"`

	// SearchResults are the documents the answer was grounded on, in
	// fused-score order, at most five.
	SearchResults []Document `json:"search_results"`

	// ResponseTime is the wall-clock duration of the whole pipeline in
	// seconds.
	ResponseTime float64 `json:"response_time"`

	// Relevance and RelevanceExplanation are the self-evaluation verdict.
	Relevance            Relevance `json:"relevance"`
	RelevanceExplanation string    `json:"relevance_explanation"`

	// Generation-side token accounting. RewriteTokens is the total spent
	// on the optional query-rewrite call and stays zero when rewriting is
	// disabled.
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	RewriteTokens    int `json:"rewrite_tokens"`

	// Evaluation-side token accounting.
	EvalPromptTokens     int `json:"eval_prompt_tokens"`
	EvalCompletionTokens int `json:"eval_completion_tokens"`
	EvalTotalTokens      int `json:"eval_total_tokens"`

	// Cost is the combined dollar cost of every completion call made for
	// this query: rewrite, generation, and evaluation. Never negative;
	// zero for models absent from the pricing table.
	Cost decimal.Decimal `json:"cost"`
}
