package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuberag/kuberag/internal/domain"
)

func newTestEvaluator(t *testing.T, llm *mockLLM) *RelevanceEvaluator {
	t.Helper()
	e, err := NewRelevanceEvaluator(llm, NewPromptBuilder())
	require.NoError(t, err)
	return e
}

// TestEvaluate_WellFormedResponse verifies a clean JSON verdict parses with
// its usage intact.
func TestEvaluate_WellFormedResponse(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: `{"Relevance": "RELEVANT", "Explanation": "Directly answers the question."}`,
		tokensIn: 80, tokensOut: 20,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Relevant, eval.Verdict.Relevance)
	assert.Equal(t, "Directly answers the question.", eval.Verdict.Explanation)
	assert.Equal(t, 80, eval.Usage.PromptTokens)
	assert.Equal(t, 20, eval.Usage.CompletionTokens)
	assert.Equal(t, 100, eval.Usage.TotalTokens)
}

// TestEvaluate_FencedResponse verifies a verdict wrapped in markdown fences
// still parses; models ignore the no-code-blocks instruction often enough.
func TestEvaluate_FencedResponse(t *testing.T) {
	llm := &mockLLM{
		model: "gpt-4o",
		response: "```json\n" +
			`{"Relevance": "PARTLY_RELEVANT", "Explanation": "Misses the networking part."}` +
			"\n```",
		tokensIn: 80, tokensOut: 30,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PartlyRelevant, eval.Verdict.Relevance)
}

// TestEvaluate_SurroundingProse verifies a JSON object embedded in prose is
// extracted.
func TestEvaluate_SurroundingProse(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: `Here is my evaluation: {"Relevance": "NON_RELEVANT", "Explanation": "Off topic."} Hope that helps!`,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.NonRelevant, eval.Verdict.Relevance)
}

// TestEvaluate_NotJSON verifies non-JSON output degrades to Unknown with a
// descriptive explanation and no error; the tokens are still counted.
func TestEvaluate_NotJSON(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: "I think the answer is pretty good overall.",
		tokensIn: 80, tokensOut: 12,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Unknown, eval.Verdict.Relevance)
	assert.NotEmpty(t, eval.Verdict.Explanation)
	assert.Equal(t, 92, eval.Usage.TotalTokens)
}

// TestEvaluate_MissingRelevanceKey verifies a JSON object without the
// required key degrades to Unknown.
func TestEvaluate_MissingRelevanceKey(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: `{"Explanation": "Forgot the verdict."}`,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Unknown, eval.Verdict.Relevance)
}

// TestEvaluate_NearMissLabel verifies a label one typo away from canonical
// is rescued.
func TestEvaluate_NearMissLabel(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: `{"Relevance": "relevent", "Explanation": "ok"}`,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Relevant, eval.Verdict.Relevance)
}

// TestEvaluate_UnrecognizedLabel verifies labels far from canonical produce
// Unknown, naming the offending label.
func TestEvaluate_UnrecognizedLabel(t *testing.T) {
	llm := &mockLLM{
		model:    "gpt-4o",
		response: `{"Relevance": "SOMEWHAT_OK", "Explanation": "meh"}`,
	}
	e := newTestEvaluator(t, llm)

	eval, err := e.Evaluate(context.Background(), "q", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Unknown, eval.Verdict.Relevance)
	assert.Contains(t, eval.Verdict.Explanation, "SOMEWHAT_OK")
}

// TestEvaluate_GatewayFailure verifies a failed completion call surfaces as
// an error wrapping the completion sentinel; softening is the orchestrator's
// job, not the evaluator's.
func TestEvaluate_GatewayFailure(t *testing.T) {
	llm := &mockLLM{model: "gpt-4o", err: errors.New("boom")}
	e := newTestEvaluator(t, llm)

	_, err := e.Evaluate(context.Background(), "q", "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCompletionFailed))
}

// TestExtractJSON covers the extraction fallbacks directly.
func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"generic fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "closing } brace"}`, `{"a": "closing } brace"}`},
		{"prose around", `before {"a": 1} after`, `{"a": 1}`},
		{"no json", "nothing here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.input))
		})
	}
}
