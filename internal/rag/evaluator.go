package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kuberag/kuberag/internal/domain"
	"github.com/kuberag/kuberag/internal/ports"
)

// evaluationResponse is the JSON shape the evaluation prompt asks for. Field
// names are capitalized on the wire because that is what the prompt shows
// the model.
type evaluationResponse struct {
	Relevance   string `json:"Relevance"   validate:"required"`
	Explanation string `json:"Explanation"`
}

// Evaluation is the outcome of one relevance evaluation: the verdict plus
// the token usage of the call that produced it. Usage is populated whenever
// the completion call succeeded, even if its output could not be parsed;
// those tokens were consumed and must be billed.
type Evaluation struct {
	Verdict domain.RelevanceVerdict
	Usage   domain.Completion
}

// RelevanceEvaluator asks a model to judge a generated answer against its
// question. A failed completion call surfaces as an error wrapping
// domain.ErrCompletionFailed; unparseable model output degrades to an
// Unknown verdict without error, since the answer being judged already
// exists and the judgement is advisory.
type RelevanceEvaluator struct {
	llm      ports.LLMClient
	prompts  *PromptBuilder
	validate *validator.Validate
}

// NewRelevanceEvaluator builds an evaluator on the given completion gateway.
func NewRelevanceEvaluator(llm ports.LLMClient, prompts *PromptBuilder) (*RelevanceEvaluator, error) {
	if llm == nil {
		return nil, fmt.Errorf("relevance evaluator requires an LLM client")
	}
	if prompts == nil {
		prompts = NewPromptBuilder()
	}
	return &RelevanceEvaluator{
		llm:      llm,
		prompts:  prompts,
		validate: validator.New(),
	}, nil
}

// Model returns the model identifier the evaluator bills against.
func (e *RelevanceEvaluator) Model() string { return e.llm.GetModel() }

// Evaluate judges how relevant answer is to question. The returned error is
// non-nil only when the completion call itself failed; every parse problem
// is folded into an Unknown verdict whose explanation describes the failure.
func (e *RelevanceEvaluator) Evaluate(ctx context.Context, question, answer string) (Evaluation, error) {
	prompt, err := e.prompts.BuildEvaluationPrompt(question, answer)
	if err != nil {
		return Evaluation{}, err
	}

	text, promptTokens, completionTokens, err := e.llm.CompleteWithUsage(ctx, prompt, nil)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: relevance evaluation: %v", domain.ErrCompletionFailed, err)
	}

	eval := Evaluation{Usage: domain.NewCompletion(text, promptTokens, completionTokens)}
	verdict, parseErr := e.parseVerdict(text)
	if parseErr != nil {
		eval.Verdict = domain.RelevanceVerdict{
			Relevance:   domain.Unknown,
			Explanation: parseErr.Error(),
		}
		return eval, nil
	}
	eval.Verdict = verdict
	return eval, nil
}

// parseVerdict turns raw model output into a verdict, tolerating the usual
// drift: markdown fences, surrounding prose, and near-miss labels. Anything
// it cannot rescue returns an error wrapping domain.ErrMalformedEvaluation.
func (e *RelevanceEvaluator) parseVerdict(response string) (domain.RelevanceVerdict, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return domain.RelevanceVerdict{}, fmt.Errorf("%w: no JSON object found in response (%d chars)",
			domain.ErrMalformedEvaluation, len(response))
	}

	var parsed evaluationResponse
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return domain.RelevanceVerdict{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrMalformedEvaluation, err)
	}

	if err := e.validate.Struct(parsed); err != nil {
		return domain.RelevanceVerdict{}, fmt.Errorf("%w: missing required fields: %v",
			domain.ErrMalformedEvaluation, err)
	}

	label, ok := domain.ParseRelevance(parsed.Relevance)
	if !ok {
		return domain.RelevanceVerdict{}, fmt.Errorf("%w: unrecognized relevance label %q",
			domain.ErrMalformedEvaluation, parsed.Relevance)
	}

	explanation := strings.TrimSpace(parsed.Explanation)
	if explanation == "" {
		explanation = "No explanation provided"
	}
	return domain.RelevanceVerdict{Relevance: label, Explanation: explanation}, nil
}

// extractJSON pulls a JSON object out of a model response that may wrap it
// in markdown code fences or surrounding prose. Returns the empty string
// when no balanced object is present.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += len("```")
		// Skip a language identifier on the fence line.
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	// Walk to the matching close brace, ignoring braces inside strings.
	braceCount := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
