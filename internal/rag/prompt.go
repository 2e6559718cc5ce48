// Package rag implements the query pipeline core: prompt construction,
// relevance evaluation, cost accounting, and the orchestrator that runs a
// question through every stage.
package rag

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/kuberag/kuberag/internal/domain"
)

// answerTemplateText instructs the model to answer from the supplied context
// only and to emit raw Markdown. The fenced-code example keeps models from
// wrapping shell commands in escaped strings.
const answerTemplateText = `You are a Kubernetes assistant. Use ONLY the information in the "context" to answer the user's question.

REQUIREMENTS:
- Output ONLY raw Markdown text (no surrounding quotes, no JSON, no markdown in a string).
- Use literal line breaks for paragraphs and fenced code blocks for commands (` + "```bash ... ```" + `).
- Do NOT include backslash-n sequences ("\n") to indicate newlines; use real newlines.
- Do not escape code blocks or wrap them in a string.
- Return the answer only (no meta commentary).

Example of desired output:
To apply a YAML file in Kubernetes, use the following command:

` + "```bash" + `
kubectl apply -f FILENAME.yaml
` + "```" + `

Context:
{{.Context}}

User's Question:
{{.Question}}

Answer:`

// evaluationTemplateText asks for a verdict as bare JSON. The "without using
// code blocks" clause reduces, but does not eliminate, fenced responses; the
// evaluator strips fences anyway before parsing.
const evaluationTemplateText = `You are an expert evaluator for a Retrieval-Augmented Generation (RAG) system.
Your task is to analyze the relevance of the generated answer to the given question.
Based on the relevance of the generated answer, you will classify it
as "NON_RELEVANT", "PARTLY_RELEVANT", or "RELEVANT".

Here is the data for evaluation:

Question: {{.Question}}
Generated Answer: {{.Answer}}

Please analyze the content and context of the generated answer in relation to the question
and provide your evaluation in parsable JSON without using code blocks:

{
  "Relevance": "NON_RELEVANT" | "PARTLY_RELEVANT" | "RELEVANT",
  "Explanation": "[Provide a brief explanation for your evaluation]"
}`

const rewriteTemplateText = `Rewrite the following Kubernetes-related question so that it matches documentation terminology and includes key Kubernetes resource names:
"{{.Question}}"
Return only the rewritten query.`

// PromptBuilder renders the pipeline's three prompts. Construction is pure
// string assembly: no truncation, no reordering, no model calls. Rendering
// the same inputs twice yields byte-identical prompts.
type PromptBuilder struct {
	answer     *template.Template
	evaluation *template.Template
	rewrite    *template.Template
}

// NewPromptBuilder compiles the prompt templates. The templates are static
// so compilation cannot fail at runtime.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		answer:     template.Must(template.New("answer").Parse(answerTemplateText)),
		evaluation: template.Must(template.New("evaluation").Parse(evaluationTemplateText)),
		rewrite:    template.Must(template.New("rewrite").Parse(rewriteTemplateText)),
	}
}

// BuildAnswerPrompt assembles the generation prompt from the question and the
// retrieved documents. Each document contributes one context block in
// retrieval order, title and text verbatim; an empty result set yields a
// prompt with an empty context section rather than an error.
func (b *PromptBuilder) BuildAnswerPrompt(question string, docs []domain.Document) (string, error) {
	var context strings.Builder
	for _, doc := range docs {
		fmt.Fprintf(&context, "title: %s\nanswer: %s\n\n", doc.Title, doc.Text)
	}

	var out strings.Builder
	err := b.answer.Execute(&out, struct {
		Context  string
		Question string
	}{Context: context.String(), Question: question})
	if err != nil {
		return "", fmt.Errorf("rendering answer prompt: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

// BuildEvaluationPrompt assembles the relevance-evaluation prompt from the
// question and the generated answer.
func (b *PromptBuilder) BuildEvaluationPrompt(question, answer string) (string, error) {
	var out strings.Builder
	err := b.evaluation.Execute(&out, struct {
		Question string
		Answer   string
	}{Question: question, Answer: answer})
	if err != nil {
		return "", fmt.Errorf("rendering evaluation prompt: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

// BuildRewritePrompt assembles the optional query-rewrite prompt.
func (b *PromptBuilder) BuildRewritePrompt(question string) (string, error) {
	var out strings.Builder
	err := b.rewrite.Execute(&out, struct{ Question string }{Question: question})
	if err != nil {
		return "", fmt.Errorf("rendering rewrite prompt: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
