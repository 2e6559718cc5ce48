package domain

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// Relevance classifies how well a generated answer addresses the question
// that produced it.
type Relevance string

const (
	// Relevant means the answer addresses the question.
	Relevant Relevance = "RELEVANT"

	// PartlyRelevant means the answer addresses the question incompletely
	// or with significant digressions.
	PartlyRelevant Relevance = "PARTLY_RELEVANT"

	// NonRelevant means the answer does not address the question.
	NonRelevant Relevance = "NON_RELEVANT"

	// Unknown is the fallback when the evaluator's output could not be
	// parsed into one of the three classifications. It is never produced
	// by a well-formed evaluation.
	Unknown Relevance = "UNKNOWN"
)

// RelevanceVerdict is the structured outcome of the relevance evaluation
// stage: a classification plus the evaluator's free-text explanation.
type RelevanceVerdict struct {
	// Relevance is the classification of the answer.
	Relevance Relevance `json:"relevance"`

	// Explanation is the evaluator's reasoning, or a description of the
	// parse failure when Relevance is Unknown.
	Explanation string `json:"explanation"`
}

// foldCaser is a package-level Unicode case folder so label normalization
// does not allocate a caser per call.
var foldCaser = cases.Fold()

// canonicalLabels are the classifications an evaluator may legitimately emit.
var canonicalLabels = []Relevance{Relevant, PartlyRelevant, NonRelevant}

// ParseRelevance maps a raw evaluator label onto one of the canonical
// classifications. Matching is tolerant of the drift LLMs exhibit around
// enum literals: surrounding whitespace and quoting, case differences,
// spaces or hyphens for underscores, and single-character typos
// (Levenshtein distance 1). Anything further from a canonical label
// reports ok == false and the Unknown classification.
func ParseRelevance(raw string) (Relevance, bool) {
	label := strings.TrimSpace(raw)
	label = strings.Trim(label, `"'.`)
	label = foldCaser.String(label)
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	if label == "" {
		return Unknown, false
	}

	for _, canonical := range canonicalLabels {
		folded := foldCaser.String(string(canonical))
		if label == folded || levenshtein.ComputeDistance(label, folded) <= 1 {
			return canonical, true
		}
	}
	return Unknown, false
}
