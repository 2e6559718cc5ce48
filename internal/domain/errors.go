package domain

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the query pipeline. Lower components return errors
// wrapping these sentinels and never decide fatality themselves; the
// orchestrator is the single place that maps them to abort-or-degrade.
var (
	// ErrModelUnavailable indicates the embedding backend is down or
	// misbehaving. Fatal: the pipeline must never substitute a zero
	// vector for a failed embedding.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrIndexNotFound indicates the search index does not exist. Fatal,
	// and deliberately distinct from an empty result set: "no matches"
	// and "nothing indexed yet" mean different things to the user.
	ErrIndexNotFound = errors.New("search index not found")

	// ErrCompletionFailed indicates a completion API call failed. Fatal
	// on the generation path; softened to an Unknown verdict on the
	// evaluation path.
	ErrCompletionFailed = errors.New("completion request failed")

	// ErrMalformedEvaluation indicates the evaluator's output could not
	// be parsed into a verdict. Always soft: the answer it was judging
	// has already been generated and paid for.
	ErrMalformedEvaluation = errors.New("malformed evaluation response")
)

// Stage identifies a step of the pipeline state machine. Stages advance
// strictly in order; an abort records the stage that failed.
type Stage string

const (
	StageReceivedQuery      Stage = "received_query"
	StageIndexChecked       Stage = "index_checked"
	StageQueryRewritten     Stage = "query_rewritten"
	StageEmbedded           Stage = "embedded"
	StageSearched           Stage = "searched"
	StagePromptBuilt        Stage = "prompt_built"
	StageAnswerGenerated    Stage = "answer_generated"
	StageRelevanceEvaluated Stage = "relevance_evaluated"
	StageCostComputed       Stage = "cost_computed"
	StageComplete           Stage = "complete"
)

// PipelineError is the terminal failure of an aborted query. It names the
// stage that failed and, where one exists, a human-readable remedy, so
// callers can show users something better than a stack trace.
type PipelineError struct {
	// Stage is the pipeline stage at which the query aborted.
	Stage Stage

	// Remedy, when non-empty, tells the user how to fix the failure
	// (for example "run the indexing job").
	Remedy string

	// Err is the underlying typed failure.
	Err error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("query aborted at stage %s: %v", e.Stage, e.Err)
	if e.Remedy != "" {
		msg += ": " + e.Remedy
	}
	return msg
}

// Unwrap returns the underlying failure so errors.Is can match the
// taxonomy sentinels through a PipelineError.
func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError builds a PipelineError for the given stage.
func NewPipelineError(stage Stage, remedy string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Remedy: remedy, Err: err}
}
