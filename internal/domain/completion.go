package domain

// Completion is the result of a single LLM completion call together with its
// token usage. Instances are immutable once produced.
//
// The invariant TotalTokens == PromptTokens + CompletionTokens holds for
// every Completion built through NewCompletion.
type Completion struct {
	// Text is the generated output.
	Text string `json:"text"`

	// PromptTokens counts the tokens consumed by the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens counts the tokens produced by the model.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is always PromptTokens + CompletionTokens.
	TotalTokens int `json:"total_tokens"`
}

// NewCompletion builds a Completion from the raw text and token counts
// reported by a provider, deriving TotalTokens so the usage invariant
// holds by construction.
func NewCompletion(text string, promptTokens, completionTokens int) Completion {
	return Completion{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
