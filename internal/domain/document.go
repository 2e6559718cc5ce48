// Package domain contains pure, dependency-light domain models and types
// for the retrieval-augmented query pipeline.
package domain

// VectorDims is the fixed dimensionality of every document and query vector.
// It is determined by the sentence-embedding model and baked into the index
// mappings; documents with vectors of any other length are rejected at the
// indexing boundary.
const VectorDims = 384

// Document is one entry of the documentation corpus as stored in the search
// index. Documents are immutable once indexed; the index owns them and the
// pipeline only ever reads them back.
type Document struct {
	// ID uniquely identifies the document within the corpus.
	ID string `json:"id"`

	// Title is the short heading of the documentation entry.
	Title string `json:"title"`

	// Text is the body of the documentation entry.
	Text string `json:"text"`

	// SourceFile records which corpus file the document came from.
	SourceFile string `json:"source_file"`

	// TitleVector, TextVector, and TitleTextVector are the dense
	// embeddings of the title, the text, and their concatenation.
	// They are populated by the indexing job and omitted from search
	// responses, which only fetch the lexical fields.
	TitleVector     []float32 `json:"title_vector,omitempty"`
	TextVector      []float32 `json:"text_vector,omitempty"`
	TitleTextVector []float32 `json:"title_text_vector,omitempty"`
}
