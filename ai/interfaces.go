package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Enricher produces a summary and topic list for an article.
// Implementations must be thread-safe for concurrent use.
type Enricher interface {
	// Enrich analyzes the article text and returns its summary and topics.
	// Errors caused by upstream quota limits wrap core.ErrRateLimited.
	Enrich(ctx context.Context, title, text string) (*Enrichment, error)
}

// Enrichment is the result of summarizing an article.
type Enrichment struct {
	// Summary is a short prose summary of the article.
	Summary string

	// Topics are short lowercase topic labels, most relevant first.
	Topics []string
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages Embedder and Enricher instances,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Enricher returns the summarization service.
	// The returned Enricher is safe for concurrent use.
	Enricher() Enricher

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
