package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single query string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple documents in one
	// provider call. The returned slice is in the same order as texts.
	// Quota errors wrap ErrQuotaExceeded and keep the provider's message.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answer text from a prompt.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate sends a single prompt and returns the model's text.
	// No retries happen here; callers see the provider's error.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider aggregates AI services for convenient initialization and lifecycle management.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the text generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
