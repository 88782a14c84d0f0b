package embedding

import "errors"

var (
	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrInvalidBatchSize is returned for a batch size below 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")

	// ErrVectorCountMismatch indicates the provider returned the wrong
	// number of vectors for a batch.
	ErrVectorCountMismatch = errors.New("provider returned wrong number of vectors")
)
