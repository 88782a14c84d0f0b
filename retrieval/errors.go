package retrieval

import "errors"

var (
	// ErrStoreRequired indicates the engine was built without a chunk store.
	ErrStoreRequired = errors.New("chunk store is required")

	// ErrEmbedderRequired indicates the engine was built without a query embedder.
	ErrEmbedderRequired = errors.New("query embedder is required")

	// ErrGeneratorRequired indicates the engine was built without a generator.
	ErrGeneratorRequired = errors.New("generator is required")

	// ErrEmptyQuestion indicates Answer was called with a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	ErrInvalidTopK = errors.New("top k must be positive")
)
