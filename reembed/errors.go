package reembed

import "errors"

var (
	// ErrStoreRequired is returned when no chunk store is given.
	ErrStoreRequired = errors.New("chunk store is required")
	// ErrInvalidBatchSize is returned when BatchSize is <= 0.
	ErrInvalidBatchSize = errors.New("batch size must be greater than 0")
)
