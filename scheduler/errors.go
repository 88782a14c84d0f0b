package scheduler

import "errors"

var (
	// ErrRunnerRequired is returned when no pipeline runner is provided.
	ErrRunnerRequired = errors.New("pipeline runner is required")

	// ErrCatalogRequired is returned when no catalog is provided.
	ErrCatalogRequired = errors.New("catalog is required")

	// ErrURLSourceRequired is returned when no URL source is provided.
	ErrURLSourceRequired = errors.New("url source is required")

	// ErrStoreRequired is returned when no chunk store is provided.
	ErrStoreRequired = errors.New("chunk store is required")

	// ErrTriggerBusy is returned when an operator trigger is already running.
	ErrTriggerBusy = errors.New("a triggered run is already in progress")

	// ErrInvalidInterval is returned for an unknown interval type or a
	// non-positive interval.
	ErrInvalidInterval = errors.New("invalid schedule interval")
)
