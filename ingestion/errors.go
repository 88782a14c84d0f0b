package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a chunk store is not provided.
	ErrStoreRequired = errors.New("chunk store required")

	// ErrCatalogRequired is returned when a catalog is not provided.
	ErrCatalogRequired = errors.New("catalog required")

	// ErrScraperRequired is returned when a scraper is not provided.
	ErrScraperRequired = errors.New("scraper required")

	// ErrLoaderRequired is returned when a document loader is not provided.
	ErrLoaderRequired = errors.New("document loader required")

	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrURLSourceRequired is returned when no URL source is provided.
	ErrURLSourceRequired = errors.New("URL source required")

	// ErrNoDocuments is returned by loaders when there is nothing to load.
	ErrNoDocuments = errors.New("no documents to load")
)
