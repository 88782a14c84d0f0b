package storage

import (
	"context"
	"time"

	"github.com/kathan-shah07/fundrag/core"
)

// Embedder turns chunk texts into vectors, preserving order. The store
// calls it for every chunk that needs a fresh vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Filter is an equality match on flattened metadata keys. A nil or empty
// filter matches every chunk.
type Filter map[string]string

// Matches reports whether the metadata satisfies every entry of the filter.
func (f Filter) Matches(m core.Metadata) bool {
	if len(f) == 0 {
		return true
	}
	values := make(map[string]string, len(f))
	for _, field := range m.Flatten() {
		if _, wanted := f[field.Key]; wanted {
			values[field.Key] = field.Value.String()
		}
	}
	for k, want := range f {
		got, ok := values[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// MetadataScanner streams chunk metadata without loading vectors or text.
// Returning an error from fn stops the scan and is returned unchanged.
type MetadataScanner interface {
	Scan(ctx context.Context, fn func(id string, meta core.Metadata) error) error
}

// SourceIndexer is implemented by stores that keep a persisted index of
// normalized source URLs alongside their chunks.
type SourceIndexer interface {
	SourceIdentities(ctx context.Context) (map[string]struct{}, error)
}

// ChunkStore is a durable collection of embedded chunks.
// Implementations must be thread-safe and support concurrent access.
type ChunkStore interface {
	MetadataScanner

	// Upsert writes chunks keyed by ID and returns the IDs of the whole
	// batch in input order. With skipExisting, chunks whose ID already
	// exists are not re-embedded; only their ingestion timestamp is
	// refreshed. Every other chunk is embedded and written with its
	// metadata in the same write.
	Upsert(ctx context.Context, chunks []core.Chunk, skipExisting bool) ([]string, error)

	// SimilaritySearch returns up to k chunks ordered by descending cosine
	// similarity. An empty store or a filter that excludes everything
	// yields an empty result.
	SimilaritySearch(ctx context.Context, query []float32, k int, filter Filter) ([]core.Chunk, error)

	// SimilaritySearchWithScore is SimilaritySearch with scores
	// (1 - cosine distance), non-increasing across the result.
	SimilaritySearchWithScore(ctx context.Context, query []float32, k int, filter Filter) ([]core.ScoredChunk, error)

	// GetAll returns every chunk matching filter, text and metadata
	// included, vectors omitted.
	GetAll(ctx context.Context, filter Filter) ([]core.Chunk, error)

	// CollectionInfo describes the collection.
	CollectionInfo(ctx context.Context) (core.CollectionInfo, error)

	// DeleteCollection removes every chunk in the collection.
	DeleteCollection(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Checkpoint records the last finished pipeline run under a name, so a
// restarted process knows when it last ingested.
type Checkpoint struct {
	Name        string
	RunID       string
	State       string
	CompletedAt time.Time
	UpdatedAt   time.Time
}

// CheckpointStore persists checkpoints. LoadCheckpoint returns nil, nil when
// no checkpoint exists under name.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error
	LoadCheckpoint(ctx context.Context, name string) (*Checkpoint, error)
}
