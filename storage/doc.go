// Package storage provides the chunk store abstraction for fundrag.
//
// ChunkStore decouples the ingestion pipeline and the retrieval engine from
// the backend that holds embedded chunks. Two backends ship with the module:
//
//   - storage/badger: embedded, durable, the default
//   - storage/chroma: a remote Chroma collection over HTTP
//
// # Upsert semantics
//
// Upsert is keyed by chunk ID. With skipExisting set, a chunk whose ID is
// already stored keeps its vector and text; only its ingestion timestamp
// moves forward. Every other chunk is embedded through the configured
// Embedder and written together with its metadata.
//
// Errors returned by the Embedder surface unchanged (typically a
// *core.EmbeddingFailure). Backend errors are wrapped in
// *core.StorageFailure so callers can tell the two apart.
//
// # Usage
//
//	store, err := badger.Open(path, badger.WithEmbedder(batcher))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.OpenMemory(badger.WithEmbedder(mock.NewMockEmbedder()))
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package storage
