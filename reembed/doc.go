// Package reembed re-embeds every chunk in a store with the store's current
// embedder, typically after the embedding model changes.
//
// Chunks are read back with their text and metadata and written again in
// batches, so vectors produced by the old model are replaced in place and
// chunk IDs stay stable.
package reembed
