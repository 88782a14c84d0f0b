// Package chroma implements storage.ChunkStore against a Chroma server
// using the chroma-go v2 HTTP client.
//
// The collection is created with cosine distance, so query distances map
// to similarity scores as 1 - distance. Vectors are always supplied by the
// caller's embedder; Chroma's own embedding functions are never invoked.
package chroma
