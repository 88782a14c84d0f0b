package core

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// SourceID is a compact identifier for a normalized source URL.
type SourceID uint64

// SourceKey hashes the normalized form of a source URL using BLAKE2b.
// Two URLs that normalize to the same identity produce the same key.
func SourceKey(sourceURL string) SourceID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(NormalizeSource(sourceURL)))
	sum := h.Sum(nil)
	return SourceID(binary.LittleEndian.Uint64(sum))
}

// NormalizeSource returns the comparison form of a source URL: trimmed,
// without a trailing slash, lowercased. The original string is what gets
// stored in metadata.
func NormalizeSource(sourceURL string) string {
	s := strings.TrimSpace(sourceURL)
	s = strings.TrimRight(s, "/")
	return strings.ToLower(s)
}

// ChunkID derives the stable chunk identifier from its source file,
// chunk index and position within the ingested batch.
func ChunkID(sourceFile string, chunkIndex, position int) string {
	if sourceFile == "" {
		sourceFile = "doc"
	}
	return fmt.Sprintf("%s_%d_%d", sourceFile, chunkIndex, position)
}

// Chunk is one embedded, retrievable unit of text.
type Chunk struct {
	ID       string
	Text     string
	Vector   []float32 // populated by the embedding batcher
	Metadata Metadata
}

// Document is a loaded source document, before chunking.
type Document struct {
	Text     string
	Metadata Metadata
}

// ScoredChunk pairs a chunk with its similarity score (1 - cosine distance).
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// CollectionInfo describes a chunk collection.
type CollectionInfo struct {
	Name                     string
	Count                    int
	Path                     string
	LatestIngestionTimestamp *time.Time
}

// FreshnessWindow reports whether the collection is due for re-ingestion.
// It is computed on demand and never stored.
type FreshnessWindow struct {
	Latest       *time.Time
	Interval     time.Duration
	NeedsUpdate  bool
	NextUpdateAt *time.Time
}
