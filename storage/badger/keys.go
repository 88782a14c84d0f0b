package badger

import (
	"encoding/binary"

	"github.com/kathan-shah07/fundrag/core"
)

// Key prefixes for different data types
const (
	chunkMetaPrefix   = "chkmeta:"
	chunkVectorPrefix = "chkvec:"
	sourceIndexPrefix = "srcidx:"
	checkpointPrefix  = "ckpt:"
)

// makeChunkMetaKey generates the metadata key for a chunk.
func makeChunkMetaKey(id string) []byte {
	return append([]byte(chunkMetaPrefix), id...)
}

// makeChunkVectorKey generates the text+vector key for a chunk.
func makeChunkVectorKey(id string) []byte {
	return append([]byte(chunkVectorPrefix), id...)
}

// chunkIDFromKey strips the prefix from a chunk key.
func chunkIDFromKey(key []byte, prefix string) string {
	return string(key[len(prefix):])
}

// makeSourceIndexKey generates a key for the source index.
// Format: prefix + 8 byte BigEndian source hash
func makeSourceIndexKey(id core.SourceID) []byte {
	buf := make([]byte, len(sourceIndexPrefix)+8)
	offset := copy(buf, sourceIndexPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeCheckpointKey generates a key for a named checkpoint.
func makeCheckpointKey(name string) []byte {
	return append([]byte(checkpointPrefix), name...)
}
