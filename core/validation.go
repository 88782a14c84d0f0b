package core

import "fmt"

// ValidateChunk validates a Chunk before it is written.
//
// Validation rules:
//   - ID must not be empty
//   - Text must not be empty
//
// NOT validated:
//   - Vector (populated by the embedding batcher)
//   - Metadata (every field is optional)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyChunkID)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	return nil
}

// ValidateChunks validates every chunk and reports the first failure with
// its position.
func ValidateChunks(chunks []Chunk) error {
	for i := range chunks {
		if err := ValidateChunk(&chunks[i]); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}
