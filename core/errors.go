// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptyChunkID indicates the chunk ID is empty.
	ErrEmptyChunkID = errors.New("chunk id cannot be empty")

	// ErrEmptyContent indicates the chunk text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")
)

// Failure classes. Every typed failure below matches exactly one of these
// with errors.Is.
var (
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrStorageFailure    = errors.New("storage failure")
	ErrScrapeFailure     = errors.New("scrape failure")
	ErrGenerationFailure = errors.New("generation failure")
)

// EmbeddingFailureKind distinguishes why an embedding batch failed.
type EmbeddingFailureKind int

const (
	// ProviderError is a non-quota provider error. Not retried.
	ProviderError EmbeddingFailureKind = iota
	// QuotaExhausted is a permanently exhausted quota ("limit: 0").
	QuotaExhausted
	// RetriesExceeded is a transient quota error that outlived the retry budget.
	RetriesExceeded
)

func (k EmbeddingFailureKind) String() string {
	switch k {
	case QuotaExhausted:
		return "quota exhausted"
	case RetriesExceeded:
		return "retries exceeded"
	default:
		return "provider error"
	}
}

// EmbeddingFailure reports a failed embedding batch.
type EmbeddingFailure struct {
	Kind     EmbeddingFailureKind
	Batch    int // zero-based batch number
	Attempts int
	Err      error
}

func (e *EmbeddingFailure) Error() string {
	return fmt.Sprintf("embedding batch %d failed (%s) after %d attempt(s): %v", e.Batch, e.Kind, e.Attempts, e.Err)
}

func (e *EmbeddingFailure) Unwrap() []error { return []error{ErrEmbeddingFailure, e.Err} }

// Retryable reports whether a later run may succeed. Only a transient
// quota error that ran out of retries qualifies.
func (e *EmbeddingFailure) Retryable() bool { return e.Kind == RetriesExceeded }

// StorageFailure wraps an error from the storage layer.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() []error { return []error{ErrStorageFailure, e.Err} }

// NewStorageFailure wraps err unless it is nil or already an
// EmbeddingFailure or StorageFailure.
func NewStorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmbeddingFailure) || errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &StorageFailure{Op: op, Err: err}
}

// ScrapeFailure records a single URL that could not be scraped.
type ScrapeFailure struct {
	URL string
	Err error
}

func (e *ScrapeFailure) Error() string {
	return fmt.Sprintf("scrape %s: %v", e.URL, e.Err)
}

func (e *ScrapeFailure) Unwrap() []error { return []error{ErrScrapeFailure, e.Err} }

// GenerationFailure wraps an error returned by the text generator.
type GenerationFailure struct {
	Err error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("answer generation failed: %v", e.Err)
}

func (e *GenerationFailure) Unwrap() []error { return []error{ErrGenerationFailure, e.Err} }
