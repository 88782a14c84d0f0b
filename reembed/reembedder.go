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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kathan-shah07/fundrag/storage"
)

// Config holds configuration for a re-embedding run.
type Config struct {
	// BatchSize is the number of chunks written per Upsert. The store's
	// embedder splits each write further into provider-sized batches.
	BatchSize int

	// ReportInterval is how often to report progress, in chunks.
	ReportInterval int

	// Filter restricts the run to matching chunks. Nil re-embeds everything.
	Filter storage.Filter
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      50,
		ReportInterval: 50,
	}
}

// Reembedder rewrites chunks so the store embeds them again.
type Reembedder struct {
	store    storage.ChunkStore
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a re-embedder over store. progress receives a
// human-readable progress line and may be nil.
func NewReembedder(store storage.ChunkStore, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reembedder{
		store:    store,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reembedder"),
	}, nil
}

// Run re-embeds every matching chunk and returns how many were written.
// On failure the count covers the batches written before it.
func (r *Reembedder) Run(ctx context.Context) (int, error) {
	chunks, err := r.store.GetAll(ctx, r.config.Filter)
	if err != nil {
		return 0, fmt.Errorf("failed to read chunks: %w", err)
	}

	total := len(chunks)
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found in store (0 chunks)\n")
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Starting re-embedding of %d chunks (batch size: %d)\n",
		total, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	for start := 0; start < total; start += r.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		batch := chunks[start:min(start+r.config.BatchSize, total)]
		for i := range batch {
			// GetAll omits vectors, but a store may hand some back.
			batch[i].Vector = nil
		}
		if _, err := r.store.Upsert(ctx, batch, false); err != nil {
			r.logger.Error("re-embedding batch failed", "offset", start, "size", len(batch), "err", err)
			return processed, fmt.Errorf("failed to process batch at offset %d: %w", start, err)
		}
		processed += len(batch)
		tracker.Update(processed)
	}

	tracker.Finish()

	elapsed := tracker.Elapsed()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(total) / elapsed.Seconds()
	}
	fmt.Fprintf(r.progress, "Re-embedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		total, elapsed.Round(time.Second), rate)
	r.logger.Info("re-embedding complete", "chunks", total, "elapsed", elapsed)
	return processed, nil
}
