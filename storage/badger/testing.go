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


package badger

import (
	"context"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

// NewMemoryStore creates an in-memory store for testing.
// Caller must close the store when done.
func NewMemoryStore(embedder storage.Embedder, opts ...Option) (*Store, error) {
	return OpenMemory(append([]Option{WithEmbedder(embedder)}, opts...)...)
}

// Seed writes chunks that already carry vectors, bypassing the embedder.
// Intended for tests that need a populated store.
func (s *Store) Seed(ctx context.Context, chunks ...core.Chunk) error {
	for i := range chunks {
		if len(chunks[i].Vector) == 0 {
			chunks[i].Vector = []float32{1}
		}
	}
	_, err := s.Upsert(ctx, chunks, false)
	return err
}
