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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

const (
	// DefaultCollectionName names the collection when none is configured.
	DefaultCollectionName = "mutual_funds"

	// chunksPerTxn bounds how many chunks share one write transaction.
	// A chunk's metadata and vector are always in the same transaction.
	chunksPerTxn = 128
)

// Store implements storage.ChunkStore on BadgerDB.
type Store struct {
	backend  *Backend
	embedder storage.Embedder
	name     string
	logger   *slog.Logger
	now      func() time.Time

	stampMu   sync.Mutex
	lastStamp time.Time
}

var (
	_ storage.ChunkStore    = (*Store)(nil)
	_ storage.SourceIndexer = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store) error

// WithEmbedder sets the embedder used for new chunks.
func WithEmbedder(e storage.Embedder) Option {
	return func(s *Store) error {
		s.embedder = e
		return nil
	}
}

// WithCollectionName sets the name reported by CollectionInfo.
func WithCollectionName(name string) Option {
	return func(s *Store) error {
		if name != "" {
			s.name = name
		}
		return nil
	}
}

// WithLogger sets a custom logger. If nil, uses the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// Open opens (or creates) a durable store at path.
func Open(path string, opts ...Option) (*Store, error) {
	return open(path, false, opts)
}

// OpenMemory opens an in-memory store. Contents vanish on Close.
func OpenMemory(opts ...Option) (*Store, error) {
	return open("", true, opts)
}

func open(path string, inMemory bool, opts []Option) (*Store, error) {
	s := &Store{
		name:   DefaultCollectionName,
		logger: slog.Default().With("component", "badger-store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	backend, err := OpenBackend(path, inMemory, s.logger)
	if err != nil {
		return nil, core.NewStorageFailure("open", err)
	}
	s.backend = backend
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}

// nextStamp returns a timestamp strictly after every stamp handed out
// before by this store.
func (s *Store) nextStamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	ts := s.now().UTC()
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = ts
	return ts
}

// Upsert writes chunks keyed by ID. See storage.ChunkStore.
func (s *Store) Upsert(ctx context.Context, chunks []core.Chunk, skipExisting bool) ([]string, error) {
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	if s.backend.IsClosed() {
		return nil, core.NewStorageFailure("upsert", storage.ErrStorageClosed)
	}

	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
	}
	if len(chunks) == 0 {
		return ids, nil
	}

	existing := map[string]bool{}
	if skipExisting {
		var err error
		existing, err = s.existingIDs(ids)
		if err != nil {
			return nil, core.NewStorageFailure("upsert", err)
		}
	}

	// Embed outside any transaction; provider calls can be slow and may
	// back off for a long time.
	pending := make([]core.Chunk, 0, len(chunks))
	var refresh []string
	for _, c := range chunks {
		if existing[c.ID] {
			refresh = append(refresh, c.ID)
			continue
		}
		c.Metadata = c.Metadata.Clone()
		pending = append(pending, c)
	}
	if err := s.embedPending(ctx, pending); err != nil {
		return nil, err
	}

	stamp := s.nextStamp()
	if err := s.writeChunks(ctx, pending, stamp); err != nil {
		return nil, core.NewStorageFailure("upsert", err)
	}
	if err := s.refreshTimestamps(ctx, refresh, stamp); err != nil {
		return nil, core.NewStorageFailure("refresh", err)
	}

	s.logger.Debug("upserted chunks",
		"written", len(pending),
		"refreshed", len(refresh),
		"ingestion_timestamp", stamp)
	return ids, nil
}

func (s *Store) existingIDs(ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			_, err := tx.Get(makeChunkMetaKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			existing[id] = true
		}
		return nil
	}, false)
	return existing, err
}

func (s *Store) embedPending(ctx context.Context, pending []core.Chunk) error {
	var (
		texts []string
		slots []int
	)
	for i := range pending {
		if len(pending[i].Vector) == 0 {
			texts = append(texts, pending[i].Text)
			slots = append(slots, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if s.embedder == nil {
		return &core.EmbeddingFailure{Kind: core.ProviderError, Err: storage.ErrEmbedderRequired}
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingFailure) {
			return err
		}
		return &core.EmbeddingFailure{Kind: core.ProviderError, Attempts: 1, Err: err}
	}
	if len(vectors) != len(texts) {
		return &core.EmbeddingFailure{
			Kind: core.ProviderError,
			Err:  fmt.Errorf("%w: got %d, want %d", storage.ErrVectorCountMismatch, len(vectors), len(texts)),
		}
	}
	for j, slot := range slots {
		pending[slot].Vector = vectors[j]
	}
	return nil
}

func (s *Store) writeChunks(ctx context.Context, chunks []core.Chunk, stamp time.Time) error {
	for start := 0; start < len(chunks); start += chunksPerTxn {
		if err := ctx.Err(); err != nil {
			return err
		}
		group := chunks[start:min(start+chunksPerTxn, len(chunks))]
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			for _, c := range group {
				c.Metadata.IngestionTimestamp = stamp
				if err := tx.Set(makeChunkMetaKey(c.ID), storage.MarshalMetadata(c.Metadata)); err != nil {
					return err
				}
				vec := storage.VectorRecord{Text: c.Text, Vector: c.Vector}
				if err := tx.Set(makeChunkVectorKey(c.ID), storage.MarshalVectorRecord(vec)); err != nil {
					return err
				}
				if src := core.NormalizeSource(c.Metadata.SourceURL); src != "" {
					if err := tx.Set(makeSourceIndexKey(core.SourceKey(src)), []byte(src)); err != nil {
						return err
					}
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) refreshTimestamps(ctx context.Context, ids []string, stamp time.Time) error {
	for start := 0; start < len(ids); start += chunksPerTxn {
		if err := ctx.Err(); err != nil {
			return err
		}
		group := ids[start:min(start+chunksPerTxn, len(ids))]
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			for _, id := range group {
				key := makeChunkMetaKey(id)
				meta, err := readMetadata(tx, key)
				if err != nil {
					return err
				}
				meta.IngestionTimestamp = stamp
				if err := tx.Set(key, storage.MarshalMetadata(meta)); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return err
		}
	}
	return nil
}

func readMetadata(tx *badger.Txn, key []byte) (core.Metadata, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.Metadata{}, storage.ErrNotFound
		}
		return core.Metadata{}, err
	}
	var meta core.Metadata
	err = item.Value(func(val []byte) error {
		meta, err = storage.UnmarshalMetadata(val)
		return err
	})
	return meta, err
}

func readVectorRecord(tx *badger.Txn, key []byte) (storage.VectorRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.VectorRecord{}, storage.ErrNotFound
		}
		return storage.VectorRecord{}, err
	}
	var rec storage.VectorRecord
	err = item.Value(func(val []byte) error {
		rec, err = storage.UnmarshalVectorRecord(val)
		return err
	})
	return rec, err
}

// Scan streams every chunk's metadata in key order.
func (s *Store) Scan(ctx context.Context, fn func(id string, meta core.Metadata) error) error {
	if s.backend.IsClosed() {
		return core.NewStorageFailure("scan", storage.ErrStorageClosed)
	}
	var fnErr error
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkMetaPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			id := chunkIDFromKey(item.Key(), chunkMetaPrefix)
			var meta core.Metadata
			err := item.Value(func(val []byte) error {
				var err error
				meta, err = storage.UnmarshalMetadata(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(id, meta); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	}, false)
	if fnErr != nil {
		return fnErr
	}
	return core.NewStorageFailure("scan", err)
}

// SourceIdentities returns the normalized source URLs recorded in the
// source index.
func (s *Store) SourceIdentities(ctx context.Context) (map[string]struct{}, error) {
	if s.backend.IsClosed() {
		return nil, core.NewStorageFailure("source index", storage.ErrStorageClosed)
	}
	out := make(map[string]struct{})
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sourceIndexPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := iter.Item().Value(func(val []byte) error {
				out[string(val)] = struct{}{}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, core.NewStorageFailure("source index", err)
	}
	return out, nil
}

// SimilaritySearch returns up to k chunks by descending cosine similarity.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int, filter storage.Filter) ([]core.Chunk, error) {
	scored, err := s.SimilaritySearchWithScore(ctx, query, k, filter)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, len(scored))
	for i, sc := range scored {
		chunks[i] = sc.Chunk
	}
	return chunks, nil
}

// SimilaritySearchWithScore returns up to k chunks with their cosine
// similarity, highest first. Ties are broken by chunk ID.
func (s *Store) SimilaritySearchWithScore(ctx context.Context, query []float32, k int, filter storage.Filter) ([]core.ScoredChunk, error) {
	if k <= 0 || len(query) == 0 {
		return []core.ScoredChunk{}, nil
	}
	if s.backend.IsClosed() {
		return nil, core.NewStorageFailure("search", storage.ErrStorageClosed)
	}

	var results []core.ScoredChunk
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkVectorPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			id := chunkIDFromKey(item.Key(), chunkVectorPrefix)

			meta, err := readMetadata(tx, makeChunkMetaKey(id))
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !filter.Matches(meta) {
				continue
			}

			var rec storage.VectorRecord
			err = item.Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalVectorRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(rec.Vector) == 0 {
				continue
			}

			results = append(results, core.ScoredChunk{
				Chunk: core.Chunk{ID: id, Text: rec.Text, Vector: rec.Vector, Metadata: meta},
				Score: cosineSimilarity(query, rec.Vector),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, core.NewStorageFailure("search", err)
	}

	slices.SortFunc(results, func(a, b core.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return strings.Compare(a.Chunk.ID, b.Chunk.ID)
	})
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []core.ScoredChunk{}
	}
	return results, nil
}

// GetAll returns every chunk matching filter with text and metadata.
// Metadata is checked before the payload is read, so excluded chunks never
// have their text loaded.
func (s *Store) GetAll(ctx context.Context, filter storage.Filter) ([]core.Chunk, error) {
	if s.backend.IsClosed() {
		return nil, core.NewStorageFailure("get all", storage.ErrStorageClosed)
	}
	chunks := []core.Chunk{}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkMetaPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			id := chunkIDFromKey(item.Key(), chunkMetaPrefix)
			var meta core.Metadata
			err := item.Value(func(val []byte) error {
				var err error
				meta, err = storage.UnmarshalMetadata(val)
				return err
			})
			if err != nil {
				return err
			}
			if !filter.Matches(meta) {
				continue
			}
			rec, err := readVectorRecord(tx, makeChunkVectorKey(id))
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			chunks = append(chunks, core.Chunk{ID: id, Text: rec.Text, Metadata: meta})
		}
		return nil
	}, false)
	if err != nil {
		return nil, core.NewStorageFailure("get all", err)
	}
	return chunks, nil
}

// CollectionInfo counts chunks and finds the latest ingestion timestamp.
func (s *Store) CollectionInfo(ctx context.Context) (core.CollectionInfo, error) {
	info := core.CollectionInfo{Name: s.name, Path: s.backend.Path()}
	err := s.Scan(ctx, func(_ string, meta core.Metadata) error {
		info.Count++
		if ts := meta.LatestTouch(); ts != nil {
			if info.LatestIngestionTimestamp == nil || ts.After(*info.LatestIngestionTimestamp) {
				info.LatestIngestionTimestamp = ts
			}
		}
		return nil
	})
	if err != nil {
		return core.CollectionInfo{}, err
	}
	return info, nil
}

// DeleteCollection removes every chunk and the source index.
func (s *Store) DeleteCollection(ctx context.Context) error {
	if s.backend.IsClosed() {
		return core.NewStorageFailure("delete collection", storage.ErrStorageClosed)
	}
	if err := s.backend.DropPrefixes(chunkMetaPrefix, chunkVectorPrefix, sourceIndexPrefix); err != nil {
		return core.NewStorageFailure("delete collection", err)
	}
	s.logger.Info("deleted collection", "name", s.name)
	return nil
}
