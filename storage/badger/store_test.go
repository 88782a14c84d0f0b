package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kathan-shah07/fundrag/ai/mock"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

func fundChunk(id, fund, url string, vec ...float32) core.Chunk {
	return core.Chunk{
		ID:     id,
		Text:   "Text for " + id,
		Vector: vec,
		Metadata: core.Metadata{
			SourceURL:  url,
			SourceFile: id + ".json",
			FundName:   fund,
		},
	}
}

func newStore(t *testing.T, opts ...Option) (*Store, *mock.MockEmbedder) {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	store, err := NewMemoryStore(embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, embedder
}

func TestOpenDurableStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir, WithCollectionName("funds"))
	require.NoError(t, err)
	_, err = store.Upsert(ctx, []core.Chunk{fundChunk("a_0_0", "Alpha", "https://x.test/a", 1, 0)}, false)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, WithCollectionName("funds"))
	require.NoError(t, err)
	defer reopened.Close()

	info, err := reopened.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "funds", info.Name)
	assert.Equal(t, dir, info.Path)
	assert.Equal(t, 1, info.Count)
}

func TestUpsert_EmbedsAndReturnsIDsInOrder(t *testing.T) {
	store, embedder := newStore(t)
	ctx := context.Background()

	chunks := []core.Chunk{
		fundChunk("b_0_0", "Beta", "https://x.test/b"),
		fundChunk("a_0_1", "Alpha", "https://x.test/a"),
	}
	ids, err := store.Upsert(ctx, chunks, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b_0_0", "a_0_1"}, ids)

	batches := embedder.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"Text for b_0_0", "Text for a_0_1"}, batches[0])

	all, err := store.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, c := range all {
		assert.Nil(t, c.Vector)
		assert.Equal(t, "Text for "+c.ID, c.Text)
		assert.False(t, c.Metadata.IngestionTimestamp.IsZero())
	}
}

func TestUpsert_SkipExistingDoesNotReembed(t *testing.T) {
	store, embedder := newStore(t)
	ctx := context.Background()

	first := []core.Chunk{
		fundChunk("a_0_0", "Alpha", "https://x.test/a"),
		fundChunk("a_1_1", "Alpha", "https://x.test/a"),
	}
	_, err := store.Upsert(ctx, first, true)
	require.NoError(t, err)
	require.Equal(t, 1, embedder.CallCount())

	second := append(first, fundChunk("c_0_2", "Gamma", "https://x.test/c"))
	ids, err := store.Upsert(ctx, second, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_0_0", "a_1_1", "c_0_2"}, ids)

	batches := embedder.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"Text for c_0_2"}, batches[1])

	info, err := store.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Count)
}

func TestUpsert_WithoutSkipReembeds(t *testing.T) {
	store, embedder := newStore(t)
	ctx := context.Background()

	chunks := []core.Chunk{fundChunk("a_0_0", "Alpha", "https://x.test/a")}
	_, err := store.Upsert(ctx, chunks, false)
	require.NoError(t, err)

	chunks[0].Text = "Updated text"
	_, err = store.Upsert(ctx, chunks, false)
	require.NoError(t, err)

	assert.Equal(t, 2, embedder.CallCount())
	all, err := store.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Updated text", all[0].Text)
}

func TestUpsert_TimestampsStrictlyIncrease(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store, _ := newStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	chunk := fundChunk("a_0_0", "Alpha", "https://x.test/a")

	var previous time.Time
	for i := 0; i < 3; i++ {
		_, err := store.Upsert(ctx, []core.Chunk{chunk}, true)
		require.NoError(t, err)

		info, err := store.CollectionInfo(ctx)
		require.NoError(t, err)
		require.NotNil(t, info.LatestIngestionTimestamp)
		assert.True(t, info.LatestIngestionTimestamp.After(previous), "upsert %d", i)
		previous = *info.LatestIngestionTimestamp
	}
	assert.Equal(t, fixed.Add(2*time.Nanosecond), previous)
}

func TestUpsert_ConcurrentTimestampsAreUnique(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c_%d_%d", i, i)
			_, err := store.Upsert(ctx, []core.Chunk{fundChunk(id, "Fund", "https://x.test/c")}, false)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := map[time.Time]bool{}
	err := store.Scan(ctx, func(id string, meta core.Metadata) error {
		assert.False(t, seen[meta.IngestionTimestamp], "duplicate stamp for %s", id)
		seen[meta.IngestionTimestamp] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 8)
}

func TestUpsert_InvalidChunk(t *testing.T) {
	store, embedder := newStore(t)

	_, err := store.Upsert(context.Background(), []core.Chunk{{ID: "x", Text: ""}}, true)
	assert.ErrorIs(t, err, core.ErrInvalidChunk)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestUpsert_EmbeddingFailurePropagates(t *testing.T) {
	t.Run("plain provider error", func(t *testing.T) {
		store, embedder := newStore(t)
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("boom")
		}

		_, err := store.Upsert(context.Background(), []core.Chunk{fundChunk("a_0_0", "A", "u")}, true)

		var failure *core.EmbeddingFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, core.ProviderError, failure.Kind)
		assert.False(t, errors.Is(err, core.ErrStorageFailure))

		info, err := store.CollectionInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, info.Count)
	})

	t.Run("typed failure is unchanged", func(t *testing.T) {
		store, embedder := newStore(t)
		typed := &core.EmbeddingFailure{Kind: core.QuotaExhausted, Attempts: 1, Err: errors.New("limit: 0")}
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, typed
		}

		_, err := store.Upsert(context.Background(), []core.Chunk{fundChunk("a_0_0", "A", "u")}, true)
		assert.Same(t, typed, err)
	})

	t.Run("no embedder", func(t *testing.T) {
		store, err := OpenMemory()
		require.NoError(t, err)
		defer store.Close()

		_, err = store.Upsert(context.Background(), []core.Chunk{fundChunk("a_0_0", "A", "u")}, true)
		assert.ErrorIs(t, err, storage.ErrEmbedderRequired)
		assert.ErrorIs(t, err, core.ErrEmbeddingFailure)
	})

	t.Run("vector count mismatch", func(t *testing.T) {
		store, embedder := newStore(t)
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{}, nil
		}

		_, err := store.Upsert(context.Background(), []core.Chunk{fundChunk("a_0_0", "A", "u")}, true)
		assert.ErrorIs(t, err, storage.ErrVectorCountMismatch)
	})
}

func TestSimilaritySearchWithScore(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx,
		fundChunk("far", "Alpha", "https://x.test/a", 0, 0, 1),
		fundChunk("best", "Alpha", "https://x.test/a", 1, 0, 0),
		fundChunk("close", "Beta", "https://x.test/b", 0.9, 0.1, 0),
		fundChunk("mid", "Beta", "https://x.test/b", 0.5, 0.5, 0),
		fundChunk("opposite", "Gamma", "https://x.test/g", -1, 0, 0),
	))

	query := []float32{1, 0, 0}

	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			results, err := store.SimilaritySearchWithScore(ctx, query, k, nil)
			require.NoError(t, err)
			require.Len(t, results, k)
			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
			}
			assert.Equal(t, "best", results[0].Chunk.ID)
			assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		})
	}

	t.Run("order", func(t *testing.T) {
		results, err := store.SimilaritySearch(ctx, query, 10, nil)
		require.NoError(t, err)
		ids := make([]string, len(results))
		for i, c := range results {
			ids[i] = c.ID
		}
		assert.Equal(t, []string{"best", "close", "mid", "far", "opposite"}, ids)
	})

	t.Run("filter", func(t *testing.T) {
		results, err := store.SimilaritySearchWithScore(ctx, query, 5, storage.Filter{core.KeyFundName: "Beta"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "close", results[0].Chunk.ID)
		assert.Equal(t, "mid", results[1].Chunk.ID)
	})

	t.Run("filter excludes everything", func(t *testing.T) {
		results, err := store.SimilaritySearchWithScore(ctx, query, 5, storage.Filter{core.KeyFundName: "Nope"})
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("ties broken by id", func(t *testing.T) {
		require.NoError(t, store.Seed(ctx, fundChunk("best2", "Alpha", "https://x.test/a", 2, 0, 0)))
		results, err := store.SimilaritySearchWithScore(ctx, query, 2, nil)
		require.NoError(t, err)
		assert.Equal(t, "best", results[0].Chunk.ID)
		assert.Equal(t, "best2", results[1].Chunk.ID)
	})
}

func TestSimilaritySearch_EmptyStore(t *testing.T) {
	store, _ := newStore(t)

	results, err := store.SimilaritySearchWithScore(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	chunks, err := store.SimilaritySearch(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestGetAll_Filter(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	noFund := fundChunk("n_0_0", "", "https://x.test/n")
	require.NoError(t, store.Seed(ctx,
		fundChunk("a_0_0", "Alpha", "https://x.test/a"),
		fundChunk("b_0_1", "Beta", "https://x.test/b"),
		noFund,
	))

	all, err := store.GetAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alpha, err := store.GetAll(ctx, storage.Filter{core.KeyFundName: "Alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 1)
	assert.Equal(t, "a_0_0", alpha[0].ID)
	assert.Equal(t, "https://x.test/a", alpha[0].Metadata.SourceURL)

	none, err := store.GetAll(ctx, storage.Filter{core.KeyFundName: "Zeta"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestScan(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx,
		fundChunk("a_0_0", "Alpha", "https://x.test/a"),
		fundChunk("b_0_1", "Beta", "https://x.test/b"),
	))

	var ids []string
	err := store.Scan(ctx, func(id string, meta core.Metadata) error {
		ids = append(ids, id)
		assert.NotEmpty(t, meta.FundName)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_0_0", "b_0_1"}, ids)

	t.Run("callback error stops scan", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := store.Scan(ctx, func(id string, meta core.Metadata) error {
			calls++
			return stop
		})
		assert.Same(t, stop, err)
		assert.Equal(t, 1, calls)
	})
}

func TestSourceIdentities(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx,
		fundChunk("a_0_0", "Alpha", "https://X.test/Alpha/"),
		fundChunk("a_1_1", "Alpha", "https://x.test/alpha"),
		fundChunk("b_0_2", "Beta", "https://x.test/beta"),
		fundChunk("n_0_3", "None", ""),
	))

	ids, err := store.SourceIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"https://x.test/alpha": {},
		"https://x.test/beta":  {},
	}, ids)
}

func TestCollectionInfo(t *testing.T) {
	store, _ := newStore(t, WithCollectionName("funds"))
	ctx := context.Background()

	info, err := store.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "funds", info.Name)
	assert.Equal(t, 0, info.Count)
	assert.Nil(t, info.LatestIngestionTimestamp)

	require.NoError(t, store.Seed(ctx, fundChunk("a_0_0", "Alpha", "https://x.test/a")))

	info, err = store.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Count)
	assert.NotNil(t, info.LatestIngestionTimestamp)
}

func TestDeleteCollection(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx,
		fundChunk("a_0_0", "Alpha", "https://x.test/a"),
		fundChunk("b_0_1", "Beta", "https://x.test/b"),
	))
	require.NoError(t, store.SaveCheckpoint(ctx, &storage.Checkpoint{Name: "pipeline", State: "completed"}))

	require.NoError(t, store.DeleteCollection(ctx))

	info, err := store.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Count)

	ids, err := store.SourceIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	cp, err := store.LoadCheckpoint(ctx, "pipeline")
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestCheckpoints(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	cp, err := store.LoadCheckpoint(ctx, "pipeline")
	require.NoError(t, err)
	assert.Nil(t, cp)

	completed := fixed.Add(-time.Hour)
	require.NoError(t, store.SaveCheckpoint(ctx, &storage.Checkpoint{
		Name:        "pipeline",
		RunID:       "run-1",
		State:       "completed",
		CompletedAt: completed,
	}))

	cp, err = store.LoadCheckpoint(ctx, "pipeline")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, completed, cp.CompletedAt)
	assert.Equal(t, fixed, cp.UpdatedAt)
}

func TestClosedStore(t *testing.T) {
	store, err := NewMemoryStore(mock.NewMockEmbedder())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()

	_, err = store.Upsert(ctx, []core.Chunk{fundChunk("a_0_0", "A", "u")}, true)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, err, core.ErrStorageFailure)

	_, err = store.SimilaritySearchWithScore(ctx, []float32{1}, 1, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.GetAll(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.CollectionInfo(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	err = store.DeleteCollection(ctx)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
