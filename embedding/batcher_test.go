package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/ai/mock"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/metrics"
)

// recordingSleeper captures requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func newTestBatcher(t *testing.T, embedder ai.Embedder, opts ...Option) (*Batcher, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	b, err := NewBatcher(embedder, append([]Option{WithSleeper(sleeper.sleep)}, opts...)...)
	require.NoError(t, err)
	return b, sleeper
}

func TestNewBatcher(t *testing.T) {
	t.Run("requires embedder", func(t *testing.T) {
		_, err := NewBatcher(nil)
		assert.ErrorIs(t, err, ErrEmbedderRequired)
	})

	t.Run("defaults", func(t *testing.T) {
		b, err := NewBatcher(mock.NewMockEmbedder())
		require.NoError(t, err)

		p := b.Params()
		assert.Equal(t, 10, p.BatchSize)
		assert.Equal(t, time.Second, p.Delay)
		assert.Equal(t, 2, p.MaxRetries)
	})

	t.Run("clamps oversized batch", func(t *testing.T) {
		b, err := NewBatcher(mock.NewMockEmbedder(), WithBatchSize(50))
		require.NoError(t, err)
		assert.Equal(t, MaxBatchSize, b.Params().BatchSize)
	})

	t.Run("rejects zero batch", func(t *testing.T) {
		_, err := NewBatcher(mock.NewMockEmbedder(), WithBatchSize(0))
		assert.ErrorIs(t, err, ErrInvalidBatchSize)
	})
}

func TestEmbedBatchesInOrder(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, sleeper := newTestBatcher(t, embedder, WithBatchSize(4), WithDelay(250*time.Millisecond))

	input := texts(10)
	vectors, err := b.Embed(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, vectors, 10)

	for i, text := range input {
		assert.Equal(t, mock.DeterministicVector(text, mock.DefaultDimension), vectors[i], "vector %d", i)
	}

	batches := embedder.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, input[0:4], batches[0])
	assert.Equal(t, input[4:8], batches[1])
	assert.Equal(t, input[8:10], batches[2])

	// No delay after the last batch.
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeper.recorded())

	stats := b.Stats()
	assert.Equal(t, Stats{Batches: 3, Calls: 3, Retries: 0}, stats)
}

func TestEmbedEmptyInput(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, sleeper := newTestBatcher(t, embedder)

	vectors, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, embedder.CallCount())
	assert.Empty(t, sleeper.recorded())
}

func TestEmbedRetriesTransientQuota(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	var calls int
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		calls++
		if calls <= 2 {
			return nil, fmt.Errorf("%w: 429 Too Many Requests", ai.ErrQuotaExceeded)
		}
		out := make([][]float32, len(in))
		for i := range in {
			out[i] = []float32{1, 0}
		}
		return out, nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b, sleeper := newTestBatcher(t, embedder, WithMetrics(m))

	vectors, err := b.Embed(context.Background(), texts(3))
	require.NoError(t, err)
	assert.Len(t, vectors, 3)

	assert.Equal(t, 3, calls)
	assert.Equal(t, Stats{Batches: 1, Calls: 3, Retries: 2}, b.Stats())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeper.recorded())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EmbeddingRetries))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.EmbeddingCalls))
}

func TestEmbedRetriesExceeded(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		return nil, errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")
	}
	b, sleeper := newTestBatcher(t, embedder, WithMaxRetries(2))

	_, err := b.Embed(context.Background(), texts(2))
	require.Error(t, err)

	var failure *core.EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, core.RetriesExceeded, failure.Kind)
	assert.Equal(t, 3, failure.Attempts)
	assert.True(t, failure.Retryable())
	assert.ErrorIs(t, err, core.ErrEmbeddingFailure)
	assert.Equal(t, 3, embedder.CallCount())
	assert.Len(t, sleeper.recorded(), 2)
}

func TestEmbedHardQuotaFailsImmediately(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		return nil, fmt.Errorf("%w: quota metric generativelanguage.googleapis.com/embed_content_free_tier_requests, limit: 0", ai.ErrQuotaExceeded)
	}
	b, sleeper := newTestBatcher(t, embedder)

	_, err := b.Embed(context.Background(), texts(5))
	require.Error(t, err)

	var failure *core.EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, core.QuotaExhausted, failure.Kind)
	assert.Equal(t, 1, failure.Attempts)
	assert.False(t, failure.Retryable())
	assert.Equal(t, 1, embedder.CallCount())
	assert.Empty(t, sleeper.recorded())
	assert.Equal(t, 0, b.Stats().Retries)
}

func TestEmbedProviderErrorFailsImmediately(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		return nil, errors.New("invalid argument: model not found")
	}
	b, _ := newTestBatcher(t, embedder)

	_, err := b.Embed(context.Background(), texts(12))

	var failure *core.EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, core.ProviderError, failure.Kind)
	assert.Equal(t, 0, failure.Batch)
	assert.Equal(t, 1, embedder.CallCount())
}

func TestEmbedLaterBatchFailureReportsBatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	var calls int
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("connection reset")
		}
		return make([][]float32, len(in)), nil
	}
	b, _ := newTestBatcher(t, embedder, WithBatchSize(2))

	_, err := b.Embed(context.Background(), texts(6))

	var failure *core.EmbeddingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Batch)
	assert.Equal(t, 2, calls)
}

func TestEmbedVectorCountMismatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, in []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}
	b, _ := newTestBatcher(t, embedder)

	_, err := b.Embed(context.Background(), texts(3))
	assert.ErrorIs(t, err, ErrVectorCountMismatch)
	assert.ErrorIs(t, err, core.ErrEmbeddingFailure)
}

func TestEmbedWithParamsOverridesDefaults(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, sleeper := newTestBatcher(t, embedder)

	_, err := b.EmbedWithParams(context.Background(), texts(5), Params{BatchSize: 2, Delay: 0, MaxRetries: 0})
	require.NoError(t, err)

	assert.Len(t, embedder.Batches(), 3)
	assert.Empty(t, sleeper.recorded())
}

func TestEmbedWithParamsClampsBatchSize(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, _ := newTestBatcher(t, embedder, WithDelay(0))

	_, err := b.EmbedWithParams(context.Background(), texts(25), Params{BatchSize: 100})
	require.NoError(t, err)

	batches := embedder.Batches()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[2], 5)
}

func TestEmbedContextCanceled(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, _ := newTestBatcher(t, embedder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Embed(ctx, texts(3))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestEmbedQuery(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	b, _ := newTestBatcher(t, embedder)

	vec, err := b.EmbedQuery(context.Background(), "exit load")
	require.NoError(t, err)
	assert.Equal(t, mock.DeterministicVector("exit load", mock.DefaultDimension), vec)
}

func TestQuotaClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		quota bool
		hard  bool
	}{
		{"nil", nil, false, false},
		{"sentinel", ai.ErrQuotaExceeded, true, false},
		{"429 text", errors.New("HTTP 429"), true, false},
		{"quota text", errors.New("Quota exceeded for metric"), true, false},
		{"resource text", errors.New("RESOURCE_EXHAUSTED"), true, false},
		{"limit zero", errors.New("quota exceeded, limit: 0"), true, true},
		{"free tier", errors.New("429 free_tier_requests"), true, true},
		{"unrelated", errors.New("bad request"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.quota, IsQuotaError(tt.err))
			assert.Equal(t, tt.hard, IsHardQuotaExhaustion(tt.err))
		})
	}
}
