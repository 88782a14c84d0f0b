package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/storage"
)

// Provider-safe defaults. The Gemini embedding API rejects or throttles
// larger batches, so MaxBatchSize is a hard ceiling.
const (
	MaxBatchSize      = 10
	DefaultBatchSize  = 10
	DefaultDelay      = time.Second
	DefaultMaxRetries = 2
	DefaultBaseWait   = 5 * time.Second
)

// Params controls one Embed call.
type Params struct {
	// BatchSize is the number of texts per provider call, at most MaxBatchSize.
	BatchSize int
	// Delay is the pause between consecutive batches.
	Delay time.Duration
	// MaxRetries is how many times a batch is retried on a transient
	// quota error. A batch is called at most MaxRetries+1 times.
	MaxRetries int
}

// Stats describes the most recent Embed call.
type Stats struct {
	Batches int
	Calls   int
	Retries int
}

// Batcher turns texts into vectors in bounded batches with quota-aware
// retry. It is safe for concurrent use; Stats reflects whichever call
// finished last.
type Batcher struct {
	embedder ai.Embedder
	params   Params
	baseWait time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sleep    Sleeper

	mu    sync.Mutex
	stats Stats
}

var _ storage.Embedder = (*Batcher)(nil)

// Option configures a Batcher.
type Option func(*Batcher) error

// WithBatchSize sets the number of texts per provider call. Values above
// MaxBatchSize are a configuration error: they are logged and clamped.
func WithBatchSize(n int) Option {
	return func(b *Batcher) error {
		if n < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidBatchSize, n)
		}
		b.params.BatchSize = n
		return nil
	}
}

// WithDelay sets the pause between batches.
func WithDelay(d time.Duration) Option {
	return func(b *Batcher) error {
		b.params.Delay = max(d, 0)
		return nil
	}
}

// WithMaxRetries sets the retry budget per batch for transient quota errors.
func WithMaxRetries(n int) Option {
	return func(b *Batcher) error {
		b.params.MaxRetries = max(n, 0)
		return nil
	}
}

// WithBaseWait sets the first backoff wait; later waits double.
func WithBaseWait(d time.Duration) Option {
	return func(b *Batcher) error {
		b.baseWait = max(d, 0)
		return nil
	}
}

// WithLogger sets a custom logger. If nil, uses the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		if logger != nil {
			b.logger = logger
		}
		return nil
	}
}

// WithMetrics records calls, retries and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) error {
		b.metrics = m
		return nil
	}
}

// WithSleeper replaces the wait used for delays and backoff.
func WithSleeper(s Sleeper) Option {
	return func(b *Batcher) error {
		if s != nil {
			b.sleep = s
		}
		return nil
	}
}

// NewBatcher creates a batcher over embedder.
func NewBatcher(embedder ai.Embedder, opts ...Option) (*Batcher, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	b := &Batcher{
		embedder: embedder,
		params: Params{
			BatchSize:  DefaultBatchSize,
			Delay:      DefaultDelay,
			MaxRetries: DefaultMaxRetries,
		},
		baseWait: DefaultBaseWait,
		logger:   slog.Default().With("component", "embedding-batcher"),
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	b.params.BatchSize = b.clamp(b.params.BatchSize)
	return b, nil
}

// Params returns the batcher's default parameters.
func (b *Batcher) Params() Params {
	return b.params
}

// Stats returns counters for the most recent Embed call.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// EmbedQuery embeds a single query string. Queries are not batched and not
// retried.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	b.metrics.EmbeddingCall()
	return b.embedder.EmbedText(ctx, text)
}

// Embed embeds texts with the batcher's default parameters.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return b.EmbedWithParams(ctx, texts, b.params)
}

// EmbedWithParams embeds texts in order, one provider call per batch.
//
// A transient quota error is retried with waits of baseWait*2^(n-1) up to
// p.MaxRetries times. A hard zero quota fails at once, as does any
// non-quota error. Failures are reported as *core.EmbeddingFailure.
func (b *Batcher) EmbedWithParams(ctx context.Context, texts []string, p Params) ([][]float32, error) {
	if p.BatchSize < 1 {
		p.BatchSize = DefaultBatchSize
	}
	p.BatchSize = b.clamp(p.BatchSize)

	var stats Stats
	defer func() {
		b.mu.Lock()
		b.stats = stats
		b.mu.Unlock()
	}()

	vectors := make([][]float32, 0, len(texts))
	totalBatches := (len(texts) + p.BatchSize - 1) / p.BatchSize

	for batch := 0; batch < totalBatches; batch++ {
		start := batch * p.BatchSize
		end := min(start+p.BatchSize, len(texts))
		chunk := texts[start:end]

		var (
			result   [][]float32
			attempts int
		)
		op := func() error {
			attempts++
			stats.Calls++
			b.metrics.EmbeddingCall()
			var err error
			result, err = b.embedder.EmbedTexts(ctx, chunk)
			return err
		}
		onRetry := func(retry int, delay time.Duration, err error) {
			stats.Retries++
			b.metrics.EmbeddingRetry()
			b.logger.Warn("embedding quota exceeded, backing off",
				"batch", batch+1,
				"batches", totalBatches,
				"retry", retry,
				"max_retries", p.MaxRetries,
				"wait", delay,
				"err", err)
		}

		err := retry(ctx, op, p.MaxRetries+1, b.baseWait, isTransientQuota, b.sleep, onRetry)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, err
			}
			failure := classify(err, batch, attempts)
			b.metrics.EmbeddingFailure(failure.Kind.String())
			b.logger.Error("embedding batch failed",
				"batch", batch+1,
				"batches", totalBatches,
				"kind", failure.Kind.String(),
				"attempts", attempts,
				"err", err)
			return nil, failure
		}
		if len(result) != len(chunk) {
			failure := &core.EmbeddingFailure{
				Kind:     core.ProviderError,
				Batch:    batch,
				Attempts: attempts,
				Err:      fmt.Errorf("%w: got %d, want %d", ErrVectorCountMismatch, len(result), len(chunk)),
			}
			b.metrics.EmbeddingFailure(failure.Kind.String())
			return nil, failure
		}

		stats.Batches++
		b.metrics.EmbeddingBatch()
		if attempts > 1 {
			b.logger.Info("embedding batch succeeded after retry", "batch", batch+1, "retries", attempts-1)
		}
		vectors = append(vectors, result...)

		if batch < totalBatches-1 && p.Delay > 0 {
			if err := b.sleep(ctx, p.Delay); err != nil {
				return nil, err
			}
		}
	}

	return vectors, nil
}

func (b *Batcher) clamp(n int) int {
	if n > MaxBatchSize {
		b.logger.Error("batch size exceeds provider limit, clamping",
			"requested", n,
			"max", MaxBatchSize)
		return MaxBatchSize
	}
	return n
}

// IsQuotaError reports whether err signals a rate or quota limit.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ai.ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource")
}

// IsHardQuotaExhaustion reports whether err signals a quota with nothing
// left, where retrying cannot succeed.
func IsHardQuotaExhaustion(err error) bool {
	if !IsQuotaError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "limit: 0") || strings.Contains(msg, "free_tier_requests")
}

func isTransientQuota(err error) bool {
	return IsQuotaError(err) && !IsHardQuotaExhaustion(err)
}

func classify(err error, batch, attempts int) *core.EmbeddingFailure {
	kind := core.ProviderError
	switch {
	case IsHardQuotaExhaustion(err):
		kind = core.QuotaExhausted
	case IsQuotaError(err):
		kind = core.RetriesExceeded
	}
	return &core.EmbeddingFailure{Kind: kind, Batch: batch, Attempts: attempts, Err: err}
}
