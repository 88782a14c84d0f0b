// Package embedding turns document texts into vectors without tripping
// provider quotas.
//
// A Batcher splits its input into batches of at most MaxBatchSize texts,
// sends one provider call per batch and pauses between batches. Rate or
// quota errors are retried with exponential backoff; a quota reported as
// exhausted ("limit: 0") stops the run immediately. Every failure comes
// back as a *core.EmbeddingFailure naming the batch and the reason.
package embedding
