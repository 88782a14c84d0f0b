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


package embedding

import (
	"context"
	"log/slog"
	"time"
)

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns baseDelay * 2^(retry-1) for retry >= 1.
func Backoff(baseDelay time.Duration, retry int) time.Duration {
	delay := baseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
	}
	return delay
}

// RetryWithBackoff retries an operation with exponential backoff.
// maxAttempts: maximum number of attempts (must be > 0)
// baseDelay: delay before the first retry (doubles on each retry)
// retryable: decides whether an error deserves another attempt; nil
// retries every error.
// Returns the error from the last attempt if all attempts fail, or the
// first non-retryable error unchanged.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration, retryable func(error) bool) error {
	return retry(ctx, operation, maxAttempts, baseDelay, retryable, SleepContext, nil)
}

func retry(
	ctx context.Context,
	operation func() error,
	maxAttempts int,
	baseDelay time.Duration,
	retryable func(error) bool,
	sleep Sleeper,
	onRetry func(retry int, delay time.Duration, err error),
) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Check context before attempting
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		delay := Backoff(baseDelay, attempt)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "err", lastErr)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}
