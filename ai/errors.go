package ai

import "errors"

var (
	// ErrQuotaExceeded marks a provider response that reported a rate or
	// quota limit. The wrapping error keeps the provider's message so
	// callers can tell a hard zero quota from a transient 429.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown ai provider")

	// ErrEmptyResponse indicates the provider returned no content.
	ErrEmptyResponse = errors.New("empty response from provider")
)
