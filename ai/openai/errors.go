package openai

import (
	"fmt"
	"strings"

	"github.com/kathan-shah07/fundrag/ai"
)

// quotaMarkers are substrings OpenAI-compatible servers use for rate and
// quota responses.
var quotaMarkers = []string{"429", "rate limit", "quota", "too many requests"}

// classifyError marks quota responses with ai.ErrQuotaExceeded. Other
// errors pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w", ai.ErrQuotaExceeded, err)
		}
	}
	return err
}
