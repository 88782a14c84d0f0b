package gemini

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kathan-shah07/fundrag/ai"
	"google.golang.org/genai"
)

// classifyError marks Gemini quota responses with ai.ErrQuotaExceeded.
// The API reports them as HTTP 429 with status RESOURCE_EXHAUSTED; the
// message text (for example "limit: 0") is kept intact.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		if strings.Contains(strings.ToLower(err.Error()), "resource_exhausted") {
			return fmt.Errorf("%w: %w", ai.ErrQuotaExceeded, err)
		}
		return err
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
		return fmt.Errorf("%w: %w", ai.ErrQuotaExceeded, err)
	}
	return err
}
