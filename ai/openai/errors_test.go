package openai

import (
	"errors"
	"testing"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantQuota bool
	}{
		{"rate limited", errors.New("API returned unexpected status code: 429"), true},
		{"quota message", errors.New("You exceeded your current quota"), true},
		{"rate limit phrase", errors.New("Rate limit reached for requests"), true},
		{"server error", errors.New("API returned unexpected status code: 500"), false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.wantQuota, errors.Is(got, ai.ErrQuotaExceeded))
			assert.True(t, errors.Is(got, tt.err))
		})
	}

	assert.NoError(t, classifyError(nil))
}

func TestToken(t *testing.T) {
	assert.Equal(t, "none", token(&ai.Config{}))
	assert.Equal(t, "sk-test", token(&ai.Config{APIKey: "sk-test"}))
}
