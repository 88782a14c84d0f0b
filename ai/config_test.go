package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderGemini, cfg.Provider)
	assert.Equal(t, "models/embedding-001", cfg.EmbeddingModel)
	assert.Equal(t, "gemini-1.5-flash", cfg.GenerationModel)
	assert.InDelta(t, 0.1, cfg.Temperature, 1e-9)
	assert.Empty(t, cfg.APIKey)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, ProviderGemini, cfg.Provider)
		assert.Equal(t, "gemini-1.5-flash", cfg.GenerationModel)
	})

	t.Run("with openai provider", func(t *testing.T) {
		cfg := NewConfig(
			WithProvider(ProviderOpenAI),
			WithHost("http://custom:8080"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithGenerationModel("gpt-4o-mini"),
		)

		assert.Equal(t, ProviderOpenAI, cfg.Provider)
		assert.Equal(t, "http://custom:8080", cfg.Host)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.GenerationModel)
	})

	t.Run("with key and temperature", func(t *testing.T) {
		cfg := NewConfig(WithAPIKey("secret"), WithTemperature(0.7))

		assert.Equal(t, "secret", cfg.APIKey)
		assert.InDelta(t, 0.7, cfg.Temperature, 1e-9)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name         string
		provider     string
		host         string
		wantProvider string
		wantHost     string
	}{
		{
			name:         "openai already has /v1",
			provider:     "openai",
			host:         "http://localhost:11434/v1",
			wantProvider: "openai",
			wantHost:     "http://localhost:11434/v1",
		},
		{
			name:         "openai missing /v1",
			provider:     "openai",
			host:         "http://localhost:11434",
			wantProvider: "openai",
			wantHost:     "http://localhost:11434/v1",
		},
		{
			name:         "openai trailing slash",
			provider:     "OpenAI",
			host:         "http://localhost:11434/",
			wantProvider: "openai",
			wantHost:     "http://localhost:11434/v1",
		},
		{
			name:         "gemini host untouched",
			provider:     " Gemini ",
			host:         "http://localhost:11434",
			wantProvider: "gemini",
			wantHost:     "http://localhost:11434",
		},
		{
			name:         "empty host",
			provider:     "openai",
			host:         "",
			wantProvider: "openai",
			wantHost:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Provider: tt.provider, Host: tt.host}

			cfg.Normalize()

			assert.Equal(t, tt.wantProvider, cfg.Provider)
			assert.Equal(t, tt.wantHost, cfg.Host)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return NewConfig(WithAPIKey("key"))
	}

	t.Run("valid gemini config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("valid openai config normalizes host", func(t *testing.T) {
		cfg := valid()
		cfg.Provider = ProviderOpenAI
		cfg.APIKey = ""
		cfg.Host = "http://localhost:11434"

		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.Host)
	})

	t.Run("gemini without key", func(t *testing.T) {
		cfg := valid()
		cfg.APIKey = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "APIKey")
	})

	t.Run("openai without host", func(t *testing.T) {
		cfg := valid()
		cfg.Provider = ProviderOpenAI
		cfg.Host = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Host")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := valid()
		cfg.Provider = "bard"

		err := cfg.Validate()
		assert.True(t, errors.Is(err, ErrUnknownProvider))
	})

	t.Run("missing embedding model", func(t *testing.T) {
		cfg := valid()
		cfg.EmbeddingModel = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "EmbeddingModel")
	})

	t.Run("missing generation model", func(t *testing.T) {
		cfg := valid()
		cfg.GenerationModel = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "GenerationModel")
	})

	t.Run("temperature out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Temperature = 2.5

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "Temperature")
	})
}
