// Package gemini implements the ai interfaces on the Google Gemini API
// using google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kathan-shah07/fundrag/ai"
	"google.golang.org/genai"
)

// Provider implements ai.Provider for Gemini.
type Provider struct {
	client    *genai.Client
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

var _ ai.Provider = (*Provider)(nil)

// NewProvider creates a Gemini client from config.
func NewProvider(ctx context.Context, config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderGemini {
		return nil, fmt.Errorf("gemini provider: %w: %q", ai.ErrUnknownProvider, config.Provider)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	logger := slog.Default().With("component", "gemini-provider")
	return &Provider{
		client: client,
		embedder: &Embedder{
			models: client.Models,
			model:  config.EmbeddingModel,
			logger: slog.Default().With("component", "gemini-embedder"),
		},
		generator: &Generator{
			models:      client.Models,
			model:       config.GenerationModel,
			temperature: float32(config.Temperature),
			logger:      slog.Default().With("component", "gemini-generator"),
		},
		logger: logger,
	}, nil
}

// Embedder returns the embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the answer generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the genai client holds no resources that need release.
func (p *Provider) Close() error {
	p.logger.Debug("closing Gemini provider")
	return nil
}
