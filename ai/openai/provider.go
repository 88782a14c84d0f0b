package openai

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider serves embeddings and answers from an OpenAI-compatible API
// such as Ollama, LocalAI or vLLM.
type Provider struct {
	host      string
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

var _ ai.Provider = (*Provider)(nil)

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	client *http.Client
}

// WithHTTPClient routes both the embedding and the chat client through c.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.client = c
	}
}

// NewProvider creates the embedder and generator for config. The config
// must select the openai provider.
func NewProvider(config *ai.Config, opts ...ProviderOption) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderOpenAI {
		return nil, fmt.Errorf("openai provider: %w: %q", ai.ErrUnknownProvider, config.Provider)
	}

	o := providerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	var extra []openai.Option
	if o.client != nil {
		extra = append(extra, openai.WithHTTPClient(o.client))
	}

	embedder, err := newEmbedder(config, extra...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder for %s: %w", config.Host, err)
	}
	generator, err := newGenerator(config, extra...)
	if err != nil {
		return nil, fmt.Errorf("creating generator for %s: %w", config.Host, err)
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("provider ready", "host", config.Host,
		"embedding_model", config.EmbeddingModel, "generation_model", config.GenerationModel)
	return &Provider{
		host:      config.Host,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the HTTP clients are owned by the caller or shared.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider", "host", p.host)
	return nil
}
