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


// Package fundrag wires the chunk store, embedding batcher, catalog,
// ingestion pipeline, scheduler and retrieval engine into one Service
// built from a config.Config.
package fundrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/ai/gemini"
	"github.com/kathan-shah07/fundrag/ai/openai"
	"github.com/kathan-shah07/fundrag/catalog"
	"github.com/kathan-shah07/fundrag/config"
	"github.com/kathan-shah07/fundrag/embedding"
	"github.com/kathan-shah07/fundrag/ingestion"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/retrieval"
	"github.com/kathan-shah07/fundrag/scheduler"
	"github.com/kathan-shah07/fundrag/scrape"
	"github.com/kathan-shah07/fundrag/server"
	"github.com/kathan-shah07/fundrag/storage"
	"github.com/kathan-shah07/fundrag/storage/badger"
	"github.com/kathan-shah07/fundrag/storage/chroma"
)

// ErrConfigRequired is returned by Open when cfg is nil.
var ErrConfigRequired = errors.New("config is required")

// Service owns every long-lived component and closes them in order.
type Service struct {
	cfg       *config.Config
	provider  ai.Provider
	batcher   *embedding.Batcher
	store     storage.ChunkStore
	catalog   *catalog.Catalog
	pipeline  *ingestion.Pipeline
	scheduler *scheduler.Scheduler
	engine    *retrieval.Engine
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	logger    *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	provider   ai.Provider
	store      storage.ChunkStore
	httpClient *http.Client
	registry   *prometheus.Registry
	logger     *slog.Logger
}

// WithProvider uses p instead of building one from cfg.AI. The Service
// takes ownership and closes it.
func WithProvider(p ai.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore uses store instead of opening cfg.Store. The Service takes
// ownership and closes it.
func WithStore(store storage.ChunkStore) Option {
	return func(o *options) { o.store = store }
}

// WithHTTPClient sets the client the scraper fetches pages with.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger sets the base logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open validates cfg and builds the service. Nothing runs in the
// background until the caller starts the scheduler.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	svc := &Service{cfg: cfg, logger: o.logger.With("component", "fundrag")}
	if err := svc.build(ctx, o); err != nil {
		if closeErr := svc.Close(); closeErr != nil {
			svc.logger.Error("error closing partially built service", "err", closeErr)
		}
		return nil, err
	}
	return svc, nil
}

func (s *Service) build(ctx context.Context, o *options) error {
	cfg := s.cfg
	log := o.logger

	if cfg.Metrics.Enabled {
		s.registry = o.registry
		if s.registry == nil {
			s.registry = prometheus.NewRegistry()
			s.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		s.metrics = metrics.New(s.registry)
	}

	s.provider = o.provider
	if s.provider == nil {
		p, err := newProvider(ctx, cfg.AIConfig())
		if err != nil {
			return fmt.Errorf("creating AI provider: %w", err)
		}
		s.provider = p
	}

	batcher, err := embedding.NewBatcher(s.provider.Embedder(),
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithDelay(cfg.Embedding.Delay),
		embedding.WithMaxRetries(cfg.Embedding.MaxRetries),
		embedding.WithBaseWait(cfg.Embedding.BaseWait),
		embedding.WithLogger(log),
		embedding.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("creating embedding batcher: %w", err)
	}
	s.batcher = batcher

	s.store = o.store
	if s.store == nil {
		store, err := openStore(ctx, cfg, batcher, log)
		if err != nil {
			return err
		}
		s.store = store
	}

	cat, err := catalog.New(s.store, catalog.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	s.catalog = cat

	scrapeOpts := []scrape.Option{
		scrape.WithInterval(cfg.Scraper.Interval),
		scrape.WithUserAgent(cfg.Scraper.UserAgent),
		scrape.WithLogger(log),
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Scraper.Timeout}
	}
	scrapeOpts = append(scrapeOpts, scrape.WithHTTPClient(client))
	scraper, err := scrape.NewHTTPScraper(cfg.OutputDir(), scrapeOpts...)
	if err != nil {
		return fmt.Errorf("creating scraper: %w", err)
	}

	schedCfg := cfg.SchedulerConfig()
	urls := cfg.URLSource()
	board := scheduler.NewBoard()

	pipeline, err := ingestion.NewPipeline(
		s.store, cat, scraper,
		ingestion.NewJSONLoader(cfg.Ingestion.DataDir, log),
		ingestion.NewSemanticChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		urls,
		ingestion.WithScrapeConcurrency(cfg.Scraper.Concurrency),
		ingestion.WithStatusSink(board),
		ingestion.WithAutoIngest(cfg.Schedule.AutoIngestAfterScrape),
		ingestion.WithFreshnessInterval(schedCfg.Interval()),
		ingestion.WithLogger(log),
		ingestion.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	s.pipeline = pipeline

	schedOpts := []scheduler.Option{
		scheduler.WithBoard(board),
		scheduler.WithLogger(log),
		scheduler.WithMetrics(s.metrics),
	}
	if cs, ok := s.store.(storage.CheckpointStore); ok {
		schedOpts = append(schedOpts, scheduler.WithCheckpoints(cs))
	}
	sched, err := scheduler.New(pipeline, cat, urls, s.store, schedCfg, schedOpts...)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	s.scheduler = sched

	engine, err := retrieval.NewEngine(s.store, batcher, s.provider.Generator(),
		retrieval.WithTopK(cfg.Ingestion.TopK),
		retrieval.WithLogger(log),
		retrieval.WithMetrics(s.metrics),
	)
	if err != nil {
		return fmt.Errorf("creating retrieval engine: %w", err)
	}
	s.engine = engine
	return nil
}

func newProvider(ctx context.Context, cfg *ai.Config) (ai.Provider, error) {
	switch cfg.Provider {
	case ai.ProviderGemini:
		return gemini.NewProvider(ctx, cfg)
	case ai.ProviderOpenAI:
		return openai.NewProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ai.ErrUnknownProvider, cfg.Provider)
	}
}

func openStore(ctx context.Context, cfg *config.Config, embedder storage.Embedder, log *slog.Logger) (storage.ChunkStore, error) {
	switch cfg.Store.Backend {
	case config.BackendChroma:
		return chroma.Open(ctx,
			chroma.WithBaseURL(cfg.Store.ChromaURL),
			chroma.WithCollectionName(cfg.Store.CollectionName),
			chroma.WithEmbedder(embedder),
			chroma.WithLogger(log.With("component", "chroma-store")),
		)
	default:
		return badger.Open(cfg.Store.Path,
			badger.WithEmbedder(embedder),
			badger.WithCollectionName(cfg.Store.CollectionName),
			badger.WithLogger(log.With("component", "badger-store")),
		)
	}
}

// NewServer builds the HTTP API over the service's components.
func (s *Service) NewServer() (*server.Server, error) {
	opts := []server.Option{
		server.WithLogger(s.logger),
		server.WithQueryRateLimit(s.cfg.Server.AskRate, s.cfg.Server.AskBurst),
		server.WithTimeouts(s.cfg.Server.ReadTimeout, s.cfg.Server.WriteTimeout, s.cfg.Server.ShutdownTimeout),
	}
	if s.registry != nil {
		opts = append(opts, server.WithMetrics(s.metrics, s.registry))
	}
	return server.New(s.engine, s.scheduler, s.store, opts...)
}

// Answer answers a question with the retrieval engine.
func (s *Service) Answer(ctx context.Context, question string, opts retrieval.AnswerOptions) (*retrieval.Answer, error) {
	return s.engine.Answer(ctx, question, opts)
}

func (s *Service) Config() *config.Config          { return s.cfg }
func (s *Service) Store() storage.ChunkStore       { return s.store }
func (s *Service) Batcher() *embedding.Batcher     { return s.batcher }
func (s *Service) Catalog() *catalog.Catalog       { return s.catalog }
func (s *Service) Pipeline() *ingestion.Pipeline   { return s.pipeline }
func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }
func (s *Service) Engine() *retrieval.Engine       { return s.engine }
func (s *Service) Metrics() *metrics.Metrics       { return s.metrics }
func (s *Service) Registry() *prometheus.Registry  { return s.registry }

// Close stops the scheduler and releases the pipeline, provider and store.
// It is safe on a partially built service.
func (s *Service) Close() error {
	if s.scheduler != nil {
		s.scheduler.Close()
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}

	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing chunk store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
