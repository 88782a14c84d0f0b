package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kathan-shah07/fundrag/catalog"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/storage"
)

// DefaultFreshnessInterval is how old the newest chunk may get before a
// non-forced run re-ingests.
const DefaultFreshnessInterval = 24 * time.Hour

// Stage outcomes reported in RunResult.
const (
	StageCompleted = "completed"
	StageSkipped   = "skipped"
	StageError     = "error"
)

// Pipeline orchestrates scraping and ingestion of fund pages.
type Pipeline struct {
	store      storage.ChunkStore
	catalog    *catalog.Catalog
	scraper    Scraper
	loader     Loader
	chunker    Chunker
	urls       URLSource
	sink       StatusSink
	scrapePool *ants.Pool
	autoIngest bool
	interval   time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	runMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithScrapeConcurrency sets how many URLs are scraped at once.
// Default is 1, which keeps per-URL outcomes in input order.
func WithScrapeConcurrency(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.scrapePool != nil {
			p.scrapePool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.scrapePool = pool
		return nil
	}
}

// WithStatusSink publishes run status to sink.
func WithStatusSink(sink StatusSink) Option {
	return func(p *Pipeline) error {
		if sink != nil {
			p.sink = sink
		}
		return nil
	}
}

// WithAutoIngest controls whether a run ingests after scraping.
// Default is true.
func WithAutoIngest(enabled bool) Option {
	return func(p *Pipeline) error {
		p.autoIngest = enabled
		return nil
	}
}

// WithFreshnessInterval sets the staleness threshold for non-forced runs.
func WithFreshnessInterval(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("freshness interval must be positive, got %s", d)
		}
		p.interval = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics records run, scrape and upsert counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithClock overrides the time source for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now != nil {
			p.now = now
		}
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	store storage.ChunkStore,
	cat *catalog.Catalog,
	scraper Scraper,
	loader Loader,
	chunker Chunker,
	urls URLSource,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case store == nil:
		return nil, ErrStoreRequired
	case cat == nil:
		return nil, ErrCatalogRequired
	case scraper == nil:
		return nil, ErrScraperRequired
	case loader == nil:
		return nil, ErrLoaderRequired
	case chunker == nil:
		return nil, ErrChunkerRequired
	case urls == nil:
		return nil, ErrURLSourceRequired
	}

	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:      store,
		catalog:    cat,
		scraper:    scraper,
		loader:     loader,
		chunker:    chunker,
		urls:       urls,
		sink:       &MemoryStatus{},
		scrapePool: pool,
		autoIngest: true,
		interval:   DefaultFreshnessInterval,
		logger:     slog.Default().With("component", "pipeline"),
		now:        time.Now,
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release frees the scrape worker pool.
func (p *Pipeline) Release() {
	if p.scrapePool != nil {
		p.scrapePool.Release()
	}
}

// Interval returns the freshness interval used by non-forced runs.
func (p *Pipeline) Interval() time.Duration {
	return p.interval
}

// RunOptions controls a full pipeline run.
type RunOptions struct {
	// Force skips the freshness check.
	Force bool
	// CheckNewURLs restricts the run to URLs not yet in the store, when
	// there are any.
	CheckNewURLs bool
}

// ScrapeStage summarizes the scraping half of a run.
type ScrapeStage struct {
	Status     string
	Successful int
	Failed     int
	Results    []core.URLOutcome
	Scraped    []ScrapeResult
}

// IngestStage summarizes the ingestion half of a run.
type IngestStage struct {
	Status    string
	Reason    string
	Documents int
	Chunks    int
	Error     string
}

// RunResult is the structured outcome of a run.
type RunResult struct {
	RunID           uuid.UUID
	Skipped         bool
	Reason          string
	NewURLsDetected int
	Freshness       *core.FreshnessWindow
	Scraping        *ScrapeStage
	Ingestion       *IngestStage
}

// Run executes one pipeline run: novelty detection, the freshness check,
// scraping, then ingestion of what was scraped.
//
// An error is returned only when the run could not complete: the URL
// source failed or the ingestion stage aborted. Per-URL scrape failures are
// reported in the result.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	result := &RunResult{RunID: uuid.New()}
	started := p.now().UTC()
	p.sink.UpdateStatus(func(s *core.RunStatus) {
		s.RunID = result.RunID
		s.State = core.StateDetecting
		s.IsRunning = true
		s.CurrentOperation = "pipeline"
		s.Message = "Starting pipeline..."
		s.URLsTotal = 0
		s.URLsProcessed = []core.URLOutcome{}
		s.StartTime = &started
		s.EndTime = nil
		s.Error = ""
		s.LastUpdated = started
	})
	logger := p.logger.With("run_id", result.RunID)

	urls, err := p.urls.URLs(ctx)
	if err != nil {
		err = fmt.Errorf("loading source URLs: %w", err)
		p.finish(core.StateError, "Pipeline failed: could not load URLs", err)
		return result, err
	}

	var newURLs []string
	if opts.CheckNewURLs {
		newURLs = p.catalog.FindNew(ctx, urls)
		result.NewURLsDetected = len(newURLs)
		if len(newURLs) > 0 {
			logger.Info("new URLs detected, processing only those", "count", len(newURLs))
			p.update(func(s *core.RunStatus) {
				s.Message = fmt.Sprintf("New URLs detected: processing %d URL(s)", len(newURLs))
				s.URLsTotal = len(newURLs)
			})
		} else {
			p.update(func(s *core.RunStatus) { s.Message = "No new URLs detected" })
		}
	}

	if !opts.Force && len(newURLs) == 0 {
		window := p.catalog.Freshness(ctx, p.interval)
		result.Freshness = &window
		if !window.NeedsUpdate {
			logger.Info("skipping run, data is still fresh",
				"latest", window.Latest,
				"next_update_at", window.NextUpdateAt)
			result.Skipped = true
			result.Reason = "data is still fresh"
			p.finish(core.StateSkipped, "Skipped: data is still fresh", nil)
			return result, nil
		}
		if window.Latest != nil {
			p.update(func(s *core.RunStatus) {
				s.Message = fmt.Sprintf("Data needs update. Latest ingestion: %s", window.Latest.Format(time.RFC3339))
			})
		}
	}

	runURLs := urls
	if len(newURLs) > 0 {
		runURLs = newURLs
	}
	if len(runURLs) == 0 {
		result.Skipped = true
		result.Reason = "no URLs configured"
		p.finish(core.StateSkipped, "Skipped: no URLs configured", nil)
		return result, nil
	}

	result.Scraping = p.scrape(ctx, runURLs)
	if err := ctx.Err(); err != nil {
		p.finish(core.StateError, "Pipeline canceled", err)
		return result, err
	}

	if !p.autoIngest {
		result.Ingestion = &IngestStage{Status: StageSkipped, Reason: "auto-ingest disabled"}
		p.finish(core.StateCompleted, "Pipeline completed (auto-ingest disabled)", nil)
		return result, nil
	}
	if result.Scraping.Successful == 0 {
		logger.Info("skipping ingestion, no successful scrapes")
		result.Ingestion = &IngestStage{Status: StageSkipped, Reason: "no successful scrapes"}
		p.finish(core.StateCompleted, "Pipeline completed: no successful scrapes to ingest", nil)
		return result, nil
	}

	// A novelty-restricted run ingests only what it scraped; a full run
	// re-ingests everything so timestamps on untouched sources refresh too.
	var only map[string]struct{}
	if len(newURLs) > 0 {
		only = make(map[string]struct{}, len(result.Scraping.Scraped))
		for _, r := range result.Scraping.Scraped {
			only[core.NormalizeSource(r.URL)] = struct{}{}
		}
	}

	stage, err := p.ingest(ctx, only)
	result.Ingestion = stage
	if err != nil {
		logger.Error("ingestion failed", "err", err)
		p.finish(core.StateError, fmt.Sprintf("Ingestion failed: %v", err), err)
		return result, err
	}

	successful, failed := result.Scraping.Successful, result.Scraping.Failed
	p.finish(core.StateCompleted,
		fmt.Sprintf("Pipeline completed: %d scraped, %d failed, %d chunks ingested", successful, failed, stage.Chunks), nil)
	return result, nil
}

// Scrape runs only the scraping stage. With no urls, every configured URL
// is scraped.
func (p *Pipeline) Scrape(ctx context.Context, urls []string) (*ScrapeStage, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := p.now().UTC()
	p.sink.UpdateStatus(func(s *core.RunStatus) {
		s.RunID = uuid.New()
		s.IsRunning = true
		s.URLsProcessed = []core.URLOutcome{}
		s.StartTime = &started
		s.EndTime = nil
		s.Error = ""
		s.LastUpdated = started
	})

	if len(urls) == 0 {
		var err error
		urls, err = p.urls.URLs(ctx)
		if err != nil {
			err = fmt.Errorf("loading source URLs: %w", err)
			p.finish(core.StateError, "Scraping failed: could not load URLs", err)
			return nil, err
		}
	}
	stage := p.scrape(ctx, urls)
	p.finish(core.StateCompleted,
		fmt.Sprintf("Scraping completed: %d successful, %d failed", stage.Successful, stage.Failed), nil)
	return stage, ctx.Err()
}

// Ingest runs only the ingestion stage over every loadable document.
func (p *Pipeline) Ingest(ctx context.Context) (*IngestStage, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := p.now().UTC()
	p.sink.UpdateStatus(func(s *core.RunStatus) {
		s.RunID = uuid.New()
		s.IsRunning = true
		s.URLsTotal = 0
		s.URLsProcessed = []core.URLOutcome{}
		s.StartTime = &started
		s.EndTime = nil
		s.Error = ""
		s.LastUpdated = started
	})

	stage, err := p.ingest(ctx, nil)
	if err != nil {
		p.finish(core.StateError, fmt.Sprintf("Ingestion failed: %v", err), err)
		return stage, err
	}
	if stage.Status == StageSkipped {
		p.finish(core.StateSkipped, "Skipped: "+stage.Reason, nil)
		return stage, nil
	}
	p.finish(core.StateCompleted, fmt.Sprintf("Ingestion completed: %d chunks", stage.Chunks), nil)
	return stage, nil
}

func (p *Pipeline) scrape(ctx context.Context, urls []string) *ScrapeStage {
	total := len(urls)
	p.update(func(s *core.RunStatus) {
		s.State = core.StateScraping
		s.CurrentOperation = "scraping"
		s.URLsTotal = total
		s.Message = fmt.Sprintf("Scraping %d URL(s)...", total)
	})

	type slot struct {
		outcome core.URLOutcome
		res     *ScrapeResult
		done    bool
	}
	slots := make([]slot, total)
	var wg sync.WaitGroup
	// Progress is published as outcomes arrive; the stage result keeps
	// input order.
	record := func(i int, outcome core.URLOutcome, res *ScrapeResult) {
		slots[i] = slot{outcome: outcome, res: res, done: true}
		p.metrics.URLScraped(string(outcome.Status))
		p.update(func(s *core.RunStatus) {
			s.URLsProcessed = append(s.URLsProcessed, outcome)
		})
	}

	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			p.logger.Info("scraping", "n", i+1, "of", total, "url", u)
			p.update(func(s *core.RunStatus) {
				s.Message = fmt.Sprintf("Scraping URL %d/%d: %s", i+1, total, truncate(u, 50))
			})
			outcome, res := p.scrapeOne(ctx, u)
			record(i, outcome, res)
		}
		if err := p.scrapePool.Submit(task); err != nil {
			wg.Done()
			record(i, core.URLOutcome{URL: u, Status: core.URLError, Error: err.Error()}, nil)
		}
	}
	wg.Wait()

	stage := &ScrapeStage{Status: StageCompleted}
	for _, sl := range slots {
		if !sl.done {
			continue
		}
		stage.Results = append(stage.Results, sl.outcome)
		if sl.outcome.Status == core.URLSuccess {
			stage.Successful++
			stage.Scraped = append(stage.Scraped, *sl.res)
		} else {
			stage.Failed++
		}
	}

	p.logger.Info("scraping complete", "successful", stage.Successful, "failed", stage.Failed)
	return stage
}

func (p *Pipeline) scrapeOne(ctx context.Context, u string) (outcome core.URLOutcome, res *ScrapeResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &core.ScrapeFailure{URL: u, Err: fmt.Errorf("panic: %v", r)}
			p.logger.Error("scraper panicked", "url", u, "err", err)
			outcome, res = core.URLOutcome{URL: u, Status: core.URLError, Error: err.Error()}, nil
		}
	}()

	res, err := p.scraper.Scrape(ctx, u)
	switch {
	case err != nil:
		failure := &core.ScrapeFailure{URL: u, Err: err}
		p.logger.Warn("scrape error", "url", u, "err", err)
		return core.URLOutcome{URL: u, Status: core.URLError, Error: failure.Error()}, nil
	case res == nil:
		p.logger.Warn("scrape produced no record", "url", u)
		return core.URLOutcome{URL: u, Status: core.URLFailed}, nil
	}
	if res.URL == "" {
		res.URL = u
	}
	return core.URLOutcome{URL: u, Status: core.URLSuccess}, res
}

// ingest loads, chunks and upserts documents. When only is non-nil, just
// the documents whose normalized source URL is in it are ingested.
func (p *Pipeline) ingest(ctx context.Context, only map[string]struct{}) (*IngestStage, error) {
	p.update(func(s *core.RunStatus) {
		s.State = core.StateIngesting
		s.CurrentOperation = "ingestion"
		s.Message = "Starting ingestion..."
	})

	docs, err := p.loader.Load(ctx)
	if errors.Is(err, ErrNoDocuments) {
		p.logger.Warn("skipping ingestion, nothing to load", "err", err)
		return &IngestStage{Status: StageSkipped, Reason: err.Error()}, nil
	}
	if err != nil {
		return &IngestStage{Status: StageError, Error: err.Error()}, fmt.Errorf("loading documents: %w", err)
	}

	if only != nil {
		kept := docs[:0:0]
		for _, d := range docs {
			if _, ok := only[core.NormalizeSource(d.Metadata.SourceURL)]; ok {
				kept = append(kept, d)
			}
		}
		docs = kept
	}
	stage := &IngestStage{Status: StageCompleted, Documents: len(docs)}
	if len(docs) == 0 {
		stage.Status = StageSkipped
		stage.Reason = "no documents for scraped URLs"
		return stage, nil
	}

	p.update(func(s *core.RunStatus) {
		s.Message = fmt.Sprintf("Chunking %d document(s)...", len(docs))
	})
	pieces, err := p.chunker.Chunk(ctx, docs)
	if err != nil {
		stage.Status, stage.Error = StageError, err.Error()
		return stage, fmt.Errorf("chunking documents: %w", err)
	}

	chunks := ToChunks(pieces)
	stage.Chunks = len(chunks)
	p.update(func(s *core.RunStatus) {
		s.Message = fmt.Sprintf("Ingesting %d chunk(s) into vector store...", len(chunks))
	})

	if _, err := p.store.Upsert(ctx, chunks, true); err != nil {
		stage.Status, stage.Error = StageError, err.Error()
		return stage, err
	}
	p.metrics.ChunksWritten(len(chunks))
	p.logger.Info("ingestion complete", "documents", len(docs), "chunks", len(chunks))
	return stage, nil
}

// ToChunks assigns stable ids to chunked documents. The positional part of
// the id counts chunks within the same source file.
func ToChunks(pieces []core.Document) []core.Chunk {
	positions := make(map[string]int)
	chunks := make([]core.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if piece.Text == "" {
			continue
		}
		file := piece.Metadata.SourceFile
		pos := positions[file]
		positions[file] = pos + 1
		chunks = append(chunks, core.Chunk{
			ID:       core.ChunkID(file, piece.Metadata.ChunkIndex, pos),
			Text:     piece.Text,
			Metadata: piece.Metadata,
		})
	}
	return chunks
}

func (p *Pipeline) update(fn func(*core.RunStatus)) {
	now := p.now().UTC()
	p.sink.UpdateStatus(func(s *core.RunStatus) {
		fn(s)
		s.LastUpdated = now
	})
}

func (p *Pipeline) finish(state core.RunState, message string, err error) {
	p.metrics.PipelineRun(string(state))
	ended := p.now().UTC()
	p.sink.UpdateStatus(func(s *core.RunStatus) {
		s.State = state
		s.IsRunning = false
		s.CurrentOperation = ""
		s.Message = message
		s.EndTime = &ended
		s.LastUpdated = ended
		if err != nil {
			s.Error = err.Error()
		}
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
