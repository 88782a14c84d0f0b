package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/panjf2000/ants/v2"

	"github.com/kathan-shah07/fundrag/catalog"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/ingestion"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/storage"
)

// Interval types.
const (
	IntervalHourly = "hourly"
	IntervalDaily  = "daily"
)

// Defaults.
const (
	DefaultPollInterval = time.Second
	DefaultCooldown     = 300 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CheckpointName is the checkpoint under which finished runs are recorded.
const CheckpointName = "pipeline"

// Cycle decisions, also used as metric labels.
const (
	DecisionNewURLs = "new_urls"
	DecisionStale   = "stale"
	DecisionFresh   = "fresh"
	DecisionIdle    = "idle"
	DecisionError   = "error"
)

// Config controls the cadence of the background loop.
type Config struct {
	Enabled       bool
	IntervalType  string
	IntervalHours int
	IntervalDays  int

	// PollInterval is how often a sleeping loop checks whether it is due.
	PollInterval time.Duration
	// Cooldown is the pause after a failed cycle.
	Cooldown time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration

	// OutputDir is the scraper's output directory, checked on Start to
	// decide whether an initial run is needed.
	OutputDir string
	// WatchPath, when set, is a config file whose changes wake the loop
	// early to look for new URLs.
	WatchPath string
}

// DefaultConfig returns an enabled hourly schedule.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		IntervalType:  IntervalHourly,
		IntervalHours: 1,
		IntervalDays:  1,
		PollInterval:  DefaultPollInterval,
		Cooldown:      DefaultCooldown,
		StopTimeout:   DefaultStopTimeout,
	}
}

// Interval returns the configured cadence. Unknown types and non-positive
// counts fall back to one unit.
func (c Config) Interval() time.Duration {
	switch strings.ToLower(c.IntervalType) {
	case IntervalDaily:
		return time.Duration(max(c.IntervalDays, 1)) * 24 * time.Hour
	case IntervalHourly:
		return time.Duration(max(c.IntervalHours, 1)) * time.Hour
	default:
		return time.Hour
	}
}

// Validate rejects unknown interval types and negative counts.
func (c Config) Validate() error {
	switch strings.ToLower(c.IntervalType) {
	case IntervalHourly:
		if c.IntervalHours < 0 {
			return fmt.Errorf("%w: interval_hours %d", ErrInvalidInterval, c.IntervalHours)
		}
	case IntervalDaily:
		if c.IntervalDays < 0 {
			return fmt.Errorf("%w: interval_days %d", ErrInvalidInterval, c.IntervalDays)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidInterval, c.IntervalType)
	}
	return nil
}

// Runner executes pipeline runs. *ingestion.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, opts ingestion.RunOptions) (*ingestion.RunResult, error)
	Scrape(ctx context.Context, urls []string) (*ingestion.ScrapeStage, error)
	Ingest(ctx context.Context) (*ingestion.IngestStage, error)
}

var _ Runner = (*ingestion.Pipeline)(nil)

// TriggerOptions selects what an operator trigger runs.
type TriggerOptions struct {
	ScrapeOnly bool
	IngestOnly bool
	Run        ingestion.RunOptions
}

// Scheduler runs the ingestion pipeline on a cadence and owns the run
// status that operators poll.
type Scheduler struct {
	runner      Runner
	catalog     *catalog.Catalog
	urls        ingestion.URLSource
	store       storage.ChunkStore
	cfg         Config
	board       *Board
	checkpoints storage.CheckpointStore
	triggers    *ants.Pool
	wake        chan struct{}
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ ingestion.StatusSink = (*Scheduler)(nil)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithBoard shares a status board, typically the one the pipeline
// publishes to.
func WithBoard(b *Board) Option {
	return func(s *Scheduler) error {
		if b != nil {
			s.board = b
		}
		return nil
	}
}

// WithCheckpoints records finished runs and restores the last run time on
// start.
func WithCheckpoints(cs storage.CheckpointStore) Option {
	return func(s *Scheduler) error {
		s.checkpoints = cs
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics records cycle decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) error {
		s.metrics = m
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) error {
		if now != nil {
			s.now = now
		}
		return nil
	}
}

// New creates a scheduler. It does not start the loop.
func New(
	runner Runner,
	cat *catalog.Catalog,
	urls ingestion.URLSource,
	store storage.ChunkStore,
	cfg Config,
	opts ...Option,
) (*Scheduler, error) {
	switch {
	case runner == nil:
		return nil, ErrRunnerRequired
	case cat == nil:
		return nil, ErrCatalogRequired
	case urls == nil:
		return nil, ErrURLSourceRequired
	case store == nil:
		return nil, ErrStoreRequired
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	// Nonblocking: Submit fails with ErrPoolOverload while the worker is busy.
	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		runner:   runner,
		catalog:  cat,
		urls:     urls,
		store:    store,
		cfg:      cfg,
		board:    NewBoard(),
		triggers: pool,
		wake:     make(chan struct{}, 1),
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		if optErr := opt(s); optErr != nil {
			pool.Release()
			return nil, optErr
		}
	}
	return s, nil
}

// Board returns the status board the scheduler publishes to.
func (s *Scheduler) Board() *Board {
	return s.board
}

// UpdateStatus implements ingestion.StatusSink.
func (s *Scheduler) UpdateStatus(fn func(*core.RunStatus)) {
	s.board.UpdateStatus(fn)
}

// Status returns a snapshot of the current run status.
func (s *Scheduler) Status() *core.RunStatus {
	return s.board.Status()
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunInitial runs the pipeline once, synchronously on the caller's
// goroutine, when there is no data at all: an empty store and no scraped
// files. It reports whether a run happened.
func (s *Scheduler) RunInitial(ctx context.Context) (bool, error) {
	if s.hasData(ctx) {
		return false, nil
	}
	s.logger.Info("no existing data found, running initial scrape and ingestion")
	_, err := s.RunOnce(ctx, ingestion.RunOptions{Force: true})
	if err != nil {
		s.logger.Error("initial pipeline failed", "err", err)
	}
	return true, err
}

// Start restores the last run time, performs the initial run if the index
// is empty, then starts the background loop. A disabled schedule or an
// already running loop makes Start a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduling is disabled")
		return nil
	}
	if s.Running() {
		s.logger.Warn("scheduler already running")
		return nil
	}

	s.restoreLastRun(ctx)
	// A failed initial run is retried by the loop once it is due.
	_, _ = s.RunInitial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.baseCtx = loopCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	if s.cfg.WatchPath != "" {
		if err := s.watch(loopCtx, s.cfg.WatchPath); err != nil {
			s.logger.Warn("config watch unavailable", "path", s.cfg.WatchPath, "err", err)
		}
	}

	s.board.UpdateStatus(func(st *core.RunStatus) { st.SchedulerRunning = true })
	go s.loop(loopCtx, s.done)
	s.logger.Info("scheduler started", "interval", s.cfg.Interval())
	return nil
}

// Stop signals the loop to end and waits for it, up to the configured
// timeout. Calling Stop more than once, or before Start, does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.baseCtx = context.Background()
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("scheduler loop did not exit in time", "timeout", s.cfg.StopTimeout)
	}
	s.board.UpdateStatus(func(st *core.RunStatus) {
		st.SchedulerRunning = false
		st.NextRunAt = nil
	})
	s.logger.Info("scheduler stopped")
}

// Close stops the loop and releases the trigger worker.
func (s *Scheduler) Close() {
	s.Stop()
	s.triggers.Release()
}

// Trigger starts a run in the background on behalf of an operator. It
// returns ErrTriggerBusy while a previous trigger is still running.
func (s *Scheduler) Trigger(opts TriggerOptions) error {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	err := s.triggers.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("triggered run panicked", "panic", r)
			}
		}()
		var err error
		switch {
		case opts.ScrapeOnly:
			_, err = s.runner.Scrape(ctx, nil)
		case opts.IngestOnly:
			_, err = s.runner.Ingest(ctx)
		default:
			_, err = s.RunOnce(ctx, opts.Run)
		}
		if err != nil {
			s.logger.Error("triggered run failed", "err", err)
		}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		return ErrTriggerBusy
	}
	return err
}

// RunOnce runs the pipeline now, records the run time and, on success,
// saves a checkpoint.
func (s *Scheduler) RunOnce(ctx context.Context, opts ingestion.RunOptions) (*ingestion.RunResult, error) {
	started := s.now().UTC()
	s.board.UpdateStatus(func(st *core.RunStatus) { st.LastRunAt = &started })

	result, err := s.runner.Run(ctx, opts)
	if err != nil {
		return result, err
	}
	if result != nil && !result.Skipped {
		s.saveCheckpoint(ctx, result)
	}
	return result, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	var next *time.Time
	for ctx.Err() == nil {
		if next == nil {
			if !s.cfg.Enabled {
				s.logger.Info("scheduling disabled, loop exiting")
				return
			}
			t := s.now().Add(s.cfg.Interval())
			next = &t
		}
		due := *next
		s.board.UpdateStatus(func(st *core.RunStatus) { st.NextRunAt = &due })
		s.logger.Info("next run scheduled", "at", due)

		woken, ok := s.waitUntil(ctx, due)
		if !ok {
			return
		}

		decision, retarget, err := s.safeCycle(ctx, woken)
		s.metrics.SchedulerCycle(decision)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("scheduler cycle failed", "err", err, "cooldown", s.cfg.Cooldown)
			if !s.sleep(ctx, s.cfg.Cooldown) {
				return
			}
			next = nil
			continue
		}

		switch decision {
		case DecisionIdle:
			// Woken early with nothing new; keep waiting for the same slot.
		case DecisionFresh:
			next = retarget
		default:
			next = nil
		}
	}
}

// waitUntil sleeps in PollInterval ticks until due. woken is true when a
// config change cut the wait short; ok is false when the loop is stopping.
func (s *Scheduler) waitUntil(ctx context.Context, due time.Time) (woken, ok bool) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if !s.now().Before(due) {
			return false, true
		}
		select {
		case <-ctx.Done():
			return false, false
		case <-s.wake:
			return true, true
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) safeCycle(ctx context.Context, woken bool) (decision string, retarget *time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision, retarget, err = DecisionError, nil, fmt.Errorf("panic in scheduler cycle: %v", r)
		}
	}()
	decision, retarget, err = s.cycle(ctx, woken)
	if err != nil {
		decision = DecisionError
	}
	return decision, retarget, err
}

// cycle runs one scheduling decision: new URLs first, then staleness.
// When woken early, only new URLs are acted on.
func (s *Scheduler) cycle(ctx context.Context, woken bool) (string, *time.Time, error) {
	urls, err := s.urls.URLs(ctx)
	if err != nil {
		return DecisionError, nil, fmt.Errorf("loading source URLs: %w", err)
	}

	if newURLs := s.catalog.FindNew(ctx, urls); len(newURLs) > 0 {
		s.logger.Info("running pipeline for new URLs", "count", len(newURLs))
		_, err := s.RunOnce(ctx, ingestion.RunOptions{Force: true, CheckNewURLs: true})
		return DecisionNewURLs, nil, err
	}
	if woken {
		return DecisionIdle, nil, nil
	}

	window := s.catalog.Freshness(ctx, s.cfg.Interval())
	if window.NeedsUpdate {
		s.logger.Info("data is stale, running pipeline", "latest", window.Latest)
		_, err := s.RunOnce(ctx, ingestion.RunOptions{Force: true})
		return DecisionStale, nil, err
	}

	s.logger.Info("skipping scheduled run, data is still fresh",
		"latest", window.Latest,
		"next_update_at", window.NextUpdateAt)
	now := s.now().UTC()
	s.board.UpdateStatus(func(st *core.RunStatus) {
		st.State = core.StateSkipped
		st.IsRunning = false
		st.Message = "Skipped: data is still fresh"
		st.LastUpdated = now
		if window.NextUpdateAt != nil {
			t := *window.NextUpdateAt
			st.NextRunAt = &t
		}
	})
	return DecisionFresh, window.NextUpdateAt, nil
}

func (s *Scheduler) hasData(ctx context.Context) bool {
	info, err := s.store.CollectionInfo(ctx)
	if err != nil {
		s.logger.Warn("could not inspect chunk store", "err", err)
	} else if info.Count > 0 {
		s.logger.Info("found existing chunks", "count", info.Count)
		return true
	}

	if s.cfg.OutputDir == "" {
		return false
	}
	found := false
	err = filepath.WalkDir(s.cfg.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("could not inspect output directory", "dir", s.cfg.OutputDir, "err", err)
	}
	return found
}

func (s *Scheduler) restoreLastRun(ctx context.Context) {
	if s.checkpoints == nil {
		return
	}
	cp, err := s.checkpoints.LoadCheckpoint(ctx, CheckpointName)
	if err != nil {
		s.logger.Warn("could not load checkpoint", "err", err)
		return
	}
	if cp == nil || cp.CompletedAt.IsZero() {
		return
	}
	last := cp.CompletedAt
	s.board.UpdateStatus(func(st *core.RunStatus) {
		if st.LastRunAt == nil {
			st.LastRunAt = &last
		}
	})
}

func (s *Scheduler) saveCheckpoint(ctx context.Context, result *ingestion.RunResult) {
	if s.checkpoints == nil {
		return
	}
	cp := &storage.Checkpoint{
		Name:        CheckpointName,
		RunID:       result.RunID.String(),
		State:       string(core.StateCompleted),
		CompletedAt: s.now().UTC(),
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		s.logger.Warn("could not save checkpoint", "err", err)
	}
}

// watch wakes the loop when the file at path is written or replaced. The
// parent directory is watched so editors that save by rename are seen.
func (s *Scheduler) watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					s.logger.Info("config changed, checking for new URLs", "path", event.Name)
					s.Wake()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watcher error", "err", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Wake cuts the current wait short so the loop looks for new URLs.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
