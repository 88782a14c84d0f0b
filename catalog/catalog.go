// Package catalog answers two questions about a chunk store: which source
// URLs it already holds, and whether its contents are due for a refresh.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/storage"
)

// ErrScannerRequired is returned when no metadata scanner is provided.
var ErrScannerRequired = errors.New("metadata scanner is required")

// Catalog derives novelty and freshness from chunk metadata.
type Catalog struct {
	scanner storage.MetadataScanner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog) error

// WithLogger sets a custom logger. If nil, uses the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used by Freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

// New creates a Catalog over scanner. When scanner also implements
// storage.SourceIndexer its index is used for source identities.
func New(scanner storage.MetadataScanner, opts ...Option) (*Catalog, error) {
	if scanner == nil {
		return nil, ErrScannerRequired
	}
	c := &Catalog{
		scanner: scanner,
		logger:  slog.Default().With("component", "catalog"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ExistingSourceIdentities returns the normalized source URLs present in
// the store.
func (c *Catalog) ExistingSourceIdentities(ctx context.Context) (map[string]struct{}, error) {
	if indexer, ok := c.scanner.(storage.SourceIndexer); ok {
		return indexer.SourceIdentities(ctx)
	}
	ids := make(map[string]struct{})
	err := c.scanner.Scan(ctx, func(_ string, meta core.Metadata) error {
		if src := core.NormalizeSource(meta.SourceURL); src != "" {
			ids[src] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindNew returns the candidates whose normalized form is not yet in the
// store, as given and in input order. Duplicates among the candidates are
// reported once. If the store cannot be read every candidate is new.
func (c *Catalog) FindNew(ctx context.Context, urls []string) []string {
	existing, err := c.ExistingSourceIdentities(ctx)
	if err != nil {
		c.logger.Warn("could not read source identities, treating all URLs as new",
			"urls", len(urls),
			"err", err)
		existing = map[string]struct{}{}
	}

	seen := make(map[string]struct{}, len(urls))
	var fresh []string
	for _, u := range urls {
		key := core.NormalizeSource(u)
		if key == "" {
			continue
		}
		if _, ok := existing[key]; ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, u)
	}
	if len(fresh) > 0 {
		c.logger.Info("new source URLs detected", "count", len(fresh))
	}
	return fresh
}

// Latest returns the newest ingestion timestamp (file_mod_time when a chunk
// has none) across the store, or nil when the store is empty.
func (c *Catalog) Latest(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	err := c.scanner.Scan(ctx, func(_ string, meta core.Metadata) error {
		if ts := meta.LatestTouch(); ts != nil {
			if latest == nil || ts.After(*latest) {
				latest = ts
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// Freshness reports whether the store is due for re-ingestion given
// interval. An empty or unreadable store always needs an update.
func (c *Catalog) Freshness(ctx context.Context, interval time.Duration) core.FreshnessWindow {
	window := core.FreshnessWindow{Interval: interval, NeedsUpdate: true}

	latest, err := c.Latest(ctx)
	if err != nil {
		c.logger.Warn("could not read ingestion timestamps, assuming update needed", "err", err)
		return window
	}
	if latest == nil {
		return window
	}

	window.Latest = latest
	next := latest.Add(interval)
	if c.now().Before(next) {
		window.NeedsUpdate = false
		window.NextUpdateAt = &next
	}
	return window
}

// HasData reports whether the store holds at least one chunk.
func (c *Catalog) HasData(ctx context.Context) (bool, error) {
	errFound := errors.New("found")
	err := c.scanner.Scan(ctx, func(string, core.Metadata) error {
		return errFound
	})
	if errors.Is(err, errFound) {
		return true, nil
	}
	return false, err
}
