package ingestion

import (
	"context"
	"sync"

	"github.com/kathan-shah07/fundrag/core"
)

// ScrapeResult describes one scraped page.
type ScrapeResult struct {
	URL  string
	Path string // file the structured record was written to
}

// Scraper fetches one URL and persists a structured record for it.
// A nil result with a nil error means the page yielded nothing usable.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
}

// Loader reads every persisted record as a document. It returns
// ErrNoDocuments when there is nothing to load.
type Loader interface {
	Load(ctx context.Context) ([]core.Document, error)
}

// Chunker splits documents into chunk-sized documents. Each output carries
// SourceFile and ChunkIndex so a stable chunk id can be derived.
type Chunker interface {
	Chunk(ctx context.Context, docs []core.Document) ([]core.Document, error)
}

// URLSource yields the configured source URLs.
type URLSource interface {
	URLs(ctx context.Context) ([]string, error)
}

// StaticURLs is a fixed URL list.
type StaticURLs []string

// URLs returns the list.
func (s StaticURLs) URLs(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// StatusSink receives run status changes. UpdateStatus applies fn to a
// private copy of the current status and publishes the result atomically.
type StatusSink interface {
	UpdateStatus(fn func(*core.RunStatus))
}

// MemoryStatus is a minimal StatusSink holding the latest status.
type MemoryStatus struct {
	mu     sync.Mutex
	status *core.RunStatus
}

// UpdateStatus applies fn to the held status.
func (m *MemoryStatus) UpdateStatus(fn func(*core.RunStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.status.Clone()
	if next == nil {
		next = &core.RunStatus{}
	}
	fn(next)
	m.status = next
}

// Status returns a copy of the held status.
func (m *MemoryStatus) Status() *core.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Clone()
}
