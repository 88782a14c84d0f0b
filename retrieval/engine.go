package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kathan-shah07/fundrag/ai"
	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/storage"
)

const (
	// DefaultTopK is the number of chunks retrieved when the caller does not ask for more.
	DefaultTopK = 5

	// minCompareK is the floor for k when a question compares several items.
	minCompareK = 5

	previewRunes = 200

	modeParameter  = "parameter"
	modeSimilarity = "similarity"
)

// lastScrapedLayouts are tried in order when parsing last_scraped.
var lastScrapedLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"02-01-2006",
	"01/02/2006",
	time.RFC3339,
}

// QueryEmbedder embeds a single question. *embedding.Batcher satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerOptions tunes a single Answer call.
type AnswerOptions struct {
	// K is the number of chunks to retrieve. Zero means the engine default.
	K int
	// ReturnScores attaches similarity scores to sources.
	ReturnScores bool
}

// Source is one retrieved chunk as shown to callers.
type Source struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    *float64       `json:"similarity_score,omitempty"`
}

// Answer is the result of answering one question.
type Answer struct {
	Answer         string   `json:"answer"`
	Question       string   `json:"question"`
	RetrievedCount int      `json:"retrieved_documents"`
	CitationURL    string   `json:"citation_url"`
	CitationURLs   []string `json:"citation_urls"`
	LastUpdated    string   `json:"last_updated,omitempty"`
	Sources        []Source `json:"sources"`
	ParameterQuery bool     `json:"parameter_query"`
	Parameter      string   `json:"parameter,omitempty"`
}

// Engine answers questions from the chunk store. It holds no per-call state
// and is safe for concurrent use.
type Engine struct {
	store     storage.ChunkStore
	embedder  QueryEmbedder
	generator ai.Generator
	topK      int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine) error

// WithTopK sets the default number of chunks retrieved per question.
func WithTopK(k int) Option {
	return func(e *Engine) error {
		if k <= 0 {
			return ErrInvalidTopK
		}
		e.topK = k
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "retrieval")
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(store storage.ChunkStore, embedder QueryEmbedder, generator ai.Generator, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	e := &Engine{
		store:     store,
		embedder:  embedder,
		generator: generator,
		topK:      DefaultTopK,
		logger:    slog.Default().With("component", "retrieval"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// TopK returns the default retrieval depth.
func (e *Engine) TopK() int {
	return e.topK
}

// Answer retrieves context for question, asks the generator and returns the
// cleaned answer with its citations. Storage and generation errors are
// returned unchanged; generation errors are wrapped in
// *core.GenerationFailure.
func (e *Engine) Answer(ctx context.Context, question string, opts AnswerOptions) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	started := e.now()

	class := Classify(question)
	k := opts.K
	if k <= 0 {
		k = e.topK
	}

	var (
		hits []core.ScoredChunk
		err  error
	)
	mode := modeSimilarity
	if class.ParameterWide {
		mode = modeParameter
		hits, err = e.retrieveAll(ctx)
	} else {
		hits, err = e.retrieveSimilar(ctx, question, widenK(question, k), opts.ReturnScores)
	}
	if err != nil {
		return nil, err
	}
	e.logger.Debug("retrieved context",
		"mode", mode,
		"parameter", class.Parameter,
		"chunks", len(hits))

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Chunk.Text
	}
	storeURLs := sourceURLs(hits)

	prompt, err := buildPrompt(strings.Join(texts, "\n\n"), question, class.Parameter)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}
	raw, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		e.logger.Error("generation failed", "err", err)
		return nil, &core.GenerationFailure{Err: err}
	}

	citations := mergeURLs(storeURLs, ExtractURLs(raw))
	out := &Answer{
		Answer:         StripURLs(raw),
		Question:       question,
		RetrievedCount: len(hits),
		CitationURLs:   citations,
		LastUpdated:    lastUpdated(hits),
		Sources:        sources(hits, opts.ReturnScores && !class.ParameterWide),
		ParameterQuery: class.ParameterWide,
		Parameter:      class.Parameter,
	}
	if len(citations) > 0 {
		out.CitationURL = citations[0]
	}

	e.metrics.QueryAnswered(mode, len(hits), e.now().Sub(started))
	return out, nil
}

func (e *Engine) retrieveAll(ctx context.Context) ([]core.ScoredChunk, error) {
	chunks, err := e.store.GetAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]core.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Metadata.FundName == "" {
			continue
		}
		hits = append(hits, core.ScoredChunk{Chunk: c})
	}
	return hits, nil
}

func (e *Engine) retrieveSimilar(ctx context.Context, question string, k int, withScores bool) ([]core.ScoredChunk, error) {
	vector, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	if withScores {
		return e.store.SimilaritySearchWithScore(ctx, vector, k, nil)
	}
	chunks, err := e.store.SimilaritySearch(ctx, vector, k, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]core.ScoredChunk, len(chunks))
	for i, c := range chunks {
		hits[i] = core.ScoredChunk{Chunk: c}
	}
	return hits, nil
}

// widenK raises k for questions that compare several funds.
func widenK(question string, k int) int {
	q := strings.ToLower(question)
	if strings.Contains(q, "compare") || strings.Contains(q, "multiple") {
		return max(k, minCompareK)
	}
	return k
}

func sourceURLs(hits []core.ScoredChunk) []string {
	var urls []string
	for _, h := range hits {
		urls = append(urls, NormalizeURL(h.Chunk.Metadata.SourceURL))
	}
	return mergeURLs(nil, urls)
}

// mergeURLs appends the non-empty entries of extra to base, skipping
// duplicates and keeping first-seen order.
func mergeURLs(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, u := range list {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// lastUpdated returns the newest last_scraped or file modification date
// among hits, formatted as YYYY-MM-DD, or "" when none is known.
func lastUpdated(hits []core.ScoredChunk) string {
	var latest time.Time
	for _, h := range hits {
		meta := h.Chunk.Metadata
		if t, ok := parseLastScraped(meta.LastScraped); ok && t.After(latest) {
			latest = t
		}
		if t := meta.FileModTimeAt(); t != nil && t.After(latest) {
			latest = *t
		}
	}
	if latest.IsZero() {
		return ""
	}
	return latest.Format(time.DateOnly)
}

func parseLastScraped(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range lastScrapedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func sources(hits []core.ScoredChunk, withScores bool) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		meta := h.Chunk.Metadata.Map()
		if n := NormalizeURL(h.Chunk.Metadata.SourceURL); n != "" {
			meta[core.KeySourceURL] = n
		}
		out[i] = Source{
			Content:  preview(h.Chunk.Text),
			Metadata: meta,
		}
		if withScores {
			score := h.Score
			out[i].Score = &score
		}
	}
	return out
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}
