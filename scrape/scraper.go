package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/ingestion"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultInterval  = 2 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (compatible; fundrag/1.0)"

	maxBodyBytes = 8 << 20
)

// ErrOutputDirRequired is returned when no output directory is configured.
var ErrOutputDirRequired = errors.New("output directory is required")

// Source identifies where a record came from.
type Source struct {
	Site    string `json:"site"`
	PageRef string `json:"page_ref"`
}

// Record is the JSON document written for each scraped page.
type Record struct {
	FundName    string `json:"fund_name"`
	SourceURL   string `json:"source_url"`
	LastScraped string `json:"last_scraped"`
	Source      Source `json:"source"`
	PageText    string `json:"page_text,omitempty"`
}

// HTTPScraper fetches pages over HTTP and writes one JSON file per URL.
type HTTPScraper struct {
	outputDir string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

var _ ingestion.Scraper = (*HTTPScraper)(nil)

// Option configures an HTTPScraper.
type Option func(*HTTPScraper)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPScraper) {
		if c != nil {
			s.client = c
		}
	}
}

// WithInterval sets the minimum spacing between requests. Zero disables
// pacing.
func WithInterval(d time.Duration) Option {
	return func(s *HTTPScraper) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *HTTPScraper) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *HTTPScraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for last_scraped.
func WithClock(now func() time.Time) Option {
	return func(s *HTTPScraper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewHTTPScraper creates a scraper writing into outputDir, creating it if
// needed.
func NewHTTPScraper(outputDir string, opts ...Option) (*HTTPScraper, error) {
	if outputDir == "" {
		return nil, ErrOutputDirRequired
	}
	s := &HTTPScraper{
		outputDir: outputDir,
		client:    &http.Client{Timeout: DefaultTimeout},
		limiter:   rate.NewLimiter(rate.Every(DefaultInterval), 1),
		userAgent: DefaultUserAgent,
		logger:    slog.Default().With("component", "scraper"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return s, nil
}

// Scrape fetches rawURL and writes its record. A non-2xx response yields a
// nil result and no error.
func (s *HTTPScraper) Scrape(ctx context.Context, rawURL string) (*ingestion.ScrapeResult, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("unexpected status", "url", rawURL, "status", resp.StatusCode)
		return nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	page := extract(doc)
	rec := Record{
		FundName:    page.name(),
		SourceURL:   rawURL,
		LastScraped: s.now().Format(time.DateOnly),
		Source:      Source{Site: siteName(u.Host), PageRef: PageRef(u)},
		PageText:    page.text,
	}
	if rec.FundName == "" && rec.PageText == "" {
		s.logger.Warn("page has no content", "url", rawURL)
		return nil, nil
	}

	out, err := s.save(rec)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scraped", "url", rawURL, "fund", rec.FundName, "path", out)
	return &ingestion.ScrapeResult{URL: rawURL, Path: out}, nil
}

// save writes the record as a one-element JSON array under RecordFile,
// replacing any previous scrape of the same URL.
func (s *HTTPScraper) save(rec Record) (string, error) {
	data, err := json.MarshalIndent([]Record{rec}, "", "  ")
	if err != nil {
		return "", err
	}
	out := filepath.Join(s.outputDir, RecordFile(rec))
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return "", fmt.Errorf("writing record: %w", err)
	}
	return out, nil
}

// RecordFile names the file a record is saved under: its page ref plus the
// source key of its URL, so pages from different sites or paths that share
// a final segment do not overwrite each other.
func RecordFile(rec Record) string {
	name := rec.Source.PageRef
	if name == "" {
		name = "page"
	}
	return fmt.Sprintf("%s-%016x.json", name, uint64(core.SourceKey(rec.SourceURL)))
}

var unsafeName = regexp.MustCompile(`[^a-z0-9-]+`)

// PageRef derives a file-safe slug from the last path segment of u, or its
// host when the path is empty.
func PageRef(u *url.URL) string {
	ref := path.Base(strings.TrimRight(u.Path, "/"))
	if ref == "." || ref == "/" || ref == "" {
		ref = u.Host
	}
	ref = unsafeName.ReplaceAllString(strings.ToLower(ref), "-")
	return strings.Trim(ref, "-")
}

func siteName(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

type page struct {
	title string
	h1    string
	text  string
}

func (p page) name() string {
	if p.h1 != "" {
		return p.h1
	}
	// "Fund Name - Site" titles keep only the fund name.
	if i := strings.Index(p.title, " - "); i > 0 {
		return strings.TrimSpace(p.title[:i])
	}
	return p.title
}

// extract collects the title, the first h1 and the visible body text.
func extract(doc *html.Node) page {
	var (
		p     page
		lines []string
		walk  func(n *html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Svg, atom.Template, atom.Head:
				if n.DataAtom == atom.Head {
					if t := findFirst(n, atom.Title); t != nil {
						p.title = collapse(textOf(t))
					}
				}
				return
			case atom.H1:
				if p.h1 == "" {
					p.h1 = collapse(textOf(n))
				}
			}
		}
		if n.Type == html.TextNode {
			if line := collapse(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	p.text = strings.Join(lines, "\n")
	return p
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
