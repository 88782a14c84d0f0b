package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kathan-shah07/fundrag/core"
)

// JSONLoader turns the scraper's JSON records into documents. Each file may
// hold a single record or an array of them; every record becomes one
// document whose text is the record as indented JSON.
type JSONLoader struct {
	dir    string
	logger *slog.Logger
}

var _ Loader = (*JSONLoader)(nil)

// NewJSONLoader creates a loader over dir.
func NewJSONLoader(dir string, logger *slog.Logger) *JSONLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLoader{dir: dir, logger: logger.With("component", "json-loader")}
}

// Load walks the directory recursively. Unreadable or malformed files are
// logged and skipped. ErrNoDocuments is returned when the directory is
// missing or yields nothing.
func (l *JSONLoader) Load(ctx context.Context) ([]core.Document, error) {
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: directory %s does not exist", ErrNoDocuments, l.dir)
	}

	var paths []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.dir, err)
	}
	sort.Strings(paths)

	var docs []core.Document
	for _, path := range paths {
		loaded, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping file", "path", path, "err", err)
			continue
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no JSON records under %s", ErrNoDocuments, l.dir)
	}
	l.logger.Info("loaded documents", "files", len(paths), "documents", len(docs))
	return docs, nil
}

func (l *JSONLoader) loadFile(path string) ([]core.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	var records []any
	switch v := raw.(type) {
	case []any:
		records = v
	default:
		records = []any{v}
	}

	modTime := float64(info.ModTime().UnixNano()) / 1e9
	docs := make([]core.Document, 0, len(records))
	for i, rec := range records {
		text, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, err
		}
		meta := core.Metadata{
			Source:      path,
			SourceFile:  filepath.Base(path),
			Index:       i,
			FileModTime: modTime,
		}
		if obj, ok := rec.(map[string]any); ok {
			recordMetadata(obj, &meta)
		}
		docs = append(docs, core.Document{Text: string(text), Metadata: meta})
	}
	return docs, nil
}

func recordMetadata(rec map[string]any, meta *core.Metadata) {
	meta.FundName = stringField(rec, "fund_name")
	meta.SourceURL = stringField(rec, "source_url")
	meta.LastScraped = stringField(rec, "last_scraped")
	if summary, ok := rec["summary"].(map[string]any); ok {
		meta.FundCategory = stringField(summary, "fund_category")
		meta.FundType = stringField(summary, "fund_type")
		meta.RiskLevel = stringField(summary, "risk_level")
		meta.LockInPeriod = stringField(summary, "lock_in_period")
	}
	if source, ok := rec["source"].(map[string]any); ok {
		meta.SourceSite = stringField(source, "site")
		meta.SourcePageRef = stringField(source, "page_ref")
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		s, ok := core.ScalarOf(v)
		if !ok {
			return ""
		}
		return s.String()
	}
}
