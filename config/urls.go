package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kathan-shah07/fundrag/ingestion"
)

// URLEntry is one configured source page. It decodes from either a mapping
// with a url key or a bare string.
type URLEntry struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name,omitempty"`
}

// UnmarshalYAML accepts "- https://..." as shorthand for "- url: https://...".
func (e *URLEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.URL = strings.TrimSpace(node.Value)
		return nil
	}
	type plain URLEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	p.URL = strings.TrimSpace(p.URL)
	*e = URLEntry(p)
	return nil
}

// SourceURLs returns the configured URLs in order, skipping blanks.
func (c *Config) SourceURLs() []string {
	return urlList(c.URLs)
}

func urlList(entries []URLEntry) []string {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

// LoadURLs reads only the urls section of the config file at path.
func LoadURLs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var doc struct {
		URLs []URLEntry `yaml:"urls"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return urlList(doc.URLs), nil
}

// URLSource returns the source the pipeline and scheduler read URLs from.
// With a config file the list is re-read on every call, so edits are seen
// without a restart; otherwise the loaded list is used as is.
func (c *Config) URLSource() ingestion.URLSource {
	if c.Path == "" {
		return ingestion.StaticURLs(c.SourceURLs())
	}
	return &FileURLs{Path: c.Path}
}

// FileURLs reads the urls section of a config file on each call.
type FileURLs struct {
	Path string
}

// URLs implements ingestion.URLSource.
func (f *FileURLs) URLs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadURLs(f.Path)
}

var _ ingestion.URLSource = (*FileURLs)(nil)
