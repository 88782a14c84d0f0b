package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/kathan-shah07/fundrag/core"
)

// Chunker defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk types recorded in metadata.
const (
	ChunkTypeSemantic = "semantic"
	ChunkTypeText     = "text"
)

// semanticGroup gathers related top-level record fields into one chunk.
type semanticGroup struct {
	name   string
	fields []string
}

// semanticGroups is ordered; chunk indexes follow this order.
var semanticGroups = []semanticGroup{
	{"fund_overview", []string{"fund_name", "nav", "fund_size", "aum", "summary"}},
	{"investment_details", []string{"minimum_investments", "returns", "category_info"}},
	{"costs_and_taxes", []string{"cost_and_tax"}},
	{"holdings", []string{"top_5_holdings"}},
	{"performance_metrics", []string{"advanced_ratios"}},
	{"comparison_data", []string{"peer_comparison_sample"}},
	{"page_content", []string{"page_text"}},
	{"metadata", []string{"source", "source_url", "last_scraped"}},
}

var fieldLabels = map[string]string{
	"aum":                    "AUM (Assets Under Management)",
	"nav":                    "NAV",
	"top_5_holdings":         "Top 5 Holdings",
	"cost_and_tax":           "Costs and Taxes",
	"advanced_ratios":        "Performance Metrics",
	"peer_comparison_sample": "Peer Comparison Sample",
	"source_url":             "Source URL",
	"min_sip":                "SIP",
	"fund_category":          "Category",
	"fund_type":              "Type",
	"lock_in_period":         "Lock-in Period",
}

// SemanticChunker splits fund records along their JSON structure and
// everything else with a recursive character splitter.
type SemanticChunker struct {
	size     int
	splitter textsplitter.RecursiveCharacter
}

var _ Chunker = (*SemanticChunker)(nil)

// NewSemanticChunker creates a chunker. Non-positive arguments fall back to
// the defaults; an overlap not smaller than the size is reduced.
func NewSemanticChunker(size, overlap int) *SemanticChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &SemanticChunker{
		size: size,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
		),
	}
}

// Chunk splits every document. Chunk metadata carries the document's
// metadata plus chunk_index, total_chunks, chunk_type and, for records,
// semantic_group and sub_chunk.
func (c *SemanticChunker) Chunk(ctx context.Context, docs []core.Document) ([]core.Document, error) {
	var out []core.Document
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pieces := c.chunkRecord(doc); len(pieces) > 0 {
			out = append(out, pieces...)
			continue
		}
		pieces, err := c.chunkText(doc)
		if err != nil {
			return nil, fmt.Errorf("splitting %s: %w", doc.Metadata.SourceFile, err)
		}
		out = append(out, pieces...)
	}
	return out, nil
}

func (c *SemanticChunker) chunkText(doc core.Document) ([]core.Document, error) {
	parts, err := c.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, err
	}
	out := make([]core.Document, 0, len(parts))
	for i, part := range parts {
		meta := doc.Metadata.Clone()
		meta.ChunkIndex = i
		meta.TotalChunks = len(parts)
		meta.ChunkType = ChunkTypeText
		out = append(out, core.Document{Text: part, Metadata: meta})
	}
	return out, nil
}

// chunkRecord returns nil when the document is not a JSON object.
func (c *SemanticChunker) chunkRecord(doc core.Document) []core.Document {
	var record map[string]any
	if err := json.Unmarshal([]byte(doc.Text), &record); err != nil || record == nil {
		return nil
	}
	fundName, _ := record["fund_name"].(string)

	var out []core.Document
	emit := func(group, text string, sub int) {
		meta := doc.Metadata.Clone()
		meta.ChunkIndex = len(out)
		meta.ChunkType = ChunkTypeSemantic
		meta.SemanticGroup = group
		meta.SubChunk = sub
		out = append(out, core.Document{Text: text, Metadata: meta})
	}

	for _, group := range semanticGroups {
		text := formatGroup(group, record, fundName)
		if text == "" {
			continue
		}
		if len(text) <= c.size {
			emit(group.name, text, 0)
			continue
		}
		parts, err := c.splitter.SplitText(text)
		if err != nil || len(parts) == 0 {
			emit(group.name, text, 0)
			continue
		}
		for i, part := range parts {
			emit(group.name, part, i)
		}
	}

	for i := range out {
		out[i].Metadata.TotalChunks = len(out)
	}
	return out
}

// formatGroup renders the group's fields present in record as readable
// lines, prefixed with the fund name. Empty when no field is present.
func formatGroup(group semanticGroup, record map[string]any, fundName string) string {
	var lines []string
	for _, field := range group.fields {
		v, ok := record[field]
		if !ok || isEmpty(v) {
			continue
		}
		lines = appendValue(lines, label(field), v, "")
	}
	if len(lines) == 0 {
		return ""
	}
	if fundName != "" {
		lines = append([]string{"Fund: " + fundName}, lines...)
	}
	return strings.Join(lines, "\n")
}

func appendValue(lines []string, name string, v any, indent string) []string {
	switch tv := v.(type) {
	case map[string]any:
		lines = append(lines, indent+name+":")
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isEmpty(tv[k]) {
				continue
			}
			lines = appendValue(lines, label(k), tv[k], indent+"  ")
		}
	case []any:
		lines = append(lines, indent+name+":")
		for i, item := range tv {
			if obj, ok := item.(map[string]any); ok {
				lines = appendItem(lines, obj, i+1, indent+"  ")
				continue
			}
			lines = append(lines, indent+"  - "+scalarText(item))
		}
	default:
		lines = append(lines, indent+name+": "+scalarText(tv))
	}
	return lines
}

// appendItem renders one list entry headed by its name when it has one.
func appendItem(lines []string, item map[string]any, n int, indent string) []string {
	name, _ := item["name"].(string)
	if name == "" {
		name = fmt.Sprintf("Item %d", n)
	}
	if pct, ok := item["asset_pct"]; ok && len(item) <= 2 {
		return append(lines, indent+name+": "+scalarText(pct))
	}
	lines = append(lines, indent+name)
	keys := make([]string, 0, len(item))
	for k := range item {
		if k != "name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isEmpty(item[k]) {
			continue
		}
		lines = appendValue(lines, label(k), item[k], indent+"  ")
	}
	return lines
}

func scalarText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := core.ScalarOf(v); ok {
		return s.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func isEmpty(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(tv) == ""
	case map[string]any:
		return len(tv) == 0
	case []any:
		return len(tv) == 0
	}
	return false
}

// label turns a snake_case key into a title: "min_first_investment"
// becomes "Min First Investment".
func label(key string) string {
	if l, ok := fieldLabels[key]; ok {
		return l
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
