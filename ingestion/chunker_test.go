package ingestion

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kathan-shah07/fundrag/core"
)

func fundRecord(t *testing.T, extra map[string]any) string {
	t.Helper()
	rec := map[string]any{
		"fund_name": "Parag Parikh Flexi Cap Fund",
		"nav":       map[string]any{"value": "₹85.12", "as_of": "20 Nov 2025"},
		"aum":       "₹1,10,392 Cr",
		"cost_and_tax": map[string]any{
			"expense_ratio": "0.63%",
			"exit_load":     "2% if redeemed within 365 days",
		},
		"top_5_holdings": []any{
			map[string]any{"name": "HDFC Bank", "asset_pct": "7.9%"},
			map[string]any{"name": "Power Grid", "asset_pct": "6.1%"},
		},
		"source_url":   "https://groww.in/mutual-funds/parag-parikh",
		"last_scraped": "2025-11-20",
	}
	for k, v := range extra {
		rec[k] = v
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	return string(data)
}

func TestSemanticChunker_Groups(t *testing.T) {
	doc := core.Document{
		Text:     fundRecord(t, nil),
		Metadata: core.Metadata{SourceFile: "ppfas.json", FundName: "Parag Parikh Flexi Cap Fund"},
	}

	chunks, err := NewSemanticChunker(1000, 200).Chunk(context.Background(), []core.Document{doc})
	require.NoError(t, err)

	var groups []string
	for i, c := range chunks {
		groups = append(groups, c.Metadata.SemanticGroup)
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), c.Metadata.TotalChunks)
		assert.Equal(t, ChunkTypeSemantic, c.Metadata.ChunkType)
		assert.Equal(t, "ppfas.json", c.Metadata.SourceFile)
		assert.True(t, strings.HasPrefix(c.Text, "Fund: Parag Parikh Flexi Cap Fund\n"), c.Text)
	}
	assert.Equal(t, []string{"fund_overview", "costs_and_taxes", "holdings", "metadata"}, groups)

	assert.Contains(t, chunks[0].Text, "AUM (Assets Under Management): ₹1,10,392 Cr")
	assert.Contains(t, chunks[0].Text, "NAV:\n  As Of: 20 Nov 2025\n  Value: ₹85.12")
	assert.Contains(t, chunks[1].Text, "  Expense Ratio: 0.63%")
	assert.Contains(t, chunks[2].Text, "  HDFC Bank: 7.9%")
	assert.Contains(t, chunks[3].Text, "Source URL: https://groww.in/mutual-funds/parag-parikh")
}

func TestSemanticChunker_SplitsLargeGroup(t *testing.T) {
	page := strings.Repeat("The scheme invests across market capitalisations. ", 60)
	doc := core.Document{Text: fundRecord(t, map[string]any{"page_text": page})}

	chunks, err := NewSemanticChunker(300, 50).Chunk(context.Background(), []core.Document{doc})
	require.NoError(t, err)

	var pageChunks []core.Document
	for _, c := range chunks {
		if c.Metadata.SemanticGroup == "page_content" {
			pageChunks = append(pageChunks, c)
		}
	}
	require.Greater(t, len(pageChunks), 1)
	for i, c := range pageChunks {
		assert.Equal(t, i, c.Metadata.SubChunk)
		assert.LessOrEqual(t, len(c.Text), 300)
	}
	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
	}
}

func TestSemanticChunker_TextFallback(t *testing.T) {
	text := strings.Repeat("plain words without structure ", 100)
	doc := core.Document{Text: text, Metadata: core.Metadata{SourceFile: "notes"}}

	chunks, err := NewSemanticChunker(200, 20).Chunk(context.Background(), []core.Document{doc})
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, ChunkTypeText, c.Metadata.ChunkType)
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), c.Metadata.TotalChunks)
		assert.Empty(t, c.Metadata.SemanticGroup)
	}
}

func TestSemanticChunker_Deterministic(t *testing.T) {
	doc := core.Document{Text: fundRecord(t, map[string]any{
		"returns": map[string]any{"5y": "24%", "1y": "12%", "3y": "20%"},
	})}
	c := NewSemanticChunker(0, 0)

	first, err := c.Chunk(context.Background(), []core.Document{doc})
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), []core.Document{doc})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Min First Investment", label("min_first_investment"))
	assert.Equal(t, "AUM (Assets Under Management)", label("aum"))
	assert.Equal(t, "1y", label("1y"))
}
