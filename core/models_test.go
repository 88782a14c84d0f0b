package core

import (
	"testing"
	"time"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		name       string
		sourceFile string
		chunkIndex int
		position   int
		want       string
	}{
		{
			name:       "named source file",
			sourceFile: "hdfc_flexi_cap.json",
			chunkIndex: 3,
			position:   7,
			want:       "hdfc_flexi_cap.json_3_7",
		},
		{
			name:       "missing source file",
			sourceFile: "",
			chunkIndex: 0,
			position:   2,
			want:       "doc_0_2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkID(tt.sourceFile, tt.chunkIndex, tt.position)
			if got != tt.want {
				t.Errorf("ChunkID() = %q, want %q", got, tt.want)
			}
			if again := ChunkID(tt.sourceFile, tt.chunkIndex, tt.position); again != got {
				t.Errorf("ChunkID() not deterministic: %q vs %q", got, again)
			}
		})
	}
}

func TestNormalizeSource(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/Fund/", "https://example.com/fund"},
		{"  https://example.com/fund  ", "https://example.com/fund"},
		{"https://example.com/fund//", "https://example.com/fund"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeSource(tt.in); got != tt.want {
			t.Errorf("NormalizeSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSourceKey(t *testing.T) {
	a := SourceKey("https://example.com/fund-c")
	b := SourceKey("HTTPS://example.com/fund-c/")
	if a != b {
		t.Errorf("SourceKey() differs for equivalent URLs: %d vs %d", a, b)
	}

	if SourceKey("https://example.com/fund-a") == a {
		t.Errorf("SourceKey() produced same key for different URLs")
	}
}

func TestMetadata_FlattenRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	m := Metadata{
		SourceURL:          "https://example.com/Fund",
		SourceFile:         "fund.json",
		FundName:           "Example Flexi Cap",
		ChunkIndex:         0,
		TotalChunks:        4,
		SemanticGroup:      "fund_overview",
		FileModTime:        1700000000.5,
		IngestionTimestamp: ts,
		Extra:              map[string]Scalar{"nav_date": StringScalar("2025-02-28"), "rank": IntScalar(2)},
	}

	got := MetadataFromFields(m.Flatten())

	if got.SourceURL != m.SourceURL || got.FundName != m.FundName || got.SemanticGroup != m.SemanticGroup {
		t.Errorf("string fields lost: %+v", got)
	}
	if got.TotalChunks != 4 || got.FileModTime != m.FileModTime {
		t.Errorf("numeric fields lost: %+v", got)
	}
	if !got.IngestionTimestamp.Equal(ts) {
		t.Errorf("IngestionTimestamp = %v, want %v", got.IngestionTimestamp, ts)
	}
	if got.Extra["nav_date"].Str != "2025-02-28" || got.Extra["rank"].Int != 2 {
		t.Errorf("Extra = %+v", got.Extra)
	}
}

func TestMetadata_FlattenAlwaysHasChunkIndex(t *testing.T) {
	fields := Metadata{}.Flatten()
	if len(fields) != 1 || fields[0].Key != KeyChunkIndex {
		t.Errorf("Flatten() of empty metadata = %+v", fields)
	}
}

func TestMetadataFromMap_DropsNested(t *testing.T) {
	m := MetadataFromMap(map[string]any{
		"fund_name":   "Fund A",
		"chunk_index": float64(2),
		"holdings":    []any{"x", "y"},
		"details":     map[string]any{"a": 1},
		"score":       0.75,
		"active":      true,
	})

	if m.FundName != "Fund A" || m.ChunkIndex != 2 {
		t.Errorf("typed fields = %+v", m)
	}
	if _, ok := m.Extra["holdings"]; ok {
		t.Errorf("nested slice kept in Extra")
	}
	if _, ok := m.Extra["details"]; ok {
		t.Errorf("nested map kept in Extra")
	}
	if m.Extra["score"].Kind != ScalarFloat || !m.Extra["active"].Bool {
		t.Errorf("Extra = %+v", m.Extra)
	}
}

func TestMetadata_LatestTouch(t *testing.T) {
	if (Metadata{}).LatestTouch() != nil {
		t.Errorf("LatestTouch() of empty metadata should be nil")
	}

	m := Metadata{FileModTime: 1700000000}
	got := m.LatestTouch()
	if got == nil || got.Unix() != 1700000000 {
		t.Errorf("LatestTouch() fallback = %v", got)
	}

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.IngestionTimestamp = ts
	if got := m.LatestTouch(); got == nil || !got.Equal(ts) {
		t.Errorf("LatestTouch() = %v, want %v", got, ts)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	inputs := []Scalar{
		StringScalar("2025-03-01T10:30:00Z"),
		StringScalar("2025-03-01T10:30:00"),
		StringScalar("2025-03-01T10:30:00.000000"),
		FloatScalar(float64(want.Unix())),
		StringScalar("1740825000"),
	}

	for _, in := range inputs {
		got := parseTimestamp(in)
		if !got.Equal(want) {
			t.Errorf("parseTimestamp(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestRunStatus_CloneIsDeep(t *testing.T) {
	now := time.Now()
	s := IdleStatus(now)
	s.URLsProcessed = append(s.URLsProcessed, URLOutcome{URL: "a", Status: URLSuccess})
	s.StartTime = &now

	c := s.Clone()
	c.URLsProcessed[0].Status = URLFailed
	*c.StartTime = now.Add(time.Hour)

	if s.URLsProcessed[0].Status != URLSuccess {
		t.Errorf("Clone shares URLsProcessed")
	}
	if !s.StartTime.Equal(now) {
		t.Errorf("Clone shares StartTime")
	}
}

func TestRunStatus_Counts(t *testing.T) {
	s := &RunStatus{URLsProcessed: []URLOutcome{
		{URL: "a", Status: URLSuccess},
		{URL: "b", Status: URLFailed},
		{URL: "c", Status: URLError},
		{URL: "d", Status: URLSuccess},
	}}

	ok, failed := s.Counts()
	if ok != 2 || failed != 2 {
		t.Errorf("Counts() = %d, %d; want 2, 2", ok, failed)
	}
}
