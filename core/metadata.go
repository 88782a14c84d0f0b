package core

import (
	"math"
	"slices"
	"strconv"
	"time"
)

// Metadata keys as they appear in flattened records.
const (
	KeySourceURL          = "source_url"
	KeySourceFile         = "source_file"
	KeySource             = "source"
	KeyIndex              = "index"
	KeyFundName           = "fund_name"
	KeyFundCategory       = "fund_category"
	KeyFundType           = "fund_type"
	KeyRiskLevel          = "risk_level"
	KeyLockInPeriod       = "lock_in_period"
	KeySourceSite         = "source_site"
	KeySourcePageRef      = "source_page_ref"
	KeyLastScraped        = "last_scraped"
	KeyFileModTime        = "file_mod_time"
	KeyChunkIndex         = "chunk_index"
	KeyTotalChunks        = "total_chunks"
	KeyChunkType          = "chunk_type"
	KeySemanticGroup      = "semantic_group"
	KeySubChunk           = "sub_chunk"
	KeyIngestionTimestamp = "ingestion_timestamp"
)

// ScalarKind identifies the type held by a Scalar.
type ScalarKind int

const (
	ScalarNull ScalarKind = iota
	ScalarString
	ScalarInt
	ScalarFloat
	ScalarBool
)

// Scalar is a single metadata value. Only simple scalars are allowed;
// nested structures are dropped before they reach a store.
type Scalar struct {
	Kind  ScalarKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func StringScalar(s string) Scalar { return Scalar{Kind: ScalarString, Str: s} }
func IntScalar(i int64) Scalar     { return Scalar{Kind: ScalarInt, Int: i} }
func FloatScalar(f float64) Scalar { return Scalar{Kind: ScalarFloat, Float: f} }
func BoolScalar(b bool) Scalar     { return Scalar{Kind: ScalarBool, Bool: b} }
func NullScalar() Scalar           { return Scalar{} }

// ScalarOf converts a decoded JSON value into a Scalar.
// ok is false for maps, slices and other non-scalar values.
func ScalarOf(v any) (Scalar, bool) {
	switch tv := v.(type) {
	case nil:
		return NullScalar(), true
	case string:
		return StringScalar(tv), true
	case bool:
		return BoolScalar(tv), true
	case int:
		return IntScalar(int64(tv)), true
	case int64:
		return IntScalar(tv), true
	case float32:
		return FloatScalar(float64(tv)), true
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1<<53 {
			return IntScalar(int64(tv)), true
		}
		return FloatScalar(tv), true
	default:
		return Scalar{}, false
	}
}

// Value returns the scalar as a plain Go value.
func (s Scalar) Value() any {
	switch s.Kind {
	case ScalarString:
		return s.Str
	case ScalarInt:
		return s.Int
	case ScalarFloat:
		return s.Float
	case ScalarBool:
		return s.Bool
	default:
		return nil
	}
}

// String renders the scalar for display and equality filters.
func (s Scalar) String() string {
	switch s.Kind {
	case ScalarString:
		return s.Str
	case ScalarInt:
		return strconv.FormatInt(s.Int, 10)
	case ScalarFloat:
		return strconv.FormatFloat(s.Float, 'f', -1, 64)
	case ScalarBool:
		return strconv.FormatBool(s.Bool)
	default:
		return ""
	}
}

// Field is one flattened metadata entry.
type Field struct {
	Key   string
	Value Scalar
}

// Metadata is the schema carried by every chunk. Known fields are typed;
// anything else a loader or chunker produces lands in Extra.
type Metadata struct {
	SourceURL     string
	SourceFile    string
	Source        string
	Index         int
	FundName      string
	FundCategory  string
	FundType      string
	RiskLevel     string
	LockInPeriod  string
	SourceSite    string
	SourcePageRef string
	LastScraped   string
	FileModTime   float64 // unix seconds, 0 when unknown

	ChunkIndex    int
	TotalChunks   int
	ChunkType     string
	SemanticGroup string
	SubChunk      int

	IngestionTimestamp time.Time

	Extra map[string]Scalar
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]Scalar, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// FileModTimeAt returns FileModTime as a time, or nil when unset.
func (m Metadata) FileModTimeAt() *time.Time {
	if m.FileModTime <= 0 {
		return nil
	}
	sec, frac := math.Modf(m.FileModTime)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}

// LatestTouch returns the ingestion timestamp, falling back to the file
// modification time. Nil when neither is known.
func (m Metadata) LatestTouch() *time.Time {
	if !m.IngestionTimestamp.IsZero() {
		t := m.IngestionTimestamp
		return &t
	}
	return m.FileModTimeAt()
}

// Flatten renders the metadata as an ordered list of scalar fields.
// Empty strings and zero counters are omitted, except chunk_index which is
// always present.
func (m Metadata) Flatten() []Field {
	var fields []Field
	addStr := func(k, v string) {
		if v != "" {
			fields = append(fields, Field{Key: k, Value: StringScalar(v)})
		}
	}
	addStr(KeySourceURL, m.SourceURL)
	addStr(KeySourceFile, m.SourceFile)
	addStr(KeySource, m.Source)
	if m.Index != 0 {
		fields = append(fields, Field{Key: KeyIndex, Value: IntScalar(int64(m.Index))})
	}
	addStr(KeyFundName, m.FundName)
	addStr(KeyFundCategory, m.FundCategory)
	addStr(KeyFundType, m.FundType)
	addStr(KeyRiskLevel, m.RiskLevel)
	addStr(KeyLockInPeriod, m.LockInPeriod)
	addStr(KeySourceSite, m.SourceSite)
	addStr(KeySourcePageRef, m.SourcePageRef)
	addStr(KeyLastScraped, m.LastScraped)
	if m.FileModTime != 0 {
		fields = append(fields, Field{Key: KeyFileModTime, Value: FloatScalar(m.FileModTime)})
	}
	fields = append(fields, Field{Key: KeyChunkIndex, Value: IntScalar(int64(m.ChunkIndex))})
	if m.TotalChunks != 0 {
		fields = append(fields, Field{Key: KeyTotalChunks, Value: IntScalar(int64(m.TotalChunks))})
	}
	addStr(KeyChunkType, m.ChunkType)
	addStr(KeySemanticGroup, m.SemanticGroup)
	if m.SubChunk != 0 {
		fields = append(fields, Field{Key: KeySubChunk, Value: IntScalar(int64(m.SubChunk))})
	}
	if !m.IngestionTimestamp.IsZero() {
		fields = append(fields, Field{Key: KeyIngestionTimestamp, Value: StringScalar(m.IngestionTimestamp.UTC().Format(time.RFC3339Nano))})
	}
	for _, k := range sortedKeys(m.Extra) {
		fields = append(fields, Field{Key: k, Value: m.Extra[k]})
	}
	return fields
}

// Map returns the flattened metadata keyed by field name.
func (m Metadata) Map() map[string]any {
	fields := m.Flatten()
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value.Value()
	}
	return out
}

// Get looks up a flattened field by key.
func (m Metadata) Get(key string) (Scalar, bool) {
	for _, f := range m.Flatten() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Scalar{}, false
}

// MetadataFromFields rebuilds Metadata from flattened fields. Unknown keys
// are preserved in Extra.
func MetadataFromFields(fields []Field) Metadata {
	var m Metadata
	for _, f := range fields {
		m.set(f.Key, f.Value)
	}
	return m
}

// MetadataFromMap rebuilds Metadata from a decoded key/value map. Values
// that are not scalars are dropped.
func MetadataFromMap(values map[string]any) Metadata {
	var m Metadata
	for _, k := range sortedKeys(values) {
		s, ok := ScalarOf(values[k])
		if !ok {
			continue
		}
		m.set(k, s)
	}
	return m
}

func (m *Metadata) set(key string, v Scalar) {
	switch key {
	case KeySourceURL:
		m.SourceURL = v.String()
	case KeySourceFile:
		m.SourceFile = v.String()
	case KeySource:
		m.Source = v.String()
	case KeyIndex:
		m.Index = int(asInt(v))
	case KeyFundName:
		m.FundName = v.String()
	case KeyFundCategory:
		m.FundCategory = v.String()
	case KeyFundType:
		m.FundType = v.String()
	case KeyRiskLevel:
		m.RiskLevel = v.String()
	case KeyLockInPeriod:
		m.LockInPeriod = v.String()
	case KeySourceSite:
		m.SourceSite = v.String()
	case KeySourcePageRef:
		m.SourcePageRef = v.String()
	case KeyLastScraped:
		m.LastScraped = v.String()
	case KeyFileModTime:
		m.FileModTime = asFloat(v)
	case KeyChunkIndex:
		m.ChunkIndex = int(asInt(v))
	case KeyTotalChunks:
		m.TotalChunks = int(asInt(v))
	case KeyChunkType:
		m.ChunkType = v.String()
	case KeySemanticGroup:
		m.SemanticGroup = v.String()
	case KeySubChunk:
		m.SubChunk = int(asInt(v))
	case KeyIngestionTimestamp:
		m.IngestionTimestamp = parseTimestamp(v)
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]Scalar)
		}
		m.Extra[key] = v
	}
}

func asInt(v Scalar) int64 {
	switch v.Kind {
	case ScalarInt:
		return v.Int
	case ScalarFloat:
		return int64(v.Float)
	case ScalarString:
		i, _ := strconv.ParseInt(v.Str, 10, 64)
		return i
	}
	return 0
}

func asFloat(v Scalar) float64 {
	switch v.Kind {
	case ScalarInt:
		return float64(v.Int)
	case ScalarFloat:
		return v.Float
	case ScalarString:
		f, _ := strconv.ParseFloat(v.Str, 64)
		return f
	}
	return 0
}

// parseTimestamp accepts RFC 3339 strings, naive ISO timestamps and
// epoch seconds.
func parseTimestamp(v Scalar) time.Time {
	switch v.Kind {
	case ScalarInt, ScalarFloat:
		f := asFloat(v)
		if f <= 0 {
			return time.Time{}
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case ScalarString:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC()
			}
		}
		if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
			return parseTimestamp(FloatScalar(f))
		}
	}
	return time.Time{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
