package storage

import (
	"testing"
	"time"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalMetadata(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	tests := []struct {
		name string
		meta core.Metadata
	}{
		{
			name: "empty metadata",
			meta: core.Metadata{},
		},
		{
			name: "fund chunk",
			meta: core.Metadata{
				SourceURL:          "https://groww.in/mutual-funds/Example-Fund",
				SourceFile:         "example_fund.json",
				FundName:           "Example Fund",
				FundCategory:       "Equity",
				RiskLevel:          "Very High",
				ChunkIndex:         2,
				TotalChunks:        6,
				SemanticGroup:      "costs_and_taxes",
				ChunkType:          "semantic",
				FileModTime:        1735689600.25,
				IngestionTimestamp: now,
			},
		},
		{
			name: "extra scalars",
			meta: core.Metadata{
				FundName: "Fund B",
				Extra: map[string]core.Scalar{
					"aum_crore": core.FloatScalar(1234.5),
					"rank":      core.IntScalar(-3),
					"direct":    core.BoolScalar(true),
					"note":      core.NullScalar(),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalMetadata(tt.meta)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalMetadata(data)
			require.NoError(t, err)
			assert.Equal(t, tt.meta.Flatten(), decoded.Flatten())
		})
	}
}

func TestUnmarshalMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"count without fields", MarshalMetadata(core.Metadata{FundName: "x"})[:1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalMetadata(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestMarshalUnmarshalVectorRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  VectorRecord
	}{
		{"text only", VectorRecord{Text: "Exit load: 1% within 1 year"}},
		{"with vector", VectorRecord{Text: "NAV: 52.3", Vector: []float32{0.1, -0.2, 0.3, 1}}},
		{"unicode text", VectorRecord{Text: "₹ 1,000 minimum SIP", Vector: []float32{0.5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalVectorRecord(tt.rec)
			decoded, err := UnmarshalVectorRecord(data)
			require.NoError(t, err)
			assert.Equal(t, tt.rec, decoded)
		})
	}
}

func TestUnmarshalVectorRecord_Truncated(t *testing.T) {
	data := MarshalVectorRecord(VectorRecord{Text: "t", Vector: []float32{1, 2, 3}})
	_, err := UnmarshalVectorRecord(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestFilterMatches(t *testing.T) {
	meta := core.Metadata{FundName: "Fund A", ChunkIndex: 3, SourceURL: "https://a"}

	assert.True(t, Filter(nil).Matches(meta))
	assert.True(t, Filter{"fund_name": "Fund A"}.Matches(meta))
	assert.True(t, Filter{"fund_name": "Fund A", "chunk_index": "3"}.Matches(meta))
	assert.False(t, Filter{"fund_name": "Fund B"}.Matches(meta))
	assert.False(t, Filter{"risk_level": "High"}.Matches(meta))
}

func TestMarshalUnmarshalCheckpoint(t *testing.T) {
	completed := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	cp := &Checkpoint{
		Name:        "pipeline",
		RunID:       "6f1c2e1a-0000-4000-8000-000000000001",
		State:       "completed",
		CompletedAt: completed,
		UpdatedAt:   completed.Add(time.Second),
	}

	got, err := UnmarshalCheckpoint(MarshalCheckpoint(cp))
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	t.Run("zero times stay zero", func(t *testing.T) {
		got, err := UnmarshalCheckpoint(MarshalCheckpoint(&Checkpoint{Name: "x"}))
		require.NoError(t, err)
		assert.True(t, got.CompletedAt.IsZero())
		assert.True(t, got.UpdatedAt.IsZero())
	})

	t.Run("truncated", func(t *testing.T) {
		data := MarshalCheckpoint(cp)
		_, err := UnmarshalCheckpoint(data[:5])
		assert.ErrorIs(t, err, ErrSerializationFailed)
	})
}
