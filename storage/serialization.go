// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"
	"time"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Record layouts
//
//	metadata: count, then per field: key, kind, value
//	vector:   text, dim, dim x float32
//
// Counts and kinds are varints, strings are length-prefixed, floats are raw
// little-endian.

// MarshalMetadata serializes chunk metadata to bytes.
func MarshalMetadata(m core.Metadata) []byte {
	fields := m.Flatten()
	size := varint.Int.Size(len(fields))
	for _, f := range fields {
		size += ord.String.Size(f.Key) + scalarSize(f.Value)
	}
	buf := make([]byte, size)
	n := varint.Int.Marshal(len(fields), buf)
	for _, f := range fields {
		n += ord.String.Marshal(f.Key, buf[n:])
		n += marshalScalar(f.Value, buf[n:])
	}
	return buf
}

// UnmarshalMetadata deserializes chunk metadata from bytes.
func UnmarshalMetadata(data []byte) (core.Metadata, error) {
	count, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return core.Metadata{}, fmt.Errorf("%w: field count: %w", ErrSerializationFailed, err)
	}
	if count < 0 || count > len(data) {
		return core.Metadata{}, fmt.Errorf("%w: field count %d", ErrTruncatedData, count)
	}
	fields := make([]core.Field, 0, count)
	for i := 0; i < count; i++ {
		key, kn, err := ord.String.Unmarshal(data[n:])
		if err != nil {
			return core.Metadata{}, fmt.Errorf("%w: field %d key: %w", ErrSerializationFailed, i, err)
		}
		n += kn
		value, vn, err := unmarshalScalar(data[n:])
		if err != nil {
			return core.Metadata{}, fmt.Errorf("%w: field %q: %w", ErrSerializationFailed, key, err)
		}
		n += vn
		fields = append(fields, core.Field{Key: key, Value: value})
	}
	return core.MetadataFromFields(fields), nil
}

// VectorRecord is the payload half of a stored chunk.
type VectorRecord struct {
	Text   string
	Vector []float32
}

// MarshalVectorRecord serializes chunk text and vector to bytes.
func MarshalVectorRecord(rec VectorRecord) []byte {
	size := ord.String.Size(rec.Text) + varint.Int.Size(len(rec.Vector))
	for _, v := range rec.Vector {
		size += raw.Float32.Size(v)
	}
	buf := make([]byte, size)
	n := ord.String.Marshal(rec.Text, buf)
	n += varint.Int.Marshal(len(rec.Vector), buf[n:])
	for _, v := range rec.Vector {
		n += raw.Float32.Marshal(v, buf[n:])
	}
	return buf
}

// UnmarshalVectorRecord deserializes chunk text and vector from bytes.
func UnmarshalVectorRecord(data []byte) (VectorRecord, error) {
	text, n, err := ord.String.Unmarshal(data)
	if err != nil {
		return VectorRecord{}, fmt.Errorf("%w: text: %w", ErrSerializationFailed, err)
	}
	dim, dn, err := varint.Int.Unmarshal(data[n:])
	if err != nil {
		return VectorRecord{}, fmt.Errorf("%w: dimension: %w", ErrSerializationFailed, err)
	}
	n += dn
	if dim < 0 || dim*4 > len(data)-n {
		return VectorRecord{}, fmt.Errorf("%w: dimension %d", ErrTruncatedData, dim)
	}
	var vec []float32
	if dim > 0 {
		vec = make([]float32, dim)
	}
	for i := range vec {
		v, vn, err := raw.Float32.Unmarshal(data[n:])
		if err != nil {
			return VectorRecord{}, fmt.Errorf("%w: component %d: %w", ErrSerializationFailed, i, err)
		}
		vec[i] = v
		n += vn
	}
	return VectorRecord{Text: text, Vector: vec}, nil
}

func scalarSize(s core.Scalar) int {
	size := varint.Int.Size(int(s.Kind))
	switch s.Kind {
	case core.ScalarString:
		size += ord.String.Size(s.Str)
	case core.ScalarInt:
		size += varint.Int64.Size(s.Int)
	case core.ScalarFloat:
		size += raw.Float64.Size(s.Float)
	case core.ScalarBool:
		size += ord.Bool.Size(s.Bool)
	}
	return size
}

func marshalScalar(s core.Scalar, bs []byte) int {
	n := varint.Int.Marshal(int(s.Kind), bs)
	switch s.Kind {
	case core.ScalarString:
		n += ord.String.Marshal(s.Str, bs[n:])
	case core.ScalarInt:
		n += varint.Int64.Marshal(s.Int, bs[n:])
	case core.ScalarFloat:
		n += raw.Float64.Marshal(s.Float, bs[n:])
	case core.ScalarBool:
		n += ord.Bool.Marshal(s.Bool, bs[n:])
	}
	return n
}

func unmarshalScalar(bs []byte) (core.Scalar, int, error) {
	kind, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return core.Scalar{}, n, err
	}
	var (
		s  = core.Scalar{Kind: core.ScalarKind(kind)}
		vn int
	)
	switch s.Kind {
	case core.ScalarNull:
	case core.ScalarString:
		s.Str, vn, err = ord.String.Unmarshal(bs[n:])
	case core.ScalarInt:
		s.Int, vn, err = varint.Int64.Unmarshal(bs[n:])
	case core.ScalarFloat:
		s.Float, vn, err = raw.Float64.Unmarshal(bs[n:])
	case core.ScalarBool:
		s.Bool, vn, err = ord.Bool.Unmarshal(bs[n:])
	default:
		return core.Scalar{}, n, fmt.Errorf("unknown scalar kind %d", kind)
	}
	return s, n + vn, err
}

// MarshalCheckpoint serializes a checkpoint: name, run id, state, then the
// two timestamps as unix nanoseconds.
func MarshalCheckpoint(c *Checkpoint) []byte {
	completed, updated := unixNano(c.CompletedAt), unixNano(c.UpdatedAt)
	size := ord.String.Size(c.Name) + ord.String.Size(c.RunID) + ord.String.Size(c.State) +
		varint.Int64.Size(completed) + varint.Int64.Size(updated)
	buf := make([]byte, size)
	n := ord.String.Marshal(c.Name, buf)
	n += ord.String.Marshal(c.RunID, buf[n:])
	n += ord.String.Marshal(c.State, buf[n:])
	n += varint.Int64.Marshal(completed, buf[n:])
	varint.Int64.Marshal(updated, buf[n:])
	return buf
}

// UnmarshalCheckpoint deserializes a checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var (
		c   Checkpoint
		n   int
		err error
	)
	strs := []*string{&c.Name, &c.RunID, &c.State}
	for _, dst := range strs {
		var sn int
		*dst, sn, err = ord.String.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, err)
		}
		n += sn
	}
	completed, cn, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint completed_at: %w", ErrSerializationFailed, err)
	}
	n += cn
	updated, _, err := varint.Int64.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint updated_at: %w", ErrSerializationFailed, err)
	}
	c.CompletedAt = fromUnixNano(completed)
	c.UpdatedAt = fromUnixNano(updated)
	return &c, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
