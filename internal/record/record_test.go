package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Accessors(t *testing.T) {
	var nilRecord Record
	assert.Equal(t, "", nilRecord.State())
	assert.Equal(t, "", nilRecord.Owner())
	assert.Equal(t, 0, nilRecord.Progress())
	assert.Nil(t, nilRecord.ErrorDetails())

	r := Record{
		FieldState:        "in_progress",
		FieldOwner:        "q:0:1",
		FieldProgress:     int64(73),
		FieldErrorDetails: map[string]any{"error": "x"},
	}
	assert.Equal(t, "in_progress", r.State())
	assert.Equal(t, "q:0:1", r.Owner())
	assert.Equal(t, 73, r.Progress())
	assert.Equal(t, "x", r.ErrorDetails()["error"])
}

func TestRecord_ProgressDynamicTypes(t *testing.T) {
	assert.Equal(t, 10, Record{FieldProgress: 10}.Progress())
	assert.Equal(t, 10, Record{FieldProgress: int64(10)}.Progress())
	assert.Equal(t, 10, Record{FieldProgress: float64(10)}.Progress())
	assert.Equal(t, 0, Record{FieldProgress: "10"}.Progress())
}

func TestRecord_Clone_IsIndependent(t *testing.T) {
	r := Record{"index": 0}
	clone := r.Clone()
	clone["index"] = 1
	assert.Equal(t, 0, r["index"])
	assert.Equal(t, 1, clone["index"])

	var nilRecord Record
	assert.Nil(t, nilRecord.Clone())
}

func TestMerge_NilValueDeletesKey(t *testing.T) {
	r := Record{"a": 1, "b": 2}
	out := merge(r, Record{"b": nil, "c": 3})
	assert.Equal(t, Record{"a": 1, "c": 3}, out)
	// original untouched
	assert.Equal(t, Record{"a": 1, "b": 2}, r)
}

func TestIsMapping(t *testing.T) {
	r, ok := IsMapping(Record{"a": 1})
	assert.True(t, ok)
	assert.Equal(t, Record{"a": 1}, r)

	m, ok := IsMapping(map[string]any{"a": 1})
	assert.True(t, ok)
	assert.Equal(t, Record{"a": 1}, m)

	_, ok = IsMapping("scalar")
	assert.False(t, ok)

	_, ok = IsMapping(42)
	assert.False(t, ok)

	_, ok = IsMapping(nil)
	assert.False(t, ok)
}
