package serialization

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/squad/internal/tensor"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	w, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	require.NoError(t, err)
	entries := map[string]Entry{
		"b.weight": Float32Entry(w),
		"a.ids":    Int32Entry([]int32{7, -8, 9}, tensor.Shape{3}),
	}
	require.NoError(t, Write(path, entries, map[string]string{"format": "pt"}))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"a.ids", "b.weight"}, r.Names())
	assert.Equal(t, "pt", r.Metadata()["format"])

	got, err := r.Float32("b.weight")
	require.NoError(t, err)
	assert.True(t, got.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, w.Data(), got.Data())

	ids, shape, err := r.Int32("a.ids")
	require.NoError(t, err)
	assert.Equal(t, []int32{7, -8, 9}, ids)
	assert.True(t, shape.Equal(tensor.Shape{3}))

	_, err = r.Float32("a.ids")
	require.ErrorIs(t, err, ErrDTypeMismatch)

	_, err = r.Float32("missing")
	require.ErrorIs(t, err, ErrTensorNotFound)
}

func TestHeaderAlignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.safetensors")
	require.NoError(t, Write(path, map[string]Entry{
		"x": Float32Entry(tensor.Zeros(tensor.Shape{1})),
	}, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	headerSize := binary.LittleEndian.Uint64(data[:8])
	assert.Zero(t, headerSize%8)
}

func TestWriteRejectsSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err := Write(path, map[string]Entry{
		"x": {DType: F32, Shape: tensor.Shape{4}, Data: make([]byte, 8)},
	}, nil)
	require.Error(t, err)
}

func writeRawHeader(t *testing.T, header map[string]any, dataSize int) string {
	t.Helper()
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	buf := make([]byte, 8, 8+len(headerJSON)+dataSize)
	binary.LittleEndian.PutUint64(buf, uint64(len(headerJSON)))
	buf = append(buf, headerJSON...)
	buf = append(buf, make([]byte, dataSize)...)

	path := filepath.Join(t.TempDir(), "raw.safetensors")
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestOpenValidatesOffsets(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]any
		data   int
		want   error
	}{
		{
			name: "overlap",
			header: map[string]any{
				"a": TensorInfo{DType: F32, Shape: []int{2}, DataOffsets: [2]int64{0, 8}},
				"b": TensorInfo{DType: F32, Shape: []int{2}, DataOffsets: [2]int64{4, 12}},
			},
			data: 12,
			want: ErrOffsetOverlap,
		},
		{
			name: "out of bounds",
			header: map[string]any{
				"a": TensorInfo{DType: F32, Shape: []int{4}, DataOffsets: [2]int64{0, 16}},
			},
			data: 8,
			want: ErrOutOfBounds,
		},
		{
			name: "negative",
			header: map[string]any{
				"a": TensorInfo{DType: F32, Shape: []int{1}, DataOffsets: [2]int64{8, 4}},
			},
			data: 8,
			want: ErrNegativeOffset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writeRawHeader(t, tt.header, tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestReadRejectsInvalidShapes(t *testing.T) {
	tests := []struct {
		name string
		info TensorInfo
		data int
	}{
		{"negative I32", TensorInfo{DType: I32, Shape: []int{-1}, DataOffsets: [2]int64{0, 0}}, 0},
		{"zero dim", TensorInfo{DType: I32, Shape: []int{0, 4}, DataOffsets: [2]int64{0, 0}}, 0},
		{"negative pair F32", TensorInfo{DType: F32, Shape: []int{-1, -1}, DataOffsets: [2]int64{0, 4}}, 4},
		{"short data", TensorInfo{DType: I32, Shape: []int{2}, DataOffsets: [2]int64{0, 4}}, 4},
		{"overflowing I64", TensorInfo{DType: I64, Shape: []int{1 << 40, 1 << 40}, DataOffsets: [2]int64{0, 8}}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Open(writeRawHeader(t, map[string]any{"x": tt.info}, tt.data))
			require.NoError(t, err)
			defer r.Close()

			if tt.info.DType == F32 {
				_, err = r.Float32("x")
			} else {
				_, _, err = r.Int32("x")
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidShape), "got %v", err)
		})
	}
}
