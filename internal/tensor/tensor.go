package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

// Tensor is a dense row-major float32 tensor.
//
// Parameters, gradients and optimizer moments are all stored as Tensors,
// updated in place through Data.
type Tensor struct {
	shape Shape
	data  []float32
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape) *Tensor {
	return &Tensor{shape: shape.Clone(), data: make([]float32, shape.NumElements())}
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float32) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Normal creates a tensor drawn from N(0, std²) using rng.
func Normal(shape Shape, std float64, rng *rand.Rand) *Tensor {
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// FromSlice creates a tensor from a Go slice. The slice is copied.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	t := Zeros(shape)
	copy(t.data, data)
	return t, nil
}

// FromBytes decodes little-endian float32 data.
func FromBytes(data []byte, shape Shape) (*Tensor, error) {
	n := shape.NumElements()
	if len(data) != n*Float32.Size() {
		return nil, fmt.Errorf("shape %v requires %d bytes, but got %d", shape, n*Float32.Size(), len(data))
	}
	t := Zeros(shape)
	for i := range t.data {
		t.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return Float32
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// Data returns the underlying storage. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// Bytes encodes the tensor as little-endian float32.
func (t *Tensor) Bytes() []byte {
	out := make([]byte, len(t.data)*4)
	for i, v := range t.data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := Zeros(t.shape)
	copy(c.data, t.data)
	return c
}

// CopyFrom overwrites t with src. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Fill sets every element to value.
func (t *Tensor) Fill(value float32) {
	for i := range t.data {
		t.data[i] = value
	}
}

// Mean returns the arithmetic mean of all elements.
func (t *Tensor) Mean() float64 {
	if len(t.data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.data {
		sum += float64(v)
	}
	return sum / float64(len(t.data))
}

// Var returns the unbiased sample variance of all elements.
func (t *Tensor) Var() float64 {
	n := len(t.data)
	if n < 2 {
		return 0
	}
	mean := t.Mean()
	var sum float64
	for _, v := range t.data {
		d := float64(v) - mean
		sum += d * d
	}
	return sum / float64(n-1)
}

// SquaredNorm returns the sum of squared elements.
func (t *Tensor) SquaredNorm() float64 {
	var sum float64
	for _, v := range t.data {
		sum += float64(v) * float64(v)
	}
	return sum
}
