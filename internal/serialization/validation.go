package serialization

import (
	"fmt"
	"sort"

	"github.com/born-ml/squad/internal/tensor"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

type span struct {
	name       string
	start, end int64
}

// validateOffsets checks for negative, overlapping and out-of-bounds
// tensor ranges. dataSize < 0 skips the bounds check.
func validateOffsets(tensors map[string]TensorInfo, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Kind:    ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	spans := make([]span, 0, len(tensors))
	for name, info := range tensors {
		if name == "" || len(name) > MaxTensorNameLen {
			return &ValidationError{Kind: ErrInvalidTensorName, Tensor: name, Details: "empty or too long"}
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start {
			return &ValidationError{
				Kind:    ErrNegativeOffset,
				Tensor:  name,
				Details: fmt.Sprintf("offsets [%d, %d]", start, end),
			}
		}
		if dataSize >= 0 && end > dataSize {
			return &ValidationError{
				Kind:    ErrOutOfBounds,
				Tensor:  name,
				Details: fmt.Sprintf("end %d beyond data size %d", end, dataSize),
			}
		}
		spans = append(spans, span{name: name, start: start, end: end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return &ValidationError{
				Kind:    ErrOffsetOverlap,
				Tensor:  spans[i-1].name,
				Tensor2: spans[i].name,
				Details: fmt.Sprintf("[%d, %d) overlaps [%d, %d)", spans[i-1].start, spans[i-1].end, spans[i].start, spans[i].end),
			}
		}
	}
	return nil
}

// checkShape validates the header shape of name and checks that it covers
// exactly the bytes between its data offsets.
func checkShape(name string, info TensorInfo, elemSize int) (tensor.Shape, error) {
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, &ValidationError{Kind: ErrInvalidShape, Tensor: name, Details: err.Error()}
	}
	size := info.DataOffsets[1] - info.DataOffsets[0]
	limit := size / int64(elemSize)
	n := int64(1)
	for _, dim := range shape {
		if int64(dim) > limit/n {
			return nil, &ValidationError{
				Kind:    ErrInvalidShape,
				Tensor:  name,
				Details: fmt.Sprintf("shape %v does not fit in %d bytes", shape, size),
			}
		}
		n *= int64(dim)
	}
	if n*int64(elemSize) != size {
		return nil, &ValidationError{
			Kind:    ErrInvalidShape,
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, data has %d", shape, n*int64(elemSize), size),
		}
	}
	return shape, nil
}
