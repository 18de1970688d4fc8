package serialization

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/tensor"
)

// DType is a SafeTensors dtype string.
type DType string

// Supported dtypes.
const (
	F32 DType = "F32"
	I32 DType = "I32"
	I64 DType = "I64"
)

const metadataKey = "__metadata__"

// TensorInfo describes a tensor in the SafeTensors header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end)
}

// Entry is one named tensor to be written.
type Entry struct {
	DType DType
	Shape tensor.Shape
	Data  []byte
}

// Float32Entry wraps a float32 tensor.
func Float32Entry(t *tensor.Tensor) Entry {
	return Entry{DType: F32, Shape: t.Shape().Clone(), Data: t.Bytes()}
}

// Int32Entry wraps int32 values with the given shape.
func Int32Entry(values []int32, shape tensor.Shape) Entry {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v)) //nolint:gosec // G115: bit-preserving reinterpretation
	}
	return Entry{DType: I32, Shape: shape.Clone(), Data: data}
}

func dtypeSize(dt DType) (int, error) {
	switch dt {
	case F32, I32:
		return 4, nil
	case I64:
		return 8, nil
	default:
		return 0, errors.Wrapf(ErrDTypeMismatch, "unsupported dtype %s", dt)
	}
}

// Write writes entries to a SafeTensors file at path.
//
// Tensors are written in alphabetical order by name.
func Write(path string, entries map[string]Entry, metadata map[string]string) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close file")
		}
	}()
	return WriteTo(file, entries, metadata)
}

// WriteTo writes entries in SafeTensors format to w.
func WriteTo(w io.Writer, entries map[string]Entry, metadata map[string]string) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(entries)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, name := range names {
		e := entries[name]
		size, err := dtypeSize(e.DType)
		if err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}
		if want := e.Shape.NumElements() * size; want != len(e.Data) {
			return errors.Errorf("tensor %s: shape %v needs %d bytes, got %d", name, e.Shape, want, len(e.Data))
		}
		end := offset + int64(len(e.Data))
		header[name] = TensorInfo{DType: e.DType, Shape: []int(e.Shape), DataOffsets: [2]int64{offset, end}}
		offset = end
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	// Pad the header with spaces so the data section is 8-byte aligned.
	if pad := (8 - len(headerJSON)%8) % 8; pad > 0 {
		for range pad {
			headerJSON = append(headerJSON, ' ')
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for _, name := range names {
		if _, err := w.Write(entries[name].Data); err != nil {
			return errors.Wrapf(err, "failed to write tensor %s", name)
		}
	}
	return nil
}

// Reader reads tensors from a SafeTensors file.
type Reader struct {
	file       *os.File
	tensors    map[string]TensorInfo
	metadata   map[string]string
	dataOffset int64
}

// Open opens a SafeTensors file and validates its header.
func Open(path string) (*Reader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	r, err := newReader(file)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return r, nil
}

func newReader(file *os.File) (*Reader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, errors.Wrapf(ErrHeaderTooLarge, "header size %d", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	r := &Reader{
		file:       file,
		tensors:    make(map[string]TensorInfo, len(raw)),
		dataOffset: int64(8 + headerSize), //nolint:gosec // G115: bounded by MaxHeaderSize
	}
	for key, value := range raw {
		if key == metadataKey {
			if err := json.Unmarshal(value, &r.metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal tensor %s", key)
		}
		r.tensors[key] = info
	}

	dataSize := int64(-1)
	if stat, err := file.Stat(); err == nil {
		dataSize = stat.Size() - r.dataOffset
	}
	if err := validateOffsets(r.tensors, dataSize); err != nil {
		return nil, err
	}
	return r, nil
}

// Close closes the file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the "__metadata__" map (may be nil).
func (r *Reader) Metadata() map[string]string {
	return r.metadata
}

// Names returns all tensor names in sorted order.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the header entry for name.
func (r *Reader) Info(name string) (TensorInfo, error) {
	info, ok := r.tensors[name]
	if !ok {
		return TensorInfo{}, errors.Wrap(ErrTensorNotFound, name)
	}
	return info, nil
}

// ReadData reads the raw bytes of a tensor.
func (r *Reader) ReadData(name string) ([]byte, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor %s", name)
	}
	return data, nil
}

// Float32 loads a F32 tensor.
func (r *Reader) Float32(name string) (*tensor.Tensor, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, err
	}
	if info.DType != F32 {
		return nil, errors.Wrapf(ErrDTypeMismatch, "tensor %s is %s, want F32", name, info.DType)
	}
	shape, err := checkShape(name, info, 4)
	if err != nil {
		return nil, err
	}
	data, err := r.ReadData(name)
	if err != nil {
		return nil, err
	}
	return tensor.FromBytes(data, shape)
}

// Int32 loads an I32 or I64 tensor as int32 values.
func (r *Reader) Int32(name string) ([]int32, tensor.Shape, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, nil, err
	}
	if info.DType != I32 && info.DType != I64 {
		return nil, nil, errors.Wrapf(ErrDTypeMismatch, "tensor %s is %s, want I32 or I64", name, info.DType)
	}
	size, err := dtypeSize(info.DType)
	if err != nil {
		return nil, nil, err
	}
	shape, err := checkShape(name, info, size)
	if err != nil {
		return nil, nil, err
	}
	data, err := r.ReadData(name)
	if err != nil {
		return nil, nil, err
	}

	out := make([]int32, shape.NumElements())
	if info.DType == I32 {
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[i*4:])) //nolint:gosec // G115: bit-preserving reinterpretation
		}
		return out, shape, nil
	}
	for i := range out {
		v := int64(binary.LittleEndian.Uint64(data[i*8:])) //nolint:gosec // G115: bit-preserving reinterpretation
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, nil, errors.Errorf("tensor %s: value %d overflows int32", name, v)
		}
		out[i] = int32(v)
	}
	return out, shape, nil
}
