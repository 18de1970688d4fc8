// Package data batches precomputed SQuAD features for training and
// prediction.
package data

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/serialization"
	"github.com/born-ml/squad/internal/tensor"
)

// Tensor names used when a TensorDataset is saved.
const (
	nameInputIDs       = "input_ids"
	nameInputMask      = "input_mask"
	nameSegmentIDs     = "segment_ids"
	nameStartPositions = "start_positions"
	nameEndPositions   = "end_positions"
	metaSeqLen         = "seq_len"
)

// TensorDataset holds fixed-length model inputs column by column.
//
// Token columns are row-major [N, SeqLen]. Position columns are [N] and
// are nil for prediction data.
type TensorDataset struct {
	SeqLen         int
	InputIDs       []int32
	InputMask      []int32
	SegmentIDs     []int32
	StartPositions []int32
	EndPositions   []int32
}

// Len returns the number of rows.
func (d *TensorDataset) Len() int {
	if d.SeqLen == 0 {
		return 0
	}
	return len(d.InputIDs) / d.SeqLen
}

// HasPositions reports whether the dataset carries answer positions.
func (d *TensorDataset) HasPositions() bool {
	return d.StartPositions != nil
}

// Validate checks that all columns agree on the row count.
func (d *TensorDataset) Validate() error {
	if d.SeqLen <= 0 {
		return errors.Errorf("sequence length must be positive, got %d", d.SeqLen)
	}
	if len(d.InputIDs)%d.SeqLen != 0 {
		return errors.Errorf("input_ids length %d is not a multiple of %d", len(d.InputIDs), d.SeqLen)
	}
	n := d.Len()
	if len(d.InputMask) != n*d.SeqLen || len(d.SegmentIDs) != n*d.SeqLen {
		return errors.Errorf("token columns disagree: %d ids, %d mask, %d segments",
			len(d.InputIDs), len(d.InputMask), len(d.SegmentIDs))
	}
	if (d.StartPositions == nil) != (d.EndPositions == nil) {
		return errors.New("start and end positions must be given together")
	}
	if d.StartPositions != nil && (len(d.StartPositions) != n || len(d.EndPositions) != n) {
		return errors.Errorf("expected %d positions, got %d start and %d end",
			n, len(d.StartPositions), len(d.EndPositions))
	}
	return nil
}

// Save writes the dataset to a SafeTensors file. metadata is stored
// alongside and returned by LoadTensorDataset.
func (d *TensorDataset) Save(path string, metadata map[string]string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	n := d.Len()
	tokens := tensor.Shape{n, d.SeqLen}
	entries := map[string]serialization.Entry{
		nameInputIDs:   serialization.Int32Entry(d.InputIDs, tokens),
		nameInputMask:  serialization.Int32Entry(d.InputMask, tokens),
		nameSegmentIDs: serialization.Int32Entry(d.SegmentIDs, tokens),
	}
	if d.HasPositions() {
		entries[nameStartPositions] = serialization.Int32Entry(d.StartPositions, tensor.Shape{n})
		entries[nameEndPositions] = serialization.Int32Entry(d.EndPositions, tensor.Shape{n})
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[metaSeqLen] = strconv.Itoa(d.SeqLen)
	return serialization.Write(path, entries, meta)
}

// LoadTensorDataset reads a dataset written by Save.
func LoadTensorDataset(path string) (*TensorDataset, map[string]string, error) {
	r, err := serialization.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	meta := r.Metadata()
	seqLen, err := strconv.Atoi(meta[metaSeqLen])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid %s in %s", metaSeqLen, path)
	}

	d := &TensorDataset{SeqLen: seqLen}
	columns := []struct {
		name     string
		dst      *[]int32
		optional bool
	}{
		{nameInputIDs, &d.InputIDs, false},
		{nameInputMask, &d.InputMask, false},
		{nameSegmentIDs, &d.SegmentIDs, false},
		{nameStartPositions, &d.StartPositions, true},
		{nameEndPositions, &d.EndPositions, true},
	}
	for _, c := range columns {
		if _, err := r.Info(c.name); err != nil && c.optional {
			continue
		}
		values, _, err := r.Int32(c.name)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to read %s", c.name)
		}
		*c.dst = values
	}
	if err := d.Validate(); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid dataset %s", path)
	}
	delete(meta, metaSeqLen)
	return d, meta, nil
}

// Batch is a group of rows gathered from a TensorDataset.
type Batch struct {
	Size    int
	SeqLen  int
	Indices []int // Row index of each batch element in the dataset

	InputIDs       []int32
	InputMask      []int32
	SegmentIDs     []int32
	StartPositions []int32
	EndPositions   []int32
}

// gather copies rows idx into a new Batch.
func (d *TensorDataset) gather(idx []int) *Batch {
	l := d.SeqLen
	b := &Batch{
		Size:       len(idx),
		SeqLen:     l,
		Indices:    idx,
		InputIDs:   make([]int32, 0, len(idx)*l),
		InputMask:  make([]int32, 0, len(idx)*l),
		SegmentIDs: make([]int32, 0, len(idx)*l),
	}
	if d.HasPositions() {
		b.StartPositions = make([]int32, 0, len(idx))
		b.EndPositions = make([]int32, 0, len(idx))
	}
	for _, i := range idx {
		b.InputIDs = append(b.InputIDs, d.InputIDs[i*l:(i+1)*l]...)
		b.InputMask = append(b.InputMask, d.InputMask[i*l:(i+1)*l]...)
		b.SegmentIDs = append(b.SegmentIDs, d.SegmentIDs[i*l:(i+1)*l]...)
		if d.HasPositions() {
			b.StartPositions = append(b.StartPositions, d.StartPositions[i])
			b.EndPositions = append(b.EndPositions, d.EndPositions[i])
		}
	}
	return b
}
