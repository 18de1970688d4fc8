package data

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDataset returns n rows of length 3 where every token of row i is i.
func newDataset(n int, positions bool) *TensorDataset {
	d := &TensorDataset{SeqLen: 3}
	for i := range n {
		for range 3 {
			d.InputIDs = append(d.InputIDs, int32(i))
			d.InputMask = append(d.InputMask, 1)
			d.SegmentIDs = append(d.SegmentIDs, int32(i%2))
		}
		if positions {
			d.StartPositions = append(d.StartPositions, int32(i))
			d.EndPositions = append(d.EndPositions, int32(i+1))
		}
	}
	return d
}

func collect(t *testing.T, l *Loader) []*Batch {
	t.Helper()
	var out []*Batch
	require.NoError(t, l.Epoch(context.Background(), func(b *Batch) error {
		out = append(out, b)
		return nil
	}))
	return out
}

func TestValidate(t *testing.T) {
	require.NoError(t, newDataset(4, true).Validate())
	require.NoError(t, newDataset(4, false).Validate())

	d := newDataset(4, true)
	d.EndPositions = d.EndPositions[:3]
	require.Error(t, d.Validate())

	d = newDataset(4, true)
	d.EndPositions = nil
	require.Error(t, d.Validate())

	d = newDataset(4, false)
	d.InputMask = d.InputMask[:5]
	require.Error(t, d.Validate())
}

func TestLoaderSequential(t *testing.T) {
	l, err := NewLoader(newDataset(10, true), LoaderConfig{BatchSize: 4, NumWorkers: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	batches := collect(t, l)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, batches[0].Indices)
	assert.Equal(t, []int{8, 9}, batches[2].Indices)
	assert.Equal(t, 2, batches[2].Size)
	assert.Equal(t, []int32{8, 8, 8, 9, 9, 9}, batches[2].InputIDs)
	assert.Equal(t, []int32{8, 9}, batches[2].StartPositions)
	assert.Equal(t, []int32{9, 10}, batches[2].EndPositions)
}

func TestLoaderDropLast(t *testing.T) {
	l, err := NewLoader(newDataset(10, false), LoaderConfig{BatchSize: 4, DropLast: true})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	batches := collect(t, l)
	require.Len(t, batches, 2)
	assert.Nil(t, batches[0].StartPositions)
}

func TestLoaderShuffle(t *testing.T) {
	newLoader := func() *Loader {
		l, err := NewLoader(newDataset(50, true), LoaderConfig{BatchSize: 8, Shuffle: true, Seed: 7, NumWorkers: 4})
		require.NoError(t, err)
		return l
	}
	rows := func(batches []*Batch) []int {
		var out []int
		for _, b := range batches {
			out = append(out, b.Indices...)
		}
		return out
	}

	a, b := newLoader(), newLoader()
	first := rows(collect(t, a))
	assert.Equal(t, first, rows(collect(t, b)), "same seed, same order")

	second := rows(collect(t, a))
	assert.NotEqual(t, first, second, "each epoch reshuffles")

	sorted := append([]int(nil), second...)
	sort.Ints(sorted)
	for i, v := range sorted {
		require.Equal(t, i, v, "every row appears exactly once")
	}
}

func TestLoaderStopsOnYieldError(t *testing.T) {
	l, err := NewLoader(newDataset(100, false), LoaderConfig{BatchSize: 1, NumWorkers: 4})
	require.NoError(t, err)

	stop := errors.New("stop")
	seen := 0
	err = l.Epoch(context.Background(), func(*Batch) error {
		seen++
		if seen == 5 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 5, seen)
}

func TestLoaderCancel(t *testing.T) {
	l, err := NewLoader(newDataset(100, false), LoaderConfig{BatchSize: 1, NumWorkers: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	err = l.Epoch(ctx, func(*Batch) error {
		seen++
		if seen == 3 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, seen, 100)
}

func TestNewLoaderValidation(t *testing.T) {
	_, err := NewLoader(newDataset(3, false), LoaderConfig{})
	require.Error(t, err)
	_, err = NewLoader(&TensorDataset{}, LoaderConfig{BatchSize: 1})
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.safetensors")
	src := newDataset(5, true)
	require.NoError(t, src.Save(path, map[string]string{"model": "bert-base-uncased"}))

	got, meta, err := LoadTensorDataset(path)
	require.NoError(t, err)
	assert.Equal(t, src, got)
	assert.Equal(t, map[string]string{"model": "bert-base-uncased"}, meta)

	pred := newDataset(2, false)
	require.NoError(t, pred.Save(path, nil))
	got, _, err = LoadTensorDataset(path)
	require.NoError(t, err)
	assert.False(t, got.HasPositions())
	assert.Equal(t, 2, got.Len())
}
