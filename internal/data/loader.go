package data

import (
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize  int
	Shuffle    bool   // Reshuffle rows every epoch
	Seed       uint64 // Shuffle seed; epoch e uses the stream (Seed, e)
	NumWorkers int    // Goroutines assembling batches (default: 1)
	DropLast   bool   // Drop a final partial batch
}

// Loader iterates over a TensorDataset in batches.
//
// Batches are assembled by NumWorkers goroutines but always delivered in
// order. Each call to Epoch advances the shuffle stream.
type Loader struct {
	ds     *TensorDataset
	config LoaderConfig
	epoch  uint64
}

// NewLoader validates ds and creates a Loader.
func NewLoader(ds *TensorDataset, config LoaderConfig) (*Loader, error) {
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &Loader{ds: ds, config: config}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() *TensorDataset {
	return l.ds
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n, bs := l.ds.Len(), l.config.BatchSize
	if l.config.DropLast {
		return n / bs
	}
	return (n + bs - 1) / bs
}

// order returns the row order of the next epoch.
func (l *Loader) order() []int {
	n := l.ds.Len()
	if !l.config.Shuffle {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	rng := rand.New(rand.NewPCG(l.config.Seed, l.epoch))
	return rng.Perm(n)
}

type job struct {
	rows []int
	out  chan *Batch
}

// Epoch calls yield for every batch of one pass over the dataset.
//
// Iteration stops at the first error returned by yield, which is returned
// as is, or when ctx is cancelled.
func (l *Loader) Epoch(parent context.Context, yield func(*Batch) error) error {
	rows := l.order()
	l.epoch++

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan job)
	pending := make(chan chan *Batch, 2*l.config.NumWorkers)

	g.Go(func() error {
		defer close(jobs)
		defer close(pending)
		bs := l.config.BatchSize
		for i := 0; i < l.Len(); i++ {
			j := job{rows: rows[i*bs : min((i+1)*bs, len(rows))], out: make(chan *Batch, 1)}
			select {
			case pending <- j.out:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for range l.config.NumWorkers {
		g.Go(func() error {
			for j := range jobs {
				j.out <- l.ds.gather(j.rows)
			}
			return nil
		})
	}

	var yieldErr error
consume:
	for out := range pending {
		select {
		case b := <-out:
			if err := yield(b); err != nil {
				yieldErr = err
				break consume
			}
		case <-gctx.Done():
			break consume
		}
	}
	cancel()
	// Goroutines only fail through cancellation.
	_ = g.Wait()

	if yieldErr != nil {
		return yieldErr
	}
	return parent.Err()
}
