// Package parallel splits independent row loops across goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	NumWorkers int // Goroutines per loop; 1 or less runs inline.
	MinRows    int // Loops shorter than this run inline, and no chunk is smaller.
}

// DefaultConfig uses every available CPU.
func DefaultConfig() Config {
	return Config{
		NumWorkers: runtime.GOMAXPROCS(0),
		MinRows:    64,
	}
}

// Rows calls f on disjoint [lo, hi) chunks that cover [0, n) and returns
// when all chunks are done. f must only write state owned by its rows.
func Rows(n int, cfg Config, f func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if cfg.NumWorkers <= 1 || n < cfg.MinRows {
		f(0, n)
		return
	}

	chunk := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinRows, 1)
	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			f(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
