package optim

import (
	"math"

	"github.com/born-ml/squad/internal/nn"
)

// ClipGradNorm scales all gradients in place so that their global L2 norm
// is at most maxNorm, and returns the norm before clipping.
//
// Parameters without a gradient are ignored. A non-positive maxNorm only
// computes the norm.
func ClipGradNorm(params []*nn.Parameter, maxNorm float64) float64 {
	var sq float64
	for _, p := range params {
		if g := p.Grad(); g != nil {
			sq += g.SquaredNorm()
		}
	}
	norm := math.Sqrt(sq)
	if maxNorm <= 0 {
		return norm
	}

	coef := maxNorm / (norm + 1e-6)
	if coef >= 1 {
		return norm
	}
	c := float32(coef)
	for _, p := range params {
		g := p.Grad()
		if g == nil {
			continue
		}
		data := g.Data()
		for i := range data {
			data[i] *= c
		}
	}
	return norm
}
