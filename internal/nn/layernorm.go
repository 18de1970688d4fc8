package nn

import (
	"math"

	"github.com/born-ml/squad/internal/parallel"
	"github.com/born-ml/squad/internal/tensor"
)

// LayerNorm applies Layer Normalization over the last dimension.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
//
// Parameter names follow the BERT checkpoint convention
// ("<prefix>.weight" for gamma, "<prefix>.bias" for beta).
type LayerNorm struct {
	Weight  *Parameter // gamma [d_model], initialized to ones
	Bias    *Parameter // beta [d_model], initialized to zeros
	Epsilon float32

	dim    int
	xHat   []float32
	invStd []float32
}

// NewLayerNorm creates a new LayerNorm layer.
func NewLayerNorm(name string, dim int, epsilon float32) *LayerNorm {
	return &LayerNorm{
		Weight:  NewParameter(name+".weight", tensor.Full(tensor.Shape{dim}, 1)),
		Bias:    NewParameter(name+".bias", tensor.Zeros(tensor.Shape{dim})),
		Epsilon: epsilon,
		dim:     dim,
	}
}

// Forward normalizes each row of x [N, d_model].
func (l *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	rows := x.NumElements() / l.dim
	out := tensor.Zeros(x.Shape())
	l.xHat = make([]float32, x.NumElements())
	l.invStd = make([]float32, rows)

	gamma := l.Weight.Tensor().Data()
	beta := l.Bias.Tensor().Data()
	in := x.Data()
	o := out.Data()
	parallel.Rows(rows, RowParallelism, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			row := in[r*l.dim : (r+1)*l.dim]
			var mean float64
			for _, v := range row {
				mean += float64(v)
			}
			mean /= float64(l.dim)
			var variance float64
			for _, v := range row {
				d := float64(v) - mean
				variance += d * d
			}
			variance /= float64(l.dim)
			inv := float32(1 / math.Sqrt(variance+float64(l.Epsilon)))
			l.invStd[r] = inv
			for j, v := range row {
				xh := (v - float32(mean)) * inv
				l.xHat[r*l.dim+j] = xh
				o[r*l.dim+j] = gamma[j]*xh + beta[j]
			}
		}
	})
	return out
}

// Backward accumulates parameter gradients and returns dL/dx.
func (l *LayerNorm) Backward(gradOut *tensor.Tensor) *tensor.Tensor {
	rows := len(l.invStd)
	gradIn := tensor.Zeros(gradOut.Shape())
	gamma := l.Weight.Tensor().Data()
	dGamma := l.Weight.GradBuffer().Data()
	dBeta := l.Bias.GradBuffer().Data()
	dy := gradOut.Data()
	dx := gradIn.Data()
	n := float32(l.dim)

	dxHat := make([]float32, l.dim)
	for r := 0; r < rows; r++ {
		var sumDxHat, sumDxHatXHat float32
		for j := 0; j < l.dim; j++ {
			idx := r*l.dim + j
			dGamma[j] += dy[idx] * l.xHat[idx]
			dBeta[j] += dy[idx]
			dxHat[j] = dy[idx] * gamma[j]
			sumDxHat += dxHat[j]
			sumDxHatXHat += dxHat[j] * l.xHat[idx]
		}
		for j := 0; j < l.dim; j++ {
			idx := r*l.dim + j
			dx[idx] = l.invStd[r] / n * (n*dxHat[j] - sumDxHat - l.xHat[idx]*sumDxHatXHat)
		}
	}
	return gradIn
}

// Parameters returns gamma and beta.
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}
