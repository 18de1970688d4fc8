package nn

import (
	"math/rand/v2"

	"github.com/born-ml/squad/internal/parallel"
	"github.com/born-ml/squad/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W^T + b.
//
// Shapes:
//   - Weight: [out_features, in_features]
//   - Bias: [out_features]
//   - input: [N, in_features]
//   - output: [N, out_features]
//
// Weights are drawn from N(0, std²) and biases start at zero, as in the
// BERT initializer.
type Linear struct {
	Weight *Parameter
	Bias   *Parameter

	inFeatures  int
	outFeatures int
	lastInput   *tensor.Tensor
}

// NewLinear creates a new linear layer.
func NewLinear(name string, inFeatures, outFeatures int, std float64, rng *rand.Rand) *Linear {
	return &Linear{
		Weight:      NewParameter(name+".weight", tensor.Normal(tensor.Shape{outFeatures, inFeatures}, std, rng)),
		Bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures})),
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
	}
}

// Forward computes the layer output for x [N, in_features].
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	rows := x.NumElements() / l.inFeatures
	out := tensor.Zeros(tensor.Shape{rows, l.outFeatures})
	w := l.Weight.Tensor().Data()
	b := l.Bias.Tensor().Data()
	in := x.Data()
	o := out.Data()
	parallel.Rows(rows, RowParallelism, func(lo, hi int) {
		for n := lo; n < hi; n++ {
			xRow := in[n*l.inFeatures : (n+1)*l.inFeatures]
			for k := 0; k < l.outFeatures; k++ {
				wRow := w[k*l.inFeatures : (k+1)*l.inFeatures]
				sum := b[k]
				for i, v := range xRow {
					sum += v * wRow[i]
				}
				o[n*l.outFeatures+k] = sum
			}
		}
	})
	l.lastInput = x
	return out
}

// Backward accumulates dW and db from gradOut [N, out_features] and
// returns dL/dx.
func (l *Linear) Backward(gradOut *tensor.Tensor) *tensor.Tensor {
	rows := gradOut.NumElements() / l.outFeatures
	gradIn := tensor.Zeros(tensor.Shape{rows, l.inFeatures})
	w := l.Weight.Tensor().Data()
	dW := l.Weight.GradBuffer().Data()
	dB := l.Bias.GradBuffer().Data()
	in := l.lastInput.Data()
	dy := gradOut.Data()
	dx := gradIn.Data()
	for n := 0; n < rows; n++ {
		xRow := in[n*l.inFeatures : (n+1)*l.inFeatures]
		dxRow := dx[n*l.inFeatures : (n+1)*l.inFeatures]
		for k := 0; k < l.outFeatures; k++ {
			g := dy[n*l.outFeatures+k]
			if g == 0 {
				continue
			}
			dB[k] += g
			wRow := w[k*l.inFeatures : (k+1)*l.inFeatures]
			dwRow := dW[k*l.inFeatures : (k+1)*l.inFeatures]
			for i := range xRow {
				dwRow[i] += g * xRow[i]
				dxRow[i] += g * wRow[i]
			}
		}
	}
	return gradIn
}

// Parameters returns weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// InFeatures returns the input dimension.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the output dimension.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
