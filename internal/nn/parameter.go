package nn

import (
	"github.com/born-ml/squad/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// The name is the fully qualified checkpoint key (for example
// "bert.embeddings.LayerNorm.weight"); optimizers match weight-decay
// patterns against it.
//
// Example:
//
//	weight := nn.NewParameter("qa_outputs.weight", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad()
type Parameter struct {
	name   string         // Parameter name (e.g., "qa_outputs.weight")
	tensor *tensor.Tensor // The parameter tensor
	grad   *tensor.Tensor // Gradient tensor (accumulated during backward pass)
}

// NewParameter creates a new trainable parameter.
//
// Gradient will be allocated during the first backward pass.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
		grad:   nil, // Gradient allocated on first backward pass
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if the parameter did not take part in the last backward pass.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// GradBuffer returns the gradient tensor, allocating a zeroed one if needed.
//
// Layers accumulate into the returned buffer during their backward pass.
func (p *Parameter) GradBuffer() *tensor.Tensor {
	if p.grad == nil {
		p.grad = tensor.Zeros(p.tensor.Shape())
	}
	return p.grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// NumElements returns the number of scalar values in the parameter.
func (p *Parameter) NumElements() int {
	return p.tensor.NumElements()
}
