package nn

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/tensor"
)

// Embedding is a lookup table mapping token indices to dense vectors.
//
// Shapes:
//   - Weight: [num_embeddings, embedding_dim]
//   - input: N indices
//   - output: [N, embedding_dim]
type Embedding struct {
	Weight *Parameter

	numEmbeddings int
	dim           int
	lastIDs       []int32
}

// NewEmbedding creates an embedding table initialized from N(0, std²).
func NewEmbedding(name string, numEmbeddings, dim int, std float64, rng *rand.Rand) *Embedding {
	return &Embedding{
		Weight:        NewParameter(name+".weight", tensor.Normal(tensor.Shape{numEmbeddings, dim}, std, rng)),
		numEmbeddings: numEmbeddings,
		dim:           dim,
	}
}

// Forward looks up the rows for ids.
func (e *Embedding) Forward(ids []int32) (*tensor.Tensor, error) {
	out := tensor.Zeros(tensor.Shape{len(ids), e.dim})
	w := e.Weight.Tensor().Data()
	o := out.Data()
	for n, id := range ids {
		if id < 0 || int(id) >= e.numEmbeddings {
			return nil, errors.Errorf("%s: index %d out of range [0, %d)", e.Weight.Name(), id, e.numEmbeddings)
		}
		copy(o[n*e.dim:(n+1)*e.dim], w[int(id)*e.dim:(int(id)+1)*e.dim])
	}
	e.lastIDs = ids
	return out, nil
}

// Backward scatter-adds gradOut [N, dim] into the weight gradient.
func (e *Embedding) Backward(gradOut *tensor.Tensor) {
	g := e.Weight.GradBuffer().Data()
	d := gradOut.Data()
	for n, id := range e.lastIDs {
		row := g[int(id)*e.dim : (int(id)+1)*e.dim]
		for j := range row {
			row[j] += d[n*e.dim+j]
		}
	}
}

// Parameters returns the embedding weight.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}

// NumEmbeddings returns the table size.
func (e *Embedding) NumEmbeddings() int {
	return e.numEmbeddings
}
