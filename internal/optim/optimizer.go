// Package optim implements the Adam family of optimizers used to fine-tune
// the QA model.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - Adam: Adaptive Moment Estimation
//   - AdamWeightDecay: Adam with decoupled weight decay selected by
//     parameter-name regular expressions, driven by a learning-rate schedule
//   - AdamW: Adam with decoupled weight decay per parameter group
//
// Decoupled weight decay subtracts lr * decay * param from a parameter
// before the moment-based update, instead of adding an L2 penalty to the
// loss, so the decay does not interact with Adam's adaptive scaling.
//
// Example usage:
//
//	opt, err := optim.NewAdamWeightDecay(model.Parameters(), optim.AdamWeightDecayConfig{
//	    Schedule:               warmup,
//	    WeightDecayRate:        0.01,
//	    ExcludeFromWeightDecay: []string{"LayerNorm", "layer_norm", "bias"},
//	})
//
//	for _, batch := range batches {
//	    opt.ZeroGrad()
//	    loss := model.TrainStep(batch) // fills parameter gradients
//	    if err := opt.Step(); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
)

// ErrNotImplemented is returned for unsupported optimizer types.
var ErrNotImplemented = errors.New("not implemented")

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers read gradients from nn.Parameter.Grad and update parameter
// values in place. Parameters without a gradient are skipped.
type Optimizer interface {
	// Step applies one update to every parameter that has a gradient.
	Step() error

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the learning rate the next Step will use.
	GetLR() float64

	// SetLR overrides the learning rate.
	SetLR(lr float64)

	// Iterations returns the number of completed steps.
	Iterations() int64

	// SetIterations restores the step counter, which drives bias
	// correction. It is kept out of StateDict so it stays an exact integer.
	SetIterations(n int64)

	// StateDict returns the optimizer moment buffers for checkpointing.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores buffers produced by StateDict.
	LoadStateDict(stateDict map[string]*tensor.Tensor) error

	// MarshalConfig returns the JSON hyperparameter config (see FromConfig).
	MarshalConfig() ([]byte, error)
}

// zeroGrad clears gradients of params.
func zeroGrad(params []*nn.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
