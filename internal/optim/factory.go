package optim

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/schedule"
)

// Optimizer type names accepted by Create.
const (
	TypeAdam  = "adam"
	TypeAdamW = "AdamW"
)

// CreateConfig carries the hyperparameters Create forwards to the optimizer.
type CreateConfig struct {
	WeightDecayRate        float64
	ExcludeFromWeightDecay []string
	IncludeInWeightDecay   []string
	Epsilon                float64
}

// Create builds an AdamWeightDecay optimizer with a learning rate that warms
// up linearly for numWarmupSteps and then decays linearly to 0 at
// numTrainSteps.
//
// The initial rate is rescaled with schedule.AdjustedPeakLR so the decayed
// rate at the end of warm-up equals initLR. Only "adam" is supported; other
// types fail with ErrNotImplemented.
func Create(params []*nn.Parameter, initLR float64, numTrainSteps, numWarmupSteps int64,
	optimizerType string, cfg CreateConfig,
) (*AdamWeightDecay, error) {
	if optimizerType != TypeAdam {
		return nil, errors.Wrapf(ErrNotImplemented, "optimizer type %q", optimizerType)
	}

	const power = 1.0
	adjusted, crossover, err := schedule.AdjustedPeakLR(initLR, numTrainSteps, numWarmupSteps, power)
	if err != nil {
		return nil, errors.Wrap(err, "failed to adjust initial learning rate")
	}
	klog.Infof("decayed_learning_rate_at_crossover_point = %e, adjusted_init_lr = %e", crossover, adjusted)

	var lr schedule.Schedule
	lr, err = schedule.NewPolynomialDecay(adjusted, numTrainSteps, 0, power)
	if err != nil {
		return nil, err
	}
	if numWarmupSteps > 0 {
		lr, err = schedule.NewWarmUp(adjusted, lr, numWarmupSteps, power)
		if err != nil {
			return nil, err
		}
	}

	return NewAdamWeightDecay(params, AdamWeightDecayConfig{
		Schedule:               lr,
		Epsilon:                cfg.Epsilon,
		WeightDecayRate:        cfg.WeightDecayRate,
		IncludeInWeightDecay:   cfg.IncludeInWeightDecay,
		ExcludeFromWeightDecay: cfg.ExcludeFromWeightDecay,
	})
}

// New builds an optimizer by type name.
//
// "AdamW" groups params with GroupByNoDecay and uses lr as a constant rate
// to be driven by a schedule.Scheduler. "adam" delegates to Create. Other
// names fail with ErrNotImplemented.
func New(optimizerType string, params []*nn.Parameter, lr, weightDecay, eps float64,
	numTrainSteps, numWarmupSteps int64,
) (Optimizer, error) {
	switch optimizerType {
	case TypeAdamW:
		groups := GroupByNoDecay(params, DefaultDropped, DefaultNoDecay, weightDecay)
		return NewAdamW(groups, AdamWConfig{LR: lr, Eps: eps}), nil
	case TypeAdam:
		return Create(params, lr, numTrainSteps, numWarmupSteps, TypeAdam, CreateConfig{
			WeightDecayRate:        weightDecay,
			ExcludeFromWeightDecay: []string{"LayerNorm", "layer_norm", "bias"},
			Epsilon:                eps,
		})
	default:
		return nil, errors.Wrapf(ErrNotImplemented, "optimizer type %q", optimizerType)
	}
}
