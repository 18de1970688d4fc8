// Package schedule implements learning-rate schedules.
//
// A Schedule is a pure function of the optimization step. Two families are
// provided, matching the two fine-tuning drivers:
//   - LinearWarmupDecay: linear ramp to a peak rate, then linear decay to
//     zero at the last step.
//   - WarmUp wrapping PolynomialDecay: power warm-up that hands over to an
//     arbitrary decay schedule at the crossover step.
//
// A Scheduler applies a Schedule to an optimizer once per step.
package schedule

import (
	"math"

	"github.com/pkg/errors"
)

// Schedule maps a step index to a learning rate.
type Schedule interface {
	LR(step int64) float64
}

// LinearWarmupDecay ramps linearly from 0 to PeakLR over WarmupSteps and
// then decays linearly to 0 at TotalSteps.
type LinearWarmupDecay struct {
	PeakLR      float64 `json:"peak_learning_rate"`
	WarmupSteps int64   `json:"warmup_steps"`
	TotalSteps  int64   `json:"total_steps"`
}

// NewLinearWarmupDecay validates the step counts so LR never divides by zero.
func NewLinearWarmupDecay(peakLR float64, warmupSteps, totalSteps int64) (*LinearWarmupDecay, error) {
	if totalSteps <= 0 {
		return nil, errors.Errorf("total steps must be positive, got %d", totalSteps)
	}
	if warmupSteps < 0 || warmupSteps >= totalSteps {
		return nil, errors.Errorf("warmup steps must be in [0, %d), got %d", totalSteps, warmupSteps)
	}
	return &LinearWarmupDecay{PeakLR: peakLR, WarmupSteps: warmupSteps, TotalSteps: totalSteps}, nil
}

// NewLinearWarmupProportion builds a LinearWarmupDecay whose warm-up covers
// the given fraction of totalSteps.
func NewLinearWarmupProportion(peakLR, proportion float64, totalSteps int64) (*LinearWarmupDecay, error) {
	if proportion < 0 || proportion >= 1 {
		return nil, errors.Errorf("warmup proportion must be in [0, 1), got %g", proportion)
	}
	return NewLinearWarmupDecay(peakLR, int64(proportion*float64(totalSteps)), totalSteps)
}

// LR implements Schedule.
func (s *LinearWarmupDecay) LR(step int64) float64 {
	step = max(step, 0)
	switch {
	case step >= s.TotalSteps:
		return 0
	case step < s.WarmupSteps:
		return s.PeakLR * float64(step) / float64(s.WarmupSteps)
	default:
		return s.PeakLR * float64(s.TotalSteps-step) / float64(s.TotalSteps-s.WarmupSteps)
	}
}

// PolynomialDecay decays from InitialLR to EndLR over DecaySteps:
//
//	step = min(step, DecaySteps)
//	lr = (InitialLR - EndLR) * (1 - step/DecaySteps)^Power + EndLR
type PolynomialDecay struct {
	InitialLR  float64 `json:"initial_learning_rate"`
	DecaySteps int64   `json:"decay_steps"`
	EndLR      float64 `json:"end_learning_rate"`
	Power      float64 `json:"power"`
}

// NewPolynomialDecay validates DecaySteps.
func NewPolynomialDecay(initialLR float64, decaySteps int64, endLR, power float64) (*PolynomialDecay, error) {
	if decaySteps <= 0 {
		return nil, errors.Errorf("decay steps must be positive, got %d", decaySteps)
	}
	return &PolynomialDecay{InitialLR: initialLR, DecaySteps: decaySteps, EndLR: endLR, Power: power}, nil
}

// LR implements Schedule.
func (s *PolynomialDecay) LR(step int64) float64 {
	step = min(max(step, 0), s.DecaySteps)
	frac := 1 - float64(step)/float64(s.DecaySteps)
	return (s.InitialLR-s.EndLR)*math.Pow(frac, s.Power) + s.EndLR
}

// WarmUp applies a power warm-up on top of a decay schedule:
//
//	step < WarmupSteps: InitialLR * (step/WarmupSteps)^Power
//	otherwise:          Decay.LR(step)
type WarmUp struct {
	InitialLR   float64  `json:"initial_learning_rate"`
	Decay       Schedule `json:"-"`
	WarmupSteps int64    `json:"warmup_steps"`
	Power       float64  `json:"power"`
	Name        string   `json:"name,omitempty"`
}

// NewWarmUp wraps decay with a warm-up of warmupSteps (power 1 = linear).
func NewWarmUp(initialLR float64, decay Schedule, warmupSteps int64, power float64) (*WarmUp, error) {
	if decay == nil {
		return nil, errors.New("warm-up requires a decay schedule")
	}
	if warmupSteps <= 0 {
		return nil, errors.Errorf("warmup steps must be positive, got %d", warmupSteps)
	}
	return &WarmUp{InitialLR: initialLR, Decay: decay, WarmupSteps: warmupSteps, Power: power}, nil
}

// LR implements Schedule.
func (s *WarmUp) LR(step int64) float64 {
	step = max(step, 0)
	if step < s.WarmupSteps {
		done := float64(step) / float64(s.WarmupSteps)
		return s.InitialLR * math.Pow(done, s.Power)
	}
	return s.Decay.LR(step)
}

// Constant is a fixed learning rate.
type Constant struct {
	Value float64 `json:"learning_rate"`
}

// LR implements Schedule.
func (c Constant) LR(int64) float64 {
	return c.Value
}

// AdjustedPeakLR rescales initLR so that a polynomial decay started from
// the returned value passes through initLR at the warm-up crossover:
//
//	crossover = initLR * (1 - warmup/total)^power
//	adjusted  = initLR * initLR / crossover
func AdjustedPeakLR(initLR float64, numTrainSteps, numWarmupSteps int64, power float64) (adjusted, crossover float64, err error) {
	if numTrainSteps <= 0 {
		return 0, 0, errors.Errorf("train steps must be positive, got %d", numTrainSteps)
	}
	if numWarmupSteps < 0 || numWarmupSteps >= numTrainSteps {
		return 0, 0, errors.Errorf("warmup steps must be in [0, %d), got %d", numTrainSteps, numWarmupSteps)
	}
	crossover = initLR * math.Pow(1-float64(numWarmupSteps)/float64(numTrainSteps), power)
	if crossover == 0 {
		return 0, 0, nil
	}
	return initLR * (initLR / crossover), crossover, nil
}
