package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearWarmupDecayExample(t *testing.T) {
	s, err := NewLinearWarmupDecay(1e-4, 10, 100)
	require.NoError(t, err)

	assert.InDelta(t, 0, s.LR(0), 1e-15)
	assert.InDelta(t, 5e-5, s.LR(5), 1e-15)
	assert.InDelta(t, 1e-4, s.LR(10), 1e-15)
	assert.InDelta(t, 5e-5, s.LR(55), 1e-15)
	assert.InDelta(t, 0, s.LR(100), 1e-15)
	assert.InDelta(t, 0, s.LR(250), 1e-15)
	assert.InDelta(t, 0, s.LR(-3), 1e-15)
}

func TestLinearWarmupDecayShape(t *testing.T) {
	const peak = 3e-5
	s, err := NewLinearWarmupDecay(peak, 37, 400)
	require.NoError(t, err)

	for step := int64(1); step < s.WarmupSteps; step++ {
		assert.InDelta(t, peak*float64(step)/37, s.LR(step), 1e-15)
		assert.GreaterOrEqual(t, s.LR(step), s.LR(step-1), "warm-up must not decrease at %d", step)
	}
	assert.InDelta(t, peak, s.LR(s.WarmupSteps), 1e-15, "continuity at the crossover")
	for step := s.WarmupSteps + 1; step <= s.TotalSteps; step++ {
		assert.LessOrEqual(t, s.LR(step), s.LR(step-1), "decay must not increase at %d", step)
	}
	assert.Zero(t, s.LR(s.TotalSteps))
}

func TestLinearWarmupDecayNoWarmup(t *testing.T) {
	s, err := NewLinearWarmupDecay(1, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.75, 0.5, 0.25, 0}, []float64{s.LR(0), s.LR(1), s.LR(2), s.LR(3), s.LR(4)})
}

func TestLinearWarmupDecayValidation(t *testing.T) {
	_, err := NewLinearWarmupDecay(1, 0, 0)
	require.Error(t, err)
	_, err = NewLinearWarmupDecay(1, 10, 10)
	require.Error(t, err)
	_, err = NewLinearWarmupDecay(1, -1, 10)
	require.Error(t, err)
	_, err = NewLinearWarmupProportion(1, 1.5, 10)
	require.Error(t, err)

	s, err := NewLinearWarmupProportion(2e-5, 0.1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.WarmupSteps)
}

func TestPolynomialDecay(t *testing.T) {
	s, err := NewPolynomialDecay(1.0, 10, 0.0, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.LR(0), 1e-12)
	assert.InDelta(t, 0.5, s.LR(5), 1e-12)
	assert.InDelta(t, 0.0, s.LR(10), 1e-12)
	assert.InDelta(t, 0.0, s.LR(20), 1e-12, "clamped after decay steps")

	sq, err := NewPolynomialDecay(1.0, 10, 0.1, 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.9*0.25+0.1, sq.LR(5), 1e-12)

	_, err = NewPolynomialDecay(1, 0, 0, 1)
	require.Error(t, err)
}

func TestWarmUpDelegatesAfterCrossover(t *testing.T) {
	decay, err := NewPolynomialDecay(2e-4, 100, 0, 1)
	require.NoError(t, err)
	w, err := NewWarmUp(2e-4, decay, 10, 1)
	require.NoError(t, err)

	assert.InDelta(t, 1e-4, w.LR(5), 1e-15)
	assert.InDelta(t, decay.LR(10), w.LR(10), 1e-15)
	assert.InDelta(t, decay.LR(60), w.LR(60), 1e-15)

	quadratic, err := NewWarmUp(1, decay, 10, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, quadratic.LR(5), 1e-12)

	_, err = NewWarmUp(1, nil, 10, 1)
	require.Error(t, err)
	_, err = NewWarmUp(1, decay, 0, 1)
	require.Error(t, err)
}

func TestAdjustedPeakLR(t *testing.T) {
	adjusted, crossover, err := AdjustedPeakLR(1e-4, 100, 10, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.9e-4, crossover, 1e-15)
	assert.InDelta(t, 1e-4/0.9, adjusted, 1e-15)

	// The decay started from the adjusted rate passes through the requested
	// rate at the crossover.
	decay, err := NewPolynomialDecay(adjusted, 100, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1e-4, decay.LR(10), 1e-15)

	adjusted, _, err = AdjustedPeakLR(1e-4, 100, 0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1e-4, adjusted, 1e-15)

	_, _, err = AdjustedPeakLR(1e-4, 100, 100, 1)
	require.Error(t, err)
}

type recorder struct {
	rates []float64
}

func (r *recorder) SetLR(lr float64) {
	r.rates = append(r.rates, lr)
}

func TestScheduler(t *testing.T) {
	s, err := NewLinearWarmupDecay(1, 2, 4)
	require.NoError(t, err)
	rec := &recorder{}
	sch := NewScheduler(s, rec)
	assert.Equal(t, []float64{0}, rec.rates, "step-0 rate applied on construction")

	for range 4 {
		sch.Step()
	}
	assert.Equal(t, []float64{0, 0.5, 1, 0.5, 0}, rec.rates)
	assert.Equal(t, int64(4), sch.LastStep())
	assert.Zero(t, sch.LR())
	assert.Same(t, s, sch.Schedule())
}
