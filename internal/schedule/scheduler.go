package schedule

// RateSetter is anything whose learning rate can be updated.
type RateSetter interface {
	SetLR(lr float64)
}

// Scheduler drives a RateSetter from a Schedule, one call to Step per
// optimization step.
//
// Construction applies LR(0) immediately, so the first optimizer step uses
// the step-0 rate.
type Scheduler struct {
	schedule Schedule
	target   RateSetter
	step     int64
	lr       float64
}

// NewScheduler binds s to target and applies the step-0 rate.
func NewScheduler(s Schedule, target RateSetter) *Scheduler {
	sch := &Scheduler{schedule: s, target: target}
	sch.apply()
	return sch
}

// Step advances the step counter and applies the new rate.
func (s *Scheduler) Step() {
	s.step++
	s.apply()
}

// LastStep returns the number of completed steps.
func (s *Scheduler) LastStep() int64 {
	return s.step
}

// LR returns the rate currently applied.
func (s *Scheduler) LR() float64 {
	return s.lr
}

// Schedule returns the underlying schedule.
func (s *Scheduler) Schedule() Schedule {
	return s.schedule
}

func (s *Scheduler) apply() {
	s.lr = s.schedule.LR(s.step)
	s.target.SetLR(s.lr)
}
