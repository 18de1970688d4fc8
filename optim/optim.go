// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/optim"
	"github.com/born-ml/squad/internal/schedule"
)

// Parameter is a named trainable tensor with its gradient.
type Parameter = nn.Parameter

// Optimizer interface defines the common interface for all optimizers.
type Optimizer = optim.Optimizer

// ErrNotImplemented is returned for unsupported optimizer types.
var ErrNotImplemented = optim.ErrNotImplemented

// Optimizer type names accepted by Create and New.
const (
	TypeAdam  = optim.TypeAdam
	TypeAdamW = optim.TypeAdamW
)

// AdamWeightDecay (Adam with name-selected decoupled weight decay)

// AdamWeightDecay represents Adam with decoupled weight decay.
type AdamWeightDecay = optim.AdamWeightDecay

// AdamWeightDecayConfig contains configuration for AdamWeightDecay.
type AdamWeightDecayConfig = optim.AdamWeightDecayConfig

// NewAdamWeightDecay creates the optimizer. Invalid name patterns are an
// error.
func NewAdamWeightDecay(params []*Parameter, config AdamWeightDecayConfig) (*AdamWeightDecay, error) {
	return optim.NewAdamWeightDecay(params, config)
}

// CreateConfig carries the hyperparameters Create forwards to the optimizer.
type CreateConfig = optim.CreateConfig

// Create builds an AdamWeightDecay with warm-up and linear decay.
func Create(params []*Parameter, initLR float64, numTrainSteps, numWarmupSteps int64,
	optimizerType string, cfg CreateConfig,
) (*AdamWeightDecay, error) {
	return optim.Create(params, initLR, numTrainSteps, numWarmupSteps, optimizerType, cfg)
}

// AdamW (Adam with per-group decoupled weight decay)

// AdamW represents the AdamW optimizer.
type AdamW = optim.AdamW

// AdamWConfig contains configuration for AdamW.
type AdamWConfig = optim.AdamWConfig

// ParamGroup is a set of parameters sharing a weight decay.
type ParamGroup = optim.ParamGroup

// Default name filters for GroupByNoDecay.
var (
	DefaultNoDecay = optim.DefaultNoDecay
	DefaultDropped = optim.DefaultDropped
)

// NewAdamW creates a new AdamW optimizer.
func NewAdamW(groups []ParamGroup, config AdamWConfig) *AdamW {
	return optim.NewAdamW(groups, config)
}

// GroupByNoDecay splits params into a decayed group and a group without
// weight decay, dropping parameters whose name contains any of dropped.
func GroupByNoDecay(params []*Parameter, dropped, noDecay []string, weightDecay float64) []ParamGroup {
	return optim.GroupByNoDecay(params, dropped, noDecay, weightDecay)
}

// New builds an optimizer by type name.
func New(optimizerType string, params []*Parameter, lr, weightDecay, eps float64,
	numTrainSteps, numWarmupSteps int64,
) (Optimizer, error) {
	return optim.New(optimizerType, params, lr, weightDecay, eps, numTrainSteps, numWarmupSteps)
}

// FromConfig rebuilds an optimizer from MarshalConfig output.
func FromConfig(data []byte, params []*Parameter) (Optimizer, error) {
	return optim.FromConfig(data, params)
}

// ClipGradNorm rescales gradients so their global L2 norm is at most
// maxNorm and returns the norm before clipping.
func ClipGradNorm(params []*Parameter, maxNorm float64) float64 {
	return optim.ClipGradNorm(params, maxNorm)
}

// Schedules

// Schedule maps a step to a learning rate.
type Schedule = schedule.Schedule

// LinearWarmupDecay warms up linearly then decays linearly to 0.
type LinearWarmupDecay = schedule.LinearWarmupDecay

// PolynomialDecay decays polynomially to an end rate.
type PolynomialDecay = schedule.PolynomialDecay

// WarmUp wraps a decay schedule with a polynomial warm-up.
type WarmUp = schedule.WarmUp

// Constant is a fixed learning rate.
type Constant = schedule.Constant

// Scheduler drives an optimizer's rate from a Schedule.
type Scheduler = schedule.Scheduler

// NewLinearWarmupDecay creates a linear warm-up and decay schedule.
func NewLinearWarmupDecay(peakLR float64, warmupSteps, totalSteps int64) (*LinearWarmupDecay, error) {
	return schedule.NewLinearWarmupDecay(peakLR, warmupSteps, totalSteps)
}

// NewLinearWarmupProportion warms up over a fraction of totalSteps.
func NewLinearWarmupProportion(peakLR, proportion float64, totalSteps int64) (*LinearWarmupDecay, error) {
	return schedule.NewLinearWarmupProportion(peakLR, proportion, totalSteps)
}

// NewPolynomialDecay creates a polynomial decay schedule.
func NewPolynomialDecay(initialLR float64, decaySteps int64, endLR, power float64) (*PolynomialDecay, error) {
	return schedule.NewPolynomialDecay(initialLR, decaySteps, endLR, power)
}

// NewWarmUp wraps decay with a warm-up of warmupSteps.
func NewWarmUp(initialLR float64, decay Schedule, warmupSteps int64, power float64) (*WarmUp, error) {
	return schedule.NewWarmUp(initialLR, decay, warmupSteps, power)
}

// NewScheduler binds s to opt and applies the step-0 rate.
func NewScheduler(s Schedule, opt Optimizer) *Scheduler {
	return schedule.NewScheduler(s, opt)
}

// MarshalSchedule encodes s as {"class_name": ..., "config": {...}}.
func MarshalSchedule(s Schedule) ([]byte, error) {
	return schedule.Marshal(s)
}

// UnmarshalSchedule decodes a schedule produced by MarshalSchedule.
func UnmarshalSchedule(data []byte) (Schedule, error) {
	return schedule.Unmarshal(data)
}
