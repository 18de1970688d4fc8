package optim

import (
	"encoding/json"
	"regexp"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/schedule"
	"github.com/born-ml/squad/internal/tensor"
)

// AdamWeightDecay is Adam with decoupled L2 weight decay.
//
// Adding the square of the weights to the loss interacts with Adam's m and
// v statistics. Instead, each eligible parameter is decayed directly before
// the Adam update:
//
//	param -= lr * weight_decay_rate * param
//
// Eligibility is decided by UseWeightDecay from regular expressions matched
// against parameter names. The learning rate comes from a Schedule
// evaluated at the optimizer's iteration counter.
type AdamWeightDecay struct {
	params   []*nn.Parameter
	config   AdamWeightDecayConfig
	schedule schedule.Schedule
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
	state    *adamState
}

// AdamWeightDecayConfig holds configuration for AdamWeightDecay.
type AdamWeightDecayConfig struct {
	// Schedule provides the learning rate per step. When nil, LR is used
	// as a constant.
	Schedule schedule.Schedule
	LR       float64 // Constant learning rate (default: 0.001)

	Beta1   float64 // default: 0.9
	Beta2   float64 // default: 0.999
	Epsilon float64 // default: 1e-7
	AMSGrad bool

	WeightDecayRate float64
	// IncludeInWeightDecay patterns force decay on and take precedence
	// over ExcludeFromWeightDecay.
	IncludeInWeightDecay   []string
	ExcludeFromWeightDecay []string

	Name string // default: "AdamWeightDecay"
}

// NewAdamWeightDecay creates the optimizer. Invalid regular expressions
// are reported as errors.
func NewAdamWeightDecay(params []*nn.Parameter, config AdamWeightDecayConfig) (*AdamWeightDecay, error) {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-7
	}
	if config.Name == "" {
		config.Name = ClassAdamWeightDecay
	}

	include, err := compilePatterns(config.IncludeInWeightDecay)
	if err != nil {
		return nil, errors.Wrap(err, "invalid include_in_weight_decay pattern")
	}
	exclude, err := compilePatterns(config.ExcludeFromWeightDecay)
	if err != nil {
		return nil, errors.Wrap(err, "invalid exclude_from_weight_decay pattern")
	}

	sched := config.Schedule
	if sched == nil {
		sched = schedule.Constant{Value: config.LR}
	}
	return &AdamWeightDecay{
		params:   params,
		config:   config,
		schedule: sched,
		include:  include,
		exclude:  exclude,
		state:    newAdamState(config.Beta1, config.Beta2, config.Epsilon, config.AMSGrad),
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// UseWeightDecay reports whether weight decay applies to paramName.
//
// A zero rate disables decay everywhere. Otherwise an include match wins,
// then an exclude match disables decay, and anything else is decayed.
func (a *AdamWeightDecay) UseWeightDecay(paramName string) bool {
	if a.config.WeightDecayRate == 0 {
		return false
	}
	for _, re := range a.include {
		if re.MatchString(paramName) {
			return true
		}
	}
	for _, re := range a.exclude {
		if re.MatchString(paramName) {
			return false
		}
	}
	return true
}

// Step decays eligible parameters and then applies the Adam update, using
// the learning rate scheduled for the current iteration.
func (a *AdamWeightDecay) Step() error {
	lr := a.GetLR()
	a.state.begin()
	for _, p := range a.params {
		if p.Grad() == nil {
			continue
		}
		if a.UseWeightDecay(p.Name()) {
			decay(p, lr*a.config.WeightDecayRate)
		}
		if err := a.state.update(p, lr, true); err != nil {
			return err
		}
	}
	return nil
}

// decay applies param -= coeff * param.
func decay(p *nn.Parameter, coeff float64) {
	c := float32(coeff)
	data := p.Tensor().Data()
	for i, v := range data {
		data[i] = v - c*v
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *AdamWeightDecay) ZeroGrad() { zeroGrad(a.params) }

// GetLR returns the rate scheduled for the next step.
func (a *AdamWeightDecay) GetLR() float64 { return a.schedule.LR(a.state.t) }

// SetLR replaces the schedule with a constant rate.
func (a *AdamWeightDecay) SetLR(lr float64) {
	a.config.LR = lr
	a.config.Schedule = nil
	a.schedule = schedule.Constant{Value: lr}
}

// Iterations returns the number of completed steps.
func (a *AdamWeightDecay) Iterations() int64 { return a.state.t }

// SetIterations implements Optimizer. The schedule position follows the
// counter.
func (a *AdamWeightDecay) SetIterations(n int64) { a.state.t = n }

// Schedule returns the learning-rate schedule.
func (a *AdamWeightDecay) Schedule() schedule.Schedule { return a.schedule }

// StateDict implements Optimizer.
func (a *AdamWeightDecay) StateDict() map[string]*tensor.Tensor { return a.state.stateDict() }

// LoadStateDict implements Optimizer.
func (a *AdamWeightDecay) LoadStateDict(sd map[string]*tensor.Tensor) error {
	return a.state.loadStateDict(sd, a.params)
}

// adamWeightDecayJSON is the serialized form of AdamWeightDecayConfig.
type adamWeightDecayJSON struct {
	ClassName              string          `json:"class_name"`
	Name                   string          `json:"name"`
	LearningRate           json.RawMessage `json:"learning_rate"`
	Beta1                  float64         `json:"beta_1"`
	Beta2                  float64         `json:"beta_2"`
	Epsilon                float64         `json:"epsilon"`
	AMSGrad                bool            `json:"amsgrad"`
	WeightDecayRate        float64         `json:"weight_decay_rate"`
	IncludeInWeightDecay   []string        `json:"include_in_weight_decay,omitempty"`
	ExcludeFromWeightDecay []string        `json:"exclude_from_weight_decay,omitempty"`
}

// MarshalConfig implements Optimizer. The learning rate is stored as a
// nested schedule config.
func (a *AdamWeightDecay) MarshalConfig() ([]byte, error) {
	lr, err := schedule.Marshal(a.schedule)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal learning rate schedule")
	}
	return json.Marshal(adamWeightDecayJSON{
		ClassName:              ClassAdamWeightDecay,
		Name:                   a.config.Name,
		LearningRate:           lr,
		Beta1:                  a.config.Beta1,
		Beta2:                  a.config.Beta2,
		Epsilon:                a.config.Epsilon,
		AMSGrad:                a.config.AMSGrad,
		WeightDecayRate:        a.config.WeightDecayRate,
		IncludeInWeightDecay:   a.config.IncludeInWeightDecay,
		ExcludeFromWeightDecay: a.config.ExcludeFromWeightDecay,
	})
}

func adamWeightDecayFromConfig(data []byte, params []*nn.Parameter) (*AdamWeightDecay, error) {
	var cfg adamWeightDecayJSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse AdamWeightDecay config")
	}
	sched, err := schedule.Unmarshal(cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	return NewAdamWeightDecay(params, AdamWeightDecayConfig{
		Schedule:               sched,
		Beta1:                  cfg.Beta1,
		Beta2:                  cfg.Beta2,
		Epsilon:                cfg.Epsilon,
		AMSGrad:                cfg.AMSGrad,
		WeightDecayRate:        cfg.WeightDecayRate,
		IncludeInWeightDecay:   cfg.IncludeInWeightDecay,
		ExcludeFromWeightDecay: cfg.ExcludeFromWeightDecay,
		Name:                   cfg.Name,
	})
}
