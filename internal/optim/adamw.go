package optim

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
)

// ParamGroup is a set of parameters sharing one weight decay coefficient.
type ParamGroup struct {
	Params      []*nn.Parameter
	WeightDecay float64
}

// DefaultNoDecay lists name substrings whose parameters are not decayed.
var DefaultNoDecay = []string{"bias", "LayerNorm.bias", "LayerNorm.weight"}

// DefaultDropped lists name substrings whose parameters are not optimized
// at all. The pooler is unused by the span head.
var DefaultDropped = []string{"pooler"}

// GroupByNoDecay splits params into a decayed group and a zero-decay group.
//
// Parameters whose name contains any of dropped are left out entirely.
// Of the rest, names containing any of noDecay go to the second group.
func GroupByNoDecay(params []*nn.Parameter, dropped, noDecay []string, weightDecay float64) []ParamGroup {
	decayed := ParamGroup{WeightDecay: weightDecay}
	plain := ParamGroup{WeightDecay: 0}
	for _, p := range params {
		if containsAny(p.Name(), dropped) {
			continue
		}
		if containsAny(p.Name(), noDecay) {
			plain.Params = append(plain.Params, p)
		} else {
			decayed.Params = append(decayed.Params, p)
		}
	}
	return []ParamGroup{decayed, plain}
}

func containsAny(name string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// AdamW implements Adam with decoupled weight decay over parameter groups.
//
//	param -= lr * weight_decay * param
//	param -= lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Decoupled Weight Decay Regularization" (Loshchilov & Hutter, 2019)
type AdamW struct {
	groups []ParamGroup
	config AdamWConfig
	state  *adamState
}

// AdamWConfig holds configuration for AdamW optimizer.
type AdamWConfig struct {
	LR      float64    `json:"lr"`      // default: 0.001
	Betas   [2]float64 `json:"betas"`   // default: [0.9, 0.999]
	Eps     float64    `json:"eps"`     // default: 1e-8
	AMSGrad bool       `json:"amsgrad"`
}

func defaultAdamWConfig() AdamWConfig {
	return AdamWConfig{LR: 0.001, Betas: [2]float64{0.9, 0.999}, Eps: 1e-8}
}

// NewAdamW creates an AdamW optimizer over groups, filling zero config
// fields with defaults.
func NewAdamW(groups []ParamGroup, config AdamWConfig) *AdamW {
	def := defaultAdamWConfig()
	if config.LR == 0 {
		config.LR = def.LR
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = def.Betas[0]
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = def.Betas[1]
	}
	if config.Eps == 0 {
		config.Eps = def.Eps
	}
	return newAdamW(groups, config)
}

func newAdamW(groups []ParamGroup, config AdamWConfig) *AdamW {
	return &AdamW{
		groups: groups,
		config: config,
		state:  newAdamState(config.Betas[0], config.Betas[1], config.Eps, config.AMSGrad),
	}
}

// Groups returns the parameter groups.
func (a *AdamW) Groups() []ParamGroup { return a.groups }

// Step performs a single optimization step.
func (a *AdamW) Step() error {
	a.state.begin()
	lr := a.config.LR
	for _, g := range a.groups {
		for _, p := range g.Params {
			if p.Grad() == nil {
				continue
			}
			if g.WeightDecay != 0 {
				decay(p, lr*g.WeightDecay)
			}
			if err := a.state.update(p, lr, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *AdamW) params() []*nn.Parameter {
	var out []*nn.Parameter
	for _, g := range a.groups {
		out = append(out, g.Params...)
	}
	return out
}

// ZeroGrad clears gradients for all parameters.
func (a *AdamW) ZeroGrad() { zeroGrad(a.params()) }

// GetLR returns the current learning rate.
func (a *AdamW) GetLR() float64 { return a.config.LR }

// SetLR updates the learning rate.
func (a *AdamW) SetLR(lr float64) { a.config.LR = lr }

// Iterations returns the number of completed steps.
func (a *AdamW) Iterations() int64 { return a.state.t }

// SetIterations implements Optimizer.
func (a *AdamW) SetIterations(n int64) { a.state.t = n }

// StateDict implements Optimizer.
func (a *AdamW) StateDict() map[string]*tensor.Tensor { return a.state.stateDict() }

// LoadStateDict implements Optimizer.
func (a *AdamW) LoadStateDict(sd map[string]*tensor.Tensor) error {
	return a.state.loadStateDict(sd, a.params())
}

type adamWJSON struct {
	ClassName string `json:"class_name"`
	AdamWConfig
	WeightDecays []float64 `json:"weight_decays"`
}

// MarshalConfig implements Optimizer. Group membership is not stored;
// FromConfig rebuilds it with GroupByNoDecay.
func (a *AdamW) MarshalConfig() ([]byte, error) {
	decays := make([]float64, len(a.groups))
	for i, g := range a.groups {
		decays[i] = g.WeightDecay
	}
	return json.Marshal(adamWJSON{ClassName: ClassAdamW, AdamWConfig: a.config, WeightDecays: decays})
}

func adamWFromConfig(data []byte, params []*nn.Parameter) (*AdamW, error) {
	cfg := adamWJSON{AdamWConfig: defaultAdamWConfig()}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse AdamW config")
	}
	var wd float64
	if len(cfg.WeightDecays) > 0 {
		wd = cfg.WeightDecays[0]
	}
	return newAdamW(GroupByNoDecay(params, DefaultDropped, DefaultNoDecay, wd), cfg.AdamWConfig), nil
}
