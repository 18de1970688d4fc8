package optim

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
)

// State dict key prefixes.
const (
	stateM    = "m."
	stateV    = "v."
	stateVMax = "vmax."
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*nn.Parameter
	config AdamConfig
	state  *adamState
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR      float64    `json:"lr"`      // Learning rate (default: 0.001)
	Betas   [2]float64 `json:"betas"`   // Coefficients for running averages (default: [0.9, 0.999])
	Eps     float64    `json:"eps"`     // Term for numerical stability (default: 1e-8)
	AMSGrad bool       `json:"amsgrad"` // Use the running maximum of v_hat
}

func defaultAdamConfig() AdamConfig {
	return AdamConfig{LR: 0.001, Betas: [2]float64{0.9, 0.999}, Eps: 1e-8}
}

func (c *AdamConfig) setDefaults() {
	def := defaultAdamConfig()
	if c.LR == 0 {
		c.LR = def.LR
	}
	if c.Betas[0] == 0 {
		c.Betas[0] = def.Betas[0]
	}
	if c.Betas[1] == 0 {
		c.Betas[1] = def.Betas[1]
	}
	if c.Eps == 0 {
		c.Eps = def.Eps
	}
}

// NewAdam creates a new Adam optimizer, filling zero config fields with
// defaults.
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	config.setDefaults()
	return newAdam(params, config)
}

// newAdam uses config as given; a zero LR stays zero.
func newAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	return &Adam{
		params: params,
		config: config,
		state:  newAdamState(config.Betas[0], config.Betas[1], config.Eps, config.AMSGrad),
	}
}

// Step performs a single optimization step.
func (a *Adam) Step() error {
	a.state.begin()
	for _, p := range a.params {
		if p.Grad() == nil {
			continue
		}
		if err := a.state.update(p, a.config.LR, false); err != nil {
			return err
		}
	}
	return nil
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() { zeroGrad(a.params) }

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float64 { return a.config.LR }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.config.LR = lr }

// Iterations returns the number of completed steps.
func (a *Adam) Iterations() int64 { return a.state.t }

// SetIterations implements Optimizer.
func (a *Adam) SetIterations(n int64) { a.state.t = n }

// StateDict implements Optimizer.
func (a *Adam) StateDict() map[string]*tensor.Tensor { return a.state.stateDict() }

// LoadStateDict implements Optimizer.
func (a *Adam) LoadStateDict(sd map[string]*tensor.Tensor) error {
	return a.state.loadStateDict(sd, a.params)
}

// MarshalConfig implements Optimizer.
func (a *Adam) MarshalConfig() ([]byte, error) {
	return json.Marshal(struct {
		ClassName string `json:"class_name"`
		AdamConfig
	}{ClassAdam, a.config})
}

// adamState holds the moment buffers shared by all Adam variants, keyed by
// parameter name so they survive a checkpoint round trip.
type adamState struct {
	beta1, beta2 float64
	eps          float64
	amsgrad      bool

	t    int64
	bc1  float64 // 1 - beta1^t for the current step
	bc2  float64 // 1 - beta2^t for the current step
	m    map[string]*tensor.Tensor
	v    map[string]*tensor.Tensor
	vMax map[string]*tensor.Tensor
}

func newAdamState(beta1, beta2, eps float64, amsgrad bool) *adamState {
	return &adamState{
		beta1:   beta1,
		beta2:   beta2,
		eps:     eps,
		amsgrad: amsgrad,
		m:       make(map[string]*tensor.Tensor),
		v:       make(map[string]*tensor.Tensor),
		vMax:    make(map[string]*tensor.Tensor),
	}
}

// begin increments the timestep and computes bias correction factors.
func (s *adamState) begin() {
	s.t++
	s.bc1 = 1 - math.Pow(s.beta1, float64(s.t))
	s.bc2 = 1 - math.Pow(s.beta2, float64(s.t))
}

func (s *adamState) buffer(buffers map[string]*tensor.Tensor, p *nn.Parameter) *tensor.Tensor {
	b, ok := buffers[p.Name()]
	if !ok {
		b = tensor.Zeros(p.Tensor().Shape())
		buffers[p.Name()] = b
	}
	return b
}

// update applies the moment update to one parameter.
//
// With epsilonHat set, epsilon is added to sqrt(v_t) before bias
// correction is folded into the step size (the TensorFlow formulation):
//
//	lr_t = lr * sqrt(1 - beta2^t) / (1 - beta1^t)
//	param -= lr_t * m_t / (sqrt(v_t) + eps)
func (s *adamState) update(p *nn.Parameter, lr float64, epsilonHat bool) error {
	grad := p.Grad()
	if !grad.Shape().Equal(p.Tensor().Shape()) {
		return errors.Errorf("gradient shape %v does not match parameter %s shape %v",
			grad.Shape(), p.Name(), p.Tensor().Shape())
	}

	gradData := grad.Data()
	mData := s.buffer(s.m, p).Data()
	vData := s.buffer(s.v, p).Data()
	var vMaxData []float32
	if s.amsgrad {
		vMaxData = s.buffer(s.vMax, p).Data()
	}
	paramData := p.Tensor().Data()

	beta1, beta2 := float32(s.beta1), float32(s.beta2)
	eps := float32(s.eps)
	bc1, bc2 := float32(s.bc1), float32(s.bc2)
	lrT := float32(lr * math.Sqrt(s.bc2) / s.bc1)
	lr32 := float32(lr)

	for i := range paramData {
		g := gradData[i]
		mData[i] = beta1*mData[i] + (1-beta1)*g
		vData[i] = beta2*vData[i] + (1-beta2)*g*g

		v := vData[i]
		if s.amsgrad {
			vMaxData[i] = max(vMaxData[i], v)
			v = vMaxData[i]
		}

		if epsilonHat {
			paramData[i] -= lrT * mData[i] / (float32(math.Sqrt(float64(v))) + eps)
			continue
		}
		mHat := mData[i] / bc1
		vHat := v / bc2
		paramData[i] -= lr32 * mHat / (float32(math.Sqrt(float64(vHat))) + eps)
	}
	return nil
}

func (s *adamState) stateDict() map[string]*tensor.Tensor {
	sd := make(map[string]*tensor.Tensor, len(s.m)+len(s.v)+len(s.vMax))
	for name, b := range s.m {
		sd[stateM+name] = b
	}
	for name, b := range s.v {
		sd[stateV+name] = b
	}
	for name, b := range s.vMax {
		sd[stateVMax+name] = b
	}
	return sd
}

func (s *adamState) loadStateDict(sd map[string]*tensor.Tensor, params []*nn.Parameter) error {
	shapes := make(map[string]tensor.Shape, len(params))
	for _, p := range params {
		shapes[p.Name()] = p.Tensor().Shape()
	}

	for key, b := range sd {
		var (
			name    string
			buffers map[string]*tensor.Tensor
		)
		switch {
		case strings.HasPrefix(key, stateM):
			name, buffers = strings.TrimPrefix(key, stateM), s.m
		case strings.HasPrefix(key, stateVMax):
			name, buffers = strings.TrimPrefix(key, stateVMax), s.vMax
		case strings.HasPrefix(key, stateV):
			name, buffers = strings.TrimPrefix(key, stateV), s.v
		default:
			return errors.Errorf("unexpected optimizer state key %q", key)
		}
		shape, ok := shapes[name]
		if !ok {
			return errors.Errorf("optimizer state for unknown parameter %q", name)
		}
		if !shape.Equal(b.Shape()) {
			return errors.Errorf("optimizer state %q has shape %v, parameter has %v", key, b.Shape(), shape)
		}
		buffers[name] = b.Clone()
	}
	return nil
}
