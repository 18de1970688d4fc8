package schedule

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnknownSchedule is returned by Unmarshal for an unregistered class name.
var ErrUnknownSchedule = errors.New("unknown schedule class")

// Class names used in serialized configs.
const (
	ClassLinearWarmupDecay = "LinearWarmupDecay"
	ClassPolynomialDecay   = "PolynomialDecay"
	ClassWarmUp            = "WarmUp"
	ClassConstant          = "Constant"
)

type envelope struct {
	ClassName string          `json:"class_name"`
	Config    json.RawMessage `json:"config"`
}

type warmUpConfig struct {
	InitialLR   float64         `json:"initial_learning_rate"`
	Decay       json.RawMessage `json:"decay_schedule_fn"`
	WarmupSteps int64           `json:"warmup_steps"`
	Power       float64         `json:"power"`
	Name        string          `json:"name,omitempty"`
}

// Marshal encodes s as {"class_name": ..., "config": {...}}.
// Nested schedules are encoded recursively.
func Marshal(s Schedule) ([]byte, error) {
	var (
		class string
		cfg   any
	)
	switch v := s.(type) {
	case *LinearWarmupDecay:
		class, cfg = ClassLinearWarmupDecay, v
	case *PolynomialDecay:
		class, cfg = ClassPolynomialDecay, v
	case Constant:
		class, cfg = ClassConstant, v
	case *WarmUp:
		decay, err := Marshal(v.Decay)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal decay schedule")
		}
		class = ClassWarmUp
		cfg = warmUpConfig{
			InitialLR:   v.InitialLR,
			Decay:       decay,
			WarmupSteps: v.WarmupSteps,
			Power:       v.Power,
			Name:        v.Name,
		}
	default:
		return nil, errors.Wrapf(ErrUnknownSchedule, "%T", s)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s", class)
	}
	return json.Marshal(envelope{ClassName: class, Config: raw})
}

// Unmarshal decodes a schedule produced by Marshal.
func Unmarshal(data []byte) (Schedule, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to parse schedule config")
	}

	switch env.ClassName {
	case ClassLinearWarmupDecay:
		var s LinearWarmupDecay
		if err := json.Unmarshal(env.Config, &s); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", env.ClassName)
		}
		return NewLinearWarmupDecay(s.PeakLR, s.WarmupSteps, s.TotalSteps)
	case ClassPolynomialDecay:
		var s PolynomialDecay
		if err := json.Unmarshal(env.Config, &s); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", env.ClassName)
		}
		return NewPolynomialDecay(s.InitialLR, s.DecaySteps, s.EndLR, s.Power)
	case ClassConstant:
		var s Constant
		if err := json.Unmarshal(env.Config, &s); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", env.ClassName)
		}
		return s, nil
	case ClassWarmUp:
		var cfg warmUpConfig
		if err := json.Unmarshal(env.Config, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", env.ClassName)
		}
		decay, err := Unmarshal(cfg.Decay)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse decay schedule")
		}
		w, err := NewWarmUp(cfg.InitialLR, decay, cfg.WarmupSteps, cfg.Power)
		if err != nil {
			return nil, err
		}
		w.Name = cfg.Name
		return w, nil
	default:
		return nil, errors.Wrapf(ErrUnknownSchedule, "%q", env.ClassName)
	}
}
