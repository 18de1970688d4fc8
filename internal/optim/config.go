package optim

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/nn"
)

// Optimizer class names used in serialized configs.
const (
	ClassAdam            = "Adam"
	ClassAdamWeightDecay = "AdamWeightDecay"
	ClassAdamW           = "AdamW"
)

// FromConfig recreates an optimizer over params from the JSON produced by
// MarshalConfig. Optimizer state (moments, iterations) is not part of the
// config; restore it with LoadStateDict and SetIterations. Fields present in
// the config are kept as stored, so a learning rate that decayed to zero
// stays zero; absent fields take the constructor defaults.
func FromConfig(data []byte, params []*nn.Parameter) (Optimizer, error) {
	var head struct {
		ClassName string `json:"class_name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "failed to parse optimizer config")
	}
	switch head.ClassName {
	case ClassAdam:
		cfg := defaultAdamConfig()
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse Adam config")
		}
		return newAdam(params, cfg), nil
	case ClassAdamWeightDecay:
		return adamWeightDecayFromConfig(data, params)
	case ClassAdamW:
		return adamWFromConfig(data, params)
	default:
		return nil, errors.Wrapf(ErrNotImplemented, "optimizer class %q", head.ClassName)
	}
}
