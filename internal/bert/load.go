package bert

import (
	"math/rand/v2"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/tensor"
)

// Files expected in a pretrained model directory.
const (
	ConfigFile  = "config.json"
	WeightsFile = "model.safetensors"
)

// FromPretrained loads config.json and model.safetensors from dir.
// Weights missing from the file (the span head, typically) keep their
// random initialization.
func FromPretrained(dir string, rng *rand.Rand) (*QuestionAnswering, error) {
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	m, err := New(cfg, rng)
	if err != nil {
		return nil, err
	}
	if _, err := m.LoadWeights(filepath.Join(dir, WeightsFile), false); err != nil {
		return nil, errors.Wrapf(err, "failed to load pretrained weights from %s", dir)
	}
	return m, nil
}

// FromCheckpoint builds a model from configPath and loads weights from
// checkpointPath non-strictly. The vocabulary is padded to a multiple of 8
// to match checkpoints produced by mixed-precision pretraining.
func FromCheckpoint(configPath, checkpointPath string, rng *rand.Rand) (*QuestionAnswering, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.PadVocab(8)
	m, err := New(cfg, rng)
	if err != nil {
		return nil, err
	}
	if _, err := m.LoadWeights(checkpointPath, false); err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint %s", checkpointPath)
	}
	return m, nil
}

// LoadWeights loads a weights file or training checkpoint into m, mapping
// tensor names with MapName. A "model." wrapper prefix is removed.
func (m *QuestionAnswering) LoadWeights(path string, strict bool) (nn.LoadReport, error) {
	raw, err := nn.ReadWeights(path)
	if err != nil {
		return nn.LoadReport{}, err
	}
	sd := make(map[string]*tensor.Tensor, len(raw))
	for name, t := range raw {
		sd[MapName(name)] = t
	}

	report, err := nn.LoadStateDict(m, sd, strict)
	if err != nil {
		return report, err
	}
	if len(report.Missing) > 0 {
		klog.Infof("Weights not initialized from %s: %v", path, report.Missing)
	}
	if len(report.Unexpected) > 0 {
		klog.Infof("%d weights from %s not used", len(report.Unexpected), path)
		klog.V(2).Infof("Unused weights: %v", report.Unexpected)
	}
	return report, nil
}

// LogParameterStats logs the mean and variance of every parameter.
func LogParameterStats(m nn.Module) {
	if !klog.V(1).Enabled() {
		return
	}
	for _, p := range m.Parameters() {
		t := p.Tensor()
		klog.Infof("%s: %.6f, %.6f", p.Name(), t.Mean(), t.Var())
	}
}
