// Package config holds the training hyperparameters that are not part of
// the command line.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the fine-tuning hyperparameters.
type Config struct {
	// LRBase is the learning rate for a batch of LRBatchDenom examples;
	// the effective rate scales linearly with the batch size.
	LRBase             float64 `yaml:"lr-base"`
	LRBatchDenom       float64 `yaml:"lr-batch-denom"`
	LRWarmupProportion float64 `yaml:"lr-warmup-proportion"`
	WeightDecay        float64 `yaml:"weight-decay"`
	OptimizerType      string  `yaml:"optimizer-type"` // "AdamW" or "adam"
	AdamEpsilon        float64 `yaml:"adam-epsilon"`
	DatasetNumWorkers  int     `yaml:"dataset-num-workers"`
	MaxGradNorm        float64 `yaml:"max-grad-norm"` // 0 disables clipping
}

// Default returns the reference fine-tuning configuration.
func Default() Config {
	return Config{
		LRBase:             3e-5,
		LRBatchDenom:       32,
		LRWarmupProportion: 0.1,
		WeightDecay:        0.01,
		OptimizerType:      "AdamW",
		AdamEpsilon:        1e-6,
		DatasetNumWorkers:  4,
		MaxGradNorm:        0,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read train config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse train config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid train config %s", path)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch {
	case c.LRBase <= 0:
		return errors.Errorf("lr-base must be positive, got %g", c.LRBase)
	case c.LRBatchDenom <= 0:
		return errors.Errorf("lr-batch-denom must be positive, got %g", c.LRBatchDenom)
	case c.LRWarmupProportion < 0 || c.LRWarmupProportion >= 1:
		return errors.Errorf("lr-warmup-proportion must be in [0, 1), got %g", c.LRWarmupProportion)
	case c.WeightDecay < 0:
		return errors.Errorf("weight-decay must not be negative, got %g", c.WeightDecay)
	case c.DatasetNumWorkers < 0:
		return errors.Errorf("dataset-num-workers must not be negative, got %d", c.DatasetNumWorkers)
	case c.MaxGradNorm < 0:
		return errors.Errorf("max-grad-norm must not be negative, got %g", c.MaxGradNorm)
	}
	return nil
}

// LearningRate returns the peak learning rate for batchSize.
func (c Config) LearningRate(batchSize int) float64 {
	return c.LRBase * float64(batchSize) / c.LRBatchDenom
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
