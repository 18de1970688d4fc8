package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "AdamW", cfg.OptimizerType)
	assert.InDelta(t, 3e-5, cfg.LearningRate(32), 1e-15)
	assert.InDelta(t, 6e-5, cfg.LearningRate(64), 1e-15)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lr-base: 5.0e-5\nmax-grad-norm: 1.0\noptimizer-type: adam\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 5e-5, cfg.LRBase, 1e-15)
	assert.InDelta(t, 1.0, cfg.MaxGradNorm, 0)
	assert.Equal(t, "adam", cfg.OptimizerType)
	assert.Equal(t, 4, cfg.DatasetNumWorkers, "unset keys keep defaults")
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	cfg := Default()
	cfg.WeightDecay = 0.02
	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("lr-warmup-proportion: 1.5\n"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(bad, []byte("lr-base: [1, 2]\n"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
}
