package nn

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/serialization"
	"github.com/born-ml/squad/internal/tensor"
)

// Key prefixes used inside checkpoint files.
const (
	ModelPrefix     = "model."
	OptimizerPrefix = "optimizer."
)

// Metadata keys written by Checkpoint.Save.
const (
	metaEpoch           = "epoch"
	metaStep            = "step"
	metaLoss            = "loss"
	metaCreatedAt       = "created_at"
	metaOptimizerConfig = "optimizer_config"
	metaOptimizerIters  = "optimizer_iterations"
	metaUserPrefix      = "meta."
)

// OptimizerState represents an optimizer that can save/load its state.
//
// Declared here to avoid an import cycle with the optim package.
type OptimizerState interface {
	// StateDict returns the optimizer buffers (moments).
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores buffers produced by StateDict.
	LoadStateDict(stateDict map[string]*tensor.Tensor) error

	// Iterations and SetIterations carry the step counter, which is
	// stored in the header metadata rather than as a float tensor.
	Iterations() int64
	SetIterations(n int64)

	// MarshalConfig returns the JSON hyperparameter config.
	MarshalConfig() ([]byte, error)
}

// Checkpoint represents a complete training state snapshot.
//
// Example:
//
//	ckpt := &nn.Checkpoint{Model: model, Optimizer: opt, Epoch: 1, Step: 2766}
//	err := ckpt.Save(filepath.Join(outputDir, "checkpoint.safetensors"))
type Checkpoint struct {
	Model     Module
	Optimizer OptimizerState // may be nil
	Epoch     int
	Step      int64
	Loss      float64
	Metadata  map[string]string
	CreatedAt time.Time

	// OptimizerConfig is filled in by LoadCheckpoint.
	OptimizerConfig []byte
}

// Save writes the checkpoint as a SafeTensors file.
//
// Model parameters are stored under "model.<name>", optimizer buffers
// under "optimizer.<key>"; training counters and the optimizer config go
// into the header metadata.
func (c *Checkpoint) Save(path string) error {
	entries := make(map[string]serialization.Entry)
	for name, t := range StateDict(c.Model) {
		entries[ModelPrefix+name] = serialization.Float32Entry(t)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	meta := map[string]string{
		metaEpoch:     strconv.Itoa(c.Epoch),
		metaStep:      strconv.FormatInt(c.Step, 10),
		metaLoss:      strconv.FormatFloat(c.Loss, 'g', -1, 64),
		metaCreatedAt: createdAt.Format(time.RFC3339),
	}
	for k, v := range c.Metadata {
		meta[metaUserPrefix+k] = v
	}

	if c.Optimizer != nil {
		for name, t := range c.Optimizer.StateDict() {
			entries[OptimizerPrefix+name] = serialization.Float32Entry(t)
		}
		cfg, err := c.Optimizer.MarshalConfig()
		if err != nil {
			return errors.Wrap(err, "failed to marshal optimizer config")
		}
		meta[metaOptimizerConfig] = string(cfg)
		meta[metaOptimizerIters] = strconv.FormatInt(c.Optimizer.Iterations(), 10)
	}

	if err := serialization.Write(path, entries, meta); err != nil {
		return errors.Wrap(err, "failed to write checkpoint")
	}
	return nil
}

// LoadCheckpoint restores model (strictly) and optimizer state from path.
// optimizer may be nil, in which case only the model is restored.
func LoadCheckpoint(path string, model Module, optimizer OptimizerState) (*Checkpoint, error) {
	r, err := serialization.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	modelSD, optimSD, err := readPrefixed(r)
	if err != nil {
		return nil, err
	}
	if _, err := LoadStateDict(model, modelSD, true); err != nil {
		return nil, errors.Wrap(err, "failed to load model state")
	}
	if optimizer != nil {
		if err := optimizer.LoadStateDict(optimSD); err != nil {
			return nil, errors.Wrap(err, "failed to load optimizer state")
		}
	}

	meta := r.Metadata()
	if optimizer != nil {
		iters, err := strconv.ParseInt(meta[metaOptimizerIters], 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid optimizer iterations in checkpoint metadata")
		}
		optimizer.SetIterations(iters)
	}
	ckpt := &Checkpoint{
		Model:     model,
		Optimizer: optimizer,
		Metadata:  make(map[string]string),
	}
	if ckpt.Epoch, err = strconv.Atoi(meta[metaEpoch]); err != nil {
		return nil, errors.Wrap(err, "invalid epoch in checkpoint metadata")
	}
	if ckpt.Step, err = strconv.ParseInt(meta[metaStep], 10, 64); err != nil {
		return nil, errors.Wrap(err, "invalid step in checkpoint metadata")
	}
	if ckpt.Loss, err = strconv.ParseFloat(meta[metaLoss], 64); err != nil {
		return nil, errors.Wrap(err, "invalid loss in checkpoint metadata")
	}
	if ckpt.CreatedAt, err = time.Parse(time.RFC3339, meta[metaCreatedAt]); err != nil {
		return nil, errors.Wrap(err, "invalid created_at in checkpoint metadata")
	}
	if cfg, ok := meta[metaOptimizerConfig]; ok {
		if !json.Valid([]byte(cfg)) {
			return nil, errors.New("optimizer config in checkpoint metadata is not valid JSON")
		}
		ckpt.OptimizerConfig = []byte(cfg)
	}
	for k, v := range meta {
		if name, ok := strings.CutPrefix(k, metaUserPrefix); ok {
			ckpt.Metadata[name] = v
		}
	}
	return ckpt, nil
}

// LoadWeights loads model parameters from a SafeTensors weights file.
//
// Both plain weight files and checkpoints written by Checkpoint.Save are
// accepted: when any key carries the "model." prefix only those entries
// are used, with the prefix removed.
func LoadWeights(path string, model Module, strict bool) (LoadReport, error) {
	sd, err := ReadWeights(path)
	if err != nil {
		return LoadReport{}, err
	}
	return LoadStateDict(model, sd, strict)
}

// ReadWeights reads the model state dict of a weights file or checkpoint,
// removing the "model." prefix when present.
func ReadWeights(path string) (map[string]*tensor.Tensor, error) {
	r, err := serialization.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sd, _, err := readPrefixed(r)
	return sd, err
}

// readPrefixed splits a file into model and optimizer state dicts.
func readPrefixed(r *serialization.Reader) (map[string]*tensor.Tensor, map[string]*tensor.Tensor, error) {
	names := r.Names()
	wrapped := false
	for _, name := range names {
		if strings.HasPrefix(name, ModelPrefix) {
			wrapped = true
			break
		}
	}

	modelSD := make(map[string]*tensor.Tensor)
	optimSD := make(map[string]*tensor.Tensor)
	for _, name := range names {
		key := name
		target := modelSD
		switch {
		case wrapped && strings.HasPrefix(name, ModelPrefix):
			key = strings.TrimPrefix(name, ModelPrefix)
		case wrapped && strings.HasPrefix(name, OptimizerPrefix):
			key = strings.TrimPrefix(name, OptimizerPrefix)
			target = optimSD
		case wrapped:
			continue
		}
		t, err := r.Float32(name)
		if err != nil {
			return nil, nil, err
		}
		target[key] = t
	}
	return modelSD, optimSD, nil
}
