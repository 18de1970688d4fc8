// Package nn implements the parameters, layers and losses of the QA model.
//
// Layers keep the activations of their last Forward call and implement an
// explicit Backward that accumulates into parameter gradients. They are not
// safe for concurrent use; one training step runs at a time.
package nn

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/parallel"
	"github.com/born-ml/squad/internal/tensor"
)

// RowParallelism controls how Linear and LayerNorm split their forward
// pass over rows.
var RowParallelism = parallel.DefaultConfig()

// Module is the base interface for all neural network components.
type Module interface {
	// Parameters returns all trainable parameters of this module,
	// including those of nested modules.
	Parameters() []*Parameter
}

// StateDict returns the module parameters keyed by name.
func StateDict(m Module) map[string]*tensor.Tensor {
	params := m.Parameters()
	sd := make(map[string]*tensor.Tensor, len(params))
	for _, p := range params {
		sd[p.Name()] = p.Tensor()
	}
	return sd
}

// LoadReport lists keys that did not line up during LoadStateDict.
type LoadReport struct {
	Missing    []string // Parameters with no entry in the state dict
	Unexpected []string // State dict entries with no matching parameter
}

// LoadStateDict copies values from sd into the module parameters.
//
// With strict set, any missing or unexpected key is an error. Shape
// mismatches are always an error.
func LoadStateDict(m Module, sd map[string]*tensor.Tensor, strict bool) (LoadReport, error) {
	var report LoadReport
	seen := make(map[string]bool, len(sd))
	for _, p := range m.Parameters() {
		src, ok := sd[p.Name()]
		if !ok {
			report.Missing = append(report.Missing, p.Name())
			continue
		}
		seen[p.Name()] = true
		if err := p.Tensor().CopyFrom(src); err != nil {
			return report, errors.Wrapf(err, "parameter %s", p.Name())
		}
	}
	for name := range sd {
		if !seen[name] {
			report.Unexpected = append(report.Unexpected, name)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unexpected)

	if strict && (len(report.Missing) > 0 || len(report.Unexpected) > 0) {
		return report, errors.Errorf("state dict mismatch: missing %v, unexpected %v", report.Missing, report.Unexpected)
	}
	return report, nil
}

// ZeroGrad clears the gradients of every parameter of m.
func ZeroGrad(m Module) {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// CountParameters returns the total number of scalar parameters.
func CountParameters(m Module) int {
	total := 0
	for _, p := range m.Parameters() {
		total += p.NumElements()
	}
	return total
}
