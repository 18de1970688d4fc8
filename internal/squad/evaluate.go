package squad

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scores are the metrics reported by the evaluation script.
type Scores struct {
	ExactMatch float64
	F1         float64
}

// Evaluator runs the official SQuAD evaluation script.
type Evaluator struct {
	Python string // Interpreter, default "python3"
	Script string // Path of the evaluation script
}

// NewEvaluator locates script next to predictFile, where the SQuAD
// distribution ships it.
func NewEvaluator(python, predictFile, script string) *Evaluator {
	if python == "" {
		python = "python3"
	}
	return &Evaluator{Python: python, Script: filepath.Join(filepath.Dir(predictFile), script)}
}

// Evaluate scores predictionsFile against datasetFile.
func (e *Evaluator) Evaluate(ctx context.Context, datasetFile, predictionsFile string) (Scores, error) {
	klog.Infof("script is %s", e.Script)

	//nolint:gosec // G204: interpreter and script come from the command line
	cmd := exec.CommandContext(ctx, e.Python, e.Script, datasetFile, predictionsFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return Scores{}, errors.Wrapf(err, "evaluation script failed: %s", strings.TrimSpace(stderr.String()))
	}
	return ParseScores(string(out))
}

// ParseScores extracts exact match and F1 from the script output, a JSON
// object whose first two values are the exact match and F1 scores:
//
//	{"exact_match": 81.2, "f1": 88.5}
//
// The output is split on ':' and then ',' rather than decoded, so the v2.0
// script's longer object and byte-string reprs parse the same way.
func ParseScores(out string) (Scores, error) {
	parts := strings.Split(strings.TrimSpace(out), ":")
	if len(parts) < 3 {
		return Scores{}, errors.Errorf("unexpected evaluation output %q", out)
	}
	value := func(part string) (float64, error) {
		field := strings.TrimLeft(strings.Split(part, ",")[0], " \t'\"")
		if end := strings.IndexFunc(field, func(r rune) bool {
			return !strings.ContainsRune("0123456789.eE+-", r)
		}); end >= 0 {
			field = field[:end]
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "unexpected evaluation output %q", out)
		}
		return v, nil
	}

	em, err := value(parts[1])
	if err != nil {
		return Scores{}, err
	}
	f1, err := value(parts[2])
	if err != nil {
		return Scores{}, err
	}
	return Scores{ExactMatch: em, F1: f1}, nil
}
