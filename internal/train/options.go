// Package train runs SQuAD fine-tuning: the epoch loop, per-epoch
// evaluation through the official script, run history and checkpoints.
package train

import (
	"io"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/squad"
)

// Options are the driver settings that come from the command line.
type Options struct {
	OutputDir        string
	TrainFile        string
	PredictFile      string
	TrainBatchSize   int
	PredictBatchSize int
	NumTrainEpochs   int

	EvalScript string // Script name, resolved next to PredictFile
	Python     string // Interpreter for EvalScript

	DisableProgressBar bool
	ProgressWriter     io.Writer `json:"-"` // Progress bar output (default: os.Stderr)

	// IsProf writes a CPU profile to OutputDir and skips evaluation.
	IsProf         bool
	SaveCheckpoint bool
	Seed           uint64

	Squad squad.Options
}

// DefaultOptions returns the reference driver settings.
func DefaultOptions() Options {
	return Options{
		TrainBatchSize:   32,
		PredictBatchSize: 8,
		NumTrainEpochs:   3,
		EvalScript:       "evaluate-v1.1.py",
		Python:           "python3",
		Squad:            squad.DefaultOptions(),
	}
}

// Validate checks the settings the loop depends on.
func (o Options) Validate() error {
	switch {
	case o.OutputDir == "":
		return errors.New("output dir is required")
	case o.TrainFile == "":
		return errors.New("train file is required")
	case o.PredictFile == "" && !o.IsProf:
		return errors.New("predict file is required")
	case o.TrainBatchSize <= 0:
		return errors.Errorf("train batch size must be positive, got %d", o.TrainBatchSize)
	case o.PredictBatchSize <= 0:
		return errors.Errorf("predict batch size must be positive, got %d", o.PredictBatchSize)
	case o.NumTrainEpochs < 0:
		return errors.Errorf("number of epochs must not be negative, got %d", o.NumTrainEpochs)
	}
	return nil
}
