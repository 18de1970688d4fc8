package train

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/born-ml/squad/internal/bert"
	"github.com/born-ml/squad/internal/config"
	"github.com/born-ml/squad/internal/data"
	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/optim"
	"github.com/born-ml/squad/internal/schedule"
	"github.com/born-ml/squad/internal/squad"
	"github.com/born-ml/squad/internal/store"
)

// ProfileFile is the CPU profile written under the output dir with IsProf.
const ProfileFile = "cpu.pprof"

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch     int
	LR        float64 // Rate at the start of the epoch
	Loss      float64 // Loss of the last step
	BatchTime time.Duration
	Scores    *squad.Scores // nil when evaluation was skipped
}

// Trainer fine-tunes a QA model on SQuAD features.
//
// Example:
//
//	tr, err := train.New(model, trainSet, predictData, cfg, opts, db)
//	if err != nil {
//	    return err
//	}
//	results, err := tr.Run(ctx)
type Trainer struct {
	model *bert.QuestionAnswering
	opt   optim.Optimizer
	sched *schedule.Scheduler // nil when the optimizer owns its schedule

	train     *data.Loader
	predict   *squad.PredictData
	eval      *data.Loader
	evaluator *squad.Evaluator

	runs *store.DB
	run  *store.Run

	cfg  config.Config
	opts Options

	stepsPerEpoch int64
	totalSteps    int64
}

// New prepares the optimizer, learning-rate schedule and data loaders.
//
// predict may be nil only when opts.IsProf is set. runs may be nil, in
// which case no run history is kept.
func New(model *bert.QuestionAnswering, trainSet *data.TensorDataset, predict *squad.PredictData,
	cfg config.Config, opts Options, runs *store.DB,
) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !trainSet.HasPositions() {
		return nil, errors.New("train set has no answer positions")
	}
	if predict == nil && !opts.IsProf {
		return nil, errors.New("predict data is required unless profiling")
	}

	t := &Trainer{model: model, predict: predict, cfg: cfg, opts: opts, runs: runs}
	t.stepsPerEpoch = int64(trainSet.Len() / opts.TrainBatchSize)
	if t.stepsPerEpoch == 0 {
		return nil, errors.Errorf("train set has %d features, fewer than one batch of %d",
			trainSet.Len(), opts.TrainBatchSize)
	}
	t.totalSteps = t.stepsPerEpoch * int64(max(opts.NumTrainEpochs, 1))

	var err error
	t.train, err = data.NewLoader(trainSet, data.LoaderConfig{
		BatchSize:  opts.TrainBatchSize,
		Shuffle:    true,
		Seed:       opts.Seed,
		NumWorkers: cfg.DatasetNumWorkers,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create train loader")
	}
	if predict != nil {
		t.eval, err = data.NewLoader(predict.Inputs, data.LoaderConfig{
			BatchSize:  opts.PredictBatchSize,
			NumWorkers: cfg.DatasetNumWorkers,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create eval loader")
		}
		t.evaluator = squad.NewEvaluator(opts.Python, opts.PredictFile, opts.EvalScript)
	}

	if err := t.setupOptimizer(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) setupOptimizer() error {
	lr := t.cfg.LearningRate(t.opts.TrainBatchSize)
	warmup := int64(t.cfg.LRWarmupProportion * float64(t.totalSteps))

	opt, err := optim.New(t.cfg.OptimizerType, t.model.Parameters(), lr, t.cfg.WeightDecay,
		t.cfg.AdamEpsilon, t.totalSteps, warmup)
	if err != nil {
		return errors.Wrap(err, "failed to create optimizer")
	}
	t.opt = opt

	if t.cfg.OptimizerType == optim.TypeAdamW {
		s, err := schedule.NewLinearWarmupProportion(lr, t.cfg.LRWarmupProportion, t.totalSteps)
		if err != nil {
			return errors.Wrap(err, "failed to create learning rate schedule")
		}
		t.sched = schedule.NewScheduler(s, opt)
	}
	klog.Infof("Optimizer %s: lr %e, %s steps per epoch, %s total, %s warm-up",
		t.cfg.OptimizerType, lr, humanize.Comma(t.stepsPerEpoch), humanize.Comma(t.totalSteps), humanize.Comma(warmup))
	return nil
}

// Optimizer returns the optimizer being trained with.
func (t *Trainer) Optimizer() optim.Optimizer { return t.opt }

// StepsPerEpoch returns the number of full batches per epoch.
func (t *Trainer) StepsPerEpoch() int64 { return t.stepsPerEpoch }

// TotalSteps returns the length of the learning-rate schedule.
func (t *Trainer) TotalSteps() int64 { return t.totalSteps }

// Run trains for NumTrainEpochs, evaluating after each epoch unless
// profiling. The run is recorded in the store when one was given.
func (t *Trainer) Run(ctx context.Context) (results []EpochResult, err error) {
	if err := os.MkdirAll(t.opts.OutputDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create output dir")
	}
	if t.opts.IsProf {
		stop, err := startProfile(filepath.Join(t.opts.OutputDir, ProfileFile))
		if err != nil {
			return nil, err
		}
		defer stop()
	}
	if err := t.startRun(); err != nil {
		return nil, err
	}

	var trainTime time.Duration
	defer func() {
		t.finishRun(err, trainTime)
	}()

	for epoch := 0; epoch < t.opts.NumTrainEpochs; epoch++ {
		res := EpochResult{Epoch: epoch, LR: t.opt.GetLR()}
		klog.Infof("--------Epoch: %03d, lr: %f--------", epoch, res.LR)

		start := time.Now()
		loss, err := t.trainEpoch(ctx)
		if err != nil {
			return results, errors.Wrapf(err, "epoch %d", epoch)
		}
		elapsed := time.Since(start)
		trainTime += elapsed
		res.Loss = loss
		res.BatchTime = elapsed / time.Duration(t.stepsPerEpoch)
		klog.Infof("Train: Loss(last step): %.4e, Batch Time: %.2fms",
			res.Loss, float64(elapsed.Microseconds())/1e3/float64(t.stepsPerEpoch))

		if !t.opts.IsProf {
			scores, err := t.evaluate(ctx)
			if err != nil {
				return results, errors.Wrapf(err, "epoch %d", epoch)
			}
			res.Scores = &scores
			klog.Infof("Test: exact_match: %v, F1: %v", scores.ExactMatch, scores.F1)
		}

		if err := t.recordEpoch(res); err != nil {
			return results, err
		}
		if t.opts.SaveCheckpoint {
			if err := t.saveCheckpoint(res); err != nil {
				return results, err
			}
		}
		results = append(results, res)
	}

	klog.Infof("Time used: %.2fs", trainTime.Seconds())
	return results, nil
}

// trainEpoch runs one pass over the train set and returns the last loss.
func (t *Trainer) trainEpoch(ctx context.Context) (float64, error) {
	bar := t.progressBar(t.train.Len())
	defer func() { _ = bar.Finish() }()

	var loss float64
	err := t.train.Epoch(ctx, func(b *data.Batch) error {
		var err error
		loss, err = t.step(b)
		if err != nil {
			return err
		}
		_ = bar.Add(1)
		return nil
	})
	return loss, err
}

// step runs forward, loss, backward and the parameter update for one batch.
func (t *Trainer) step(b *data.Batch) (float64, error) {
	start, end, err := t.model.Forward(b.InputIDs, b.SegmentIDs, b.Size, b.SeqLen)
	if err != nil {
		return 0, err
	}
	loss, gradStart, gradEnd := nn.SpanLoss(start, end, b.StartPositions, b.EndPositions)

	t.opt.ZeroGrad()
	if err := t.model.Backward(gradStart, gradEnd); err != nil {
		return 0, err
	}
	if t.cfg.MaxGradNorm > 0 {
		optim.ClipGradNorm(t.model.Parameters(), t.cfg.MaxGradNorm)
	}
	if err := t.opt.Step(); err != nil {
		return 0, errors.Wrap(err, "optimizer step failed")
	}
	if t.sched != nil {
		t.sched.Step()
	}
	return loss, nil
}

// Predict runs the model over the predict set and returns one result per
// feature, in feature order.
func (t *Trainer) Predict(ctx context.Context) ([]squad.RawResult, error) {
	if t.predict == nil {
		return nil, errors.New("no predict data")
	}
	bar := t.progressBar(t.eval.Len())
	defer func() { _ = bar.Finish() }()

	results := make([]squad.RawResult, 0, len(t.predict.Features))
	err := t.eval.Epoch(ctx, func(b *data.Batch) error {
		start, end, err := t.model.Forward(b.InputIDs, b.SegmentIDs, b.Size, b.SeqLen)
		if err != nil {
			return err
		}
		s, e := start.Data(), end.Data()
		for i, idx := range b.Indices {
			row := i * b.SeqLen
			results = append(results, squad.RawResult{
				UniqueID:    t.predict.Features[idx].UniqueID,
				StartLogits: append([]float32(nil), s[row:row+b.SeqLen]...),
				EndLogits:   append([]float32(nil), e[row:row+b.SeqLen]...),
			})
		}
		_ = bar.Add(1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// evaluate predicts, writes predictions.json and scores it with the script.
func (t *Trainer) evaluate(ctx context.Context) (squad.Scores, error) {
	results, err := t.Predict(ctx)
	if err != nil {
		return squad.Scores{}, errors.Wrap(err, "prediction failed")
	}
	answers, _ := squad.GetAnswers(t.predict.Examples, t.predict.Features, results, t.opts.Squad)

	path := squad.PredictionsPath(t.opts.OutputDir)
	if err := squad.WritePredictions(path, answers); err != nil {
		return squad.Scores{}, err
	}
	return t.evaluator.Evaluate(ctx, t.opts.PredictFile, path)
}

func (t *Trainer) progressBar(steps int) *progressbar.ProgressBar {
	w := t.opts.ProgressWriter
	if w == nil {
		w = os.Stderr
	}
	return progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("Iteration"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionSetVisibility(!t.opts.DisableProgressBar),
	)
}

// CheckpointPath returns the checkpoint file written after epoch.
func CheckpointPath(outputDir string, epoch int) string {
	return filepath.Join(outputDir, fmt.Sprintf("checkpoint_%03d.safetensors", epoch))
}

func (t *Trainer) saveCheckpoint(res EpochResult) error {
	ckpt := &nn.Checkpoint{
		Model:     t.model,
		Optimizer: t.opt,
		Epoch:     res.Epoch,
		Step:      t.opt.Iterations(),
		Loss:      res.Loss,
		Metadata:  map[string]string{"bert_model": t.opts.Squad.BertModel},
	}
	if t.run != nil {
		ckpt.Metadata["run_id"] = t.run.RunID
	}
	path := CheckpointPath(t.opts.OutputDir, res.Epoch)
	if err := ckpt.Save(path); err != nil {
		return errors.Wrapf(err, "failed to save checkpoint %s", path)
	}
	klog.Infof("Saved checkpoint %s", path)
	return nil
}

// runConfig is what the run store keeps about an invocation.
type runConfig struct {
	Options Options       `json:"options"`
	Train   config.Config `json:"train"`
	Steps   int64         `json:"total_steps"`
}

func (t *Trainer) startRun() error {
	if t.runs == nil {
		return nil
	}
	raw, err := json.Marshal(runConfig{Options: t.opts, Train: t.cfg, Steps: t.totalSteps})
	if err != nil {
		return errors.Wrap(err, "failed to encode run config")
	}
	t.run, err = t.runs.StartRun(t.opts.Squad.BertModel, string(raw))
	if err != nil {
		return err
	}
	klog.Infof("Run %s", t.run.RunID)
	return nil
}

func (t *Trainer) recordEpoch(res EpochResult) error {
	if t.run == nil {
		return nil
	}
	e := store.Epoch{
		RunID:   t.run.RunID,
		Epoch:   res.Epoch,
		LR:      res.LR,
		Loss:    res.Loss,
		BatchMS: float64(res.BatchTime.Microseconds()) / 1e3,
	}
	if res.Scores != nil {
		e.ExactMatch = &res.Scores.ExactMatch
		e.F1 = &res.Scores.F1
	}
	return t.runs.RecordEpoch(e)
}

func (t *Trainer) finishRun(runErr error, trainTime time.Duration) {
	if t.run == nil {
		return
	}
	status := store.StatusCompleted
	if runErr != nil {
		status = store.StatusFailed
	}
	if err := t.runs.FinishRun(t.run.RunID, status, trainTime); err != nil {
		klog.Warningf("Failed to finish run %s: %v", t.run.RunID, err)
	}
}

// StoredRun returns the run record, or nil without a store.
func (t *Trainer) StoredRun() *store.Run { return t.run }

func startProfile(path string) (func(), error) {
	f, err := os.Create(path) //nolint:gosec // G304: path is under the output dir
	if err != nil {
		return nil, errors.Wrap(err, "failed to create profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "failed to start profile")
	}
	klog.Infof("Writing CPU profile to %s", path)
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}
