package train

import (
	"context"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/squad/internal/bert"
	"github.com/born-ml/squad/internal/config"
	"github.com/born-ml/squad/internal/data"
	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/optim"
	"github.com/born-ml/squad/internal/squad"
	"github.com/born-ml/squad/internal/store"
)

const seqLen = 4

func tinyModel(t *testing.T) *bert.QuestionAnswering {
	t.Helper()
	cfg := bert.DefaultConfig()
	cfg.VocabSize = 11
	cfg.HiddenSize = 4
	cfg.MaxPositionEmbeddings = 6
	cfg.InitializerRange = 0.5
	cfg.LayerNormEps = 1e-5
	m, err := bert.New(cfg, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	return m
}

// trainSet returns n rows whose answer is always token 1 to 2.
func trainSet(n int) *data.TensorDataset {
	ds := &data.TensorDataset{SeqLen: seqLen}
	for i := 0; i < n; i++ {
		ds.InputIDs = append(ds.InputIDs, 1, int32(2+i%5), int32(3+i%7), 2)
		ds.InputMask = append(ds.InputMask, 1, 1, 1, 1)
		ds.SegmentIDs = append(ds.SegmentIDs, 0, 0, 1, 1)
		ds.StartPositions = append(ds.StartPositions, 1)
		ds.EndPositions = append(ds.EndPositions, 2)
	}
	return ds
}

// predictData writes an eval script next to the predict file and returns
// one example with one feature.
func predictData(t *testing.T, dir string) *squad.PredictData {
	t.Helper()
	script := `echo "{\"exact_match\": 50.0, \"f1\": 62.5}"`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval.sh"), []byte(script), 0o600))

	feat := squad.Feature{
		UniqueID:          1000,
		Tokens:            []string{"[CLS]", "the", "cat", "[SEP]"},
		TokenToOrigMap:    map[int]int{1: 0, 2: 1},
		TokenIsMaxContext: map[int]bool{1: true, 2: true},
		InputIDs:          []int32{1, 5, 6, 2},
		InputMask:         []int32{1, 1, 1, 1},
		SegmentIDs:        []int32{0, 1, 1, 1},
	}
	features := []squad.Feature{feat}
	inputs, err := squad.TensorDataset(features, seqLen, false)
	require.NoError(t, err)
	return &squad.PredictData{
		Examples: []squad.Example{{QAID: "q1", DocTokens: []string{"The", "cat"}}},
		Features: features,
		Inputs:   inputs,
	}
}

func testOptions(dir string) Options {
	opts := DefaultOptions()
	opts.OutputDir = filepath.Join(dir, "out")
	opts.TrainFile = filepath.Join(dir, "train.json")
	opts.PredictFile = filepath.Join(dir, "dev.json")
	opts.TrainBatchSize = 2
	opts.PredictBatchSize = 1
	opts.NumTrainEpochs = 2
	opts.EvalScript = "eval.sh"
	opts.Python = "sh"
	opts.ProgressWriter = io.Discard
	opts.Squad.MaxSeqLength = seqLen
	opts.Squad.BertModel = "tiny"
	return opts
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LRWarmupProportion = 0
	cfg.DatasetNumWorkers = 2
	return cfg
}

func TestTrainerAdamW(t *testing.T) {
	dir := t.TempDir()
	model := tinyModel(t)
	before := append([]float32(nil), model.QAOutputs.Weight.Tensor().Data()...)
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	opts := testOptions(dir)
	opts.SaveCheckpoint = true
	tr, err := New(model, trainSet(7), predictData(t, dir), cfg, opts, db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tr.StepsPerEpoch(), "int(7/2)")
	assert.Equal(t, int64(6), tr.TotalSteps())
	_, ok := tr.Optimizer().(*optim.AdamW)
	require.True(t, ok)

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	peak := cfg.LearningRate(opts.TrainBatchSize)
	assert.InDelta(t, peak, results[0].LR, 1e-12)
	// Four batches per epoch (the last one partial) against a 6-step schedule.
	assert.InDelta(t, peak*2/6, results[1].LR, 1e-12)
	assert.Equal(t, int64(8), tr.Optimizer().Iterations())
	assert.NotEqual(t, before, model.QAOutputs.Weight.Tensor().Data())

	for _, r := range results {
		require.NotNil(t, r.Scores)
		assert.InDelta(t, 50.0, r.Scores.ExactMatch, 1e-9)
		assert.InDelta(t, 62.5, r.Scores.F1, 1e-9)
		assert.Positive(t, r.Loss)
	}
	assert.FileExists(t, squad.PredictionsPath(opts.OutputDir))

	run, err := db.GetRun(tr.StoredRun().RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, run.Status)
	assert.Equal(t, "tiny", run.BertModel)
	epochs, err := db.Epochs(run.RunID)
	require.NoError(t, err)
	require.Len(t, epochs, 2)
	require.NotNil(t, epochs[1].F1)
	assert.InDelta(t, 62.5, *epochs[1].F1, 1e-9)

	ckpt, err := nn.LoadCheckpoint(CheckpointPath(opts.OutputDir, 1), tinyModel(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.Epoch)
	assert.Equal(t, int64(8), ckpt.Step)
	assert.Equal(t, run.RunID, ckpt.Metadata["run_id"])
}

func TestTrainerAdamProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.OptimizerType = optim.TypeAdam
	cfg.LRWarmupProportion = 0.5
	cfg.MaxGradNorm = 1
	opts := testOptions(dir)
	opts.IsProf = true
	opts.NumTrainEpochs = 1

	tr, err := New(tinyModel(t), trainSet(4), nil, cfg, opts, nil)
	require.NoError(t, err)
	_, ok := tr.Optimizer().(*optim.AdamWeightDecay)
	require.True(t, ok)
	assert.InDelta(t, 0, tr.Optimizer().GetLR(), 1e-12, "warm-up starts at zero")

	results, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Scores)
	assert.Nil(t, tr.StoredRun())
	assert.FileExists(t, filepath.Join(opts.OutputDir, ProfileFile))
	assert.NoFileExists(t, squad.PredictionsPath(opts.OutputDir))
	assert.Equal(t, int64(2), tr.Optimizer().Iterations())
}

func TestTrainerPredict(t *testing.T) {
	dir := t.TempDir()
	pd := predictData(t, dir)
	tr, err := New(tinyModel(t), trainSet(2), pd, testConfig(), testOptions(dir), nil)
	require.NoError(t, err)

	results, err := tr.Predict(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1000), results[0].UniqueID)
	assert.Len(t, results[0].StartLogits, seqLen)
	assert.Len(t, results[0].EndLogits, seqLen)
}

func TestTrainerErrors(t *testing.T) {
	dir := t.TempDir()
	pd := predictData(t, dir)

	_, err := New(tinyModel(t), trainSet(1), pd, testConfig(), testOptions(dir), nil)
	require.Error(t, err, "fewer rows than one batch")

	cfg := testConfig()
	cfg.OptimizerType = "lamb"
	_, err = New(tinyModel(t), trainSet(4), pd, cfg, testOptions(dir), nil)
	require.ErrorIs(t, err, optim.ErrNotImplemented)

	_, err = New(tinyModel(t), trainSet(4), nil, testConfig(), testOptions(dir), nil)
	require.Error(t, err, "predict data is required")

	noPositions := trainSet(4)
	noPositions.StartPositions, noPositions.EndPositions = nil, nil
	_, err = New(tinyModel(t), noPositions, pd, testConfig(), testOptions(dir), nil)
	require.Error(t, err)

	opts := testOptions(dir)
	opts.OutputDir = ""
	_, err = New(tinyModel(t), trainSet(4), pd, testConfig(), opts, nil)
	require.Error(t, err)
}

func TestTrainerFailedRun(t *testing.T) {
	dir := t.TempDir()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	pd := predictData(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval.sh"), []byte("exit 1"), 0o600))
	tr, err := New(tinyModel(t), trainSet(4), pd, testConfig(), testOptions(dir), db)
	require.NoError(t, err)

	_, err = tr.Run(context.Background())
	require.Error(t, err)
	run, err := db.GetRun(tr.StoredRun().RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
