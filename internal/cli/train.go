package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/born-ml/squad/internal/bert"
	"github.com/born-ml/squad/internal/config"
	"github.com/born-ml/squad/internal/nn"
	"github.com/born-ml/squad/internal/squad"
	"github.com/born-ml/squad/internal/store"
	"github.com/born-ml/squad/internal/train"
)

// RunsFile is the default run history database under the output dir.
const RunsFile = "runs.db"

// trainArgs are the flag values of the train command.
type trainArgs struct {
	opts train.Options

	initCheckpoint string
	configFile     string
	trainConfig    string
	runsDB         string
}

var targs = trainArgs{opts: train.DefaultOptions()}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune and evaluate a QA model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTrain(ctx, cmd, targs)
	},
}

func init() {
	bindTrainFlags(trainCmd.Flags(), &targs)
	for _, name := range []string{"bert-model", "output-dir", "predict-file", "train-file"} {
		_ = trainCmd.MarkFlagRequired(name)
	}
}

func bindTrainFlags(f *pflag.FlagSet, a *trainArgs) {
	o := &a.opts
	s := &a.opts.Squad
	f.StringVar(&s.BertModel, "bert-model", "", "Pretrained model directory holding config.json and model.safetensors")
	f.StringVar(&o.OutputDir, "output-dir", "", "Directory for predictions, checkpoints and run history")
	f.StringVar(&o.PredictFile, "predict-file", "", "SQuAD json for predictions, e.g. dev-v1.1.json")
	f.StringVar(&a.initCheckpoint, "init-checkpoint", "", "Checkpoint to initialize from instead of --bert-model weights")
	f.StringVar(&a.configFile, "config-file", "", "BERT config for --init-checkpoint")
	f.StringVar(&o.TrainFile, "train-file", "", "SQuAD json for training, e.g. train-v1.1.json")
	f.IntVar(&s.MaxSeqLength, "max-seq-length", s.MaxSeqLength, "Maximum total input sequence length")
	f.IntVar(&s.DocStride, "doc-stride", s.DocStride, "Stride between document chunks")
	f.IntVar(&s.MaxQueryLength, "max-query-length", s.MaxQueryLength, "Maximum number of question tokens")
	f.IntVar(&o.TrainBatchSize, "train-batch-size", o.TrainBatchSize, "Batch size for training")
	f.IntVar(&o.PredictBatchSize, "predict-batch-size", o.PredictBatchSize, "Batch size for predictions")
	f.IntVar(&o.NumTrainEpochs, "num-train-epochs", o.NumTrainEpochs, "Number of training epochs")
	f.IntVar(&s.NBestSize, "n-best-size", s.NBestSize, "Number of n-best predictions per question")
	f.IntVar(&s.MaxAnswerLength, "max-answer-length", s.MaxAnswerLength, "Maximum answer length in tokens")
	f.BoolVar(&s.VerboseLogging, "verbose-logging", false, "Log answer alignment warnings")
	f.BoolVar(&s.DoLowerCase, "do-lower-case", false, "Lower case the input text (uncased models)")
	f.BoolVar(&s.Version2WithNegative, "version-2-with-negative", false, "Examples may have no answer (SQuAD 2.0)")
	f.Float64Var(&s.NullScoreDiffThreshold, "null-score-diff-threshold", 0,
		"Predict null when null_score - best_non_null exceeds this")
	f.StringVar(&o.EvalScript, "eval-script", o.EvalScript, "Evaluation script, next to --predict-file")
	f.StringVar(&o.Python, "python", o.Python, "Interpreter for --eval-script")
	f.BoolVar(&o.DisableProgressBar, "disable-progress-bar", false, "Disable the progress bar")
	f.BoolVar(&s.SkipCache, "skip-cache", false, "Neither read nor write the train feature cache")
	f.StringVar(&s.CacheDir, "cache-dir", "", "Train feature cache dir (default: dataset dir)")
	f.BoolVar(&o.IsProf, "is-prof", false, "Write a CPU profile and skip evaluation")
	f.BoolVar(&o.SaveCheckpoint, "save-checkpoint", false, "Save a checkpoint after every epoch")
	f.Uint64Var(&o.Seed, "seed", 42, "Seed for initialization and shuffling")
	f.StringVar(&a.trainConfig, "train-config", "", "YAML training config (default: built-in)")
	f.StringVar(&a.runsDB, "runs-db", "", "Run history database (default: <output-dir>/"+RunsFile+")")
}

func runTrain(ctx context.Context, cmd *cobra.Command, a trainArgs) error {
	cfg := config.Default()
	if a.trainConfig != "" {
		var err error
		if cfg, err = config.Load(a.trainConfig); err != nil {
			return err
		}
	}
	if err := printConfiguration(cmd.OutOrStdout(), cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(a.opts.OutputDir, 0o750); err != nil {
		return errors.Wrap(err, "failed to create output dir")
	}

	rng := rand.New(rand.NewPCG(a.opts.Seed, a.opts.Seed^0x5eed))
	model, err := loadModel(a, rng)
	if err != nil {
		return err
	}
	bert.LogParameterStats(model)
	klog.Infof("Model has %s parameters", humanize.Comma(int64(nn.CountParameters(model))))

	trainSet, err := squad.LoadTrainData(a.opts.TrainFile, a.opts.Squad)
	if err != nil {
		return err
	}
	var predict *squad.PredictData
	if a.opts.PredictFile != "" {
		if predict, err = squad.LoadPredictData(a.opts.PredictFile, a.opts.Squad); err != nil {
			return err
		}
	}

	dbPath := a.runsDB
	if dbPath == "" {
		dbPath = filepath.Join(a.opts.OutputDir, RunsFile)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	tr, err := train.New(model, trainSet, predict, cfg, a.opts, db)
	if err != nil {
		return err
	}
	_, err = tr.Run(ctx)
	return err
}

func loadModel(a trainArgs, rng *rand.Rand) (*bert.QuestionAnswering, error) {
	if a.initCheckpoint != "" {
		if a.configFile == "" {
			return nil, errors.New("--config-file is required with --init-checkpoint")
		}
		m, err := bert.FromCheckpoint(a.configFile, a.initCheckpoint, rng)
		if err != nil {
			return nil, err
		}
		klog.Infof("Load model from checkpoint: %s", a.initCheckpoint)
		return m, nil
	}
	m, err := bert.FromPretrained(a.opts.Squad.BertModel, rng)
	if err != nil {
		return nil, err
	}
	klog.Infof("Load model from pretrained: %s", a.opts.Squad.BertModel)
	return m, nil
}

// printConfiguration echoes every flag and the training config.
func printConfiguration(out io.Writer, flags *pflag.FlagSet, cfg config.Config) error {
	fmt.Fprintln(out, "---------configurations--------------")
	flags.VisitAll(func(f *pflag.Flag) {
		fmt.Fprintf(out, "%s : %s\n", f.Name, f.Value.String())
	})
	raw, err := cfg.Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to encode train config")
	}
	fmt.Fprint(out, string(raw))
	fmt.Fprintln(out, "-------------------------------------")
	return nil
}
