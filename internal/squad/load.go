package squad

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/squad/internal/data"
)

// CachePath returns the train feature cache file for trainFile. The name
// encodes every setting that changes the features.
func CachePath(trainFile string, opts Options) string {
	dir := opts.CacheDir
	if dir == "" {
		dir = filepath.Dir(trainFile)
	}
	model := "model"
	for _, part := range strings.Split(opts.BertModel, "/") {
		if part != "" {
			model = part
		}
	}
	casing := "cased"
	if opts.DoLowerCase {
		casing = "uncased"
	}
	name := fmt.Sprintf("%s_%s_%d_%d_%d_%s.safetensors",
		filepath.Base(trainFile), model, opts.MaxSeqLength, opts.DocStride, opts.MaxQueryLength, casing)
	return filepath.Join(dir, name)
}

// LoadTrainData returns the training inputs for trainFile.
//
// Features are read from the cache when present. Otherwise they are read
// from FeaturesPath(trainFile) and, unless SkipCache is set, cached.
func LoadTrainData(trainFile string, opts Options) (*data.TensorDataset, error) {
	cache := CachePath(trainFile, opts)
	if !opts.SkipCache {
		ds, meta, err := data.LoadTensorDataset(cache)
		switch {
		case err == nil && ds.SeqLen == opts.MaxSeqLength:
			klog.Infof("Loaded %s train features from cache %s", humanize.Comma(int64(ds.Len())), cache)
			return ds, nil
		case err == nil:
			klog.Warningf("Ignoring cache %s: sequence length %d, want %d (%v)", cache, ds.SeqLen, opts.MaxSeqLength, meta)
		case !errors.Is(err, os.ErrNotExist):
			klog.Warningf("Ignoring unreadable cache %s: %v", cache, err)
		}
	}

	featuresPath := FeaturesPath(trainFile)
	features, err := ReadFeatures(featuresPath)
	if err != nil {
		return nil, err
	}
	ds, err := TensorDataset(features, opts.MaxSeqLength, true)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid train features in %s", featuresPath)
	}
	klog.Infof("Read %s train features from %s", humanize.Comma(int64(ds.Len())), featuresPath)

	if !opts.SkipCache {
		meta := map[string]string{
			"train_file":    trainFile,
			"bert_model":    opts.BertModel,
			"do_lower_case": strconv.FormatBool(opts.DoLowerCase),
		}
		if err := ds.Save(cache, meta); err != nil {
			return nil, errors.Wrap(err, "failed to cache train features")
		}
		klog.Infof("Saved train features to cache %s", cache)
	}
	return ds, nil
}

// PredictData holds everything needed to turn model output on a
// prediction file into answers.
type PredictData struct {
	Examples []Example
	Features []Feature
	Inputs   *data.TensorDataset
}

// LoadPredictData reads predictFile and its features.
func LoadPredictData(predictFile string, opts Options) (*PredictData, error) {
	examples, err := ReadExamples(predictFile, false, opts.Version2WithNegative)
	if err != nil {
		return nil, err
	}
	featuresPath := FeaturesPath(predictFile)
	features, err := ReadFeatures(featuresPath)
	if err != nil {
		return nil, err
	}
	for i := range features {
		f := &features[i]
		if f.ExampleIndex < 0 || f.ExampleIndex >= len(examples) {
			return nil, errors.Errorf("feature %d refers to example %d of %d", f.UniqueID, f.ExampleIndex, len(examples))
		}
		if err := f.checkSpans(len(examples[f.ExampleIndex].DocTokens)); err != nil {
			return nil, errors.Wrapf(err, "invalid features in %s", featuresPath)
		}
	}
	inputs, err := TensorDataset(features, opts.MaxSeqLength, false)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid features in %s", featuresPath)
	}
	klog.Infof("Read %s examples and %s features from %s",
		humanize.Comma(int64(len(examples))), humanize.Comma(int64(len(features))), predictFile)
	return &PredictData{Examples: examples, Features: features, Inputs: inputs}, nil
}
