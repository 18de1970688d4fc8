package squad

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/squad/internal/data"
)

// Feature is one fixed-length model input window over an example.
//
// Long documents produce several features (doc spans) per example.
// TokenToOrigMap maps feature token indices to Example.DocTokens indices;
// TokenIsMaxContext marks tokens whose span gives them the most context.
type Feature struct {
	UniqueID          int64        `json:"unique_id"`
	ExampleIndex      int          `json:"example_index"`
	DocSpanIndex      int          `json:"doc_span_index"`
	Tokens            []string     `json:"tokens"`
	TokenToOrigMap    map[int]int  `json:"token_to_orig_map"`
	TokenIsMaxContext map[int]bool `json:"token_is_max_context"`
	InputIDs          []int32      `json:"input_ids"`
	InputMask         []int32      `json:"input_mask"`
	SegmentIDs        []int32      `json:"segment_ids"`
	StartPosition     int32        `json:"start_position"`
	EndPosition       int32        `json:"end_position"`
	IsImpossible      bool         `json:"is_impossible"`
}

// checkSpans verifies that the token maps stay inside the feature's tokens
// and the docTokens words of its example.
func (f *Feature) checkSpans(docTokens int) error {
	for tok, orig := range f.TokenToOrigMap {
		if tok < 0 || tok >= len(f.Tokens) {
			return errors.Errorf("feature %d maps token %d of %d", f.UniqueID, tok, len(f.Tokens))
		}
		if orig < 0 || orig >= docTokens {
			return errors.Errorf("feature %d maps token %d to word %d of %d", f.UniqueID, tok, orig, docTokens)
		}
	}
	return nil
}

// FeaturesPath returns the JSON Lines feature file that accompanies a
// SQuAD file: train-v1.1.json -> train-v1.1.features.jsonl.
func FeaturesPath(squadPath string) string {
	return strings.TrimSuffix(squadPath, filepath.Ext(squadPath)) + ".features.jsonl"
}

// ReadFeatures reads a JSON Lines feature file.
func ReadFeatures(path string) ([]Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open features")
	}
	defer f.Close()

	var features []Feature
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var feat Feature
		err := dec.Decode(&feat)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse feature %d of %s", len(features), path)
		}
		features = append(features, feat)
	}
	return features, nil
}

// TensorDataset packs features into model inputs of seqLen tokens. With
// training set, answer positions are included.
func TensorDataset(features []Feature, seqLen int, training bool) (*data.TensorDataset, error) {
	ds := &data.TensorDataset{SeqLen: seqLen}
	n := len(features)
	ds.InputIDs = make([]int32, 0, n*seqLen)
	ds.InputMask = make([]int32, 0, n*seqLen)
	ds.SegmentIDs = make([]int32, 0, n*seqLen)
	if training {
		ds.StartPositions = make([]int32, 0, n)
		ds.EndPositions = make([]int32, 0, n)
	}
	for i := range features {
		f := &features[i]
		if len(f.InputIDs) != seqLen || len(f.InputMask) != seqLen || len(f.SegmentIDs) != seqLen {
			return nil, errors.Errorf("feature %d: expected %d tokens, got ids %d, mask %d, segments %d",
				f.UniqueID, seqLen, len(f.InputIDs), len(f.InputMask), len(f.SegmentIDs))
		}
		ds.InputIDs = append(ds.InputIDs, f.InputIDs...)
		ds.InputMask = append(ds.InputMask, f.InputMask...)
		ds.SegmentIDs = append(ds.SegmentIDs, f.SegmentIDs...)
		if training {
			ds.StartPositions = append(ds.StartPositions, f.StartPosition)
			ds.EndPositions = append(ds.EndPositions, f.EndPosition)
		}
	}
	return ds, nil
}
