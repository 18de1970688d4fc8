package squad

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squadJSON = `{
  "version": "v2.0",
  "data": [{
    "title": "Cats",
    "paragraphs": [{
      "context": "The cat  sat.\nOn a mat",
      "qas": [
        {"id": "q1", "question": "Who sat?", "answers": [{"text": "cat", "answer_start": 4}]},
        {"id": "q2", "question": "Where?", "answers": [{"text": "a mat", "answer_start": 17}]},
        {"id": "q3", "question": "Why?", "is_impossible": true, "answers": []},
        {"id": "q4", "question": "Dog?", "answers": [{"text": "dog", "answer_start": 4}]}
      ]
    }]
  }]
}`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestSplitDoc(t *testing.T) {
	tokens, offsets := splitDoc(" a bc d")
	assert.Equal(t, []string{"a", "bc", "d"}, tokens)
	assert.Equal(t, []int{-1, 0, 0, 1, 1, 1, 2}, offsets)
}

func TestReadExamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.json")
	writeFile(t, path, squadJSON)

	examples, err := ReadExamples(path, true, true)
	require.NoError(t, err)
	require.Len(t, examples, 3, "q4's answer is not in the context")

	assert.Equal(t, []string{"The", "cat", "sat.", "On", "a", "mat"}, examples[0].DocTokens)
	assert.Equal(t, 1, examples[0].StartPosition)
	assert.Equal(t, 1, examples[0].EndPosition)
	assert.Equal(t, 4, examples[1].StartPosition)
	assert.Equal(t, 5, examples[1].EndPosition)
	assert.True(t, examples[2].IsImpossible)
	assert.Equal(t, -1, examples[2].StartPosition)

	// Without v2 support an empty answer list is an error when training.
	_, err = ReadExamples(path, true, false)
	require.Error(t, err)

	examples, err = ReadExamples(path, false, false)
	require.NoError(t, err)
	assert.Len(t, examples, 4)
	assert.Equal(t, "Why?", examples[2].QuestionText)
}

func feature(id int64, example int, start, end int32) Feature {
	return Feature{
		UniqueID:      id,
		ExampleIndex:  example,
		InputIDs:      []int32{101, 7, 8, 102},
		InputMask:     []int32{1, 1, 1, 1},
		SegmentIDs:    []int32{0, 0, 1, 1},
		StartPosition: start,
		EndPosition:   end,
	}
}

func writeFeatures(t *testing.T, path string, features ...Feature) {
	t.Helper()
	var b strings.Builder
	for _, f := range features {
		line, err := json.Marshal(f)
		require.NoError(t, err)
		b.Write(line)
		b.WriteByte('\n')
	}
	writeFile(t, path, b.String())
}

func TestReadFeaturesAndTensorDataset(t *testing.T) {
	dir := t.TempDir()
	path := FeaturesPath(filepath.Join(dir, "dev-v1.1.json"))
	assert.Equal(t, filepath.Join(dir, "dev-v1.1.features.jsonl"), path)

	f := feature(1000, 0, 1, 2)
	f.TokenToOrigMap = map[int]int{1: 0, 2: 1}
	writeFeatures(t, path, f, feature(1001, 0, 2, 2))

	features, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, map[int]int{1: 0, 2: 1}, features[0].TokenToOrigMap)

	ds, err := TensorDataset(features, 4, true)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []int32{1, 2}, ds.StartPositions)
	assert.Equal(t, []int32{2, 2}, ds.EndPositions)

	ds, err = TensorDataset(features, 4, false)
	require.NoError(t, err)
	assert.False(t, ds.HasPositions())

	_, err = TensorDataset(features, 8, true)
	require.Error(t, err)

	writeFile(t, path, "{\"unique_id\": 1}\nnot json\n")
	_, err = ReadFeatures(path)
	require.Error(t, err)
}

func TestCachePath(t *testing.T) {
	opts := DefaultOptions()
	opts.BertModel = "models/bert-base-uncased/"
	opts.DoLowerCase = true
	assert.Equal(t, filepath.Join("data", "train-v1.1.json_bert-base-uncased_384_128_64_uncased.safetensors"),
		CachePath(filepath.Join("data", "train-v1.1.json"), opts))

	opts.CacheDir = "cache"
	opts.DoLowerCase = false
	opts.MaxSeqLength = 128
	assert.Equal(t, filepath.Join("cache", "train-v1.1.json_bert-base-uncased_128_128_64_cased.safetensors"),
		CachePath(filepath.Join("data", "train-v1.1.json"), opts))
}

func TestLoadTrainDataUsesCache(t *testing.T) {
	dir := t.TempDir()
	trainFile := filepath.Join(dir, "train.json")
	writeFeatures(t, FeaturesPath(trainFile), feature(1, 0, 1, 2), feature(2, 0, 3, 3))

	opts := DefaultOptions()
	opts.BertModel = "bert-base-uncased"
	opts.MaxSeqLength = 4

	ds, err := LoadTrainData(trainFile, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.FileExists(t, CachePath(trainFile, opts))

	// The second load must not need the features file.
	require.NoError(t, os.Remove(FeaturesPath(trainFile)))
	cached, err := LoadTrainData(trainFile, opts)
	require.NoError(t, err)
	assert.Equal(t, ds, cached)

	opts.SkipCache = true
	_, err = LoadTrainData(trainFile, opts)
	require.Error(t, err, "skip-cache bypasses the cache")
}

func TestLoadTrainDataIgnoresCorruptCache(t *testing.T) {
	dir := t.TempDir()
	trainFile := filepath.Join(dir, "train.json")
	writeFeatures(t, FeaturesPath(trainFile), feature(1, 0, 1, 2))
	opts := DefaultOptions()
	opts.MaxSeqLength = 4

	header := []byte(`{"__metadata__":{"seq_len":"4"},` +
		`"input_ids":{"dtype":"I32","shape":[-1],"data_offsets":[0,0]}}`)
	raw := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	writeFile(t, CachePath(trainFile, opts), string(append(raw, header...)))

	ds, err := LoadTrainData(trainFile, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
}

func TestLoadPredictData(t *testing.T) {
	dir := t.TempDir()
	predictFile := filepath.Join(dir, "dev.json")
	writeFile(t, predictFile, squadJSON)
	writeFeatures(t, FeaturesPath(predictFile), feature(7, 3, 0, 0))

	opts := DefaultOptions()
	opts.MaxSeqLength = 4
	pd, err := LoadPredictData(predictFile, opts)
	require.NoError(t, err)
	assert.Len(t, pd.Examples, 4)
	assert.Len(t, pd.Features, 1)
	assert.False(t, pd.Inputs.HasPositions())

	writeFeatures(t, FeaturesPath(predictFile), feature(7, 9, 0, 0))
	_, err = LoadPredictData(predictFile, opts)
	require.Error(t, err)

	// Example 3 has five words and the feature four tokens.
	for _, m := range []map[int]int{{2: 5}, {2: -1}, {4: 0}} {
		f := feature(7, 3, 0, 0)
		f.Tokens = []string{"[CLS]", "dog", "the", "[SEP]"}
		f.TokenToOrigMap = m
		writeFeatures(t, FeaturesPath(predictFile), f)
		_, err = LoadPredictData(predictFile, opts)
		require.Error(t, err, "token map %v", m)
	}
}

func TestBasicTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", ",", "world", "!"}, basicTokenize("Héllo,  Wörld!", true))
	assert.Equal(t, []string{"Héllo", ",", "Wörld", "!"}, basicTokenize("Héllo,\tWörld!", false))
	assert.Equal(t, []string{"a", "$", "5", "中", "文"}, basicTokenize("a$5中文", true))
}

func TestFinalText(t *testing.T) {
	assert.Equal(t, "Steve Smith", finalText("steve smith", "Steve Smith's", true, false))
	assert.Equal(t, "cat sat.", finalText("cat sat .", "cat sat.", true, false))
	assert.Equal(t, "Zürich", finalText("zurich", "Zürich", true, false))
	assert.Equal(t, "Steve Smith's", finalText("bob", "Steve Smith's", true, true), "unmatched text falls back to the original")
}

func qaFixture() ([]Example, []Feature) {
	examples := []Example{
		{QAID: "q1", DocTokens: []string{"The", "cat", "sat."}},
		{QAID: "q2", DocTokens: []string{"Nothing", "here"}},
	}
	feat := Feature{
		UniqueID:          1000,
		ExampleIndex:      0,
		Tokens:            []string{"[CLS]", "who", "sat", "[SEP]", "the", "cat", "sat", ".", "[SEP]"},
		TokenToOrigMap:    map[int]int{4: 0, 5: 1, 6: 2, 7: 2},
		TokenIsMaxContext: map[int]bool{4: true, 5: true, 6: true, 7: true},
	}
	orphan := Feature{UniqueID: 2000, ExampleIndex: 1}
	return examples, []Feature{feat, orphan}
}

func TestGetAnswers(t *testing.T) {
	examples, features := qaFixture()
	results := []RawResult{
		{
			UniqueID:    1000,
			StartLogits: []float32{0, -5, -5, -5, 1, 5, 0, 0, -5},
			EndLogits:   []float32{0, -5, -5, -5, 0, 4, 2, 0, -5},
		},
		{UniqueID: 3000},
	}
	opts := DefaultOptions()

	answers, nbest := GetAnswers(examples, features, results, opts)
	assert.Equal(t, map[string]string{"q1": "cat"}, answers)

	require.NotEmpty(t, nbest["q1"])
	assert.Equal(t, "cat", nbest["q1"][0].Text)
	assert.InDelta(t, 9, nbest["q1"][0].StartLogit+nbest["q1"][0].EndLogit, 1e-9)
	var total float64
	texts := make(map[string]bool)
	for _, p := range nbest["q1"] {
		total += p.Probability
		assert.False(t, texts[p.Text], "duplicate text %q", p.Text)
		texts[p.Text] = true
	}
	assert.InDelta(t, 1, total, 1e-9)
	assert.True(t, texts["cat sat."])

	opts.MaxAnswerLength = 1
	_, nbest = GetAnswers(examples, features, results, opts)
	require.NotEmpty(t, nbest["q1"])
	for _, p := range nbest["q1"] {
		assert.NotContains(t, p.Text, " ", "spans longer than one token are filtered")
	}
}

func TestGetAnswersSkipsSpansOutsideDocument(t *testing.T) {
	examples := []Example{{QAID: "q1", DocTokens: []string{"The", "cat"}}}
	features := []Feature{
		{
			UniqueID:          1000,
			Tokens:            []string{"[CLS]", "the", "cat", "mat"},
			TokenToOrigMap:    map[int]int{1: 0, 2: 1, 3: 5},
			TokenIsMaxContext: map[int]bool{1: true, 2: true, 3: true},
		},
		{UniqueID: 2000, ExampleIndex: 4},
	}
	results := []RawResult{
		{UniqueID: 1000, StartLogits: []float32{0, 3, 0, 9}, EndLogits: []float32{0, 0, 3, 9}},
		{UniqueID: 2000, StartLogits: []float32{1}, EndLogits: []float32{1}},
	}

	var answers map[string]string
	var nbest map[string][]Prediction
	require.NotPanics(t, func() {
		answers, nbest = GetAnswers(examples, features, results, DefaultOptions())
	})
	assert.Equal(t, map[string]string{"q1": "The cat"}, answers)
	for _, p := range nbest["q1"] {
		assert.NotContains(t, p.Text, "mat")
	}
}

func TestGetAnswersNullThreshold(t *testing.T) {
	examples, features := qaFixture()
	results := []RawResult{{
		UniqueID:    1000,
		StartLogits: []float32{10, -5, -5, -5, 1, 5, 0, 0, -5},
		EndLogits:   []float32{10, -5, -5, -5, 0, 4, 2, 0, -5},
	}}
	opts := DefaultOptions()
	opts.Version2WithNegative = true

	answers, nbest := GetAnswers(examples, features, results, opts)
	assert.Equal(t, "", answers["q1"], "null score 20 beats span score 9")
	assert.Equal(t, "", nbest["q1"][0].Text)

	opts.NullScoreDiffThreshold = 11
	answers, _ = GetAnswers(examples, features, results, opts)
	assert.Equal(t, "cat", answers["q1"])
}

func TestWritePredictions(t *testing.T) {
	path := PredictionsPath(t.TempDir())
	require.NoError(t, WritePredictions(path, map[string]string{"q2": "a <mat>", "q1": "cat"}))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"q1\": \"cat\",\n    \"q2\": \"a <mat>\"\n}\n", string(got))
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		out    string
		em, f1 float64
	}{
		{`{"exact_match": 81.2, "f1": 88.5}` + "\n", 81.2, 88.5},
		{`b'{"exact_match": 81.2, "f1": 88.5}\n'`, 81.2, 88.5},
		{`{"exact": 70.1, "f1": 73.4, "total": 10, "HasAns_exact": 60.0}`, 70.1, 73.4},
	}
	for _, tt := range tests {
		s, err := ParseScores(tt.out)
		require.NoError(t, err, tt.out)
		assert.InDelta(t, tt.em, s.ExactMatch, 1e-9)
		assert.InDelta(t, tt.f1, s.F1, 1e-9)
	}

	_, err := ParseScores("Traceback: boom")
	require.Error(t, err)
	_, err = ParseScores(`{"exact_match": "n/a", "f1": 1}`)
	require.Error(t, err)
}

func TestEvaluator(t *testing.T) {
	dir := t.TempDir()
	predictFile := filepath.Join(dir, "dev.json")
	writeFile(t, filepath.Join(dir, "eval.sh"), `echo "{\"exact_match\": 50.0, \"f1\": 62.5, \"args\": \"$1 $2\"}"`)

	e := NewEvaluator("sh", predictFile, "eval.sh")
	assert.Equal(t, filepath.Join(dir, "eval.sh"), e.Script)
	scores, err := e.Evaluate(context.Background(), predictFile, "predictions.json")
	require.NoError(t, err)
	assert.Equal(t, Scores{ExactMatch: 50, F1: 62.5}, scores)

	writeFile(t, filepath.Join(dir, "fail.sh"), "echo oops >&2; exit 3")
	_, err = NewEvaluator("sh", predictFile, "fail.sh").Evaluate(context.Background(), predictFile, "p.json")
	require.ErrorContains(t, err, "oops")

	assert.Equal(t, "python3", NewEvaluator("", predictFile, "x.py").Python)
}
