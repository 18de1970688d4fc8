package squad

import (
	"math"
	"sort"
	"strings"
)

// RawResult holds the model output for one feature.
type RawResult struct {
	UniqueID    int64
	StartLogits []float32
	EndLogits   []float32
}

// Prediction is one candidate answer.
type Prediction struct {
	Text        string  `json:"text"`
	Probability float64 `json:"probability"`
	StartLogit  float64 `json:"start_logit"`
	EndLogit    float64 `json:"end_logit"`
}

func (p Prediction) score() float64 { return p.StartLogit + p.EndLogit }

type prelimPrediction struct {
	startIndex, endIndex int
	startLogit, endLogit float64
}

type nullScore struct {
	score, startLogit, endLogit float64
}

// bestIndices returns the indices of the n largest logits, highest first.
func bestIndices(logits []float32, n int) []int {
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })
	if len(idx) > n {
		idx = idx[:n]
	}
	return idx
}

func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = max(maxScore, s)
	}
	probs := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

func validPrelimPredictions(feat *Feature, result *RawResult, opts Options) []prelimPrediction {
	starts := bestIndices(result.StartLogits, opts.NBestSize)
	ends := bestIndices(result.EndLogits, opts.NBestSize)

	var out []prelimPrediction
	for _, s := range starts {
		for _, e := range ends {
			if s >= len(feat.Tokens) || e >= len(feat.Tokens) {
				continue
			}
			if _, ok := feat.TokenToOrigMap[s]; !ok {
				continue
			}
			if _, ok := feat.TokenToOrigMap[e]; !ok {
				continue
			}
			if !feat.TokenIsMaxContext[s] {
				continue
			}
			if e < s || e-s+1 > opts.MaxAnswerLength {
				continue
			}
			out = append(out, prelimPrediction{
				startIndex: s,
				endIndex:   e,
				startLogit: float64(result.StartLogits[s]),
				endLogit:   float64(result.EndLogits[e]),
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].startLogit+out[a].endLogit > out[b].startLogit+out[b].endLogit
	})
	return out
}

// answerText reconstructs the original document text of a predicted span.
// It reports false when the token map points outside the document or maps
// the span backwards.
func answerText(ex *Example, feat *Feature, p prelimPrediction, opts Options) (string, bool) {
	origStart := feat.TokenToOrigMap[p.startIndex]
	origEnd := feat.TokenToOrigMap[p.endIndex]
	if origStart < 0 || origEnd >= len(ex.DocTokens) || origStart > origEnd {
		return "", false
	}

	tokText := strings.Join(feat.Tokens[p.startIndex:p.endIndex+1], " ")
	tokText = strings.ReplaceAll(tokText, " ##", "")
	tokText = strings.ReplaceAll(tokText, "##", "")
	tokText = strings.Join(strings.Fields(tokText), " ")

	origText := strings.Join(ex.DocTokens[origStart:origEnd+1], " ")
	return finalText(tokText, origText, opts.DoLowerCase, opts.VerboseLogging), true
}

// GetAnswers picks the best answer for every example that has at least
// one scored feature.
//
// Results and features are matched by unique id; results without a
// feature, features without a result and features pointing at a missing
// example are ignored. It returns the chosen
// answer text and the n-best list per question id. With
// Version2WithNegative, the empty answer is chosen when the null score
// exceeds the best span score by more than NullScoreDiffThreshold.
func GetAnswers(examples []Example, features []Feature, results []RawResult, opts Options) (map[string]string, map[string][]Prediction) {
	byID := make(map[int64]*RawResult, len(results))
	for i := range results {
		byID[results[i].UniqueID] = &results[i]
	}
	matched := make([]*Feature, 0, len(features))
	for i := range features {
		if features[i].ExampleIndex < 0 || features[i].ExampleIndex >= len(examples) {
			continue
		}
		if _, ok := byID[features[i].UniqueID]; ok {
			matched = append(matched, &features[i])
		}
	}
	sort.SliceStable(matched, func(a, b int) bool { return matched[a].UniqueID < matched[b].UniqueID })

	predictions := make(map[string][]Prediction)
	var order []string
	nulls := make(map[string]nullScore)

	for _, feat := range matched {
		result := byID[feat.UniqueID]
		ex := &examples[feat.ExampleIndex]
		if _, ok := predictions[ex.QAID]; !ok {
			order = append(order, ex.QAID)
			predictions[ex.QAID] = nil
		}

		if opts.Version2WithNegative && len(result.StartLogits) > 0 && len(result.EndLogits) > 0 {
			score := float64(result.StartLogits[0]) + float64(result.EndLogits[0])
			if cur, ok := nulls[ex.QAID]; !ok || score < cur.score {
				nulls[ex.QAID] = nullScore{score, float64(result.StartLogits[0]), float64(result.EndLogits[0])}
			}
		}

		var current []Prediction
		seen := make(map[string]bool)
		for _, p := range validPrelimPredictions(feat, result, opts) {
			if len(current) == opts.NBestSize {
				break
			}
			text := ""
			if p.startIndex > 0 {
				var ok bool
				if text, ok = answerText(ex, feat, p, opts); !ok || seen[text] {
					continue
				}
			}
			seen[text] = true
			current = append(current, Prediction{Text: text, StartLogit: p.startLogit, EndLogit: p.endLogit})
		}
		predictions[ex.QAID] = append(predictions[ex.QAID], current...)
	}

	if opts.Version2WithNegative {
		for _, id := range order {
			null := nulls[id]
			predictions[id] = append(predictions[id], Prediction{StartLogit: null.startLogit, EndLogit: null.endLogit})
		}
	}

	answers := make(map[string]string, len(order))
	nbestAll := make(map[string][]Prediction, len(order))
	for _, id := range order {
		nbest := append([]Prediction(nil), predictions[id]...)
		sort.SliceStable(nbest, func(a, b int) bool { return nbest[a].score() > nbest[b].score() })
		if len(nbest) > opts.NBestSize {
			nbest = nbest[:opts.NBestSize]
		}
		// A lone null prediction may have been cut; keep a placeholder so
		// every question gets an answer.
		if len(nbest) == 0 {
			nbest = append(nbest, Prediction{Text: "empty"})
		}

		scores := make([]float64, len(nbest))
		var bestNonNull *Prediction
		for i := range nbest {
			scores[i] = nbest[i].score()
			if bestNonNull == nil && nbest[i].Text != "" {
				bestNonNull = &nbest[i]
			}
		}
		for i, p := range softmax(scores) {
			nbest[i].Probability = p
		}
		nbestAll[id] = nbest

		if !opts.Version2WithNegative {
			answers[id] = nbest[0].Text
			continue
		}
		if bestNonNull == nil {
			answers[id] = ""
			continue
		}
		diff := nulls[id].score - bestNonNull.StartLogit - bestNonNull.EndLogit
		if diff > opts.NullScoreDiffThreshold {
			answers[id] = ""
		} else {
			answers[id] = bestNonNull.Text
		}
	}
	return answers, nbestAll
}
