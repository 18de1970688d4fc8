package nn

import (
	"math"

	"github.com/born-ml/squad/internal/tensor"
)

// CrossEntropy computes the mean cross-entropy of logits [B, C] against
// class indices, skipping rows whose target equals ignoreIndex.
//
// Uses the log-sum-exp trick for numerical stability. The returned gradient
// is ∂L/∂logits = (Softmax(logits) - y_one_hot) / count for counted rows and
// zero for ignored ones. When every row is ignored the loss is 0.
func CrossEntropy(logits *tensor.Tensor, targets []int32, ignoreIndex int32) (float64, *tensor.Tensor) {
	shape := logits.Shape()
	batch, classes := shape[0], shape[1]
	grad := tensor.Zeros(shape)
	x := logits.Data()
	g := grad.Data()

	count := 0
	for b := 0; b < batch; b++ {
		if targets[b] != ignoreIndex {
			count++
		}
	}
	if count == 0 {
		return 0, grad
	}

	var total float64
	for b := 0; b < batch; b++ {
		target := targets[b]
		if target == ignoreIndex {
			continue
		}
		row := x[b*classes : (b+1)*classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxVal))
		}
		logSumExp := float64(maxVal) + math.Log(sumExp)
		total += logSumExp - float64(row[target])

		gRow := g[b*classes : (b+1)*classes]
		for c, v := range row {
			gRow[c] = float32(math.Exp(float64(v)-logSumExp) / float64(count))
		}
		gRow[target] -= float32(1 / float64(count))
	}
	return total / float64(count), grad
}

// SpanLoss is the SQuAD start/end loss: (CE(start) + CE(end)) / 2.
//
// Positions outside the model inputs are clamped to [0, seqLen] and the
// value seqLen is ignored, so those spans contribute nothing. The inputs
// are not modified.
func SpanLoss(startLogits, endLogits *tensor.Tensor, startPositions, endPositions []int32) (float64, *tensor.Tensor, *tensor.Tensor) {
	seqLen := int32(startLogits.Shape()[1]) //nolint:gosec // G115: sequence length fits in int32
	starts := clampPositions(startPositions, seqLen)
	ends := clampPositions(endPositions, seqLen)

	startLoss, gradStart := CrossEntropy(startLogits, starts, seqLen)
	endLoss, gradEnd := CrossEntropy(endLogits, ends, seqLen)
	for i, v := range gradStart.Data() {
		gradStart.Data()[i] = v / 2
	}
	for i, v := range gradEnd.Data() {
		gradEnd.Data()[i] = v / 2
	}
	return (startLoss + endLoss) / 2, gradStart, gradEnd
}

func clampPositions(positions []int32, hi int32) []int32 {
	out := make([]int32, len(positions))
	for i, p := range positions {
		out[i] = min(max(p, 0), hi)
	}
	return out
}
