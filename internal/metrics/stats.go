package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates per-batch stats across one epoch.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	lossSum float64
}

// Record adds a new batch measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Batches: w.steps, Samples: w.samples}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}

	*w = Window{}
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Batches      int
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	// MeanLoss is the sum of batch losses divided by the number of batches.
	MeanLoss float64
}

// Accuracy is the fraction of positions where pred and truth agree.
// Only the common prefix is compared; empty input yields 0.
func Accuracy(pred, truth []int) float64 {
	n := len(pred)
	if len(truth) < n {
		n = len(truth)
	}
	if n == 0 {
		return 0
	}
	hits := make([]float64, n)
	for i := 0; i < n; i++ {
		if pred[i] == truth[i] {
			hits[i] = 1
		}
	}
	return stat.Mean(hits, nil)
}
