package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"fashion-forge/internal/config"
	"fashion-forge/internal/dataset"
	"fashion-forge/internal/label"
	"fashion-forge/internal/loss"
	"fashion-forge/internal/metrics"
	"fashion-forge/internal/model"
	"fashion-forge/internal/optim"
	"fashion-forge/internal/progress"
)

// ErrNonFinite is returned when an epoch produces a NaN or infinite loss.
var ErrNonFinite = errors.New("trainer: loss is not finite")

// EpochStats is what one epoch reports.
type EpochStats struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	Batches       int
	ImagesPerSec  float64
}

// Result summarises a finished run.
type Result struct {
	Epochs       []EpochStats
	TestAccuracy float64
}

// Trainer owns the model and optimizer state of one run.
type Trainer struct {
	cfg      config.Config
	model    *model.MLP
	opt      *optim.Adam
	out      io.Writer
	progress progress.Factory
}

// Option customises a Trainer.
type Option func(*Trainer)

// WithOutput sets where the epoch and test lines are printed.
func WithOutput(w io.Writer) Option {
	return func(t *Trainer) { t.out = w }
}

// WithProgress sets the per-epoch progress display.
func WithProgress(f progress.Factory) Option {
	return func(t *Trainer) { t.progress = f }
}

// New initialises the model parameters and optimizer state.
func New(cfg config.Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	mdl := model.New(cfg)
	t := &Trainer{
		cfg:      cfg,
		model:    mdl,
		opt:      optim.NewAdam(cfg, optim.Sizes(mdl.Parameters())),
		out:      io.Discard,
		progress: progress.Discard,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Model exposes the network being trained.
func (t *Trainer) Model() *model.MLP {
	return t.model
}

// NumBatches is round(n / batchSize), rounding halves to even.
func NumBatches(n, batchSize int) int {
	if n <= 0 || batchSize <= 0 {
		return 0
	}
	return int(math.RoundToEven(float64(n) / float64(batchSize)))
}

// batchBounds returns rows [lo, hi) of batch i, clipped to n.
func batchBounds(i, batchSize, n int) (int, int) {
	lo := i * batchSize
	hi := lo + batchSize
	if hi > n {
		hi = n
	}
	return lo, hi
}

// Fit runs every configured epoch over splits.Train, evaluating on the
// training and validation splits after each, and finally on splits.Test.
func (t *Trainer) Fit(ctx context.Context, splits dataset.Splits) (Result, error) {
	if err := splits.Check(t.cfg.NInput, t.cfg.NClass); err != nil {
		return Result{}, err
	}
	trainY, err := label.OneHot(t.cfg.NClass, splits.Train.Labels)
	if err != nil {
		return Result{}, err
	}

	n := splits.Train.Len()
	batches := NumBatches(n, t.cfg.BatchSize)
	if batches == 0 {
		return Result{}, fmt.Errorf("trainer: %d training examples do not fill a batch of %d", n, t.cfg.BatchSize)
	}
	log.Printf("train=%d val=%d test=%d batch_size=%d batches=%d params=%d",
		n, splits.Val.Len(), splits.Test.Len(), t.cfg.BatchSize, batches, t.model.NumParams())

	var res Result
	var window metrics.Window
	var barErr error
	for epoch := 0; epoch < t.cfg.NEpoch; epoch++ {
		bar := t.progress(batches, fmt.Sprintf("epoch %d", epoch))
		for i := 0; i < batches; i++ {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			startData := time.Now()
			lo, hi := batchBounds(i, t.cfg.BatchSize, n)
			x := splits.Train.Images.Slice(lo, hi, 0, t.cfg.NInput)
			y := trainY.Slice(lo, hi, 0, t.cfg.NClass)
			dataTime := time.Since(startData)

			startCompute := time.Now()
			batchLoss, err := t.step(x, y)
			if err != nil {
				return res, fmt.Errorf("epoch %d batch %d (rows %d-%d): %w", epoch, i, lo, hi, err)
			}
			window.Record(hi-lo, dataTime, time.Since(startCompute), batchLoss)
			barErr = reportBar(barErr, bar.Add(1))
		}
		barErr = reportBar(barErr, bar.Finish())

		snap := window.Snapshot()
		if math.IsNaN(snap.MeanLoss) || math.IsInf(snap.MeanLoss, 0) {
			return res, fmt.Errorf("%w: epoch %d loss %g", ErrNonFinite, epoch, snap.MeanLoss)
		}
		stats := EpochStats{
			Epoch:        epoch,
			TrainLoss:    snap.MeanLoss,
			Batches:      snap.Batches,
			ImagesPerSec: snap.ImagesPerSec,
		}
		if _, stats.TrainAccuracy, err = t.Evaluate(splits.Train); err != nil {
			return res, err
		}
		if stats.ValLoss, stats.ValAccuracy, err = t.Evaluate(splits.Val); err != nil {
			return res, err
		}
		res.Epochs = append(res.Epochs, stats)

		log.Printf("epoch=%d images_per_sec=%.1f data_ms=%.3f compute_ms=%.2f loss=%.4f",
			epoch, snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.MeanLoss)
		if t.cfg.Verbose {
			fmt.Fprintln(t.out, FormatEpoch(stats))
		}
	}

	_, testAcc, err := t.Evaluate(splits.Test)
	if err != nil {
		return res, err
	}
	res.TestAccuracy = testAcc
	fmt.Fprintf(t.out, "Test Accuracy: %s\n", formatFloat(testAcc))
	return res, nil
}

// reportBar logs the first progress display failure. Drawing errors never
// stop training.
func reportBar(prev, err error) error {
	if prev != nil || err == nil {
		return prev
	}
	log.Printf("progress=disabled err=%v", err)
	return err
}

// step runs forward, loss, backward and one optimizer update on a batch.
func (t *Trainer) step(x, y mat.Matrix) (float64, error) {
	logits, act, err := t.model.ForwardTrace(x)
	if err != nil {
		return 0, err
	}
	batchLoss, dLogits, err := loss.SoftmaxCrossEntropyGrad(logits, y)
	if err != nil {
		return 0, err
	}
	grads, err := t.model.Backward(act, dLogits)
	if err != nil {
		return 0, err
	}
	if err := t.opt.Step(t.model.Parameters(), grads.Slices()); err != nil {
		return 0, err
	}
	return batchLoss, nil
}

// Evaluate returns the mean loss and accuracy of the current parameters on
// s. It does not modify any state.
func (t *Trainer) Evaluate(s dataset.Split) (float64, float64, error) {
	return Evaluate(t.model, t.cfg.NClass, s)
}

// Evaluate scores any classifier on s.
func Evaluate(c model.Classifier, nClass int, s dataset.Split) (float64, float64, error) {
	y, err := label.OneHot(nClass, s.Labels)
	if err != nil {
		return 0, 0, err
	}
	logits, err := c.Forward(s.Images)
	if err != nil {
		return 0, 0, err
	}
	l, err := loss.SoftmaxCrossEntropy(logits, y)
	if err != nil {
		return 0, 0, err
	}
	return l, metrics.Accuracy(label.Argmax(logits), s.Labels), nil
}

// FormatEpoch renders the per-epoch console line. The comma before val_loss
// is not followed by a space.
func FormatEpoch(s EpochStats) string {
	return fmt.Sprintf("epoch:%d, train_loss: %s, train_accuracy: %s,val_loss: %s, val_accuracy: %s",
		s.Epoch,
		round(s.TrainLoss, 3),
		round(s.TrainAccuracy, 2),
		round(s.ValLoss, 3),
		round(s.ValAccuracy, 2),
	)
}

// round rounds the exact binary value of v to digits decimals, ties to
// even, and prints the result in shortest form.
func round(v float64, digits int) string {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', digits, 64), 64)
	return formatFloat(r)
}

// formatFloat prints the shortest decimal that parses back to v, keeping a
// ".0" on integral values.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
