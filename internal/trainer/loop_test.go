package trainer

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"

	"fashion-forge/internal/config"
	"fashion-forge/internal/dataset"
	"fashion-forge/internal/label"
	"fashion-forge/internal/progress"
)

func TestNumBatchesRounds(t *testing.T) {
	cases := []struct{ n, bs, want int }{
		{55, 10, 6},
		{54, 10, 5},
		{100, 10, 10},
		{4, 10, 0},
		{5, 10, 0},
		{15, 10, 2},
		{25, 10, 2},
		{45, 10, 4},
		{0, 10, 0},
	}
	for _, c := range cases {
		if got := NumBatches(c.n, c.bs); got != c.want {
			t.Fatalf("NumBatches(%d, %d)=%d want %d", c.n, c.bs, got, c.want)
		}
	}
}

func TestBatchBoundsClipsLastBatch(t *testing.T) {
	lo, hi := batchBounds(5, 10, 55)
	if lo != 50 || hi != 55 {
		t.Fatalf("last batch [%d,%d) want [50,55)", lo, hi)
	}
	lo, hi = batchBounds(2, 10, 55)
	if lo != 20 || hi != 30 {
		t.Fatalf("batch 2 [%d,%d) want [20,30)", lo, hi)
	}
}

func syntheticConfig() config.Config {
	cfg := config.Default()
	cfg.NHidden1 = 64
	cfg.NHidden2 = 32
	cfg.NEpoch = 4
	cfg.BatchSize = 10
	cfg.Format = config.FormatSynthetic
	cfg.SyntheticSamples = 100
	return cfg
}

func loadSynthetic(t *testing.T, cfg config.Config) dataset.Splits {
	t.Helper()
	p := dataset.NewSynthetic(cfg.SyntheticSamples, cfg.NInput, cfg.NClass, 7)
	splits, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("synthetic load: %v", err)
	}
	return splits
}

func TestFitSyntheticEndToEnd(t *testing.T) {
	cfg := syntheticConfig()
	splits := loadSynthetic(t, cfg)

	var out bytes.Buffer
	tr, err := New(cfg, WithOutput(&out))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := tr.Fit(context.Background(), splits)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(res.Epochs) != cfg.NEpoch {
		t.Fatalf("expected %d epochs, got %d", cfg.NEpoch, len(res.Epochs))
	}
	for _, e := range res.Epochs {
		for name, v := range map[string]float64{"train_loss": e.TrainLoss, "val_loss": e.ValLoss} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Fatalf("epoch %d: %s=%g", e.Epoch, name, v)
			}
		}
		if e.Batches != NumBatches(splits.Train.Len(), cfg.BatchSize) {
			t.Fatalf("epoch %d ran %d batches", e.Epoch, e.Batches)
		}
		if e.TrainAccuracy < 0 || e.TrainAccuracy > 1 || e.ValAccuracy < 0 || e.ValAccuracy > 1 {
			t.Fatalf("epoch %d accuracy out of range: %+v", e.Epoch, e)
		}
	}
	if res.TestAccuracy < 0 || res.TestAccuracy > 1 {
		t.Fatalf("test accuracy %g outside [0,1]", res.TestAccuracy)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != cfg.NEpoch+1 {
		t.Fatalf("expected %d output lines, got %d:\n%s", cfg.NEpoch+1, len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "epoch:0, train_loss: ") {
		t.Fatalf("unexpected epoch line %q", lines[0])
	}
	if !strings.HasPrefix(lines[len(lines)-1], "Test Accuracy: ") {
		t.Fatalf("unexpected final line %q", lines[len(lines)-1])
	}
}

func TestFitQuietPrintsOnlyTestLine(t *testing.T) {
	cfg := syntheticConfig()
	cfg.NEpoch = 1
	cfg.Verbose = false
	var out bytes.Buffer
	tr, err := New(cfg, WithOutput(&out))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(context.Background(), loadSynthetic(t, cfg)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != 1 || !strings.HasPrefix(out.String(), "Test Accuracy: ") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestTrainingReducesLossOnRepeatedData(t *testing.T) {
	cfg := syntheticConfig()
	cfg.NEpoch = 8
	cfg.Verbose = false
	splits := loadSynthetic(t, cfg)
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := tr.Fit(context.Background(), splits)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	first, last := res.Epochs[0].TrainLoss, res.Epochs[len(res.Epochs)-1].TrainLoss
	if last >= first {
		t.Fatalf("training loss did not fall: first=%g last=%g", first, last)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	cfg := syntheticConfig()
	splits := loadSynthetic(t, cfg)
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l1, a1, err := tr.Evaluate(splits.Val)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	l2, a2, err := tr.Evaluate(splits.Val)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if l1 != l2 || a1 != a2 {
		t.Fatalf("evaluation changed: (%v,%v) vs (%v,%v)", l1, a1, l2, a2)
	}
}

func TestFitRejectsBadLabels(t *testing.T) {
	cfg := syntheticConfig()
	splits := loadSynthetic(t, cfg)
	splits.Train.Labels[3] = cfg.NClass
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(context.Background(), splits); err == nil {
		t.Fatal("expected error for out-of-range label")
	}

	if _, err := label.OneHot(cfg.NClass, splits.Train.Labels); !errors.Is(err, label.ErrLabelRange) {
		t.Fatalf("expected ErrLabelRange, got %v", err)
	}
}

func TestFitRejectsWrongWidth(t *testing.T) {
	cfg := syntheticConfig()
	p := dataset.NewSynthetic(100, cfg.NInput-1, cfg.NClass, 1)
	splits, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(context.Background(), splits); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestFitHonoursCancellation(t *testing.T) {
	cfg := syntheticConfig()
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Fit(ctx, loadSynthetic(t, cfg)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFormatEpochRounds(t *testing.T) {
	cases := []struct {
		stats EpochStats
		want  string
	}{
		{
			EpochStats{Epoch: 2, TrainLoss: 0.123456, TrainAccuracy: 0.876, ValLoss: 1.5, ValAccuracy: 0.5049},
			"epoch:2, train_loss: 0.123, train_accuracy: 0.88,val_loss: 1.5, val_accuracy: 0.5",
		},
		{
			// exact ties go to even; 1.0005 is stored just below the tie
			EpochStats{Epoch: 0, TrainLoss: 0.0625, TrainAccuracy: 0.125, ValLoss: 1.0005, ValAccuracy: 0.625},
			"epoch:0, train_loss: 0.062, train_accuracy: 0.12,val_loss: 1.0, val_accuracy: 0.62",
		},
		{
			EpochStats{Epoch: 9, TrainLoss: 2, TrainAccuracy: 1, ValLoss: 0.0004, ValAccuracy: 0},
			"epoch:9, train_loss: 2.0, train_accuracy: 1.0,val_loss: 0.0, val_accuracy: 0.0",
		},
	}
	for _, c := range cases {
		if got := FormatEpoch(c.stats); got != c.want {
			t.Fatalf("got  %q\nwant %q", got, c.want)
		}
	}
}

func TestFitShortFinalBatch(t *testing.T) {
	cfg := syntheticConfig()
	cfg.NEpoch = 2
	splits, err := dataset.SyntheticProvider{Train: 55, Val: 10, Test: 10, Inputs: cfg.NInput, Classes: cfg.NClass, Seed: 3}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := append([]float64(nil), tr.Model().Parameters()[0]...)
	res, err := tr.Fit(context.Background(), splits)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, e := range res.Epochs {
		if e.Batches != 6 {
			t.Fatalf("epoch %d ran %d batches, want 6", e.Epoch, e.Batches)
		}
		if math.IsNaN(e.TrainLoss) || math.IsInf(e.TrainLoss, 0) {
			t.Fatalf("epoch %d loss %g", e.Epoch, e.TrainLoss)
		}
	}
	if floats.Equal(before, tr.Model().Parameters()[0]) {
		t.Fatal("first layer weights did not change")
	}
}

func TestFitStopsOnNonFiniteLoss(t *testing.T) {
	cfg := syntheticConfig()
	cfg.NEpoch = 1
	splits := loadSynthetic(t, cfg)
	splits.Train.Images.Set(0, 0, math.NaN())
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(context.Background(), splits); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
}

type brokenBar struct{ calls *int }

func (b brokenBar) Add(int) error {
	*b.calls++
	return errors.New("terminal gone")
}

func (b brokenBar) Finish() error { return errors.New("terminal gone") }

func TestFitSurvivesProgressErrors(t *testing.T) {
	cfg := syntheticConfig()
	cfg.NEpoch = 1
	calls := 0
	bars := func(int, string) progress.Bar { return brokenBar{calls: &calls} }
	tr, err := New(cfg, WithProgress(bars))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tr.Fit(context.Background(), loadSynthetic(t, cfg)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if calls == 0 {
		t.Fatal("progress bar was never advanced")
	}
}

func TestReportBarKeepsFirstError(t *testing.T) {
	first := errors.New("first")
	if got := reportBar(nil, nil); got != nil {
		t.Fatalf("got %v want nil", got)
	}
	if got := reportBar(nil, first); got != first {
		t.Fatalf("got %v want first", got)
	}
	if got := reportBar(first, errors.New("second")); got != first {
		t.Fatalf("got %v want first", got)
	}
}
