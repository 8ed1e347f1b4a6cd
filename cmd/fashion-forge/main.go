package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/klauspost/cpuid/v2"

	"fashion-forge/internal/config"
	"fashion-forge/internal/dataset"
	"fashion-forge/internal/progress"
	"fashion-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	format := flag.String("format", "", "Data format: idx, shards or synthetic")
	dataDir := flag.String("data-dir", "", "Override directory holding the idx files")
	trainRoot := flag.String("train-root", "", "Override training shard root")
	testRoot := flag.String("test-root", "", "Override test shard root")
	hidden1 := flag.Int("hidden1", 0, "Width of the first hidden layer")
	hidden2 := flag.Int("hidden2", 0, "Width of the second hidden layer")
	lr := flag.Float64("lr", 0, "Learning rate")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	seed := flag.Int64("seed", 0, "PRNG seed")
	gridPath := flag.String("samples-grid", "", "Write a 10x10 grid of training images to this PNG")
	showProgress := flag.Bool("progress", true, "Draw a progress bar per epoch")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		NHidden1:     *hidden1,
		NHidden2:     *hidden2,
		LearningRate: *lr,
		NEpoch:       *epochs,
		BatchSize:    *batchSize,
		Seed:         *seed,
		Format:       *format,
		DataDir:      *dataDir,
		TrainRoot:    *trainRoot,
		TestRoot:     *testRoot,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("cpu=%q cores=%d threads=%d avx2=%t fma=%t",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	splits, err := newProvider(*cfg).Load(ctx)
	if err != nil {
		log.Fatalf("load data: %v", err)
	}

	if *gridPath != "" {
		img, err := dataset.SampleGrid(splits.Train, 10, 10)
		if err != nil {
			log.Fatalf("sample grid: %v", err)
		}
		if err := dataset.WriteGridPNG(*gridPath, img); err != nil {
			log.Fatalf("sample grid: %v", err)
		}
		log.Printf("grid=%s", *gridPath)
	}

	opts := []trainer.Option{trainer.WithOutput(os.Stdout)}
	if *showProgress {
		opts = append(opts, trainer.WithProgress(progress.NewTerminal(os.Stderr)))
	}
	tr, err := trainer.New(*cfg, opts...)
	if err != nil {
		log.Fatalf("init trainer: %v", err)
	}

	if _, err := tr.Fit(ctx, splits); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func newProvider(cfg config.Config) dataset.Provider {
	switch cfg.Format {
	case config.FormatShards:
		return dataset.ShardProvider{
			TrainRoot:      cfg.TrainRoot,
			TestRoot:       cfg.TestRoot,
			ValidationSize: cfg.ValidationSize,
		}
	case config.FormatSynthetic:
		return dataset.NewSynthetic(cfg.SyntheticSamples, cfg.NInput, cfg.NClass, cfg.Seed)
	default:
		dirs := []string{cfg.DataDir}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, ".cache", "fashion-mnist"))
		}
		return dataset.IDXProvider{Dirs: dirs, ValidationSize: cfg.ValidationSize}
	}
}
