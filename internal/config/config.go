package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Data source formats understood by the CLI.
const (
	FormatIDX       = "idx"
	FormatShards    = "shards"
	FormatSynthetic = "synthetic"
)

// Config captures the runtime knobs for a training run. It is read-only once
// validated and is passed by value to every component that needs it.
type Config struct {
	NInput       int     `yaml:"n_input"`
	NHidden1     int     `yaml:"n_hidden1"`
	NHidden2     int     `yaml:"n_hidden2"`
	NClass       int     `yaml:"n_class"`
	LearningRate float64 `yaml:"learning_rate"`
	NEpoch       int     `yaml:"n_epoch"`
	BatchSize    int     `yaml:"batch_size"`
	Seed         int64   `yaml:"seed"`
	Verbose      bool    `yaml:"verbose"`

	Format           string `yaml:"format"`
	DataDir          string `yaml:"data_dir"`
	TrainRoot        string `yaml:"train_root"`
	TestRoot         string `yaml:"test_root"`
	ValidationSize   int    `yaml:"validation_size"`
	SyntheticSamples int    `yaml:"synthetic_samples"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	NHidden1     int
	NHidden2     int
	LearningRate float64
	NEpoch       int
	BatchSize    int
	Seed         int64
	Format       string
	DataDir      string
	TrainRoot    string
	TestRoot     string
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		NInput:           784,
		NHidden1:         256,
		NHidden2:         128,
		NClass:           10,
		LearningRate:     0.001,
		NEpoch:           10,
		BatchSize:        100,
		Seed:             42,
		Verbose:          true,
		Format:           FormatIDX,
		DataDir:          "../data/fashion",
		ValidationSize:   5000,
		SyntheticSamples: 1000,
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file
// keep their Default values; unknown keys are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default without validating the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.NHidden1 > 0 {
		c.NHidden1 = o.NHidden1
	}
	if o.NHidden2 > 0 {
		c.NHidden2 = o.NHidden2
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.NEpoch > 0 {
		c.NEpoch = o.NEpoch
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.TrainRoot != "" {
		c.TrainRoot = o.TrainRoot
	}
	if o.TestRoot != "" {
		c.TestRoot = o.TestRoot
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.NInput <= 0 {
		return fmt.Errorf("n_input must be > 0 (got %d)", c.NInput)
	}
	if c.NHidden1 <= 0 {
		return fmt.Errorf("n_hidden1 must be > 0 (got %d)", c.NHidden1)
	}
	if c.NHidden2 <= 0 {
		return fmt.Errorf("n_hidden2 must be > 0 (got %d)", c.NHidden2)
	}
	if c.NClass < 2 {
		return fmt.Errorf("n_class must be >= 2 (got %d)", c.NClass)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.NEpoch <= 0 {
		return fmt.Errorf("n_epoch must be > 0 (got %d)", c.NEpoch)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	switch c.Format {
	case "":
		c.Format = FormatIDX
		fallthrough
	case FormatIDX:
		if c.DataDir == "" {
			return errors.New("data_dir must be set for idx format")
		}
		if c.ValidationSize <= 0 {
			return fmt.Errorf("validation_size must be > 0 (got %d)", c.ValidationSize)
		}
	case FormatShards:
		if c.TrainRoot == "" || c.TestRoot == "" {
			return errors.New("both train_root and test_root must be set for shards format")
		}
		if c.ValidationSize <= 0 {
			return fmt.Errorf("validation_size must be > 0 (got %d)", c.ValidationSize)
		}
	case FormatSynthetic:
		if c.SyntheticSamples <= 0 {
			c.SyntheticSamples = 1000
		}
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}
