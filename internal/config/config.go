package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"gopkg.in/yaml.v3"
)

// DefaultEarlyStop is the patience used when the config leaves early_stop unset.
const DefaultEarlyStop = 25

// Job describes the data shapes shared by every genome.
type Job struct {
	NumGenomes   int   `yaml:"num_genomes"`
	BatchSize    int   `yaml:"batch_size"`
	SeqLength    int   `yaml:"seq_length"`
	TargetLength int   `yaml:"target_length"`
	NumTargets   []int `yaml:"num_targets"`
	// SeqDepth is inferred from the first genome's data when zero.
	SeqDepth int `yaml:"seq_depth,omitempty"`
}

// Config captures the runtime knobs for a training run.
type Config struct {
	Job               Job      `yaml:"job"`
	TrainData         []string `yaml:"train_data"`
	EvalData          []string `yaml:"eval_data"`
	TrainEpochs       int      `yaml:"train_epochs"`
	TrainEpochBatches int      `yaml:"train_epoch_batches"`
	EvalEpochBatches  int      `yaml:"eval_epoch_batches"`
	EarlyStop         int      `yaml:"early_stop"`
	Restart           string   `yaml:"restart"`
	LogDir            string   `yaml:"logdir"`
	Seed              int64    `yaml:"seed"`
	NumWorkers        int      `yaml:"num_workers"`
	LearningRate      float64  `yaml:"learning_rate"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	TrainData         string
	EvalData          string
	TrainEpochs       int
	TrainEpochBatches int
	EvalEpochBatches  int
	EarlyStop         int
	Restart           string
	LogDir            string
	Seed              int64
	NumWorkers        int
	LearningRate      float64
}

// Load reads a Config from YAML. Callers validate after applying overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Data overrides are
// comma separated, one pattern per genome.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.TrainData != "" {
		c.TrainData = splitPatterns(o.TrainData)
	}
	if o.EvalData != "" {
		c.EvalData = splitPatterns(o.EvalData)
	}
	if o.TrainEpochs > 0 {
		c.TrainEpochs = o.TrainEpochs
	}
	if o.TrainEpochBatches > 0 {
		c.TrainEpochBatches = o.TrainEpochBatches
	}
	if o.EvalEpochBatches > 0 {
		c.EvalEpochBatches = o.EvalEpochBatches
	}
	if o.EarlyStop > 0 {
		c.EarlyStop = o.EarlyStop
	}
	if o.Restart != "" {
		c.Restart = o.Restart
	}
	if o.LogDir != "" {
		c.LogDir = o.LogDir
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
}

// Validate verifies the config is runnable for training and fills defaults.
func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if len(c.TrainData) != c.Job.NumGenomes {
		return fmt.Errorf("train_data must list %d patterns (got %d)", c.Job.NumGenomes, len(c.TrainData))
	}
	if c.TrainEpochs < 0 {
		return fmt.Errorf("train_epochs must be >= 0 (got %d)", c.TrainEpochs)
	}
	if c.TrainEpochBatches < 0 {
		return fmt.Errorf("train_epoch_batches must be >= 0 (got %d)", c.TrainEpochBatches)
	}
	if c.EarlyStop < 0 {
		return fmt.Errorf("early_stop must be >= 0 (got %d)", c.EarlyStop)
	}
	if c.EarlyStop == 0 {
		c.EarlyStop = DefaultEarlyStop
	}
	return nil
}

// ValidateEval is Validate for evaluation only: train_data and the training
// options are not consulted.
func (c *Config) ValidateEval() error {
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Job.Validate(); err != nil {
		return err
	}
	if len(c.EvalData) != c.Job.NumGenomes {
		return fmt.Errorf("eval_data must list %d patterns (got %d)", c.Job.NumGenomes, len(c.EvalData))
	}
	if c.EvalEpochBatches < 0 {
		return fmt.Errorf("eval_epoch_batches must be >= 0 (got %d)", c.EvalEpochBatches)
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be >= 0 (got %g)", c.LearningRate)
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.01
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = defaultWorkers()
	}
	return nil
}

// Validate checks the job shapes.
func (j *Job) Validate() error {
	if j.NumGenomes < 1 {
		return fmt.Errorf("num_genomes must be >= 1 (got %d)", j.NumGenomes)
	}
	if j.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", j.BatchSize)
	}
	if j.SeqLength <= 0 {
		return fmt.Errorf("seq_length must be > 0 (got %d)", j.SeqLength)
	}
	if j.TargetLength <= 0 {
		return fmt.Errorf("target_length must be > 0 (got %d)", j.TargetLength)
	}
	if len(j.NumTargets) != j.NumGenomes {
		return fmt.Errorf("num_targets must list %d counts (got %d)", j.NumGenomes, len(j.NumTargets))
	}
	for gi, n := range j.NumTargets {
		if n <= 0 {
			return fmt.Errorf("num_targets[%d] must be > 0 (got %d)", gi, n)
		}
	}
	if j.SeqDepth < 0 {
		return fmt.Errorf("seq_depth must be >= 0 (got %d)", j.SeqDepth)
	}
	return nil
}

// ObserveSeqDepth records the input depth inferred from a genome's data. The
// first observation sets SeqDepth; later ones must match it.
func (j *Job) ObserveSeqDepth(depth int) error {
	if j.SeqDepth == 0 {
		j.SeqDepth = depth
		return nil
	}
	if j.SeqDepth != depth {
		return fmt.Errorf("seq_depth %d does not match data depth %d", j.SeqDepth, depth)
	}
	return nil
}

// defaultWorkers sizes the shard loader pool to the physical cores.
func defaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func splitPatterns(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
