// Package config holds the experiment configuration for PixelDINO training runs.
//
// A Config is decoded once from a YAML file at startup and from then on is
// threaded explicitly, by value, into every component that needs it. No
// component reads configuration through a global.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DatasetSpec points to one pre-generated patch file and sets its batch size.
type DatasetSpec struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

// Datasets lists the three data sources of a semi-supervised run.
type Datasets struct {
	TrainLabelled   DatasetSpec `yaml:"train_labelled"`
	TrainUnlabelled DatasetSpec `yaml:"train_unlabelled"`
	Val             DatasetSpec `yaml:"val"`
}

// Model describes the reference segmentation network. The training core only
// depends on the forward-pass contract, so these knobs never leak past the
// model package.
type Model struct {
	InChannels  int `yaml:"in_channels"`
	BaseFilters int `yaml:"base_filters"`
	Depth       int `yaml:"depth"`

	// RGBBands selects which input channels make up the RGB preview
	// (Sentinel-2 true color is bands [3 2 1]).
	RGBBands [3]int `yaml:"rgb_bands"`
	// RGBScale brightens the preview: display = clip(255*RGBScale*value).
	RGBScale float64 `yaml:"rgb_scale"`
}

// Optimizer mirrors the optax-style configuration: an update rule plus a
// learning-rate schedule, each with free-form float arguments.
type Optimizer struct {
	Type         string             `yaml:"type"`
	Schedule     string             `yaml:"schedule"`
	ScheduleArgs map[string]float64 `yaml:"schedule_args"`
	Args         map[string]float64 `yaml:"args"`
}

// Train holds the loop and loss selection parameters.
type Train struct {
	Steps                int     `yaml:"steps"`
	LossSupervised       string  `yaml:"loss_supervised"`
	LossSemisupervised   string  `yaml:"loss_semisupervised"`
	SemisupervisedWeight float64 `yaml:"semisupervised_weight"`
	Group                string  `yaml:"group,omitempty"`
}

// Validation controls how often metrics and mosaics are produced.
// ImageFrequency must be a multiple of Frequency.
type Validation struct {
	Frequency      int `yaml:"frequency"`
	ImageFrequency int `yaml:"image_frequency"`
}

// PseudoLabels holds the hysteresis thresholds of the pseudo-label gate.
type PseudoLabels struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Augment tunes the weak ("prep") and strong ("distort") augmentations.
type Augment struct {
	// ImageScale divides raw reflectance values during prep.
	ImageScale float64 `yaml:"image_scale"`
	// NoiseStdDev for the additive gaussian noise of the strong distortion.
	NoiseStdDev float64 `yaml:"noise_stddev"`
	// Jitter is the +/- range of the brightness and contrast factors.
	Jitter float64 `yaml:"jitter"`
	// Disabled turns both transforms into pure normalization, used in tests.
	Disabled bool `yaml:"disabled,omitempty"`
}

// Config is the complete, immutable run configuration.
type Config struct {
	// RunID is stamped in by the trainer before the snapshot is written; it is
	// never read from the input file.
	RunID string `yaml:"run_id,omitempty"`

	Datasets     Datasets     `yaml:"datasets"`
	Model        Model        `yaml:"model"`
	Optimizer    Optimizer    `yaml:"optimizer"`
	DOptimizer   *Optimizer   `yaml:"d_optimizer,omitempty"`
	Train        Train        `yaml:"train"`
	Validation   Validation   `yaml:"validation"`
	PseudoLabels PseudoLabels `yaml:"pseudolabels"`
	Augment      Augment      `yaml:"augment"`
}

// Default returns a Config with every optional knob at its reference value.
// Load starts from this and overlays the YAML file.
func Default() Config {
	return Config{
		Model: Model{
			InChannels:  12,
			BaseFilters: 32,
			Depth:       3,
			RGBBands:    [3]int{3, 2, 1},
			RGBScale:    2.0,
		},
		Optimizer: Optimizer{
			Type:     "adam",
			Schedule: "constant_schedule",
			ScheduleArgs: map[string]float64{
				"value": 1e-4,
			},
		},
		Train: Train{
			Steps:                10000,
			LossSupervised:       "bce",
			LossSemisupervised:   "bce",
			SemisupervisedWeight: 0.3,
		},
		Validation: Validation{
			Frequency:      500,
			ImageFrequency: 2500,
		},
		PseudoLabels: PseudoLabels{Low: 0.2, High: 0.8},
		Augment: Augment{
			ImageScale:  1.0,
			NoiseStdDev: 0.02,
			Jitter:      0.1,
		},
	}
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %q", path)
	}
	return cfg, nil
}

// Validate checks the cross-field invariants that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Train.Steps <= 0 {
		return errors.Errorf("train.steps must be positive, got %d", c.Train.Steps)
	}
	if c.Validation.Frequency <= 0 {
		return errors.Errorf("validation.frequency must be positive, got %d", c.Validation.Frequency)
	}
	if c.Validation.ImageFrequency%c.Validation.Frequency != 0 {
		return errors.Errorf("validation.image_frequency (%d) must be a multiple of validation.frequency (%d)",
			c.Validation.ImageFrequency, c.Validation.Frequency)
	}
	if c.PseudoLabels.Low >= c.PseudoLabels.High {
		return errors.Errorf("pseudolabels.low (%g) must be below pseudolabels.high (%g)",
			c.PseudoLabels.Low, c.PseudoLabels.High)
	}
	if c.Train.SemisupervisedWeight < 0 {
		return errors.Errorf("train.semisupervised_weight must be >= 0, got %g", c.Train.SemisupervisedWeight)
	}
	for _, ds := range []struct {
		name string
		spec DatasetSpec
	}{
		{"datasets.train_labelled", c.Datasets.TrainLabelled},
		{"datasets.train_unlabelled", c.Datasets.TrainUnlabelled},
		{"datasets.val", c.Datasets.Val},
	} {
		if ds.spec.Path == "" {
			return errors.Errorf("%s.path is required", ds.name)
		}
		if ds.spec.BatchSize <= 0 {
			return errors.Errorf("%s.batch_size must be positive, got %d", ds.name, ds.spec.BatchSize)
		}
	}
	return nil
}

// WithSemisupervisedWeight returns a copy with the semi-supervised loss weight
// replaced, used for the --unlabelled_weight command line override.
func (c Config) WithSemisupervisedWeight(w float64) Config {
	c.Train.SemisupervisedWeight = w
	return c
}

// Marshal renders the configuration back to YAML, for the run-dir snapshot.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(&c)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling config")
	}
	return data, nil
}
