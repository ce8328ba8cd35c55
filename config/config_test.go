package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/config"
)

const sampleYAML = `
datasets:
  train_labelled: {path: data/train_l.pxds, batch_size: 8}
  train_unlabelled: {path: data/train_u.pxds, batch_size: 8}
  val: {path: data/val.pxds, batch_size: 4}
train:
  steps: 2000
  semisupervised_weight: 0.5
validation:
  frequency: 100
  image_frequency: 500
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o666))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Train.Steps)
	assert.Equal(t, 0.5, cfg.Train.SemisupervisedWeight)
	assert.Equal(t, "data/val.pxds", cfg.Datasets.Val.Path)
	// Untouched knobs keep their defaults.
	assert.Equal(t, "bce", cfg.Train.LossSupervised)
	assert.Equal(t, "adam", cfg.Optimizer.Type)
	assert.Equal(t, [3]int{3, 2, 1}, cfg.Model.RGBBands)
	assert.Equal(t, 0.2, cfg.PseudoLabels.Low)
	assert.Nil(t, cfg.DOptimizer)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	for name, mutate := range map[string]func(*config.Config){
		"missing path":        func(c *config.Config) { c.Datasets.Val.Path = "" },
		"zero batch":          func(c *config.Config) { c.Datasets.TrainLabelled.BatchSize = 0 },
		"image freq not mult": func(c *config.Config) { c.Validation.ImageFrequency = 150 },
		"inverted gate":       func(c *config.Config) { c.PseudoLabels.Low, c.PseudoLabels.High = 0.9, 0.1 },
		"negative weight":     func(c *config.Config) { c.Train.SemisupervisedWeight = -1 },
		"no steps":            func(c *config.Config) { c.Train.Steps = 0 },
	} {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestWithSemisupervisedWeightDoesNotMutate(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	override := cfg.WithSemisupervisedWeight(0.9)
	assert.Equal(t, 0.9, override.Train.SemisupervisedWeight)
	assert.Equal(t, 0.5, cfg.Train.SemisupervisedWeight)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	cfg.RunID = "test-run-id"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	reloaded, err := config.Load(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}

func TestRunDirGuard(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run1")
	require.NoError(t, config.CheckRunDir(runDir))

	cfg, err := config.Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, config.CreateRunDir(runDir, cfg))

	// Snapshot landed.
	_, err = os.Stat(filepath.Join(runDir, config.ConfigSnapshotName))
	require.NoError(t, err)

	// Second run with the same name is refused before any side effect.
	assert.ErrorContains(t, config.CheckRunDir(runDir), "previous run exists")
}
