package pixeldino

import (
	"github.com/gomlx/gomlx/backends"

	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/datasets"
	"github.com/forever-ezio/PixelDINO-test/telemetry"
	"github.com/forever-ezio/PixelDINO-test/training"
)

// BuildRun loads the three datasets, roots the training key chain at seed and
// opens the telemetry sink inside runDir, which must already exist.
//
// The labelled and unlabelled cyclers shuffle with seeds derived from the run
// seed, so the data sequence is as reproducible as the augmentation sequence.
func BuildRun(cfg config.Config, runDir string, backend backends.Backend,
	driver Driver, seed int64) (*Run, error) {
	labelled, err := datasets.Load(cfg.Datasets.TrainLabelled)
	if err != nil {
		return nil, err
	}
	unlabelled, err := datasets.Load(cfg.Datasets.TrainUnlabelled)
	if err != nil {
		return nil, err
	}
	val, err := datasets.Load(cfg.Datasets.Val)
	if err != nil {
		return nil, err
	}
	keys, err := training.NewKeyChain(backend, seed)
	if err != nil {
		return nil, err
	}
	sink, err := telemetry.NewSink(runDir)
	if err != nil {
		return nil, err
	}
	return &Run{
		Config:     cfg,
		RunDir:     runDir,
		Driver:     driver,
		Keys:       keys,
		Sink:       sink,
		Labelled:   labelled.Cycle(seed + 1),
		Unlabelled: unlabelled.Cycle(seed + 2),
		Val:        val,
	}, nil
}
