// Package pixeldino drives semi-supervised segmentation training runs: the
// training loop, the periodic validation pass with tile mosaic exports, and
// checkpointing. The two training variants (consistency and adversarial) plug
// in through the Driver interface; everything else is shared.
package pixeldino

import (
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/forever-ezio/PixelDINO-test/checkpoint"
	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/datasets"
	"github.com/forever-ezio/PixelDINO-test/mosaic"
	"github.com/forever-ezio/PixelDINO-test/segmetrics"
	"github.com/forever-ezio/PixelDINO-test/telemetry"
	"github.com/forever-ezio/PixelDINO-test/training"
)

// Driver is the variant-specific part of a run: it owns the current training
// state and advances or evaluates it.
type Driver interface {
	// Step consumes one labelled and one unlabelled batch plus a fresh
	// random key and replaces the held state.
	Step(key *tensors.Tensor, imgL, maskL, imgU *tensors.Tensor) (training.Metrics, error)

	// Eval scores a validation batch under the current parameters.
	Eval(img, mask *tensors.Tensor) (*tensors.Tensor, training.Metrics, error)

	// StepCount reports how many transitions produced the current state.
	StepCount() int

	// Save snapshots the current state to path.
	Save(path string) error
}

// Run bundles everything a training run needs. Build one with the cmd
// wiring, then call Train.
type Run struct {
	Config config.Config
	RunDir string
	Driver Driver
	Keys   *training.KeyChain
	Sink   *telemetry.Sink

	Labelled   *datasets.Cycler
	Unlabelled *datasets.Cycler
	Val        *datasets.Dataset
}

// Train runs the loop from the driver's current step to the configured step
// count, validating every Frequency steps and exporting tile mosaics (plus a
// step-stamped checkpoint) every ImageFrequency steps.
func (r *Run) Train() error {
	cfg := r.Config
	bar := progressbar.Default(int64(cfg.Train.Steps), "training")
	bar.Set(r.Driver.StepCount())

	agg := segmetrics.NewAggregator()
	for r.Driver.StepCount() < cfg.Train.Steps {
		imgL, maskL := r.Labelled.Next()
		imgU, _ := r.Unlabelled.Next()
		metrics, err := r.Driver.Step(r.Keys.Next(), imgL, maskL, imgU)
		if err != nil {
			return err
		}
		agg.Add(metrics)
		bar.Add(1)

		step := r.Driver.StepCount()
		if step%cfg.Validation.Frequency != 0 {
			continue
		}
		r.Sink.LogMetrics(agg.Finalize(), "trn", step)
		agg.Reset()
		if err := r.Driver.Save(filepath.Join(r.RunDir, checkpoint.LatestName)); err != nil {
			return err
		}
		exportImages := cfg.Validation.ImageFrequency > 0 && step%cfg.Validation.ImageFrequency == 0
		if err := r.validate(step, exportImages); err != nil {
			return err
		}
	}
	klog.Infof("Training finished at step %d", r.Driver.StepCount())
	return nil
}

// validate runs one full ordered pass over the validation set. With
// exportImages set it additionally reconstructs every tile mosaic, writes the
// stacked and contour review images and stamps a checkpoint.
func (r *Run) validate(step int, exportImages bool) error {
	agg := segmetrics.NewAggregator()
	acc := mosaic.NewAccumulator()
	disp := mosaic.Display{
		RGBBands:   r.Config.Model.RGBBands,
		RGBScale:   r.Config.Model.RGBScale,
		ImageScale: r.Config.Augment.ImageScale,
	}

	it := r.Val.Iter()
	for {
		img, mask, metas, ok := it.Next()
		if !ok {
			break
		}
		pred, metrics, err := r.Driver.Eval(img, mask)
		if err != nil {
			return err
		}
		agg.Add(metrics)
		if !exportImages {
			continue
		}
		for i, meta := range metas {
			patch, err := mosaic.PatchFromBatch(img, mask, pred, i, meta.Box, disp)
			if err != nil {
				return errors.WithMessagef(err, "tile %q", meta.Tile)
			}
			if err := acc.Add(meta.Tile, patch); err != nil {
				return err
			}
		}
	}
	r.Sink.LogMetrics(agg.Finalize(), "val", step)

	if !exportImages {
		return nil
	}
	// One tile at a time: Take releases the patches before the next tile
	// is assembled.
	for _, tile := range acc.Tiles() {
		m := mosaic.Blend(acc.Take(tile))
		stacked := mosaic.SideBySide(m.RGBImage(), m.MaskImage(), m.PredImage())
		if err := r.Sink.LogImage(tile, stacked, step); err != nil {
			return err
		}
		if err := r.Sink.LogImage(tile+"_contours", m.Annotation(), step); err != nil {
			return err
		}
	}
	return r.Driver.Save(filepath.Join(r.RunDir, checkpoint.StepName(step)))
}
