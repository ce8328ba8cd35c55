// Package telemetry is the write-only sink for run metrics and review images.
//
// Scalar metrics stream into the run directory's training_plot_points.json,
// one JSON point per metric per logging step, readable by the usual plotting
// notebooks. Images land under images/ as PNG files.
package telemetry

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sink writes metrics and images of one run. Not safe for concurrent use; the
// training loop is the only writer.
type Sink struct {
	runDir string
	points chan<- plots.Point
	errC   <-chan error
}

// NewSink opens the metric stream inside runDir, which must already exist.
func NewSink(runDir string) (*Sink, error) {
	if _, err := os.Stat(runDir); err != nil {
		return nil, errors.Wrapf(err, "run directory %s", runDir)
	}
	points, errC := plots.CreatePointsWriter(filepath.Join(runDir, plots.TrainingPlotFileName))
	return &Sink{runDir: runDir, points: points, errC: errC}, nil
}

// LogMetrics writes one metric map under the given tag ("trn" or "val").
// Metric names are emitted in sorted order so the stream is reproducible.
func (s *Sink) LogMetrics(metrics map[string]float64, tag string, step int) {
	for _, name := range xslices.SortedKeys(metrics) {
		s.points <- plots.Point{
			MetricName: tag + "/" + name,
			Short:      name,
			MetricType: metricType(name),
			Step:       float64(step),
			Value:      metrics[name],
		}
	}
}

// metricType groups related metrics onto a shared plot.
func metricType(name string) string {
	switch {
	case strings.HasPrefix(name, "loss"):
		return "loss"
	case strings.HasPrefix(name, "fraction"):
		return "fraction"
	default:
		return "quality"
	}
}

// LogImage saves a review image as images/<tag>_step<NNNNNNN>.png.
func (s *Sink) LogImage(tag string, img image.Image, step int) error {
	dir := filepath.Join(s.runDir, "images")
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return errors.Wrapf(err, "creating image directory %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_step%07d.png", tag, step))
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "saving image %s", path)
	}
	klog.V(1).Infof("Saved %s", path)
	return nil
}

// Close flushes the metric stream and reports any deferred write error.
func (s *Sink) Close() error {
	close(s.points)
	if err := <-s.errC; err != nil {
		return errors.Wrap(err, "flushing metric stream")
	}
	return nil
}
