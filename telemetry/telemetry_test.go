package telemetry

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkWritesPoints(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir)
	require.NoError(t, err)

	sink.LogMetrics(map[string]float64{"loss": 0.5, "accuracy": 0.9}, "trn", 100)
	sink.LogMetrics(map[string]float64{"loss": 0.4}, "val", 100)
	require.NoError(t, sink.Close())

	f, err := os.Open(filepath.Join(dir, plots.TrainingPlotFileName))
	require.NoError(t, err)
	defer f.Close()
	dec := json.NewDecoder(f)
	var points []plots.Point
	for dec.More() {
		var p plots.Point
		require.NoError(t, dec.Decode(&p))
		points = append(points, p)
	}
	require.Len(t, points, 3)
	// Sorted metric names within one LogMetrics call.
	assert.Equal(t, "trn/accuracy", points[0].MetricName)
	assert.Equal(t, "trn/loss", points[1].MetricName)
	assert.Equal(t, "val/loss", points[2].MetricName)
	assert.Equal(t, 0.5, points[1].Value)
	assert.Equal(t, float64(100), points[1].Step)
	assert.Equal(t, "loss", points[1].MetricType)
}

func TestSinkWritesImages(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, sink.LogImage("tile_01", img, 2500))
	_, err = os.Stat(filepath.Join(dir, "images", "tile_01_step0002500.png"))
	assert.NoError(t, err)
}

func TestSinkRequiresRunDir(t *testing.T) {
	_, err := NewSink(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
