package segmetrics_test

import (
	_ "github.com/gomlx/gomlx/backends/default"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/segmetrics"
)

func TestConfusion(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	// mask:   1  1  0  0  2 (ignored)
	// logits: +  -  +  -  +
	mask := [][][][]float32{{{{1}, {1}, {0}, {0}, {2}}}}
	logits := [][][][]float32{{{{3}, {-3}, {3}, {-3}, {3}}}}
	out := MustNewExec(backend, func(mask, logits *Node) []*Node {
		tp, fp, fn, tn := segmetrics.Confusion(mask, logits)
		return []*Node{tp, fp, fn, tn}
	}).MustExec(mask, logits)
	assert.Equal(t, float32(1), out[0].Value())
	assert.Equal(t, float32(1), out[1].Value())
	assert.Equal(t, float32(1), out[2].Value())
	assert.Equal(t, float32(1), out[3].Value())
}

func TestDerive(t *testing.T) {
	m := segmetrics.Derive(6, 2, 3, 9)
	assert.InDelta(t, 0.75, m["accuracy"], 1e-9)
	assert.InDelta(t, 0.75, m["precision"], 1e-9)
	assert.InDelta(t, 6.0/9.0, m["recall"], 1e-9)
	assert.InDelta(t, 12.0/17.0, m["f1"], 1e-9)
	assert.InDelta(t, 6.0/11.0, m["iou"], 1e-9)

	// Empty denominators report zero instead of NaN.
	m = segmetrics.Derive(0, 0, 0, 0)
	for name, v := range m {
		assert.Zero(t, v, name)
	}
}

func TestAggregatorMeansPlainMetrics(t *testing.T) {
	agg := segmetrics.NewAggregator()
	agg.Add(map[string]float64{"loss": 1})
	agg.Add(map[string]float64{"loss": 3})
	out := agg.Finalize()
	assert.InDelta(t, 2.0, out["loss"], 1e-9)
	assert.Equal(t, 2, agg.Steps("loss"))
}

func TestAggregatorSumsPremetricsBeforeDeriving(t *testing.T) {
	// Two steps whose per-step precision would be 1 and 0; the window
	// precision must come from the summed counts, not the mean of ratios.
	agg := segmetrics.NewAggregator()
	agg.Add(map[string]float64{
		"super_premetrics/tp": 3, "super_premetrics/fp": 0,
		"super_premetrics/fn": 0, "super_premetrics/tn": 0,
	})
	agg.Add(map[string]float64{
		"super_premetrics/tp": 0, "super_premetrics/fp": 1,
		"super_premetrics/fn": 0, "super_premetrics/tn": 0,
	})
	out := agg.Finalize()
	require.Contains(t, out, "super_precision")
	assert.InDelta(t, 0.75, out["super_precision"], 1e-9)
	assert.NotContains(t, out, "super_premetrics/tp")

	agg.Reset()
	assert.Empty(t, agg.Finalize())
}
