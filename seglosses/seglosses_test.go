package seglosses_test

import (
	_ "github.com/gomlx/gomlx/backends/default"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/seglosses"
)

func callLoss(t *testing.T, loss seglosses.Func, mask, logits [][][][]float32) float64 {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	out := MustNewExec(backend, func(mask, logits *Node) *Node {
		return loss(mask, logits)
	}).MustExec(mask, logits)
	return float64(out[0].Value().(float32))
}

// softplus in float64 for reference values.
func softplus(x float64) float64 { return math.Log1p(math.Exp(x)) }

func TestFromName(t *testing.T) {
	for _, name := range []string{"bce", "focal", "soft_iou"} {
		fn, err := seglosses.FromName(name)
		require.NoError(t, err, name)
		require.NotNil(t, fn, name)
	}
	_, err := seglosses.FromName("hinge")
	assert.ErrorContains(t, err, "unknown loss")
}

func TestBCEMatchesReference(t *testing.T) {
	mask := [][][][]float32{{{{1}, {0}}}}
	logits := [][][][]float32{{{{2}, {-1}}}}
	want := ((softplus(2) - 2) + softplus(-1)) / 2
	got := callLoss(t, seglosses.BCE, mask, logits)
	assert.InDelta(t, want, got, 1e-5)
}

func TestBCEIgnoresInvalidPixels(t *testing.T) {
	// The ignored pixels carry wild logits; they must affect neither the
	// numerator nor the pixel count.
	mask := [][][][]float32{{{{1}, {2}, {-1}}}}
	logits := [][][][]float32{{{{2}, {50}, {-50}}}}
	want := softplus(2) - 2
	got := callLoss(t, seglosses.BCE, mask, logits)
	assert.InDelta(t, want, got, 1e-5)
}

func TestBCEAllIgnoredIsZero(t *testing.T) {
	mask := [][][][]float32{{{{2}, {-1}}}}
	logits := [][][][]float32{{{{5}, {-5}}}}
	got := callLoss(t, seglosses.BCE, mask, logits)
	assert.Zero(t, got)
}

func TestFocalDownweightsEasyPixels(t *testing.T) {
	easy := callLoss(t, seglosses.Focal,
		[][][][]float32{{{{1}}}}, [][][][]float32{{{{4}}}})
	hard := callLoss(t, seglosses.Focal,
		[][][][]float32{{{{1}}}}, [][][][]float32{{{{-4}}}})
	bceEasy := callLoss(t, seglosses.BCE,
		[][][][]float32{{{{1}}}}, [][][][]float32{{{{4}}}})
	assert.Less(t, easy, bceEasy, "focal shrinks confident correct pixels")
	assert.Greater(t, hard, easy)

	// Reference value: (1-p)^2 * softplus(-x) for a positive label.
	p := 1 / (1 + math.Exp(-4))
	want := (1 - p) * (1 - p) * softplus(-4)
	assert.InDelta(t, want, easy, 1e-5)
}

func TestSoftIOUPerfectPredictionNearZero(t *testing.T) {
	mask := [][][][]float32{{{{1}, {0}, {1}, {0}}}}
	logits := [][][][]float32{{{{20}, {-20}, {20}, {-20}}}}
	got := callLoss(t, seglosses.SoftIOU, mask, logits)
	assert.InDelta(t, 0, got, 1e-3)

	inverted := [][][][]float32{{{{-20}, {20}, {-20}, {20}}}}
	bad := callLoss(t, seglosses.SoftIOU, mask, inverted)
	assert.Greater(t, bad, 0.5)
}
