// Package augment implements the two data augmentations of the
// semi-supervised recipe as graph transformations.
//
// Prep is the weak transform applied to every batch before the forward pass:
// reflectance normalization plus random flips. Distort is the strong
// transform: flips, a quarter-turn rotation, photometric jitter and additive
// noise. Both are deterministic functions of an explicit random state, and the
// transform drawn depends only on that state, never on which inputs are
// present. This lets a caller distort an image with one state and later
// distort the matching prediction with the same state, and the two go through
// the identical spatial transform.
package augment

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// Pipeline holds the augmentation configuration. It is stateless and safe for
// concurrent use.
type Pipeline struct {
	cfg config.Augment
}

func New(cfg config.Augment) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// splitN derives n independent random sub-states plus the successor state.
// The sub-states come out in a fixed order, which is what keeps draws stable
// across calls with different input sets.
func splitN(rng *Node, n int) (subs []*Node, next *Node) {
	subs = make([]*Node, n)
	next = rng
	for i := range subs {
		next, subs[i] = RngStateSplit(next)
	}
	return
}

// uniformScalar draws one uniform float32 in [0, 1) from its own sub-state.
func uniformScalar(sub *Node) *Node {
	_, v := RandomUniform(sub, shapes.Make(dtypes.Float32))
	return v
}

// Prep normalizes and weakly augments a batch. Every input in the slice goes
// through the same random flips; inputs flagged in normalize are additionally
// divided by the configured image scale first. Inputs are [batch, h, w, c].
func (p *Pipeline) Prep(rng *Node, inputs []*Node, normalize []bool) (next *Node, out []*Node) {
	out = make([]*Node, len(inputs))
	for i, x := range inputs {
		if normalize[i] && p.cfg.ImageScale != 1 {
			x = DivScalar(x, p.cfg.ImageScale)
		}
		out[i] = x
	}
	subs, next := splitN(rng, 2)
	if p.cfg.Disabled {
		return next, out
	}
	flipH := GreaterOrEqual(uniformScalar(subs[0]), Scalar(rng.Graph(), dtypes.Float32, 0.5))
	flipV := GreaterOrEqual(uniformScalar(subs[1]), Scalar(rng.Graph(), dtypes.Float32, 0.5))
	for i, x := range out {
		x = Where(flipH, Reverse(x, 2), x)
		x = Where(flipV, Reverse(x, 1), x)
		out[i] = x
	}
	return next, out
}

// Distort strongly augments a batch. All inputs receive the same spatial
// transform (flips plus a quarter-turn rotation when the patch is square);
// brightness jitter, contrast jitter and gaussian noise apply only to the
// inputs whose photometric flag is true.
func (p *Pipeline) Distort(rng *Node, inputs []*Node, photometric []bool) (next *Node, out []*Node) {
	g := rng.Graph()
	// Fixed sub-state order: flipH, flipV, rotation, brightness, contrast, noise.
	subs, next := splitN(rng, 6)
	out = make([]*Node, len(inputs))
	copy(out, inputs)
	if p.cfg.Disabled {
		return next, out
	}

	flipH := GreaterOrEqual(uniformScalar(subs[0]), Scalar(g, dtypes.Float32, 0.5))
	flipV := GreaterOrEqual(uniformScalar(subs[1]), Scalar(g, dtypes.Float32, 0.5))
	rotDraw := uniformScalar(subs[2])
	for i, x := range out {
		x = Where(flipH, Reverse(x, 2), x)
		x = Where(flipV, Reverse(x, 1), x)
		x = rotateQuarterTurns(x, rotDraw)
		out[i] = x
	}

	for i, x := range out {
		if !photometric[i] {
			continue
		}
		n := x.Shape().Dimensions[0]
		perSample := shapes.Make(x.DType(), n, 1, 1, 1)
		if p.cfg.Jitter > 0 {
			_, b := RandomUniform(subs[3], perSample)
			brightness := MulScalar(AddScalar(b, -0.5), 2*p.cfg.Jitter)
			_, c := RandomUniform(subs[4], perSample)
			contrast := OnePlus(MulScalar(AddScalar(c, -0.5), 2*p.cfg.Jitter))
			x = Add(Mul(x, contrast), brightness)
		}
		if p.cfg.NoiseStdDev > 0 {
			_, noise := RandomNormal(subs[5], x.Shape())
			x = Add(x, MulScalar(noise, p.cfg.NoiseStdDev))
		}
		out[i] = x
	}
	return next, out
}

// rotateQuarterTurns rotates x by k*90 degrees where k = floor(4*draw),
// draw in [0, 1). Non-square patches pass through unrotated, the draw is
// consumed either way.
func rotateQuarterTurns(x, draw *Node) *Node {
	dims := x.Shape().Dimensions
	if dims[1] != dims[2] {
		return x
	}
	g := draw.Graph()
	r90 := Reverse(Transpose(x, 1, 2), 1)
	r180 := Reverse(Reverse(x, 1), 2)
	r270 := Reverse(Transpose(x, 1, 2), 2)
	x = Where(LessThan(draw, Scalar(g, dtypes.Float32, 0.25)), x,
		Where(LessThan(draw, Scalar(g, dtypes.Float32, 0.5)), r90,
			Where(LessThan(draw, Scalar(g, dtypes.Float32, 0.75)), r180, r270)))
	return x
}
