// Package model defines the reference networks as pure functions over an
// explicit parameter list.
//
// A network is a pair (Init, Forward): Init materializes freshly initialized
// parameter tensors from a seed, Forward rebuilds the computation from the
// parameter nodes on every graph construction. No hidden variables, no
// context: the training core treats parameters as opaque state it threads
// through steps, checkpoints and optimizers.
package model

import (
	"math"
	"math/rand"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// ForwardFn rebuilds a network forward pass inside a graph. params follow the
// order produced by the matching Init; images is [batch, height, width,
// channels]. The segmenter returns per-pixel logits [batch, height, width, 1],
// the discriminator per-sample logits [batch].
type ForwardFn func(params []*Node, images *Node) *Node

// Network bundles a forward pass with its parameter initializer.
type Network struct {
	Name    string
	Forward ForwardFn

	// Init returns the initial parameters. Same seed, same parameters.
	Init func(seed int64) []*tensors.Tensor
}

// convSpec describes one 2D convolution: a [k, k, inC, outC] kernel plus an
// [outC] bias, applied with the given stride and same-padding.
type convSpec struct {
	kernel, inC, outC, stride int
}

// initConvs materializes kernel+bias pairs for the given layers, He-normal
// kernels and zero biases, in layer order.
func initConvs(seed int64, layers []convSpec) []*tensors.Tensor {
	rng := rand.New(rand.NewSource(seed))
	params := make([]*tensors.Tensor, 0, 2*len(layers))
	for _, l := range layers {
		fanIn := float64(l.kernel * l.kernel * l.inC)
		scale := math.Sqrt(2 / fanIn)
		kernel := tensors.FromShape(shapes.Make(dtypes.Float32, l.kernel, l.kernel, l.inC, l.outC))
		tensors.MutableFlatData(kernel, func(data []float32) {
			for i := range data {
				data[i] = float32(rng.NormFloat64() * scale)
			}
		})
		bias := tensors.FromShape(shapes.Make(dtypes.Float32, l.outC))
		params = append(params, kernel, bias)
	}
	return params
}

// paramCursor hands out parameter nodes in Init order during Forward.
type paramCursor struct {
	params []*Node
	pos    int
}

func (c *paramCursor) conv(x *Node, stride int) *Node {
	kernel, bias := c.params[c.pos], c.params[c.pos+1]
	c.pos += 2
	x = Convolve(x, kernel).Strides(stride).PadSame().Done()
	return Add(x, ExpandAxes(bias, 0, 1, 2))
}

// done panics when Forward consumed a different number of parameters than
// Init produced, which would mean the two went out of sync.
func (c *paramCursor) done() {
	if c.pos != len(c.params) {
		panic("network forward consumed a parameter count different from its initializer")
	}
}
