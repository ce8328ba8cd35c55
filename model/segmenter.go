package model

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// NewSegmenter builds a compact U-Net: cfg.Depth encoder levels of two 3x3
// convolutions each, feature count doubling per level from cfg.BaseFilters, a
// bottleneck, then mirrored decoder levels with nearest-neighbor upsampling
// and skip concatenation, closed by a 1x1 logit head. Input spatial dims must
// be divisible by 2^Depth.
func NewSegmenter(cfg config.Model) *Network {
	layers := segmenterLayers(cfg)
	return &Network{
		Name: fmt.Sprintf("unet-d%d-f%d", cfg.Depth, cfg.BaseFilters),
		Init: func(seed int64) []*tensors.Tensor {
			return initConvs(seed, layers)
		},
		Forward: func(params []*Node, images *Node) *Node {
			return segmenterForward(cfg, params, images)
		},
	}
}

func segmenterLayers(cfg config.Model) []convSpec {
	var layers []convSpec
	block := func(inC, outC int) {
		layers = append(layers,
			convSpec{3, inC, outC, 1},
			convSpec{3, outC, outC, 1})
	}
	inC := cfg.InChannels
	for d := 0; d < cfg.Depth; d++ {
		outC := cfg.BaseFilters << d
		block(inC, outC)
		inC = outC
	}
	block(inC, cfg.BaseFilters<<cfg.Depth) // bottleneck
	inC = cfg.BaseFilters << cfg.Depth
	for d := cfg.Depth - 1; d >= 0; d-- {
		outC := cfg.BaseFilters << d
		block(inC+outC, outC) // input carries the skip connection
		inC = outC
	}
	layers = append(layers, convSpec{1, inC, 1, 1}) // logit head
	return layers
}

func segmenterForward(cfg config.Model, params []*Node, images *Node) *Node {
	cursor := &paramCursor{params: params}
	block := func(x *Node) *Node {
		x = activations.Relu(cursor.conv(x, 1))
		x = activations.Relu(cursor.conv(x, 1))
		return x
	}

	x := images
	skips := make([]*Node, cfg.Depth)
	for d := 0; d < cfg.Depth; d++ {
		x = block(x)
		skips[d] = x
		x = MaxPool(x).Window(2).Done()
	}
	x = block(x)
	for d := cfg.Depth - 1; d >= 0; d-- {
		skip := skips[d]
		h := skip.Shape().Dimensions[1]
		w := skip.Shape().Dimensions[2]
		x = Interpolate(x, NoInterpolation, h, w, NoInterpolation).Nearest().Done()
		x = Concatenate([]*Node{skip, x}, -1)
		x = block(x)
	}
	logits := cursor.conv(x, 1)
	cursor.done()
	return logits
}
