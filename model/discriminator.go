package model

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// discriminatorDownsamples fixes the receptive field of the mask critic,
// independent of the segmenter depth.
const discriminatorDownsamples = 4

// NewDiscriminator builds the adversarial mask critic: a stack of stride-2
// 3x3 convolutions over a single-channel probability map, leaky-relu
// activations, global average pooling and a 1x1 projection to one real/fake
// logit per sample, returned as [batch].
func NewDiscriminator(cfg config.Model) *Network {
	layers := discriminatorLayers(cfg)
	return &Network{
		Name: fmt.Sprintf("critic-f%d", cfg.BaseFilters),
		Init: func(seed int64) []*tensors.Tensor {
			return initConvs(seed, layers)
		},
		Forward: func(params []*Node, masks *Node) *Node {
			return discriminatorForward(params, masks)
		},
	}
}

func discriminatorLayers(cfg config.Model) []convSpec {
	var layers []convSpec
	inC := 1
	for d := 0; d < discriminatorDownsamples; d++ {
		outC := cfg.BaseFilters << d
		layers = append(layers, convSpec{3, inC, outC, 2})
		inC = outC
	}
	layers = append(layers, convSpec{1, inC, 1, 1})
	return layers
}

func discriminatorForward(params []*Node, masks *Node) *Node {
	cursor := &paramCursor{params: params}
	x := masks
	for d := 0; d < discriminatorDownsamples; d++ {
		x = activations.LeakyReluWithAlpha(cursor.conv(x, 2), 0.2)
	}
	x = cursor.conv(x, 1)
	cursor.done()
	// [batch, h', w', 1] -> one logit per sample.
	return ReduceMean(x, 1, 2, 3)
}
