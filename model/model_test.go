package model

import (
	_ "github.com/gomlx/gomlx/backends/default"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/config"
)

func testModelConfig() config.Model {
	return config.Model{InChannels: 3, BaseFilters: 4, Depth: 2}
}

func forward(t *testing.T, net *Network, params []*tensors.Tensor, images *tensors.Tensor) *tensors.Tensor {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	exec := MustNewExec(backend, func(inputs []*Node) *Node {
		return net.Forward(inputs[1:], inputs[0])
	})
	args := make([]any, 0, 1+len(params))
	args = append(args, images)
	for _, p := range params {
		args = append(args, p)
	}
	return exec.MustExec(args...)[0]
}

func TestSegmenterShapes(t *testing.T) {
	cfg := testModelConfig()
	net := NewSegmenter(cfg)
	params := net.Init(1)

	logits := forward(t, net, params, zeros(2, 8, 8, cfg.InChannels))
	assert.Equal(t, []int{2, 8, 8, 1}, logits.Shape().Dimensions,
		"one logit per pixel, spatial size preserved")
}

func TestSegmenterInitIsDeterministic(t *testing.T) {
	net := NewSegmenter(testModelConfig())
	a, b := net.Init(7), net.Init(7)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.True(t, a[i].Equal(b[i]), "param %d", i)
	}
	c := net.Init(8)
	assert.False(t, a[0].Equal(c[0]), "different seeds, different kernels")
}

func TestDiscriminatorShapes(t *testing.T) {
	net := NewDiscriminator(testModelConfig())
	params := net.Init(2)

	masks := zeros(3, 32, 32, 1)
	logits := forward(t, net, params, masks)
	assert.Equal(t, []int{3}, logits.Shape().Dimensions, "one logit per sample")
}

// zeros builds a zero float32 tensor of the given dimensions.
func zeros(dims ...int) *tensors.Tensor {
	data := make([]float32, prod(dims))
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

func prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
