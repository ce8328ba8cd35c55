package optimize_test

import (
	_ "github.com/gomlx/gomlx/backends/default"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/optimize"
)

func constantCfg(typ string, lr float64, args map[string]float64) config.Optimizer {
	return config.Optimizer{
		Type:         typ,
		Schedule:     "constant_schedule",
		ScheduleArgs: map[string]float64{"value": lr},
		Args:         args,
	}
}

// applyUpdate runs one Update on host tensors and returns the new parameter
// and state values.
func applyUpdate(t *testing.T, opt optimize.Optimizer, params, state []*tensors.Tensor,
	grads []float32) (newParams []*tensors.Tensor, newState []*tensors.Tensor) {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	numParams := len(params)
	numState := len(state)
	exec := MustNewExec(backend, func(inputs []*Node) []*Node {
		gradNodes := inputs[:numParams]
		stateNodes := inputs[numParams : numParams+numState]
		paramNodes := inputs[numParams+numState:]
		updates, nextState := opt.Update(gradNodes, stateNodes, paramNodes)
		out := make([]*Node, 0, numParams+numState)
		for i, p := range paramNodes {
			out = append(out, Add(p, updates[i]))
		}
		return append(out, nextState...)
	})
	args := make([]any, 0, 2*numParams+numState)
	for _, g := range grads {
		args = append(args, g)
	}
	for _, s := range state {
		args = append(args, s)
	}
	for _, p := range params {
		args = append(args, p)
	}
	out := exec.MustExec(args...)
	return out[:numParams], out[numParams:]
}

func TestSGDStep(t *testing.T) {
	opt, err := optimize.FromConfig(constantCfg("sgd", 0.1, nil))
	require.NoError(t, err)
	params := []*tensors.Tensor{tensors.FromScalar[float32](1)}
	state := opt.Init(params)
	require.Len(t, state, 1, "momentum-free sgd keeps only the step counter")

	newParams, newState := applyUpdate(t, opt, params, state, []float32{2})
	assert.InDelta(t, 1-0.1*2, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
	assert.Equal(t, float32(1), tensors.ToScalar[float32](newState[0]))
	// Input tensors are untouched.
	assert.Equal(t, float32(1), tensors.ToScalar[float32](params[0]))
	assert.Equal(t, float32(0), tensors.ToScalar[float32](state[0]))
}

func TestSGDMomentumAccumulates(t *testing.T) {
	opt, err := optimize.FromConfig(constantCfg("sgd", 0.1, map[string]float64{"momentum": 0.5}))
	require.NoError(t, err)
	params := []*tensors.Tensor{tensors.FromScalar[float32](0)}
	state := opt.Init(params)
	require.Len(t, state, 2)

	newParams, newState := applyUpdate(t, opt, params, state, []float32{1})
	assert.InDelta(t, -0.1, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
	newParams, _ = applyUpdate(t, opt, newParams, newState, []float32{1})
	// velocity = 0.5*1 + 1 = 1.5, update = -0.15.
	assert.InDelta(t, -0.25, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
}

func TestAdamFirstStep(t *testing.T) {
	opt, err := optimize.FromConfig(constantCfg("adam", 0.001, nil))
	require.NoError(t, err)
	params := []*tensors.Tensor{tensors.FromScalar[float32](1)}
	state := opt.Init(params)
	require.Len(t, state, 3, "step counter plus two moments")

	// With bias correction the very first step moves by ~lr*sign(grad).
	newParams, newState := applyUpdate(t, opt, params, state, []float32{0.5})
	want := 1 - 0.001*0.5/(0.5+1e-8)
	assert.InDelta(t, want, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
	assert.Equal(t, float32(1), tensors.ToScalar[float32](newState[0]))
	// First moment after one step: (1-b1)*grad.
	assert.InDelta(t, 0.05, float64(tensors.ToScalar[float32](newState[1])), 1e-6)
}

func TestLionSignUpdate(t *testing.T) {
	opt, err := optimize.FromConfig(constantCfg("lion", 0.01, nil))
	require.NoError(t, err)
	params := []*tensors.Tensor{tensors.FromScalar[float32](1)}
	state := opt.Init(params)

	// Zero momentum, so the interpolated direction is (1-b1)*grad and the
	// update is -lr*sign(grad) regardless of magnitude.
	newParams, _ := applyUpdate(t, opt, params, state, []float32{12345})
	assert.InDelta(t, 0.99, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
	newParams, _ = applyUpdate(t, opt, params, state, []float32{-0.001})
	assert.InDelta(t, 1.01, float64(tensors.ToScalar[float32](newParams[0])), 1e-6)
}

func TestFromConfigRejectsUnknown(t *testing.T) {
	_, err := optimize.FromConfig(constantCfg("adagrad", 0.1, nil))
	assert.ErrorContains(t, err, "unknown optimizer")
	_, err = optimize.FromConfig(config.Optimizer{Type: "adam", Schedule: "linear"})
	assert.ErrorContains(t, err, "unknown schedule")
	_, err = optimize.FromConfig(config.Optimizer{Type: "adam", Schedule: "constant_schedule"})
	assert.ErrorContains(t, err, "missing schedule_args.value")
}

func scheduleValue(t *testing.T, cfg config.Optimizer, step float32) float64 {
	t.Helper()
	sched, err := optimize.ScheduleFromConfig(cfg)
	require.NoError(t, err)
	backend := graphtest.BuildTestBackend()
	out := MustNewExec(backend, func(step *Node) *Node {
		return sched(step)
	}).MustExec(step)
	return float64(out[0].Value().(float32))
}

func TestCosineDecaySchedule(t *testing.T) {
	cfg := config.Optimizer{
		Schedule: "cosine_decay_schedule",
		ScheduleArgs: map[string]float64{
			"init_value": 1e-3, "decay_steps": 100, "alpha": 0.1,
		},
	}
	assert.InDelta(t, 1e-3, scheduleValue(t, cfg, 0), 1e-9)
	// Midpoint: halfway between init and alpha*init.
	assert.InDelta(t, 1e-3*(0.5*0.9+0.1), scheduleValue(t, cfg, 50), 1e-8)
	assert.InDelta(t, 1e-4, scheduleValue(t, cfg, 100), 1e-8)
	// Holds after decay_steps.
	assert.InDelta(t, 1e-4, scheduleValue(t, cfg, 500), 1e-8)
}

func TestWarmupCosineDecaySchedule(t *testing.T) {
	cfg := config.Optimizer{
		Schedule: "warmup_cosine_decay_schedule",
		ScheduleArgs: map[string]float64{
			"init_value": 0, "peak_value": 1e-2, "warmup_steps": 10,
			"decay_steps": 110, "end_value": 1e-4,
		},
	}
	assert.InDelta(t, 0, scheduleValue(t, cfg, 0), 1e-9)
	assert.InDelta(t, 5e-3, scheduleValue(t, cfg, 5), 1e-8)
	assert.InDelta(t, 1e-2, scheduleValue(t, cfg, 10), 1e-8)
	// Cosine midpoint between peak and end.
	mid := 1e-4 + (1e-2-1e-4)*0.5*(1+math.Cos(math.Pi/2))
	assert.InDelta(t, mid, scheduleValue(t, cfg, 60), 1e-8)
	assert.InDelta(t, 1e-4, scheduleValue(t, cfg, 110), 1e-8)
}
