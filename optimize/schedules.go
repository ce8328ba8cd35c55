package optimize

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// Schedule maps the (float32 scalar) step counter to a learning rate node.
type Schedule func(step *Node) *Node

// scheduleBuilders keys schedule names (optax naming) to their constructors.
var scheduleBuilders = map[string]func(args map[string]float64) (Schedule, error){
	"constant_schedule":            constantSchedule,
	"constant":                     constantSchedule,
	"cosine_decay_schedule":        cosineDecaySchedule,
	"warmup_cosine_decay_schedule": warmupCosineDecaySchedule,
}

// ScheduleFromConfig builds the learning-rate schedule named in the optimizer
// configuration.
func ScheduleFromConfig(cfg config.Optimizer) (Schedule, error) {
	builder, found := scheduleBuilders[cfg.Schedule]
	if !found {
		return nil, errors.Errorf("unknown schedule %q, valid values are %v",
			cfg.Schedule, maps.Keys(scheduleBuilders))
	}
	sched, err := builder(cfg.ScheduleArgs)
	if err != nil {
		return nil, errors.Wrapf(err, "building schedule %q", cfg.Schedule)
	}
	return sched, nil
}

func requireArg(args map[string]float64, name string) (float64, error) {
	v, found := args[name]
	if !found {
		return 0, errors.Errorf("missing schedule_args.%s", name)
	}
	return v, nil
}

func argOr(args map[string]float64, name string, fallback float64) float64 {
	if v, found := args[name]; found {
		return v
	}
	return fallback
}

func constantSchedule(args map[string]float64) (Schedule, error) {
	value, err := requireArg(args, "value")
	if err != nil {
		return nil, err
	}
	return func(step *Node) *Node {
		g := step.Graph()
		return Scalar(g, step.DType(), value)
	}, nil
}

// cosineDecaySchedule anneals from init_value to alpha*init_value over
// decay_steps, then holds.
func cosineDecaySchedule(args map[string]float64) (Schedule, error) {
	initValue, err := requireArg(args, "init_value")
	if err != nil {
		return nil, err
	}
	decaySteps, err := requireArg(args, "decay_steps")
	if err != nil {
		return nil, err
	}
	alpha := argOr(args, "alpha", 0)
	return func(step *Node) *Node {
		frac := ClipScalar(DivScalar(step, decaySteps), 0, 1)
		// 0.5*(1+cos(pi*frac)) in [0, 1].
		cosine := MulScalar(OnePlus(Cos(MulScalar(frac, math.Pi))), 0.5)
		decayed := AddScalar(MulScalar(cosine, 1-alpha), alpha)
		return MulScalar(decayed, initValue)
	}, nil
}

// warmupCosineDecaySchedule ramps linearly from init_value to peak_value over
// warmup_steps, then cosine-decays to end_value at decay_steps.
func warmupCosineDecaySchedule(args map[string]float64) (Schedule, error) {
	initValue, err := requireArg(args, "init_value")
	if err != nil {
		return nil, err
	}
	peakValue, err := requireArg(args, "peak_value")
	if err != nil {
		return nil, err
	}
	warmupSteps, err := requireArg(args, "warmup_steps")
	if err != nil {
		return nil, err
	}
	decaySteps, err := requireArg(args, "decay_steps")
	if err != nil {
		return nil, err
	}
	endValue := argOr(args, "end_value", 0)
	if warmupSteps <= 0 || decaySteps <= warmupSteps {
		return nil, errors.Errorf("need 0 < warmup_steps (%g) < decay_steps (%g)", warmupSteps, decaySteps)
	}
	return func(step *Node) *Node {
		g := step.Graph()
		warmupFrac := ClipScalar(DivScalar(step, warmupSteps), 0, 1)
		warmupLR := AddScalar(MulScalar(warmupFrac, peakValue-initValue), initValue)

		decayFrac := ClipScalar(
			DivScalar(AddScalar(step, -warmupSteps), decaySteps-warmupSteps), 0, 1)
		cosine := MulScalar(OnePlus(Cos(MulScalar(decayFrac, math.Pi))), 0.5)
		decayLR := AddScalar(MulScalar(cosine, peakValue-endValue), endValue)

		inWarmup := LessThan(step, Scalar(g, step.DType(), warmupSteps))
		return Where(inWarmup, warmupLR, decayLR)
	}, nil
}
