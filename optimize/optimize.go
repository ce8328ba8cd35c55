// Package optimize implements pure-functional gradient-descent optimizers in
// the optax style: an optimizer owns no variables, it is a pair of functions
// (Init, Update) over explicit parameter and state tensors. Update is a graph
// transformation returning parameter deltas, so a training step can compose it
// into a single compiled computation.
//
// The recognized configuration shape is
//
//	optimizer:
//	  type: adam | lion | sgd
//	  schedule: constant_schedule | cosine_decay_schedule | warmup_cosine_decay_schedule
//	  schedule_args: {...}
//	  args: {...}
package optimize

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/forever-ezio/PixelDINO-test/config"
)

// Optimizer is a stateless update rule. The optimizer state travels alongside
// the parameters it belongs to; both are owned by the caller.
//
// Update follows the optax convention: it returns per-parameter deltas
// (already scaled by the negative learning rate), to be added to the
// parameters, plus the successor optimizer state.
type Optimizer interface {
	Name() string

	// Init returns the zeroed optimizer state for the given parameters.
	Init(params []*tensors.Tensor) []*tensors.Tensor

	// Update maps (gradients, state, params) to (updates, state'). All three
	// input slices follow the same parameter order; state has the layout
	// produced by Init. It must be a pure graph function.
	Update(grads, state, params []*Node) (updates, newState []*Node)
}

type builder func(sched Schedule, args map[string]float64) (Optimizer, error)

var optimizerBuilders = map[string]builder{
	"sgd":  newSGD,
	"adam": newAdam,
	"lion": newLion,
}

// FromConfig builds the optimizer (and its schedule) described by cfg.
func FromConfig(cfg config.Optimizer) (Optimizer, error) {
	build, found := optimizerBuilders[cfg.Type]
	if !found {
		return nil, errors.Errorf("unknown optimizer type %q, valid values are %v",
			cfg.Type, maps.Keys(optimizerBuilders))
	}
	sched, err := ScheduleFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opt, err := build(sched, cfg.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "building optimizer %q", cfg.Type)
	}
	return opt, nil
}

// zeroStateLike returns freshly allocated zero tensors with the shapes of
// params. tensors.FromShape zero-initializes.
func zeroStateLike(params []*tensors.Tensor) []*tensors.Tensor {
	state := make([]*tensors.Tensor, 0, len(params))
	for _, p := range params {
		state = append(state, tensors.FromShape(p.Shape()))
	}
	return state
}

// stepCounter returns a scalar float32 tensor holding 0; every optimizer keeps
// the step count as state[0] so schedules stay part of the pure update.
func stepCounter() *tensors.Tensor {
	return tensors.FromScalar[float32](0)
}

// sgd: plain (momentum-free when momentum==0) stochastic gradient descent.
// State layout: [step] or [step, velocity...].
type sgd struct {
	sched    Schedule
	momentum float64
}

func newSGD(sched Schedule, args map[string]float64) (Optimizer, error) {
	o := &sgd{sched: sched, momentum: argOr(args, "momentum", 0)}
	if o.momentum < 0 || o.momentum >= 1 {
		return nil, errors.Errorf("momentum must be in [0, 1), got %g", o.momentum)
	}
	return o, nil
}

func (o *sgd) Name() string { return "sgd" }

func (o *sgd) Init(params []*tensors.Tensor) []*tensors.Tensor {
	state := []*tensors.Tensor{stepCounter()}
	if o.momentum > 0 {
		state = append(state, zeroStateLike(params)...)
	}
	return state
}

func (o *sgd) Update(grads, state, params []*Node) (updates, newState []*Node) {
	step := state[0]
	lr := o.sched(step)
	newState = make([]*Node, len(state))
	newState[0] = OnePlus(step)
	updates = make([]*Node, len(grads))
	for i, grad := range grads {
		direction := grad
		if o.momentum > 0 {
			velocity := Add(MulScalar(state[1+i], o.momentum), grad)
			newState[1+i] = velocity
			direction = velocity
		}
		updates[i] = Neg(Mul(lr, direction))
	}
	return
}

// adam with optional decoupled weight decay (type "adam" with args.weight_decay
// behaves like adamw). State layout: [step, m..., v...].
type adam struct {
	sched       Schedule
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
}

func newAdam(sched Schedule, args map[string]float64) (Optimizer, error) {
	o := &adam{
		sched:       sched,
		beta1:       argOr(args, "b1", 0.9),
		beta2:       argOr(args, "b2", 0.999),
		epsilon:     argOr(args, "eps", 1e-8),
		weightDecay: argOr(args, "weight_decay", 0),
	}
	if o.beta1 <= 0 || o.beta1 >= 1 || o.beta2 <= 0 || o.beta2 >= 1 {
		return nil, errors.Errorf("betas must be in (0, 1), got b1=%g b2=%g", o.beta1, o.beta2)
	}
	return o, nil
}

func (o *adam) Name() string { return "adam" }

func (o *adam) Init(params []*tensors.Tensor) []*tensors.Tensor {
	state := []*tensors.Tensor{stepCounter()}
	state = append(state, zeroStateLike(params)...) // first moment
	state = append(state, zeroStateLike(params)...) // second moment
	return state
}

func (o *adam) Update(grads, state, params []*Node) (updates, newState []*Node) {
	numParams := len(grads)
	step := OnePlus(state[0]) // bias correction counts from t=1.
	lr := o.sched(state[0])
	g := step.Graph()
	dtype := step.DType()

	// 1 - beta^t, computed once per moment.
	beta1T := Pow(Scalar(g, dtype, o.beta1), step)
	beta2T := Pow(Scalar(g, dtype, o.beta2), step)
	debias1 := OneMinus(beta1T)
	debias2 := OneMinus(beta2T)

	newState = make([]*Node, len(state))
	newState[0] = step
	updates = make([]*Node, numParams)
	for i, grad := range grads {
		m := Add(MulScalar(state[1+i], o.beta1), MulScalar(grad, 1-o.beta1))
		v := Add(MulScalar(state[1+numParams+i], o.beta2), MulScalar(Square(grad), 1-o.beta2))
		newState[1+i] = m
		newState[1+numParams+i] = v

		mHat := Div(m, debias1)
		vHat := Div(v, debias2)
		update := Neg(Mul(lr, Div(mHat, AddScalar(Sqrt(vHat), o.epsilon))))
		if o.weightDecay > 0 {
			update = Sub(update, Mul(lr, MulScalar(params[i], o.weightDecay)))
		}
		updates[i] = update
	}
	return
}

// lion (EvoLved Sign Momentum): update by the sign of an interpolated
// momentum, trailing momentum update. State layout: [step, m...].
type lion struct {
	sched       Schedule
	beta1       float64
	beta2       float64
	weightDecay float64
}

func newLion(sched Schedule, args map[string]float64) (Optimizer, error) {
	o := &lion{
		sched:       sched,
		beta1:       argOr(args, "b1", 0.9),
		beta2:       argOr(args, "b2", 0.99),
		weightDecay: argOr(args, "weight_decay", 0),
	}
	if o.beta1 <= 0 || o.beta1 >= 1 || o.beta2 <= 0 || o.beta2 >= 1 {
		return nil, errors.Errorf("betas must be in (0, 1), got b1=%g b2=%g", o.beta1, o.beta2)
	}
	return o, nil
}

func (o *lion) Name() string { return "lion" }

func (o *lion) Init(params []*tensors.Tensor) []*tensors.Tensor {
	state := []*tensors.Tensor{stepCounter()}
	state = append(state, zeroStateLike(params)...)
	return state
}

func (o *lion) Update(grads, state, params []*Node) (updates, newState []*Node) {
	step := state[0]
	lr := o.sched(step)
	newState = make([]*Node, len(state))
	newState[0] = OnePlus(step)
	updates = make([]*Node, len(grads))
	for i, grad := range grads {
		m := state[1+i]
		interpolated := Add(MulScalar(m, o.beta1), MulScalar(grad, 1-o.beta1))
		update := Neg(Mul(lr, Sign(interpolated)))
		if o.weightDecay > 0 {
			update = Sub(update, Mul(lr, MulScalar(params[i], o.weightDecay)))
		}
		updates[i] = update
		newState[1+i] = Add(MulScalar(m, o.beta2), MulScalar(grad, 1-o.beta2))
	}
	return
}
