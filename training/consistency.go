package training

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/forever-ezio/PixelDINO-test/augment"
	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/model"
	"github.com/forever-ezio/PixelDINO-test/optimize"
	"github.com/forever-ezio/PixelDINO-test/seglosses"
	"github.com/forever-ezio/PixelDINO-test/segmetrics"
)

// splitKeys derives n sub-keys from a random state, in a fixed order.
func splitKeys(rng *Node, n int) []*Node {
	subs := make([]*Node, n)
	for i := range subs {
		rng, subs[i] = RngStateSplit(rng)
	}
	return subs
}

// ConsistencyTrainer runs the augmentation-consistency variant: the
// supervised loss on labelled patches plus a weighted consistency loss that
// pushes the prediction on a strongly distorted view towards the gated
// pseudo-labels derived from the weakly augmented view.
//
// The whole step compiles to one graph call: augmentation, a single batched
// forward pass, both losses, gradients and the optimizer update.
type ConsistencyTrainer struct {
	backend backends.Backend
	cfg     config.Config
	net     *model.Network
	aug     *augment.Pipeline
	opt     optimize.Optimizer

	lossSup  seglosses.Func
	lossSemi seglosses.Func

	numParams int
	numOpt    int

	metricNames []string
	stepExec    *Exec
	eval        *Evaluator
}

// NewConsistencyTrainer wires the trainer. Call Init or Restore before Step.
func NewConsistencyTrainer(backend backends.Backend, cfg config.Config, net *model.Network,
	opt optimize.Optimizer) (*ConsistencyTrainer, error) {
	lossSup, err := seglosses.FromName(cfg.Train.LossSupervised)
	if err != nil {
		return nil, errors.Wrap(err, "train.loss_supervised")
	}
	lossSemi, err := seglosses.FromName(cfg.Train.LossSemisupervised)
	if err != nil {
		return nil, errors.Wrap(err, "train.loss_semisupervised")
	}
	t := &ConsistencyTrainer{
		backend:  backend,
		cfg:      cfg,
		net:      net,
		aug:      augment.New(cfg.Augment),
		opt:      opt,
		lossSup:  lossSup,
		lossSemi: lossSemi,
	}
	t.metricNames = []string{
		MetricLoss, MetricLossSupervised, MetricLossSemi,
		MetricFractionNegative, MetricFractionUndetermined, MetricFractionPositive,
	}
	t.metricNames = append(t.metricNames, premetricNames("super_")...)
	t.metricNames = append(t.metricNames, premetricNames("semi_")...)
	return t, nil
}

// Init materializes a fresh State from the model seed and prepares the
// compiled step for its parameter layout.
func (t *ConsistencyTrainer) Init(seed int64) *State {
	params := t.net.Init(seed)
	opt := t.opt.Init(params)
	state := &State{Params: params, Opt: opt}
	t.bind(len(params), len(opt))
	return state
}

// Restore prepares the compiled step for a state loaded from a checkpoint.
func (t *ConsistencyTrainer) Restore(state *State) error {
	if len(state.Params) == 0 {
		return errors.New("restored state has no parameters")
	}
	t.bind(len(state.Params), len(state.Opt))
	return nil
}

func (t *ConsistencyTrainer) bind(numParams, numOpt int) {
	t.numParams = numParams
	t.numOpt = numOpt
	t.stepExec = MustNewExec(t.backend, t.stepGraph)
	t.eval = newEvaluator(t.backend, t.cfg, t.net, t.lossSup, numParams)
}

// Evaluator returns the non-updating evaluation step sharing this trainer's
// model.
func (t *ConsistencyTrainer) Evaluator() *Evaluator { return t.eval }

// stepGraph builds the whole training step. Input layout:
// [rng, imgL, maskL, imgU, params..., optState...]; output layout:
// [params'..., optState'..., metrics... (in metricNames order)].
func (t *ConsistencyTrainer) stepGraph(inputs []*Node) []*Node {
	rng := inputs[0]
	imgL, maskL, imgU := inputs[1], inputs[2], inputs[3]
	params := inputs[4 : 4+t.numParams]
	opt := inputs[4+t.numParams : 4+t.numParams+t.numOpt]

	// Sub-key order is part of the reproducibility contract: weak labelled,
	// strong labelled, weak unlabelled, strong unlabelled.
	keys := splitKeys(rng, 4)

	maskF := ConvertDType(maskL, dtypes.Float32)
	_, lab := t.aug.Prep(keys[0], []*Node{imgL, maskF}, []bool{true, false})
	_, lab = t.aug.Distort(keys[1], lab, []bool{true, false})
	imgLs, maskLs := lab[0], lab[1]

	_, unl := t.aug.Prep(keys[2], []*Node{imgU}, []bool{true})
	imgUw := unl[0]
	_, dis := t.aug.Distort(keys[3], []*Node{imgUw}, []bool{true})
	imgD := dis[0]

	nL := imgLs.Shape().Dimensions[0]
	nU := imgUw.Shape().Dimensions[0]
	logits := t.net.Forward(params, Concatenate([]*Node{imgLs, imgUw, imgD}, 0))
	predL := Slice(logits, AxisRange(0, nL))
	predU := Slice(logits, AxisRange(nL, nL+nU))
	predD := Slice(logits, AxisRange(nL+nU, nL+2*nU))

	// Warp the weak-view prediction with the very transform that produced
	// imgD, so target and prediction live in the same geometry. Reusing
	// keys[3] is what guarantees the transforms match.
	_, warped := t.aug.Distort(keys[3], []*Node{predU}, []bool{false})
	confidence := Sigmoid(warped[0])
	ternary, fracNeg, fracUndet, fracPos := pseudoLabelGate(
		confidence, t.cfg.PseudoLabels.Low, t.cfg.PseudoLabels.High)

	lossSup := t.lossSup(maskLs, predL)
	lossSemi := t.lossSemi(ternary, predD)
	loss := Add(lossSup, MulScalar(lossSemi, t.cfg.Train.SemisupervisedWeight))

	grads := Gradient(loss, params...)
	updates, newOpt := t.opt.Update(grads, opt, params)
	outputs := make([]*Node, 0, t.numParams+t.numOpt+len(t.metricNames))
	for i, p := range params {
		outputs = append(outputs, Add(p, updates[i]))
	}
	outputs = append(outputs, newOpt...)

	outputs = append(outputs, loss, lossSup, lossSemi, fracNeg, fracUndet, fracPos)
	tp, fp, fn, tn := segmetrics.Confusion(maskLs, predL)
	outputs = append(outputs, tp, fp, fn, tn)
	tp, fp, fn, tn = segmetrics.Confusion(ternary, predD)
	outputs = append(outputs, tp, fp, fn, tn)
	return outputs
}

// Step advances the state by one training transition. The input state is left
// untouched; key must come from the run's KeyChain.
func (t *ConsistencyTrainer) Step(state *State, key *tensors.Tensor,
	imgL, maskL, imgU *tensors.Tensor) (next *State, metrics Metrics, err error) {
	if t.stepExec == nil {
		return nil, nil, errors.New("trainer not initialized, call Init or Restore first")
	}
	err = exceptions.TryCatch[error](func() {
		args := make([]any, 0, 4+t.numParams+t.numOpt)
		args = append(args, key, imgL, maskL, imgU)
		for _, p := range state.Params {
			args = append(args, p)
		}
		for _, o := range state.Opt {
			args = append(args, o)
		}
		out := t.stepExec.MustExec(args...)
		next = state.Next(out[:t.numParams], out[t.numParams:t.numParams+t.numOpt])
		metrics = metricsFromTensors(t.metricNames, out[t.numParams+t.numOpt:])
	})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "training step %d", state.Step)
	}
	return next, metrics, nil
}
