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

// AdversarialTrainer runs the discriminator variant: the generator (the
// segmenter) is trained with the supervised loss plus a non-saturating GAN
// term that rewards predictions the mask critic takes for real annotations;
// the critic is then trained to separate real masks from the generator's
// output.
//
// Both updates happen inside one compiled step. The critic is deliberately
// trained on the predictions of the pre-update generator: it always sees the
// generator it just played against, one step behind. This staleness is part
// of the training dynamics and kept on purpose.
type AdversarialTrainer struct {
	backend backends.Backend
	cfg     config.Config
	net     *model.Network
	critic  *model.Network
	aug     *augment.Pipeline
	opt     optimize.Optimizer
	dOpt    optimize.Optimizer

	lossSup seglosses.Func

	numParams  int
	numOpt     int
	numDParams int
	numDOpt    int

	metricNames []string
	stepExec    *Exec
	eval        *Evaluator
}

// NewAdversarialTrainer wires the trainer. The discriminator uses the
// d_optimizer configuration when present and otherwise a second instance of
// the generator's optimizer. Call Init or Restore before Step.
func NewAdversarialTrainer(backend backends.Backend, cfg config.Config,
	net, critic *model.Network, opt optimize.Optimizer) (*AdversarialTrainer, error) {
	lossSup, err := seglosses.FromName(cfg.Train.LossSupervised)
	if err != nil {
		return nil, errors.Wrap(err, "train.loss_supervised")
	}
	dOpt := opt
	if cfg.DOptimizer != nil {
		dOpt, err = optimize.FromConfig(*cfg.DOptimizer)
		if err != nil {
			return nil, errors.Wrap(err, "d_optimizer")
		}
	}
	t := &AdversarialTrainer{
		backend: backend,
		cfg:     cfg,
		net:     net,
		critic:  critic,
		aug:     augment.New(cfg.Augment),
		opt:     opt,
		dOpt:    dOpt,
		lossSup: lossSup,
	}
	t.metricNames = []string{
		MetricLoss, MetricLossSupervised, MetricLossSemi,
		MetricLossDiscriminator, MetricJudgementMean,
	}
	t.metricNames = append(t.metricNames, premetricNames("super_")...)
	return t, nil
}

// Init materializes generator and critic parameters. The critic seeds off
// seed+1 so the two networks never start from correlated draws.
func (t *AdversarialTrainer) Init(seed int64) *AdversarialState {
	params := t.net.Init(seed)
	dParams := t.critic.Init(seed + 1)
	state := &AdversarialState{
		Params:  params,
		Opt:     t.opt.Init(params),
		DParams: dParams,
		DOpt:    t.dOpt.Init(dParams),
	}
	t.bind(len(state.Params), len(state.Opt), len(state.DParams), len(state.DOpt))
	return state
}

// Restore prepares the compiled step for a checkpointed state.
func (t *AdversarialTrainer) Restore(state *AdversarialState) error {
	if len(state.Params) == 0 || len(state.DParams) == 0 {
		return errors.New("restored adversarial state is missing parameters")
	}
	t.bind(len(state.Params), len(state.Opt), len(state.DParams), len(state.DOpt))
	return nil
}

func (t *AdversarialTrainer) bind(numParams, numOpt, numDParams, numDOpt int) {
	t.numParams, t.numOpt = numParams, numOpt
	t.numDParams, t.numDOpt = numDParams, numDOpt
	t.stepExec = MustNewExec(t.backend, t.stepGraph)
	t.eval = newEvaluator(t.backend, t.cfg, t.net, t.lossSup, numParams)
}

// Evaluator returns the non-updating evaluation step for the generator.
func (t *AdversarialTrainer) Evaluator() *Evaluator { return t.eval }

// stepGraph builds both updates. Input layout:
// [rng, imgL, maskL, imgU, params..., opt..., dParams..., dOpt...]; outputs
// mirror the state layout followed by the metrics.
func (t *AdversarialTrainer) stepGraph(inputs []*Node) []*Node {
	rng := inputs[0]
	imgL, maskL, imgU := inputs[1], inputs[2], inputs[3]
	pos := 4
	params := inputs[pos : pos+t.numParams]
	pos += t.numParams
	opt := inputs[pos : pos+t.numOpt]
	pos += t.numOpt
	dParams := inputs[pos : pos+t.numDParams]
	pos += t.numDParams
	dOpt := inputs[pos : pos+t.numDOpt]

	// Five sub-keys: weak/strong labelled, weak/strong unlabelled, plus one
	// reserved slot that keeps the key layout stable across variants.
	keys := splitKeys(rng, 5)
	_ = keys[4]

	maskF := ConvertDType(maskL, dtypes.Float32)
	_, lab := t.aug.Prep(keys[0], []*Node{imgL, maskF}, []bool{true, false})
	_, lab = t.aug.Distort(keys[1], lab, []bool{true, false})
	img, mask := lab[0], lab[1]
	_, unl := t.aug.Prep(keys[2], []*Node{imgU}, []bool{true})
	_, unl = t.aug.Distort(keys[3], unl, []bool{true})
	img2 := unl[0]

	nL := img.Shape().Dimensions[0]
	nU := img2.Shape().Dimensions[0]
	logits := t.net.Forward(params, Concatenate([]*Node{img, img2}, 0))
	predTrue := Slice(logits, AxisRange(0, nL))
	predFake := Slice(logits, AxisRange(nL, nL+nU))

	// Generator update. judgement is the critic's verdict on the fake masks;
	// -log sigmoid(judgement) is the non-saturating "fool the critic" term.
	judgement := t.critic.Forward(dParams, Sigmoid(predFake))
	lossSup := t.lossSup(mask, predTrue)
	lossSemi := ReduceAllMean(Softplus(Neg(judgement)))
	loss := Add(lossSup, MulScalar(lossSemi, t.cfg.Train.SemisupervisedWeight))
	grads := Gradient(loss, params...)
	updates, newOpt := t.opt.Update(grads, opt, params)

	// Critic update, on the stale predFake of the generator above. The
	// no-data mask value folds to the negative class before the masks serve
	// as "real" examples.
	realMask := Where(
		GreaterOrEqual(maskF, Scalar(maskF.Graph(), dtypes.Float32, 2)),
		ScalarZero(maskF.Graph(), dtypes.Float32), maskF)
	scoreReal := t.critic.Forward(dParams, realMask)
	scoreFake := t.critic.Forward(dParams, StopGradient(Sigmoid(predFake)))
	dLoss := ReduceAllMean(Add(Softplus(scoreFake), Softplus(Neg(scoreReal))))
	dGrads := Gradient(dLoss, dParams...)
	dUpdates, newDOpt := t.dOpt.Update(dGrads, dOpt, dParams)

	outputs := make([]*Node, 0,
		t.numParams+t.numOpt+t.numDParams+t.numDOpt+len(t.metricNames))
	for i, p := range params {
		outputs = append(outputs, Add(p, updates[i]))
	}
	outputs = append(outputs, newOpt...)
	for i, p := range dParams {
		outputs = append(outputs, Add(p, dUpdates[i]))
	}
	outputs = append(outputs, newDOpt...)

	outputs = append(outputs, loss, lossSup, lossSemi, dLoss, ReduceAllMean(judgement))
	tp, fp, fn, tn := segmetrics.Confusion(mask, predTrue)
	outputs = append(outputs, tp, fp, fn, tn)
	return outputs
}

// Step advances the adversarial state by one transition. The input state is
// left untouched.
func (t *AdversarialTrainer) Step(state *AdversarialState, key *tensors.Tensor,
	imgL, maskL, imgU *tensors.Tensor) (next *AdversarialState, metrics Metrics, err error) {
	if t.stepExec == nil {
		return nil, nil, errors.New("trainer not initialized, call Init or Restore first")
	}
	err = exceptions.TryCatch[error](func() {
		numState := t.numParams + t.numOpt + t.numDParams + t.numDOpt
		args := make([]any, 0, 4+numState)
		args = append(args, key, imgL, maskL, imgU)
		for _, group := range [][]*tensors.Tensor{state.Params, state.Opt, state.DParams, state.DOpt} {
			for _, p := range group {
				args = append(args, p)
			}
		}
		out := t.stepExec.MustExec(args...)
		pos := 0
		take := func(n int) []*tensors.Tensor {
			s := out[pos : pos+n]
			pos += n
			return s
		}
		next = state.Next(take(t.numParams), take(t.numOpt), take(t.numDParams), take(t.numDOpt))
		metrics = metricsFromTensors(t.metricNames, out[pos:])
	})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "adversarial step %d", state.Step)
	}
	return next, metrics, nil
}
