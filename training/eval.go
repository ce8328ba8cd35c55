package training

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/forever-ezio/PixelDINO-test/config"
	"github.com/forever-ezio/PixelDINO-test/model"
	"github.com/forever-ezio/PixelDINO-test/seglosses"
	"github.com/forever-ezio/PixelDINO-test/segmetrics"
)

// Evaluator is the non-updating validation step: normalization (no stochastic
// augmentation), one forward pass, supervised loss and confusion counts, plus
// the sigmoid prediction for mosaic reconstruction.
type Evaluator struct {
	exec        *Exec
	metricNames []string
	numParams   int
}

func newEvaluator(backend backends.Backend, cfg config.Config, net *model.Network,
	lossSup seglosses.Func, numParams int) *Evaluator {
	e := &Evaluator{
		numParams:   numParams,
		metricNames: append([]string{MetricLoss}, premetricNames("")...),
	}
	scale := cfg.Augment.ImageScale
	e.exec = MustNewExec(backend, func(inputs []*Node) []*Node {
		img, mask := inputs[0], inputs[1]
		params := inputs[2 : 2+numParams]
		if scale != 1 {
			img = DivScalar(img, scale)
		}
		logits := net.Forward(params, img)
		maskF := ConvertDType(mask, dtypes.Float32)
		loss := lossSup(maskF, logits)
		tp, fp, fn, tn := segmetrics.Confusion(maskF, logits)
		return []*Node{Sigmoid(logits), loss, tp, fp, fn, tn}
	})
	return e
}

// Eval scores one batch under the given parameters. It returns the sigmoid
// prediction [batch, h, w, 1] and the step metrics.
func (e *Evaluator) Eval(params []*tensors.Tensor, img, mask *tensors.Tensor) (
	pred *tensors.Tensor, metrics Metrics, err error) {
	err = exceptions.TryCatch[error](func() {
		args := make([]any, 0, 2+e.numParams)
		args = append(args, img, mask)
		for _, p := range params {
			args = append(args, p)
		}
		out := e.exec.MustExec(args...)
		pred = out[0]
		metrics = metricsFromTensors(e.metricNames, out[1:])
	})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "evaluation step")
	}
	return pred, metrics, nil
}
