// Package segmetrics computes binary segmentation quality metrics.
//
// Metrics come in two flavors. Plain metrics (losses, means) are scalars that
// get arithmetically averaged over an evaluation window. Premetrics are the
// four confusion-matrix counts; they are summed over the window and only then
// turned into accuracy, precision, recall, f1 and iou, so the derived values
// reflect the whole window rather than a mean of per-batch ratios.
package segmetrics

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Premetric names, in the order Confusion returns them.
const (
	TruePositives  = "tp"
	FalsePositives = "fp"
	FalseNegatives = "fn"
	TrueNegatives  = "tn"
)

// PremetricNames lists the confusion counts in their canonical order.
var PremetricNames = []string{TruePositives, FalsePositives, FalseNegatives, TrueNegatives}

// Confusion computes the four confusion counts between a ground-truth mask and
// model logits, as float scalars in the logits dtype. Pixels with mask values
// outside {0, 1} are excluded from all four counts. The decision threshold is
// logit > 0, i.e. probability > 0.5.
func Confusion(mask, logits *Node) (tp, fp, fn, tn *Node) {
	g := mask.Graph()
	dtype := logits.DType()
	m := ConvertDType(mask, dtype)
	valid := ConvertDType(
		And(GreaterOrEqual(m, ScalarZero(g, dtype)), LessThan(m, Scalar(g, dtype, 2))),
		dtype)
	truth := Mul(Clip(m, ScalarZero(g, dtype), ScalarOne(g, dtype)), valid)
	positive := ConvertDType(GreaterThan(logits, ScalarZero(g, dtype)), dtype)

	tp = ReduceAllSum(Mul(valid, Mul(truth, positive)))
	fp = ReduceAllSum(Mul(valid, Mul(OneMinus(truth), positive)))
	fn = ReduceAllSum(Mul(valid, Mul(truth, OneMinus(positive))))
	tn = ReduceAllSum(Mul(valid, Mul(OneMinus(truth), OneMinus(positive))))
	return
}

// Derive turns accumulated confusion counts into the derived metrics. All
// ratios guard against empty denominators by reporting zero.
func Derive(tp, fp, fn, tn float64) map[string]float64 {
	safeDiv := func(num, den float64) float64 {
		if den == 0 {
			return 0
		}
		return num / den
	}
	return map[string]float64{
		"accuracy":  safeDiv(tp+tn, tp+fp+fn+tn),
		"precision": safeDiv(tp, tp+fp),
		"recall":    safeDiv(tp, tp+fn),
		"f1":        safeDiv(2*tp, 2*tp+fp+fn),
		"iou":       safeDiv(tp, tp+fp+fn),
	}
}
