// Package seglosses provides the pixel-wise segmentation losses used for both
// the supervised and the semi-supervised terms.
//
// Every loss has the same signature: it takes the target mask and the raw
// model logits and reduces to one scalar. Masks use a small integer coding on
// top of the {0, 1} classes: any value outside {0, 1} marks a pixel to ignore
// (2 is the no-data value of ground-truth masks, -1 marks pixels the
// pseudo-label gate abstained on). Ignored pixels contribute nothing to the
// loss and nothing to the normalization.
package seglosses

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Func reduces a (mask, logits) pair to a scalar loss. Both arguments are
// [batch, height, width, 1]; mask may be any numeric dtype and is converted
// to the logits dtype internally.
type Func func(mask, logits *Node) *Node

var lossBuilders = map[string]Func{
	"bce":      BCE,
	"focal":    Focal,
	"soft_iou": SoftIOU,
}

// FromName resolves a loss by its configuration name.
func FromName(name string) (Func, error) {
	fn, found := lossBuilders[name]
	if !found {
		return nil, errors.Errorf("unknown loss %q, valid values are %v",
			name, maps.Keys(lossBuilders))
	}
	return fn, nil
}

// validAndLabels splits the mask into an inclusion indicator and clean {0, 1}
// labels. A pixel is valid iff its mask value lies in [0, 2); everything else
// (255 = unlabelled, -1 = gate abstained, 2 = no-data) is excluded.
func validAndLabels(mask, logits *Node) (valid, labels *Node) {
	m := ConvertDType(mask, logits.DType())
	valid = ConvertDType(
		And(GreaterOrEqual(m, ScalarZero(m.Graph(), m.DType())),
			LessThan(m, Scalar(m.Graph(), m.DType(), 2))),
		logits.DType())
	labels = Clip(m, ScalarZero(m.Graph(), m.DType()), ScalarOne(m.Graph(), m.DType()))
	labels = Mul(labels, valid) // zero out ignored pixels so they stay finite
	return
}

// maskedMean averages perPixel over the valid pixels. With no valid pixel at
// all the denominator clamps to one, yielding zero loss instead of NaN.
func maskedMean(perPixel, valid *Node) *Node {
	total := ReduceAllSum(Mul(perPixel, valid))
	count := Max(ReduceAllSum(valid), ScalarOne(valid.Graph(), valid.DType()))
	return Div(total, count)
}

// BCE is the numerically stable binary cross entropy on logits:
// softplus(x) - x*y, which equals -y*log(sigmoid(x)) - (1-y)*log(1-sigmoid(x)).
func BCE(mask, logits *Node) *Node {
	valid, labels := validAndLabels(mask, logits)
	perPixel := Sub(Softplus(logits), Mul(logits, labels))
	return maskedMean(perPixel, valid)
}

// Focal is the focal loss (Lin et al.) with gamma=2: cross entropy scaled by
// (1 - p_t)^2 so easy pixels fade out of the gradient.
func Focal(mask, logits *Node) *Node {
	valid, labels := validAndLabels(mask, logits)
	ce := Sub(Softplus(logits), Mul(logits, labels))
	p := Sigmoid(logits)
	// p_t = p for positives, 1-p for negatives.
	pt := Add(Mul(labels, p), Mul(OneMinus(labels), OneMinus(p)))
	perPixel := Mul(Square(OneMinus(pt)), ce)
	return maskedMean(perPixel, valid)
}

// SoftIOU is one minus the soft Jaccard index over the valid pixels, with a
// +1 smoothing term in both numerator and denominator.
func SoftIOU(mask, logits *Node) *Node {
	valid, labels := validAndLabels(mask, logits)
	p := Mul(Sigmoid(logits), valid)
	labels = Mul(labels, valid)
	intersection := ReduceAllSum(Mul(p, labels))
	union := Sub(Add(ReduceAllSum(p), ReduceAllSum(labels)), intersection)
	iou := Div(OnePlus(intersection), OnePlus(union))
	return OneMinus(iou)
}
