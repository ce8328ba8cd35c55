package training

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// pseudoLabelGate thresholds a sigmoid confidence map into ternary labels:
// 1 above high, 0 below low, -1 (undetermined) in between. Values exactly at
// a threshold stay undetermined, the comparisons are strict. The returned
// fractions are the shares of the three classes over all pixels; they sum
// to 1.
//
// The labels carry no gradient: they are a fixed target for the loss on the
// distorted branch.
func pseudoLabelGate(confidence *Node, low, high float64) (labels, fracNeg, fracUndet, fracPos *Node) {
	g := confidence.Graph()
	dtype := confidence.DType()

	isPos := GreaterThan(confidence, Scalar(g, dtype, high))
	isNeg := LessThan(confidence, Scalar(g, dtype, low))
	labels = Where(isPos, ScalarOne(g, dtype),
		Where(isNeg, ScalarZero(g, dtype), Scalar(g, dtype, -1)))
	labels = StopGradient(labels)

	fracPos = ReduceAllMean(ConvertDType(isPos, dtype))
	fracNeg = ReduceAllMean(ConvertDType(isNeg, dtype))
	fracUndet = OneMinus(Add(fracPos, fracNeg))
	return
}
