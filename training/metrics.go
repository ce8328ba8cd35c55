package training

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/forever-ezio/PixelDINO-test/segmetrics"
)

// Metrics holds the scalar outputs of one step, keyed by metric name.
type Metrics map[string]float64

// Metric names shared by both training variants. Confusion counts use the
// premetrics namespace so the aggregator sums them before deriving ratios.
const (
	MetricLoss           = "loss"
	MetricLossSupervised = "loss_super"
	MetricLossSemi       = "loss_semi"

	MetricFractionNegative     = "fraction_negative"
	MetricFractionUndetermined = "fraction_undetermined"
	MetricFractionPositive     = "fraction_positive"

	MetricLossDiscriminator = "loss_discriminator"
	MetricJudgementMean     = "judgement_mean"
)

// premetricNames expands a branch prefix into the four confusion-count names,
// in segmetrics order.
func premetricNames(branch string) []string {
	names := make([]string, 0, len(segmetrics.PremetricNames))
	for _, count := range segmetrics.PremetricNames {
		names = append(names, branch+segmetrics.PremetricPrefix+count)
	}
	return names
}

// metricsFromTensors zips names with scalar float32 tensors.
func metricsFromTensors(names []string, values []*tensors.Tensor) Metrics {
	m := make(Metrics, len(names))
	for i, name := range names {
		m[name] = float64(tensors.ToScalar[float32](values[i]))
	}
	return m
}
