package segmetrics

import "strings"

// PremetricPrefix marks metric names whose values must be summed, not
// averaged, before deriving the final metrics. Training steps emit the
// confusion counts as "<prefix>/tp" etc. under this namespace.
const PremetricPrefix = "premetrics/"

// Aggregator accumulates per-step metric maps over an evaluation window.
// The zero value is not usable; call NewAggregator.
type Aggregator struct {
	sums   map[string]float64
	counts map[string]int
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Add accumulates one step's metrics.
func (a *Aggregator) Add(metrics map[string]float64) {
	for name, value := range metrics {
		a.sums[name] += value
		a.counts[name]++
	}
}

// Steps reports how many times Add was called for the given metric.
func (a *Aggregator) Steps(name string) int { return a.counts[name] }

// Finalize reduces the window: plain metrics become their arithmetic mean,
// premetric confusion counts are summed per namespace and replaced by the
// derived accuracy/precision/recall/f1/iou under the same namespace.
// Finalize does not reset the aggregator; call Reset for the next window.
func (a *Aggregator) Finalize() map[string]float64 {
	out := make(map[string]float64, len(a.sums))
	confusions := make(map[string]map[string]float64) // namespace -> count name -> sum
	for name, sum := range a.sums {
		ns, count, isPremetric := splitPremetric(name)
		if isPremetric {
			if confusions[ns] == nil {
				confusions[ns] = make(map[string]float64, 4)
			}
			confusions[ns][count] = sum
			continue
		}
		out[name] = sum / float64(a.counts[name])
	}
	for ns, counts := range confusions {
		for metric, value := range Derive(counts[TruePositives], counts[FalsePositives],
			counts[FalseNegatives], counts[TrueNegatives]) {
			out[ns+metric] = value
		}
	}
	return out
}

// Reset clears the window.
func (a *Aggregator) Reset() {
	a.sums = make(map[string]float64)
	a.counts = make(map[string]int)
}

// splitPremetric recognizes names of the form "<ns>premetrics/<count>",
// returning the namespace (with trailing separator preserved) and count name.
func splitPremetric(name string) (ns, count string, ok bool) {
	idx := strings.Index(name, PremetricPrefix)
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len(PremetricPrefix):], true
}
