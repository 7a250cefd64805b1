// Package stats implements the quantile math behind the gateway latency metrics.
package stats

import (
	"errors"
	"slices"
)

// ErrNotEnoughData is returned when a computation needs more samples than it was given.
var ErrNotEnoughData = errors.New("stats: not enough data points")

// quantileBuckets is the resolution used for latency percentiles.
const quantileBuckets = 10000

// Quantiles cuts sorted data into n groups using the inclusive method and
// returns the n-1 cut points. The inclusive method treats data as a whole
// population: the minimum and maximum are the 0th and 100th percentiles and
// interior cut points are linearly interpolated between neighbours.
func Quantiles(data []int64, n int) ([]float64, error) {
	if n < 1 {
		return nil, errors.New("stats: quantile group count must be at least 1")
	}
	if len(data) < 2 {
		return nil, ErrNotEnoughData
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	m := len(sorted) - 1
	result := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		j := i * m / n
		delta := i * m % n
		interpolated := (float64(sorted[j])*float64(n-delta) + float64(sorted[j+1])*float64(delta)) / float64(n)
		result = append(result, interpolated)
	}
	return result, nil
}

// Percentile picks the k-th percentile out of precomputed quantile cut points.
func Percentile(quantiles []float64, k float64) (float64, error) {
	if len(quantiles) == 0 {
		return 0, errors.New("stats: empty quantiles")
	}
	if k <= 0 || k > 100 {
		return 0, errors.New("stats: percentile must be in (0, 100]")
	}

	index := int(float64(len(quantiles))*(k/100)) - 1
	if index < 0 {
		index = 0
	}
	return quantiles[index], nil
}

// LatencyPercentile maps a percentile label to a truncated microsecond value.
type LatencyPercentile map[string]int64

// latencyLabels are the percentiles reported in metrics events.
var latencyLabels = []struct {
	label string
	k     float64
}{
	{"50", 50},
	{"90", 90},
	{"99", 99},
	{"99.99", 99.99},
}

// LatencyPercentiles computes the reported percentile set from raw latency
// samples. It needs at least two samples.
func LatencyPercentiles(samples []int64) (LatencyPercentile, error) {
	quantiles, err := Quantiles(samples, quantileBuckets)
	if err != nil {
		return nil, err
	}

	out := make(LatencyPercentile, len(latencyLabels))
	for _, p := range latencyLabels {
		v, err := Percentile(quantiles, p.k)
		if err != nil {
			return nil, err
		}
		out[p.label] = int64(v)
	}
	return out, nil
}

// NsToUs converts a nanosecond duration to whole microseconds.
func NsToUs(ns int64) int64 {
	return ns / 1000
}
