package features

import (
	"math"

	"github.com/montanaflynn/stats"
)

// RobustZScale makes a MAD-based z-score comparable to a standard-deviation
// z-score under normality.
const RobustZScale = 0.6745

// MedianThenMAD returns the median and the median absolute deviation of values.
// A zero (or undefined) MAD is replaced by 1 so callers can always divide by it.
func MedianThenMAD(values []float64) (median, mad float64) {
	if len(values) == 0 {
		return 0, 1
	}
	median, err := stats.Median(values)
	if err != nil || math.IsNaN(median) {
		median = 0
	}
	mad, err = stats.MedianAbsoluteDeviationPopulation(values)
	if err != nil || math.IsNaN(mad) || mad == 0 {
		mad = 1
	}
	return median, mad
}

// RobustZ returns 0.6745*(x-median)/mad.
func RobustZ(x, median, mad float64) float64 {
	return RobustZScale * (x - median) / mad
}

// EWMA returns the exponentially weighted moving average of values in order,
// seeded with the first value.
func EWMA(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = alpha*v + (1-alpha)*out[i-1]
	}
	return out
}
