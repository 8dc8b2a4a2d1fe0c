package score

import "math"

// MinMax rescales values to [0,1] relative to the batch. Non-finite values are
// treated as 0 and a constant series maps to all zeros.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		clear(out)
		return out
	}
	for i, v := range out {
		out[i] = (v - lo) / span
	}
	return out
}
