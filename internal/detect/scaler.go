package detect

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// RobustScale centres every column on its median and divides by its
// interquartile range. Columns with no spread keep a scale of 1.
func RobustScale(x [][]float64) ([][]float64, error) {
	if len(x) == 0 {
		return nil, nil
	}
	dims := len(x[0])
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), dims)
		}
		out[i] = make([]float64, dims)
	}

	col := make([]float64, len(x))
	for d := 0; d < dims; d++ {
		for i, row := range x {
			v := row[d]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d feature %d is not finite", i, d)
			}
			col[i] = v
		}
		center, err := stats.Median(col)
		if err != nil {
			return nil, fmt.Errorf("median of feature %d: %w", d, err)
		}
		scale, err := stats.InterQuartileRange(col)
		if err != nil || math.IsNaN(scale) || scale == 0 {
			scale = 1
		}
		for i := range x {
			out[i][d] = (col[i] - center) / scale
		}
	}
	return out, nil
}
