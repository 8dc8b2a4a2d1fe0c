package detect

import (
	"math"

	"github.com/opensource-finance/osprey-forensics/internal/score"
)

// lrdEpsilon keeps the local reachability density finite for duplicate points.
const lrdEpsilon = 1e-10

// LocalOutlierFactor compares each point's local density with the density of
// its k nearest neighbours.
type LocalOutlierFactor struct {
	Neighbors int
}

type neighbor struct {
	index int
	dist  float64
}

// EffectiveNeighbors clamps k to max(1, min(k, n-1)).
func (l *LocalOutlierFactor) EffectiveNeighbors(n int) int {
	k := l.Neighbors
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Score returns the normalized outlier factor per row (1 = most anomalous).
// Batches of zero or one row score 0.
func (l *LocalOutlierFactor) Score(x [][]float64) []float64 {
	n := len(x)
	if n <= 1 {
		return make([]float64, n)
	}
	k := l.EffectiveNeighbors(n)

	knn := make([][]neighbor, n)
	kdist := make([]float64, n)
	for i := range x {
		knn[i] = nearest(x, i, k)
		kdist[i] = knn[i][len(knn[i])-1].dist
	}

	lrd := make([]float64, n)
	for i, nbrs := range knn {
		sum := 0.0
		for _, nb := range nbrs {
			sum += math.Max(kdist[nb.index], nb.dist)
		}
		lrd[i] = 1 / (sum/float64(len(nbrs)) + lrdEpsilon)
	}

	factor := make([]float64, n)
	for i, nbrs := range knn {
		sum := 0.0
		for _, nb := range nbrs {
			sum += lrd[nb.index]
		}
		factor[i] = sum / float64(len(nbrs)) / lrd[i]
	}
	return score.MinMax(factor)
}

// nearest returns the k closest points to x[i], excluding i, ordered by
// distance then index.
func nearest(x [][]float64, i, k int) []neighbor {
	best := make([]neighbor, 0, k+1)
	for j := range x {
		if j == i {
			continue
		}
		d := euclidean(x[i], x[j])
		if len(best) == k && d >= best[k-1].dist {
			continue
		}
		pos := len(best)
		for pos > 0 && best[pos-1].dist > d {
			pos--
		}
		best = append(best, neighbor{})
		copy(best[pos+1:], best[pos:])
		best[pos] = neighbor{index: j, dist: d}
		if len(best) > k {
			best = best[:k]
		}
	}
	return best
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
