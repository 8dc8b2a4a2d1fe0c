package detect

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/opensource-finance/osprey-forensics/internal/score"
)

const eulerGamma = 0.5772156649015329

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them. Points isolated in fewer steps are more anomalous.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          uint64
}

type iNode struct {
	feature     int
	split       float64
	left, right *iNode
	size        int
}

func (n *iNode) leaf() bool {
	return n.left == nil
}

// Score returns the normalized anomaly score per row (1 = most anomalous) and
// flags the rows in the top contamination fraction.
func (f *IsolationForest) Score(x [][]float64) ([]float64, []bool) {
	n := len(x)
	if n == 0 {
		return []float64{}, []bool{}
	}

	psi := f.SampleSize
	if psi <= 0 || psi > n {
		psi = n
	}
	norm := avgPathLength(psi)
	if norm == 0 {
		return make([]float64, n), make([]bool, n)
	}

	rng := rand.New(rand.NewPCG(f.Seed, f.Seed))
	limit := int(math.Ceil(math.Log2(float64(psi))))
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}

	depth := make([]float64, n)
	for t := 0; t < f.Trees; t++ {
		// partial Fisher-Yates: the first psi entries become the subsample
		for i := 0; i < psi; i++ {
			j := i + rng.IntN(n-i)
			pool[i], pool[j] = pool[j], pool[i]
		}
		sample := slices.Clone(pool[:psi])
		root := grow(x, sample, 0, limit, rng)
		for i, row := range x {
			depth[i] += pathLength(root, row)
		}
	}

	raw := make([]float64, n)
	for i := range raw {
		mean := depth[i] / float64(f.Trees)
		raw[i] = math.Pow(2, -mean/norm)
	}
	return score.MinMax(raw), f.outliers(raw)
}

// outliers flags rows whose raw score exceeds the (1-contamination) quantile.
func (f *IsolationForest) outliers(raw []float64) []bool {
	flags := make([]bool, len(raw))
	if f.Contamination <= 0 {
		return flags
	}
	sorted := slices.Clone(raw)
	slices.Sort(sorted)
	if sorted[0] == sorted[len(sorted)-1] {
		return flags
	}
	threshold := quantile(sorted, 1-f.Contamination)
	for i, v := range raw {
		flags[i] = v > threshold
	}
	return flags
}

func grow(x [][]float64, idx []int, depth, limit int, rng *rand.Rand) *iNode {
	if depth >= limit || len(idx) <= 1 {
		return &iNode{size: len(idx)}
	}

	dims := len(x[idx[0]])
	type bounds struct {
		feature int
		lo, hi  float64
	}
	var candidates []bounds
	for d := 0; d < dims; d++ {
		lo, hi := x[idx[0]][d], x[idx[0]][d]
		for _, i := range idx[1:] {
			v := x[i][d]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			candidates = append(candidates, bounds{d, lo, hi})
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(idx)}
	}

	c := candidates[rng.IntN(len(candidates))]
	split := c.lo + rng.Float64()*(c.hi-c.lo)

	k := 0
	for i := range idx {
		if x[idx[i]][c.feature] <= split {
			idx[i], idx[k] = idx[k], idx[i]
			k++
		}
	}
	if k == 0 || k == len(idx) {
		return &iNode{size: len(idx)}
	}

	return &iNode{
		feature: c.feature,
		split:   split,
		left:    grow(x, idx[:k], depth+1, limit, rng),
		right:   grow(x, idx[k:], depth+1, limit, rng),
		size:    len(idx),
	}
}

func pathLength(node *iNode, row []float64) float64 {
	depth := 0.0
	for !node.leaf() {
		if row[node.feature] <= node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return depth + avgPathLength(node.size)
}

// avgPathLength is the average path length of an unsuccessful search in a
// binary search tree of n points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
