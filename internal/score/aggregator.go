// Package score combines detector outputs into a single risk score with a
// short explanation of which detector drove it.
package score

import (
	"math"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Explainer labels.
const (
	LabelLowRisk  = "Low Risk"
	LabelNoScores = "No scores"
)

// LowRiskCutoff is the weighted contribution below which a row is explained as
// low risk whichever detector contributed most.
const LowRiskCutoff = 0.3

// weightFloor keeps weight renormalization finite when every weight is 0.
const weightFloor = 1e-9

var labels = map[string]string{
	domain.ScoreIsolationForest: "Statistical Outlier (Isolation Forest)",
	domain.ScoreLOF:             "Local Density Anomaly (LOF)",
	"ae_score":                  "Pattern Mismatch (Autoencoder)",
}

// Label returns the explainer label of a score column.
func Label(column string) string {
	if l, ok := labels[column]; ok {
		return l
	}
	return "Anomaly (" + column + ")"
}

// Aggregator computes risk_score and risk_explainer.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Weights aligns weights with n columns: extra weights are dropped, missing
// ones default to 1, negatives are clamped to 0, and the result sums to 1.
func Weights(weights []float64, n int) []float64 {
	w := make([]float64, n)
	total := 0.0
	for i := range w {
		w[i] = 1
		if i < len(weights) {
			w[i] = math.Max(0, weights[i])
		}
		total += w[i]
	}
	total = math.Max(weightFloor, total)
	for i := range w {
		w[i] /= total
	}
	return w
}

// Aggregate normalizes each requested score column across the batch and writes
// the weighted sum and explainer to every record. Requested columns the frame
// does not have are ignored.
func (a *Aggregator) Aggregate(frame *domain.Frame, columns []string, weights []float64) {
	var valid []string
	for _, c := range columns {
		if frame.HasScore(c) {
			valid = append(valid, c)
		}
	}

	if len(valid) == 0 {
		for _, r := range frame.Records {
			r.RiskScore = 0
			r.RiskExplainer = LabelNoScores
		}
		return
	}
	if frame.Len() == 0 {
		return
	}

	normalized := make([][]float64, len(valid))
	for j, c := range valid {
		normalized[j] = MinMax(frame.Score(c))
	}
	w := Weights(weights, len(valid))

	for i, r := range frame.Records {
		risk := 0.0
		best, bestVal := 0, math.Inf(-1)
		for j := range valid {
			contrib := normalized[j][i] * w[j]
			risk += contrib
			if contrib > bestVal {
				best, bestVal = j, contrib
			}
		}
		r.RiskScore = math.Min(1, math.Max(0, risk))
		if bestVal < LowRiskCutoff {
			r.RiskExplainer = LabelLowRisk
		} else {
			r.RiskExplainer = Label(valid[best])
		}
	}
}
