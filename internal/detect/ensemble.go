// Package detect implements the unsupervised anomaly detectors that score a
// batch of transactions: an isolation forest and a local outlier factor.
package detect

import (
	"fmt"
	"log/slog"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Feature names fed to the detectors, in matrix column order.
const (
	FeatureAmount          = "amount"
	FeatureAmountLog       = "amount_log"
	FeatureEntityRobustZ   = "entity_robust_z"
	FeatureGlobalRobustZ   = "global_robust_z"
	FeatureEntityFrequency = "entity_frequency"
	FeatureAmountEWMA      = "amount_ewma"
	FeatureHourSin         = "hour_sin"
	FeatureHourCos         = "hour_cos"
)

// DefaultSampleSize caps the isolation forest subsample.
const DefaultSampleSize = 256

// Options configures the ensemble.
type Options struct {
	Contamination float64
	Neighbors     int
	Trees         int
	Seed          uint64
}

// Ensemble runs every detector over a frame and writes one score column each.
type Ensemble struct {
	opts Options
}

// NewEnsemble creates an ensemble.
func NewEnsemble(opts Options) *Ensemble {
	return &Ensemble{opts: opts}
}

// FeatureNames returns the features used for a frame. Amount-derived features
// are only used when the frame has an amount column.
func FeatureNames(frame *domain.Frame) []string {
	var names []string
	if frame.Has(frame.Columns.Amount) {
		names = append(names,
			FeatureAmount,
			FeatureAmountLog,
			FeatureEntityRobustZ,
			FeatureGlobalRobustZ,
			FeatureEntityFrequency,
			FeatureAmountEWMA,
		)
	}
	return append(names, FeatureHourSin, FeatureHourCos)
}

// Matrix builds the raw feature matrix of a frame.
func Matrix(frame *domain.Frame, names []string) [][]float64 {
	x := make([][]float64, frame.Len())
	for i, r := range frame.Records {
		f := r.Features
		row := make([]float64, len(names))
		for d, name := range names {
			switch name {
			case FeatureAmount:
				row[d] = r.AmountValue()
			case FeatureAmountLog:
				row[d] = f.AmountLog
			case FeatureEntityRobustZ:
				row[d] = f.EntityRobustZ
			case FeatureGlobalRobustZ:
				row[d] = f.GlobalRobustZ
			case FeatureEntityFrequency:
				row[d] = f.EntityFrequency
			case FeatureAmountEWMA:
				row[d] = f.AmountEWMA
			case FeatureHourSin:
				row[d] = f.HourSin
			case FeatureHourCos:
				row[d] = f.HourCos
			}
		}
		x[i] = row
	}
	return x
}

// Score writes iforest_score and lof_score to the frame and sets the outlier
// flag of each record. A detector that fails contributes an all-zero column.
func (e *Ensemble) Score(frame *domain.Frame) {
	n := frame.Len()

	scaled, err := RobustScale(Matrix(frame, FeatureNames(frame)))
	if err != nil {
		slog.Warn("feature scaling failed", "error", err)
		frame.Quality.DetectorFailures = append(frame.Quality.DetectorFailures, "scaler")
		frame.SetScores(domain.ScoreIsolationForest, make([]float64, n))
		frame.SetScores(domain.ScoreLOF, make([]float64, n))
		return
	}

	forest := &IsolationForest{
		Trees:         e.opts.Trees,
		SampleSize:    DefaultSampleSize,
		Contamination: e.opts.Contamination,
		Seed:          e.opts.Seed,
	}
	var outliers []bool
	iso := guard(frame, domain.ScoreIsolationForest, func() []float64 {
		var s []float64
		s, outliers = forest.Score(scaled)
		return s
	})
	frame.SetScores(domain.ScoreIsolationForest, iso)
	for i, r := range frame.Records {
		r.Outlier = i < len(outliers) && outliers[i]
	}

	lof := &LocalOutlierFactor{Neighbors: e.opts.Neighbors}
	frame.SetScores(domain.ScoreLOF, guard(frame, domain.ScoreLOF, func() []float64 {
		return lof.Score(scaled)
	}))
}

// guard runs one detector and substitutes zeros if it panics or returns the
// wrong number of scores.
func guard(frame *domain.Frame, name string, run func() []float64) (scores []float64) {
	n := frame.Len()
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("detector failed", "detector", name, "error", fmt.Sprint(r))
			frame.Quality.DetectorFailures = append(frame.Quality.DetectorFailures, name)
			scores = make([]float64, n)
		}
	}()

	scores = run()
	if len(scores) != n {
		slog.Warn("detector returned wrong length", "detector", name, "expected", n, "got", len(scores))
		frame.Quality.DetectorFailures = append(frame.Quality.DetectorFailures, name)
		return make([]float64, n)
	}
	return scores
}
