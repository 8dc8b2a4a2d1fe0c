package score

import (
	"math"
	"testing"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

func frameWithScores(cols map[string][]float64, n int) *domain.Frame {
	frame := domain.NewFrame(domain.Columns{}, nil)
	for i := 0; i < n; i++ {
		frame.Records = append(frame.Records, &domain.Record{Row: i})
	}
	for _, name := range []string{domain.ScoreIsolationForest, domain.ScoreLOF, "custom_score", "extra_a", "extra_b"} {
		if v, ok := cols[name]; ok {
			frame.SetScores(name, v)
		}
	}
	return frame
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator()

	t.Run("SingleColumnIsIdentity", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{
			domain.ScoreIsolationForest: {0, 0.25, 0.5, 1},
		}, 4)
		agg.Aggregate(frame, []string{domain.ScoreIsolationForest}, nil)

		for i, want := range []float64{0, 0.25, 0.5, 1} {
			if got := frame.Records[i].RiskScore; math.Abs(got-want) > 1e-12 {
				t.Errorf("row %d: expected %v, got %v", i, want, got)
			}
		}
		if frame.Records[3].RiskExplainer != "Statistical Outlier (Isolation Forest)" {
			t.Errorf("unexpected explainer %q", frame.Records[3].RiskExplainer)
		}
		if frame.Records[1].RiskExplainer != LabelLowRisk {
			t.Errorf("expected low risk, got %q", frame.Records[1].RiskExplainer)
		}
	})

	t.Run("RiskInUnitInterval", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{
			domain.ScoreIsolationForest: {-5, 3, 1e6, 7},
			domain.ScoreLOF:             {0.1, math.NaN(), 0.4, 0.2},
		}, 4)
		agg.Aggregate(frame, []string{domain.ScoreIsolationForest, domain.ScoreLOF}, []float64{3, 1, 9})
		for i, r := range frame.Records {
			if r.RiskScore < 0 || r.RiskScore > 1 {
				t.Errorf("row %d: risk %v out of range", i, r.RiskScore)
			}
		}
	})

	t.Run("ExplainerPicksWeightedWinner", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{
			domain.ScoreIsolationForest: {0, 1},
			domain.ScoreLOF:             {1, 0},
		}, 2)
		agg.Aggregate(frame, []string{domain.ScoreIsolationForest, domain.ScoreLOF}, nil)

		if frame.Records[0].RiskExplainer != "Local Density Anomaly (LOF)" {
			t.Errorf("row 0: unexpected explainer %q", frame.Records[0].RiskExplainer)
		}
		if frame.Records[1].RiskExplainer != "Statistical Outlier (Isolation Forest)" {
			t.Errorf("row 1: unexpected explainer %q", frame.Records[1].RiskExplainer)
		}
		if frame.Records[0].RiskScore != 0.5 {
			t.Errorf("expected 0.5, got %v", frame.Records[0].RiskScore)
		}
	})

	t.Run("WeightedValueBelowCutoffIsLowRisk", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{
			domain.ScoreIsolationForest: {0, 0.55},
			domain.ScoreLOF:             {0, 0.5},
		}, 2)
		agg.Aggregate(frame, []string{domain.ScoreIsolationForest, domain.ScoreLOF}, []float64{0.2, 0.8})
		if frame.Records[1].RiskExplainer != "Local Density Anomaly (LOF)" {
			t.Errorf("expected LOF explainer, got %q", frame.Records[1].RiskExplainer)
		}
		agg.Aggregate(frame, []string{domain.ScoreIsolationForest, domain.ScoreLOF, "missing"}, []float64{1, 1, 1, 1})
		if frame.Records[1].RiskExplainer != "Statistical Outlier (Isolation Forest)" {
			t.Errorf("expected tie to go to the first column, got %q", frame.Records[1].RiskExplainer)
		}
	})

	t.Run("DilutedTopScoreIsLowRisk", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{
			domain.ScoreIsolationForest: {0, 1},
			domain.ScoreLOF:             {0, 1},
			"extra_a":                   {0, 1},
			"extra_b":                   {0, 1},
		}, 2)
		cols := []string{domain.ScoreIsolationForest, domain.ScoreLOF, "extra_a", "extra_b"}
		agg.Aggregate(frame, cols, nil)
		r := frame.Records[1]
		if r.RiskScore != 1 {
			t.Errorf("expected risk 1, got %v", r.RiskScore)
		}
		if r.RiskExplainer != LabelLowRisk {
			t.Errorf("expected %q with each contribution at 0.25, got %q", LabelLowRisk, r.RiskExplainer)
		}
	})

	t.Run("CustomColumnLabel", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{"custom_score": {0, 1}}, 2)
		agg.Aggregate(frame, []string{"custom_score"}, nil)
		if frame.Records[1].RiskExplainer != "Anomaly (custom_score)" {
			t.Errorf("unexpected explainer %q", frame.Records[1].RiskExplainer)
		}
	})

	t.Run("NoValidColumns", func(t *testing.T) {
		frame := frameWithScores(nil, 3)
		agg.Aggregate(frame, []string{"nope"}, nil)
		for i, r := range frame.Records {
			if r.RiskScore != 0 || r.RiskExplainer != LabelNoScores {
				t.Errorf("row %d: expected (0, No scores), got (%v, %q)", i, r.RiskScore, r.RiskExplainer)
			}
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		frame := frameWithScores(map[string][]float64{domain.ScoreLOF: {}}, 0)
		agg.Aggregate(frame, []string{domain.ScoreLOF}, nil)
	})
}

func TestWeights(t *testing.T) {
	cases := []struct {
		name    string
		weights []float64
		n       int
		want    []float64
	}{
		{"Default", nil, 2, []float64{0.5, 0.5}},
		{"Truncated", []float64{1, 3, 100}, 2, []float64{0.25, 0.75}},
		{"MissingDefaultToOne", []float64{2}, 3, []float64{0.5, 0.25, 0.25}},
		{"AllZero", []float64{0, 0}, 2, []float64{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Weights(tc.weights, tc.n)
			for i := range tc.want {
				if math.Abs(got[i]-tc.want[i]) > 1e-12 {
					t.Errorf("index %d: expected %v, got %v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestMinMax(t *testing.T) {
	got := MinMax([]float64{2, 4, 6, math.Inf(1)})
	want := []float64{1.0 / 3, 2.0 / 3, 1, 0}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	for _, v := range MinMax([]float64{3, 3, 3}) {
		if v != 0 {
			t.Errorf("expected constant series to map to 0, got %v", v)
		}
	}
}
