package domain

import (
	"fmt"
	"slices"
	"time"
)

// HighRiskThreshold is the risk score from which a row counts as high risk in
// report summaries. Scores are batch-relative, so this is a rank cut-off.
const HighRiskThreshold = 0.7

// AnalysisOptions tunes one analysis run. Zero numeric fields are filled by
// WithDefaults. The amount thresholds are pointers because 0 is a valid
// threshold; only nil means unset.
type AnalysisOptions struct {
	Contamination       float64       `json:"contamination" yaml:"contamination" envconfig:"CONTAMINATION" validate:"gt=0,lte=0.5"`
	RoundThreshold      *float64      `json:"roundThreshold" yaml:"round_threshold" envconfig:"ROUND_THRESHOLD" validate:"omitempty,gte=0"`
	HighAmountThreshold *float64      `json:"highAmountThreshold" yaml:"high_amount_threshold" envconfig:"HIGH_AMOUNT_THRESHOLD" validate:"omitempty,gte=0"`
	MinComponentSize    int           `json:"minComponentSize" yaml:"min_component_size" envconfig:"MIN_COMPONENT_SIZE" validate:"gte=1"`
	Neighbors           int           `json:"neighbors" yaml:"neighbors" envconfig:"NEIGHBORS" validate:"gte=1"`
	Trees               int           `json:"trees" yaml:"trees" envconfig:"TREES" validate:"gte=1,lte=5000"`
	Seed                uint64        `json:"seed" yaml:"seed" envconfig:"SEED"`
	Weights             []float64     `json:"weights,omitempty" yaml:"weights" envconfig:"WEIGHTS"`
	VelocityWindow      time.Duration `json:"velocityWindow,omitempty" yaml:"velocity_window" envconfig:"VELOCITY_WINDOW" validate:"gte=0"`
	Strict              bool          `json:"strict" yaml:"strict" envconfig:"STRICT"`
}

// DefaultAnalysisOptions returns the standard tuning.
func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		Contamination:       0.05,
		RoundThreshold:      Float64(500),
		HighAmountThreshold: Float64(5000),
		MinComponentSize:    5,
		Neighbors:           20,
		Trees:               200,
		Seed:                42,
	}
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Clone returns a copy that shares no pointers or slices with o, so decoding
// a request over it leaves o untouched.
func (o AnalysisOptions) Clone() AnalysisOptions {
	if o.RoundThreshold != nil {
		o.RoundThreshold = Float64(*o.RoundThreshold)
	}
	if o.HighAmountThreshold != nil {
		o.HighAmountThreshold = Float64(*o.HighAmountThreshold)
	}
	o.Weights = slices.Clone(o.Weights)
	return o
}

// WithDefaults returns a copy with unset options filled from
// DefaultAnalysisOptions. Both amount thresholds are non-nil afterwards.
func (o AnalysisOptions) WithDefaults() AnalysisOptions {
	o = o.Clone()
	d := DefaultAnalysisOptions()
	if o.Contamination == 0 {
		o.Contamination = d.Contamination
	}
	if o.RoundThreshold == nil {
		o.RoundThreshold = d.RoundThreshold
	}
	if o.HighAmountThreshold == nil {
		o.HighAmountThreshold = d.HighAmountThreshold
	}
	if o.MinComponentSize == 0 {
		o.MinComponentSize = d.MinComponentSize
	}
	if o.Neighbors == 0 {
		o.Neighbors = d.Neighbors
	}
	if o.Trees == 0 {
		o.Trees = d.Trees
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	return o
}

// Validate checks option ranges.
func (o AnalysisOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Report is the result of one analysis run.
type Report struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
	RowCount  int       `json:"rowCount"`
	Truncated bool      `json:"truncated,omitempty"`

	// Header is the source column order.
	Header  []string        `json:"header"`
	Columns Columns         `json:"columns"`
	Options AnalysisOptions `json:"options"`

	Transactions []*Record         `json:"transactions"`
	Alerts       []Alert            `json:"alerts"`
	Clusters     []CollusionCluster `json:"clusters"`
	Benford      BenfordResult      `json:"benford"`
	Quality      DataQuality        `json:"quality"`
	Summary      ReportSummary      `json:"summary"`

	// TimingsMs holds per-stage durations.
	TimingsMs map[string]int64 `json:"timingsMs,omitempty"`
}

// ReportSummary aggregates a report for dashboards and bus events.
type ReportSummary struct {
	AlertCounts   map[AlertType]int `json:"alertCounts"`
	HighRiskCount int               `json:"highRiskCount"`
	OutlierCount  int               `json:"outlierCount"`
	MaxRiskScore  float64           `json:"maxRiskScore"`
	ClusterCount  int               `json:"clusterCount"`
	BenfordMaxAbs float64           `json:"benfordMaxAbsDelta"`
}

// Summarize recomputes the summary from the report contents.
func (r *Report) Summarize() {
	s := ReportSummary{AlertCounts: make(map[AlertType]int)}
	for _, a := range r.Alerts {
		s.AlertCounts[a.Type]++
	}
	for _, tx := range r.Transactions {
		if tx.RiskScore >= HighRiskThreshold {
			s.HighRiskCount++
		}
		if tx.Outlier {
			s.OutlierCount++
		}
		if tx.RiskScore > s.MaxRiskScore {
			s.MaxRiskScore = tx.RiskScore
		}
	}
	s.ClusterCount = len(r.Clusters)
	for _, d := range r.Benford.Digits {
		if d.Delta > s.BenfordMaxAbs {
			s.BenfordMaxAbs = d.Delta
		} else if -d.Delta > s.BenfordMaxAbs {
			s.BenfordMaxAbs = -d.Delta
		}
	}
	r.Summary = s
}

// AlertsFor returns the alerts raised against one transaction.
func (r *Report) AlertsFor(txID string) []Alert {
	var out []Alert
	for _, a := range r.Alerts {
		if a.TxID == txID {
			out = append(out, a)
		}
	}
	return out
}

// Analysis run states.
const (
	RunQueued    = "queued"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// AnalysisRun is the persisted record of one analysis. Saving a run with an
// existing ID updates it.
type AnalysisRun struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Status    string        `json:"status"`
	RowCount  int           `json:"rowCount"`
	Truncated bool          `json:"truncated,omitempty"`
	Summary   ReportSummary `json:"summary"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Run returns the completed run record of the report.
func (r *Report) Run() *AnalysisRun {
	return &AnalysisRun{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Status:    RunCompleted,
		RowCount:  r.RowCount,
		Truncated: r.Truncated,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
	}
}
