package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Score column names written by the anomaly detectors.
const (
	ScoreIsolationForest = "iforest_score"
	ScoreLOF             = "lof_score"
)

// Record is one transaction of a batch together with everything derived from it
// during a run.
type Record struct {
	TxID string `json:"txId"`
	Row  int    `json:"row"`

	Timestamp time.Time `json:"timestamp,omitzero"`
	HasTime   bool      `json:"-"`

	// Amount is null when the raw value could not be parsed.
	Amount decimal.NullDecimal `json:"amount"`

	Fields map[string]string `json:"fields,omitempty"`

	Features FeatureVector     `json:"features"`
	Scores   map[string]float64 `json:"scores,omitempty"`

	// Outlier is set for rows in the contamination fraction of the isolation forest.
	Outlier bool `json:"outlier"`

	RiskScore     float64 `json:"riskScore"`
	RiskExplainer string  `json:"riskExplainer"`
}

// AmountValue returns the amount as a float, imputing 0 for nulls.
func (r *Record) AmountValue() float64 {
	if !r.Amount.Valid {
		return 0
	}
	f, _ := r.Amount.Decimal.Float64()
	return f
}

// Field returns a raw field value, "" when absent.
func (r *Record) Field(column string) string {
	if column == "" {
		return ""
	}
	return r.Fields[column]
}

// FeatureVector holds the numeric features derived for one record.
type FeatureVector struct {
	Hour    int `json:"hour"`
	Weekday int `json:"weekday"`

	HourSin float64 `json:"hourSin"`
	HourCos float64 `json:"hourCos"`

	AmountLog       float64 `json:"amountLog"`
	GlobalRobustZ   float64 `json:"globalRobustZ"`
	EntityRobustZ   float64 `json:"entityRobustZ"`
	EntityFrequency float64 `json:"entityFrequency"`
	AmountEWMA      float64 `json:"amountEwma"`

	// Velocity is keyed by identity column.
	Velocity map[string]Velocity `json:"velocity,omitempty"`
}

// Velocity is the count and summed amount for a record's identity.
type Velocity struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// DataQuality counts what the run had to coerce or skip.
type DataQuality struct {
	UnparsableAmounts    int      `json:"unparsableAmounts"`
	UnparsableTimestamps int      `json:"unparsableTimestamps"`
	MissingColumns       []string `json:"missingColumns,omitempty"`
	DetectorFailures     []string `json:"detectorFailures,omitempty"`
}

// Clean reports whether no input value had to be coerced.
func (q DataQuality) Clean() bool {
	return q.UnparsableAmounts == 0 && q.UnparsableTimestamps == 0
}

// Frame is the working set of one analysis run.
type Frame struct {
	Columns      Columns     `json:"columns"`
	Records      []*Record   `json:"records"`
	ScoreColumns []string    `json:"scoreColumns"`
	Quality      DataQuality `json:"quality"`

	present map[string]bool
}

// NewFrame creates an empty frame for a table with the given header.
func NewFrame(cols Columns, header []string) *Frame {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	return &Frame{Columns: cols, present: present}
}

// Has reports whether the source table had the column.
func (f *Frame) Has(column string) bool {
	return column != "" && f.present[column]
}

// Len returns the number of records.
func (f *Frame) Len() int {
	return len(f.Records)
}

// HasScore reports whether a score column has been written.
func (f *Frame) HasScore(column string) bool {
	for _, c := range f.ScoreColumns {
		if c == column {
			return true
		}
	}
	return false
}

// SetScores writes one score per record under column.
func (f *Frame) SetScores(column string, values []float64) {
	for i, r := range f.Records {
		if r.Scores == nil {
			r.Scores = make(map[string]float64)
		}
		v := 0.0
		if i < len(values) {
			v = values[i]
		}
		r.Scores[column] = v
	}
	if !f.HasScore(column) {
		f.ScoreColumns = append(f.ScoreColumns, column)
	}
}

// Score returns the column values in record order.
func (f *Frame) Score(column string) []float64 {
	out := make([]float64, len(f.Records))
	for i, r := range f.Records {
		out[i] = r.Scores[column]
	}
	return out
}
