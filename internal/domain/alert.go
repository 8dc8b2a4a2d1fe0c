package domain

// AlertType names the rule family that raised an alert.
type AlertType string

// Alert types.
const (
	AlertDuplicate        AlertType = "duplicate"
	AlertRoundAmount      AlertType = "round_amount"
	AlertHighValue        AlertType = "high_value"
	AlertImpossibleTravel AlertType = "impossible_travel"
	AlertCustom           AlertType = "custom"
)

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is one rule hit against one transaction. A transaction may carry
// several alerts and alerts are never merged.
type Alert struct {
	TxID     string    `json:"txId"`
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	Note     string    `json:"note"`
	RuleID   string    `json:"ruleId,omitempty"`
}

// CollusionCluster is a connected group of transactions and shared entities
// that matched the card/device sharing heuristic.
type CollusionCluster struct {
	// ComponentSize counts the transactions in the component. NodeCount also
	// includes the shared entity nodes.
	ComponentSize int      `json:"componentSize"`
	NodeCount     int      `json:"nodeCount"`
	TxCount       int      `json:"txCount"`
	TxExamples    []string `json:"txExamples"`
	CardCount     int      `json:"cardCount"`
	DeviceCount   int      `json:"deviceCount"`
	Entities      []string `json:"entities"`
}

// BenfordDigit compares one leading digit with Benford's law.
type BenfordDigit struct {
	Digit    int     `json:"digit"`
	Observed float64 `json:"observed"`
	Expected float64 `json:"expected"`
	Delta    float64 `json:"delta"`
}

// BenfordResult is the leading-digit distribution of a batch.
type BenfordResult struct {
	Digits     []BenfordDigit `json:"digits,omitempty"`
	SampleSize int            `json:"sampleSize"`
}
