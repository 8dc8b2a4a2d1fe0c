package rules

import (
	"fmt"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Builtin rule IDs.
const (
	RuleRoundAmount = "builtin.round_amount"
	RuleHighValue   = "builtin.high_value"
)

// BuiltinRules returns the amount rules evaluated for every tenant. They share
// the CEL environment with custom rules.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleRoundAmount,
			Name:        "Round Amount",
			Description: "Integral amount at or above the round threshold",
			Expression:  "is_integral && amount >= round_threshold",
			Severity:    domain.SeverityMedium,
			Enabled:     true,
		},
		{
			ID:          RuleHighValue,
			Name:        "High Value",
			Description: "Amount at or above the high amount threshold",
			Expression:  "has_amount && amount >= high_amount_threshold",
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
	}
}

func builtinAlert(cfg *domain.RuleConfig, r *domain.Record) domain.Alert {
	alert := domain.Alert{
		TxID:     r.TxID,
		Severity: cfg.Severity,
	}
	amount := formatAmount(r.AmountValue())
	switch cfg.ID {
	case RuleRoundAmount:
		alert.Type = domain.AlertRoundAmount
		alert.Note = fmt.Sprintf("Unusual Round Amount: %s", amount)
	case RuleHighValue:
		alert.Type = domain.AlertHighValue
		alert.Note = fmt.Sprintf("High Value Alert: %s exceeds threshold", amount)
	}
	return alert
}
