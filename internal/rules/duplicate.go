package rules

import (
	"fmt"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Duplicates flags every transaction that shares its entity and exact amount
// with at least one other transaction. It needs both the amount and the
// primary entity column.
func Duplicates(frame *domain.Frame) []domain.Alert {
	cols := frame.Columns
	entityCol := cols.Entity()
	if !frame.Has(cols.Amount) || !frame.Has(entityCol) {
		return nil
	}

	type key struct {
		entity string
		amount string
	}
	counts := make(map[key]int)
	keys := make([]key, frame.Len())
	for i, r := range frame.Records {
		entity := r.Field(entityCol)
		if !r.Amount.Valid || entity == "" {
			continue
		}
		k := key{entity: entity, amount: r.Amount.Decimal.String()}
		keys[i] = k
		counts[k]++
	}

	var alerts []domain.Alert
	for i, r := range frame.Records {
		k := keys[i]
		if k.entity == "" || counts[k] < 2 {
			continue
		}
		alerts = append(alerts, domain.Alert{
			TxID:     r.TxID,
			Type:     domain.AlertDuplicate,
			Severity: domain.SeverityHigh,
			Note:     fmt.Sprintf("Potential Duplicate: %s - %s", k.entity, formatAmount(r.AmountValue())),
		})
	}
	return alerts
}
