// Package export writes analysis reports as CSV or XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Formats accepted by Write.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Write dispatches on format.
func Write(w io.Writer, report *domain.Report, format string) error {
	switch format {
	case "", FormatCSV:
		return WriteCSV(w, report)
	case FormatXLSX:
		return WriteXLSX(w, report)
	default:
		return fmt.Errorf("%w: export format %q", domain.ErrInvalidInput, format)
	}
}

// WriteCSV writes the scored transaction table.
func WriteCSV(w io.Writer, report *domain.Report) error {
	cw := csv.NewWriter(w)
	header, rows := transactionRows(report)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// WriteAlertsCSV writes one line per alert.
func WriteAlertsCSV(w io.Writer, alerts []domain.Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(alertHeader); err != nil {
		return err
	}
	for _, a := range alerts {
		if err := cw.Write(alertRow(a)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var alertHeader = []string{"tx_id", "type", "severity", "rule_id", "note"}

func alertRow(a domain.Alert) []string {
	return []string{a.TxID, string(a.Type), string(a.Severity), a.RuleID, a.Note}
}

// transactionRows lays out one row per transaction: the id, the source
// fields in their original order, the risk outputs, every detector score and
// the alert types raised against the row.
func transactionRows(report *domain.Report) ([]string, [][]string) {
	var fields []string
	for _, h := range report.Header {
		if h != report.Columns.TxID {
			fields = append(fields, h)
		}
	}
	scores := scoreColumns(report.Transactions)

	header := []string{"tx_id"}
	header = append(header, fields...)
	header = append(header, "risk_score", "risk_explainer")
	header = append(header, scores...)
	header = append(header, "outlier", "alerts")

	alertTypes := make(map[string][]string)
	for _, a := range report.Alerts {
		alertTypes[a.TxID] = append(alertTypes[a.TxID], string(a.Type))
	}

	rows := make([][]string, 0, len(report.Transactions))
	for _, tx := range report.Transactions {
		row := make([]string, 0, len(header))
		row = append(row, tx.TxID)
		for _, f := range fields {
			row = append(row, tx.Fields[f])
		}
		row = append(row, formatScore(tx.RiskScore), tx.RiskExplainer)
		for _, s := range scores {
			row = append(row, formatScore(tx.Scores[s]))
		}
		row = append(row, strconv.FormatBool(tx.Outlier), strings.Join(alertTypes[tx.TxID], ";"))
		rows = append(rows, row)
	}
	return header, rows
}

func scoreColumns(records []*domain.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for name := range r.Scores {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
