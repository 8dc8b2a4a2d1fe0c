package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/osprey-forensics/internal/benford"
	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Sheet names of the XLSX export.
const (
	SheetTransactions = "Transactions"
	SheetAlerts       = "Alerts"
	SheetCollusion    = "Collusion"
	SheetBenford      = "Benford"
)

// WriteXLSX writes a workbook with one sheet each for transactions, alerts,
// collusion clusters and the Benford distribution.
func WriteXLSX(w io.Writer, report *domain.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetTransactions); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for _, name := range []string{SheetAlerts, SheetCollusion, SheetBenford} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, rows := transactionRows(report)
	if err := writeSheet(f, SheetTransactions, header, rows); err != nil {
		return err
	}

	alerts := make([][]string, len(report.Alerts))
	for i, a := range report.Alerts {
		alerts[i] = alertRow(a)
	}
	if err := writeSheet(f, SheetAlerts, alertHeader, alerts); err != nil {
		return err
	}

	clusters := make([][]string, len(report.Clusters))
	for i, c := range report.Clusters {
		clusters[i] = []string{
			strconv.Itoa(c.ComponentSize),
			strconv.Itoa(c.NodeCount),
			strconv.Itoa(c.TxCount),
			strconv.Itoa(c.CardCount),
			strconv.Itoa(c.DeviceCount),
			strings.Join(c.TxExamples, ", "),
			strings.Join(c.Entities, ", "),
		}
	}
	clusterHeader := []string{"component_size", "node_count", "tx_count", "card_count", "device_count", "tx_examples", "entities"}
	if err := writeSheet(f, SheetCollusion, clusterHeader, clusters); err != nil {
		return err
	}

	digits := make([][]string, 0, len(report.Benford.Digits)+1)
	for _, d := range report.Benford.Digits {
		digits = append(digits, []string{
			strconv.Itoa(d.Digit),
			formatScore(d.Observed),
			formatScore(d.Expected),
			formatScore(d.Delta),
		})
	}
	digits = append(digits, []string{"conformity", benford.Conformity(report.Benford), "", ""})
	if err := writeSheet(f, SheetBenford, []string{"digit", "observed", "expected", "delta"}, digits); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]string) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, n, err)
	}
	return nil
}
