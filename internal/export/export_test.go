package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

func sampleReport() *domain.Report {
	return &domain.Report{
		ID:      "report-1",
		Header:  []string{"tx_id", "Vendor", "Amount"},
		Columns: domain.Columns{TxID: "tx_id", Amount: "Amount", Entities: []string{"Vendor"}},
		Transactions: []*domain.Record{
			{
				TxID:          "T1",
				Amount:        decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
				Fields:        map[string]string{"tx_id": "T1", "Vendor": "VendorA", "Amount": "100.00"},
				Scores:        map[string]float64{domain.ScoreLOF: 0.25, domain.ScoreIsolationForest: 0.5},
				RiskScore:     0.375,
				RiskExplainer: "Low Risk",
			},
			{
				TxID:          "T2",
				Fields:        map[string]string{"tx_id": "T2", "Vendor": "VendorA", "Amount": "100"},
				Scores:        map[string]float64{domain.ScoreLOF: 1, domain.ScoreIsolationForest: 1},
				RiskScore:     1,
				RiskExplainer: "Global Outlier (Isolation Forest)",
				Outlier:       true,
			},
		},
		Alerts: []domain.Alert{
			{TxID: "T1", Type: domain.AlertDuplicate, Severity: domain.SeverityMedium, Note: "Potential Duplicate: VendorA - $100"},
			{TxID: "T2", Type: domain.AlertDuplicate, Severity: domain.SeverityMedium, Note: "Potential Duplicate: VendorA - $100"},
			{TxID: "T2", Type: domain.AlertCustom, Severity: domain.SeverityHigh, Note: "Vendor A", RuleID: "vendor-a"},
		},
		Clusters: []domain.CollusionCluster{
			{ComponentSize: 10, NodeCount: 21, TxCount: 10, TxExamples: []string{"T1", "T2"}, CardCount: 10, DeviceCount: 1, Entities: []string{"card:C0", "device:D1"}},
		},
		Benford: domain.BenfordResult{
			SampleSize: 2,
			Digits:     []domain.BenfordDigit{{Digit: 1, Observed: 1, Expected: 0.30103, Delta: 0.69897}},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to read back csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}

	wantHeader := "tx_id,Vendor,Amount,risk_score,risk_explainer,iforest_score,lof_score,outlier,alerts"
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Errorf("expected header %q, got %q", wantHeader, got)
	}

	row := records[2]
	if row[0] != "T2" || row[2] != "100" || row[3] != "1.000000" {
		t.Errorf("unexpected row %v", row)
	}
	if row[7] != "true" || row[8] != "duplicate;custom" {
		t.Errorf("expected outlier and alert types, got %v", row[7:])
	}
	if records[1][5] != "0.500000" || records[1][6] != "0.250000" {
		t.Errorf("expected detector scores in column order, got %v", records[1][5:7])
	}
}

func TestWriteAlertsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAlertsCSV(&buf, sampleReport().Alerts); err != nil {
		t.Fatalf("WriteAlertsCSV failed: %v", err)
	}

	records, _ := csv.NewReader(&buf).ReadAll()
	if len(records) != 4 {
		t.Fatalf("expected header + 3 alerts, got %d", len(records))
	}
	if records[3][3] != "vendor-a" || records[3][2] != "high" {
		t.Errorf("unexpected custom alert row %v", records[3])
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{SheetTransactions, SheetAlerts, SheetCollusion, SheetBenford}
	if strings.Join(sheets, ",") != strings.Join(want, ",") {
		t.Fatalf("expected sheets %v, got %v", want, sheets)
	}

	tx, _ := f.GetRows(SheetTransactions)
	if len(tx) != 3 || tx[1][0] != "T1" {
		t.Errorf("unexpected transactions sheet %v", tx)
	}
	alerts, _ := f.GetRows(SheetAlerts)
	if len(alerts) != 4 {
		t.Errorf("expected 4 alert rows, got %d", len(alerts))
	}
	clusters, _ := f.GetRows(SheetCollusion)
	if len(clusters) != 2 || clusters[1][0] != "10" || clusters[1][1] != "21" {
		t.Errorf("unexpected collusion sheet %v", clusters)
	}
	digits, _ := f.GetRows(SheetBenford)
	last := digits[len(digits)-1]
	if last[0] != "conformity" || last[1] != "nonconformity" {
		t.Errorf("expected conformity row, got %v", last)
	}
}

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleReport(), "pdf"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if ContentType(FormatXLSX) == ContentType(FormatCSV) {
		t.Error("expected distinct content types")
	}
}
