// Package ingest reads uploaded CSV and XLSX files into tables and guesses
// column roles from header names.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

var (
	// ErrEmptyTable is returned when a file has no header row.
	ErrEmptyTable = errors.New("table has no header")

	// ErrUnsupportedFormat is returned for file types other than csv and xlsx.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Read parses a file by its extension.
func Read(name string, r io.Reader) (*domain.Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, "")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// ReadCSV parses comma separated input. The first record is the header.
func ReadCSV(r io.Reader) (*domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX parses a workbook sheet. An empty sheet name reads the first sheet.
func ReadXLSX(r io.Reader, sheet string) (*domain.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyTable
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return fromRecords(rows)
}

// fromRecords drops header cells that are blank and fits every row to the
// remaining header width.
func fromRecords(records [][]string) (*domain.Table, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}

	var keep []int
	var header []string
	for i, h := range records[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			continue
		}
		keep = append(keep, i)
		header = append(header, h)
	}
	if len(header) == 0 {
		return nil, ErrEmptyTable
	}

	table := &domain.Table{Header: header, Rows: make([][]string, 0, len(records)-1)}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(rec) {
				row[j] = rec[idx]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Limit keeps the first n rows and reports whether any were dropped. n <= 0
// keeps everything.
func Limit(table *domain.Table, n int) bool {
	return table.Truncate(n)
}
