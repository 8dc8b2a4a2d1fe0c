// Osprey Forensics - Offline ledger scanner.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Scan runs the forensic pipeline over local CSV or XLSX ledgers without a
// server.
//
// Usage:
//
//	go run ./cmd/scan -top 20 -export out/ ledger.csv cards.xlsx
//
// For every file it:
//  1. Reads the table and detects column roles (or applies -roles)
//  2. Optionally enriches IP columns with GeoIP coordinates
//  3. Scores rows, raises alerts and finds collusion clusters
//  4. Prints the riskiest rows and a summary, and optionally exports them
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/osprey-forensics/internal/benford"
	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/export"
	"github.com/opensource-finance/osprey-forensics/internal/geo"
	"github.com/opensource-finance/osprey-forensics/internal/ingest"
	"github.com/opensource-finance/osprey-forensics/internal/pipeline"
	"github.com/opensource-finance/osprey-forensics/internal/rules"
)

type scanFlags struct {
	roles     string
	options   string
	geoipDB   string
	limit     int
	top       int
	workers   int
	exportDir string
	format    string
}

type scanResult struct {
	path     string
	report   *domain.Report
	duration time.Duration
}

func main() {
	var f scanFlags
	flag.StringVar(&f.roles, "roles", "", "Column roles, e.g. amount=Amount,timestamp=Date,entity=Vendor (default: auto-detect)")
	flag.StringVar(&f.options, "options", "", "Analysis options as JSON, e.g. {\"contamination\":0.1}")
	flag.StringVar(&f.geoipDB, "geoip", "", "Path to a GeoLite2/GeoIP2 City database")
	flag.IntVar(&f.limit, "limit", 0, "Maximum rows per file (0 = all)")
	flag.IntVar(&f.top, "top", 10, "Number of riskiest rows to print")
	flag.IntVar(&f.workers, "workers", 2, "Number of files analysed concurrently")
	flag.StringVar(&f.exportDir, "export", "", "Directory for scored exports")
	flag.StringVar(&f.format, "format", export.FormatCSV, "Export format (csv|xlsx)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Usage: scan [flags] ledger.csv [more.xlsx ...]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f scanFlags, paths []string) error {
	opts := domain.DefaultAnalysisOptions()
	if f.options != "" {
		if err := json.Unmarshal([]byte(f.options), &opts); err != nil {
			return fmt.Errorf("invalid -options: %w", err)
		}
	}
	roles, err := parseRoles(f.roles)
	if err != nil {
		return err
	}
	if f.exportDir != "" {
		if f.format != export.FormatCSV && f.format != export.FormatXLSX {
			return fmt.Errorf("unsupported export format %q", f.format)
		}
		if err := os.MkdirAll(f.exportDir, 0o755); err != nil {
			return err
		}
	}

	var locator geo.Locator
	if f.geoipDB != "" {
		db, err := geo.Open(f.geoipDB)
		if err != nil {
			return err
		}
		defer db.Close()
		locator = db
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	analyzer, err := pipeline.NewAnalyzer(engine)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		results []scanResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.workers, 1))
	for _, path := range paths {
		g.Go(func() error {
			start := time.Now()
			report, err := scanFile(gctx, analyzer, path, roles, opts, f.limit, locator)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if f.exportDir != "" {
				if err := exportReport(f.exportDir, f.format, path, report); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			mu.Lock()
			results = append(results, scanResult{path: path, report: report, duration: time.Since(start)})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].path < results[j].path })
	for _, res := range results {
		printReport(res, f.top)
	}
	return nil
}

func scanFile(ctx context.Context, analyzer *pipeline.Analyzer, path string, roles domain.Columns, opts domain.AnalysisOptions, limit int, locator geo.Locator) (*domain.Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	table, err := ingest.Read(filepath.Base(path), file)
	if err != nil {
		return nil, err
	}
	truncated := limit > 0 && ingest.Limit(table, limit)

	cols := roles
	if cols.IsZero() {
		cols = ingest.DetectColumns(table.Header)
	}
	geo.Enrich(table, &cols, locator)

	report, err := analyzer.Analyze(ctx, "local", table, cols, opts)
	if err != nil {
		return nil, err
	}
	report.Truncated = truncated
	return report, nil
}

// parseRoles reads role=column pairs. entity and graph may repeat.
func parseRoles(s string) (domain.Columns, error) {
	var cols domain.Columns
	if s == "" {
		return cols, nil
	}
	for _, pair := range strings.Split(s, ",") {
		role, column, ok := strings.Cut(pair, "=")
		role, column = strings.TrimSpace(role), strings.TrimSpace(column)
		if !ok || column == "" {
			return cols, fmt.Errorf("invalid role %q, want role=column", pair)
		}
		switch strings.ToLower(role) {
		case "txid", "tx_id":
			cols.TxID = column
		case "timestamp", "time":
			cols.Timestamp = column
		case "amount":
			cols.Amount = column
		case "entity":
			cols.Entities = append(cols.Entities, column)
		case "card":
			cols.Card = column
		case "device":
			cols.Device = column
		case "ip":
			cols.IP = column
		case "latitude", "lat":
			cols.Latitude = column
		case "longitude", "lon":
			cols.Longitude = column
		case "graph":
			cols.Graph = append(cols.Graph, column)
		default:
			return cols, fmt.Errorf("unknown role %q", role)
		}
	}
	return cols, nil
}

func exportReport(dir, format, path string, report *domain.Report) error {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_scored." + format
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := export.Write(out, report, format); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func printReport(res scanResult, top int) {
	r := res.report
	fmt.Println("\n═══════════════════════════════════════════════════════════════")
	fmt.Printf("  %s\n", res.path)
	fmt.Println("═══════════════════════════════════════════════════════════════")

	rows := humanize.Comma(int64(r.RowCount))
	if r.Truncated {
		rows += " (truncated)"
	}
	fmt.Printf("\n  Rows:            %s\n", rows)
	fmt.Printf("  Duration:        %v\n", res.duration.Round(time.Millisecond))
	fmt.Printf("  Outliers:        %s\n", humanize.Comma(int64(r.Summary.OutlierCount)))
	fmt.Printf("  High risk:       %s\n", humanize.Comma(int64(r.Summary.HighRiskCount)))
	fmt.Printf("  Clusters:        %d\n", r.Summary.ClusterCount)
	if !r.Quality.Clean() {
		fmt.Printf("  Unparsed:        %d amounts, %d timestamps\n", r.Quality.UnparsableAmounts, r.Quality.UnparsableTimestamps)
	}
	if len(r.Quality.DetectorFailures) > 0 {
		fmt.Printf("  Skipped:         %s\n", strings.Join(r.Quality.DetectorFailures, ", "))
	}

	if len(r.Summary.AlertCounts) > 0 {
		fmt.Println("\n  ALERTS")
		types := make([]string, 0, len(r.Summary.AlertCounts))
		for t := range r.Summary.AlertCounts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("   %-22s %s\n", t, humanize.Comma(int64(r.Summary.AlertCounts[domain.AlertType(t)])))
		}
	}

	if top > 0 && len(r.Transactions) > 0 {
		ranked := make([]*domain.Record, len(r.Transactions))
		copy(ranked, r.Transactions)
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].RiskScore > ranked[j].RiskScore })
		if len(ranked) > top {
			ranked = ranked[:top]
		}

		fmt.Printf("\n  TOP %d BY RISK\n", len(ranked))
		for _, tx := range ranked {
			amount := "-"
			if tx.Amount.Valid {
				amount = humanize.CommafWithDigits(tx.AmountValue(), 2)
			}
			fmt.Printf("   %-14s risk %.3f  amount %14s  %s\n", truncate(tx.TxID, 14), tx.RiskScore, amount, tx.RiskExplainer)
		}
	}

	for i, c := range r.Clusters {
		fmt.Printf("\n  CLUSTER %d: %d transactions, %d cards, %d devices (%s)\n",
			i+1, c.TxCount, c.CardCount, c.DeviceCount, strings.Join(c.TxExamples, ", "))
	}

	if r.Benford.SampleSize > 0 {
		fmt.Printf("\n  BENFORD: %s over %s amounts (MAD %.4f)\n",
			benford.Conformity(r.Benford),
			humanize.Comma(int64(r.Benford.SampleSize)),
			benford.MeanAbsDeviation(r.Benford))
	}
	fmt.Println()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
