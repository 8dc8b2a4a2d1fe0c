// Package pipeline runs a full forensic analysis over one batch: features,
// anomaly detection, risk aggregation, rules, collusion graph and Benford.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/osprey-forensics/internal/benford"
	"github.com/opensource-finance/osprey-forensics/internal/detect"
	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/features"
	"github.com/opensource-finance/osprey-forensics/internal/graph"
	"github.com/opensource-finance/osprey-forensics/internal/rules"
	"github.com/opensource-finance/osprey-forensics/internal/score"
)

var tracer = otel.Tracer("osprey-forensics-pipeline")

// Stage names used for spans and report timings.
const (
	StageFeatures = "features"
	StageDetect   = "detect"
	StageScore    = "score"
	StageRules    = "rules"
	StageGraph    = "graph"
	StageBenford  = "benford"
)

// Analyzer runs analyses. It is safe for concurrent use; each call builds its
// own detectors and shares only the rule engine.
type Analyzer struct {
	engine *rules.Engine
}

// NewAnalyzer creates an analyzer that evaluates custom rules loaded into
// engine. A nil engine gets a fresh one with only the builtin rules.
func NewAnalyzer(engine *rules.Engine) (*Analyzer, error) {
	if engine == nil {
		var err error
		engine, err = rules.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("failed to create rule engine: %w", err)
		}
	}
	return &Analyzer{engine: engine}, nil
}

// Engine returns the rule engine used by the analyzer.
func (a *Analyzer) Engine() *rules.Engine {
	return a.engine
}

// Analyze runs every stage over the table and returns the report. In strict
// mode, any amount or timestamp that had to be coerced fails the run with
// domain.ErrDataQuality.
func (a *Analyzer) Analyze(ctx context.Context, tenantID string, table *domain.Table, cols domain.Columns, opts domain.AnalysisOptions) (*domain.Report, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: table is required", domain.ErrInvalidInput)
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "pipeline.Analyze",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("rows", table.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	timings := make(map[string]int64)
	run := func(name string, fn func()) {
		_, s := tracer.Start(ctx, "pipeline."+name)
		t := time.Now()
		fn()
		timings[name] = time.Since(t).Milliseconds()
		s.End()
	}

	var frame *domain.Frame
	run(StageFeatures, func() {
		frame = features.NewBuilder(opts.VelocityWindow).Build(table, cols)
	})

	if opts.Strict && !frame.Quality.Clean() {
		err := fmt.Errorf("%w: %d unparsable amounts, %d unparsable timestamps",
			domain.ErrDataQuality, frame.Quality.UnparsableAmounts, frame.Quality.UnparsableTimestamps)
		span.RecordError(err)
		span.SetStatus(codes.Error, "data quality")
		return nil, err
	}

	run(StageDetect, func() {
		detect.NewEnsemble(detect.Options{
			Contamination: opts.Contamination,
			Neighbors:     opts.Neighbors,
			Trees:         opts.Trees,
			Seed:          opts.Seed,
		}).Score(frame)
	})

	run(StageScore, func() {
		score.NewAggregator().Aggregate(frame,
			[]string{domain.ScoreIsolationForest, domain.ScoreLOF}, opts.Weights)
	})

	var alerts []domain.Alert
	run(StageRules, func() {
		alerts = a.engine.Evaluate(frame, rules.Thresholds{
			Round:      *opts.RoundThreshold,
			HighAmount: *opts.HighAmountThreshold,
		})
	})

	var clusters []domain.CollusionCluster
	run(StageGraph, func() {
		clusters = graph.NewDetector().Detect(frame, graph.Options{MinComponentSize: opts.MinComponentSize})
	})

	var digits domain.BenfordResult
	run(StageBenford, func() {
		digits = benford.Analyze(frame)
	})

	report := &domain.Report{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		CreatedAt:    time.Now().UTC(),
		RowCount:     frame.Len(),
		Header:       table.Header,
		Columns:      cols,
		Options:      opts,
		Transactions: frame.Records,
		Alerts:       alerts,
		Clusters:     clusters,
		Benford:      digits,
		Quality:      frame.Quality,
		TimingsMs:    timings,
	}
	report.Summarize()

	span.SetAttributes(
		attribute.Int("alerts", len(alerts)),
		attribute.Int("clusters", len(clusters)),
	)
	slog.Info("analysis completed",
		"report_id", report.ID,
		"tenant_id", tenantID,
		"rows", report.RowCount,
		"alerts", len(alerts),
		"clusters", len(clusters),
		"high_risk", report.Summary.HighRiskCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(frame.Quality.MissingColumns) > 0 {
		slog.Warn("analysis skipped missing columns",
			"report_id", report.ID,
			"columns", frame.Quality.MissingColumns,
		)
	}

	return report, nil
}
