// Package worker runs queued analyses received from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/pipeline"
)

// DefaultReportTTL is how long finished reports stay in the cache.
const DefaultReportTTL = 24 * time.Hour

// ErrStopped is returned for requests delivered after Stop.
var ErrStopped = errors.New("worker: stopped")

// Worker consumes analysis requests, runs them through the pipeline and
// publishes the outcome.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	analyzer *pipeline.Analyzer

	reportTTL time.Duration
	slots     chan struct{}

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve (empty = all tenants)
	TenantIDs []string

	// WorkerCount bounds the analyses running at once
	WorkerCount int

	// ReportTTL is the cache lifetime of finished reports
	ReportTTL time.Duration
}

// NewWorker creates a new async worker. repo may be nil, in which case run
// history is not recorded.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, analyzer *pipeline.Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     cache,
		analyzer:  analyzer,
		reportTTL: DefaultReportTTL,
		slots:     make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to analysis requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount > 0 {
		w.slots = make(chan struct{}, cfg.WorkerCount)
	}
	if cfg.ReportTTL > 0 {
		w.reportTTL = cfg.ReportTTL
	}

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AnyTenant}
	}

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	if w.subscriptionCount() == 0 {
		return errors.New("worker: no subscriptions could be started")
	}

	slog.Info("workers started",
		"tenants", tenants,
		"concurrency", cap(w.slots),
	)
	return nil
}

// handleMessage decodes a request and runs it once a slot is free. The
// analysis itself runs off the bus goroutine.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalysisRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.TenantID == "" {
		req.TenantID = msg.TenantID
	}

	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	// Add must not race with the Wait in Stop.
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.slots
		slog.Warn("dropping analysis request after stop",
			"message_id", msg.ID,
			"report_id", req.ReportID,
		)
		return ErrStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.Process(w.ctx, &req)
	}()
	return nil
}

// Process runs one analysis request to completion. The report is cached and
// the run recorded before the completion event goes out, so a subscriber can
// fetch the report as soon as it hears about it.
func (w *Worker) Process(ctx context.Context, req *domain.AnalysisRequest) (*domain.Report, error) {
	start := time.Now()

	slog.Debug("processing analysis",
		"report_id", req.ReportID,
		"tenant_id", req.TenantID,
		"rows", req.Table.Len(),
	)

	report, err := w.analyzer.Analyze(ctx, req.TenantID, req.Table, req.Columns, req.Options)
	if err != nil {
		w.fail(ctx, req, err)
		return nil, err
	}
	if req.ReportID != "" {
		report.ID = req.ReportID
	}
	report.Truncated = req.Truncated

	if w.cache != nil {
		if err := w.cache.SetReport(ctx, req.TenantID, report, w.reportTTL); err != nil {
			slog.Error("failed to cache report",
				"report_id", report.ID,
				"error", err,
			)
			w.fail(ctx, req, err)
			return nil, err
		}
	}

	if w.repo != nil {
		run := report.Run()
		run.UpdatedAt = time.Now().UTC()
		if err := w.repo.SaveAnalysisRun(ctx, req.TenantID, run); err != nil {
			slog.Error("failed to save analysis run",
				"report_id", report.ID,
				"error", err,
			)
		}
	}

	w.publish(ctx, req.TenantID, domain.TopicAnalysisCompleted, domain.AnalysisCompleted{
		ReportID: report.ID,
		TenantID: req.TenantID,
		RowCount: report.RowCount,
		Summary:  report.Summary,
	})

	raised := 0
	for _, alert := range report.Alerts {
		if alert.Severity != domain.SeverityHigh {
			continue
		}
		w.publish(ctx, req.TenantID, domain.TopicAlertRaised, domain.AlertEvent{
			ReportID: report.ID,
			TenantID: req.TenantID,
			Alert:    alert,
		})
		raised++
	}

	slog.Info("analysis processed",
		"report_id", report.ID,
		"tenant_id", req.TenantID,
		"alerts", len(report.Alerts),
		"alerts_raised", raised,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (w *Worker) fail(ctx context.Context, req *domain.AnalysisRequest, cause error) {
	slog.Error("analysis failed",
		"report_id", req.ReportID,
		"tenant_id", req.TenantID,
		"error", cause,
	)

	if w.repo != nil && req.ReportID != "" {
		now := time.Now().UTC()
		run := &domain.AnalysisRun{
			ID:        req.ReportID,
			TenantID:  req.TenantID,
			Status:    domain.RunFailed,
			RowCount:  req.Table.Len(),
			Truncated: req.Truncated,
			Error:     cause.Error(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := w.repo.SaveAnalysisRun(ctx, req.TenantID, run); err != nil {
			slog.Error("failed to save analysis run",
				"report_id", req.ReportID,
				"error", err,
			)
		}
	}

	w.publish(ctx, req.TenantID, domain.TopicAnalysisFailed, domain.AnalysisCompleted{
		ReportID: req.ReportID,
		TenantID: req.TenantID,
		RowCount: req.Table.Len(),
		Error:    cause.Error(),
	})
}

func (w *Worker) publish(ctx context.Context, tenantID, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for running analyses to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

func (w *Worker) subscriptionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscriptions)
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Running           int      `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Running:           len(w.slots),
	}
}
