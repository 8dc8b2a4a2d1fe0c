package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/export"
	"github.com/opensource-finance/osprey-forensics/internal/geo"
	"github.com/opensource-finance/osprey-forensics/internal/ingest"
	"github.com/opensource-finance/osprey-forensics/internal/pipeline"
)

var validate = validator.New()

// GlobalTenantID owns the custom rules, which apply to all tenants.
const GlobalTenantID = domain.AnyTenant

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	analyzer *pipeline.Analyzer
	locator  geo.Locator
	metrics  *Metrics

	access    domain.AccessConfig
	defaults  domain.AnalysisOptions
	maxUpload int64
	version   string
}

// Settings carries the configuration sections the handlers read.
type Settings struct {
	Access      domain.AccessConfig
	Analysis    domain.AnalysisOptions
	MaxUploadMB int
	Version     string
}

// NewHandler creates a new API handler. repo, bus and locator may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, analyzer *pipeline.Analyzer, locator geo.Locator, metrics *Metrics, s Settings) *Handler {
	if s.MaxUploadMB <= 0 {
		s.MaxUploadMB = 32
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		analyzer:  analyzer,
		locator:   locator,
		metrics:   metrics,
		access:    s.Access,
		defaults:  s.Analysis,
		maxUpload: int64(s.MaxUploadMB) << 20,
		version:   s.Version,
	}
}

// AnalysisRequest is the JSON body of POST /analyses. Options are laid over
// the server defaults, so a partial object only changes what it names.
type AnalysisRequest struct {
	Header  []string        `json:"header" validate:"required,min=1,dive,required"`
	Rows    [][]string      `json:"rows"`
	Roles   *domain.Columns `json:"roles,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// AcceptedResponse is returned for queued analyses.
type AcceptedResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	RowCount  int    `json:"rowCount"`
	Truncated bool   `json:"truncated,omitempty"`
}

// analysisInput is a parsed POST /analyses request.
type analysisInput struct {
	table *domain.Table
	cols  domain.Columns
	opts  domain.AnalysisOptions
}

// CreateAnalysis handles POST /analyses. The body is either a multipart form
// with a csv or xlsx "file" (plus optional "roles" and "options" JSON fields)
// or an AnalysisRequest. With ?async=true the run is queued on the bus.
func (h *Handler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	in, err := h.parseAnalysis(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	truncated := false
	if h.access.RowLimit > 0 && !h.isAdmin(r) {
		truncated = ingest.Limit(in.table, h.access.RowLimit)
	}

	if h.locator != nil {
		if n := geo.Enrich(in.table, &in.cols, h.locator); n > 0 {
			slog.Debug("geo enrichment applied", "tenant_id", tenantID, "located", n)
		}
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, in, truncated)
		return
	}

	h.metrics.Accepted(ModeSync)
	report, err := h.analyzer.Analyze(ctx, tenantID, in.table, in.cols, in.opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report.Truncated = truncated

	if err := h.cache.SetReport(ctx, tenantID, report, h.access.ReportTTL); err != nil {
		slog.Error("failed to cache report", "report_id", report.ID, "error", err)
	}
	if h.repo != nil {
		run := report.Run()
		run.UpdatedAt = time.Now().UTC()
		if err := h.repo.SaveAnalysisRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save analysis run", "report_id", report.ID, "error", err)
		}
	}
	h.metrics.Observe(report, time.Since(start).Seconds())

	render.Status(r, http.StatusOK)
	render.JSON(w, r, report)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, in *analysisInput, truncated bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	opts := in.opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	req := domain.AnalysisRequest{
		ReportID:  uuid.New().String(),
		TenantID:  tenantID,
		Table:     in.table,
		Columns:   in.cols,
		Options:   opts,
		Truncated: truncated,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if h.repo != nil {
		now := time.Now().UTC()
		run := &domain.AnalysisRun{
			ID:        req.ReportID,
			TenantID:  tenantID,
			Status:    domain.RunQueued,
			RowCount:  in.table.Len(),
			Truncated: truncated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.repo.SaveAnalysisRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save analysis run", "report_id", req.ReportID, "error", err)
		}
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to queue analysis", "report_id", req.ReportID, "error", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}
	h.metrics.Accepted(ModeAsync)

	slog.Info("analysis queued",
		"report_id", req.ReportID,
		"tenant_id", tenantID,
		"rows", in.table.Len(),
	)
	writeJSON(w, r, http.StatusAccepted, AcceptedResponse{
		ID:        req.ReportID,
		Status:    domain.RunQueued,
		RowCount:  in.table.Len(),
		Truncated: truncated,
	})
}

func (h *Handler) parseAnalysis(w http.ResponseWriter, r *http.Request) (*analysisInput, error) {
	in := &analysisInput{opts: h.defaults.Clone()}

	var roles *domain.Columns
	var rawOpts []byte

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			return nil, fmt.Errorf("%w: invalid multipart form: %v", domain.ErrInvalidInput, err)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: file is required", domain.ErrInvalidInput)
		}
		defer file.Close()

		table, err := ingest.Read(hdr.Filename, file)
		if err != nil {
			if errors.Is(err, ingest.ErrUnsupportedFormat) || errors.Is(err, ingest.ErrEmptyTable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		in.table = table

		if v := r.FormValue("roles"); v != "" {
			roles = &domain.Columns{}
			if err := json.Unmarshal([]byte(v), roles); err != nil {
				return nil, fmt.Errorf("%w: invalid roles: %v", domain.ErrInvalidInput, err)
			}
		}
		if v := r.FormValue("options"); v != "" {
			rawOpts = []byte(v)
		}
	} else {
		var body AnalysisRequest
		if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, h.maxUpload), &body); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput)
		}
		if err := validate.Struct(body); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		in.table = &domain.Table{Header: body.Header, Rows: body.Rows}
		roles = body.Roles
		rawOpts = body.Options
	}

	if len(rawOpts) > 0 {
		if err := json.Unmarshal(rawOpts, &in.opts); err != nil {
			return nil, fmt.Errorf("%w: invalid options: %v", domain.ErrInvalidInput, err)
		}
	}

	if roles == nil || roles.IsZero() {
		in.cols = ingest.DetectColumns(in.table.Header)
	} else {
		in.cols = *roles
	}
	return in, nil
}

func (h *Handler) isAdmin(r *http.Request) bool {
	key := r.Header.Get(AdminKeyHeader)
	if h.access.AdminKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.access.AdminKey)) == 1
}

// ListAnalyses returns the tenant's recent analysis runs, newest first.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.ListAnalysisRuns(r.Context(), GetTenantID(r.Context()), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"analyses": runs,
		"count":    len(runs),
	})
}

// GetAnalysis returns a cached report.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// GetAlerts returns a report's alerts, optionally filtered by ?type= and
// ?severity=, as JSON or with ?format=csv as CSV.
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	alerts := make([]domain.Alert, 0, len(report.Alerts))
	for _, a := range report.Alerts {
		if t := q.Get("type"); t != "" && string(a.Type) != t {
			continue
		}
		if s := q.Get("severity"); s != "" && string(a.Severity) != s {
			continue
		}
		alerts = append(alerts, a)
	}

	if q.Get("format") == export.FormatCSV {
		w.Header().Set("Content-Type", export.ContentType(export.FormatCSV))
		w.Header().Set("Content-Disposition", attachment(report.ID+"-alerts", export.FormatCSV))
		if err := export.WriteAlertsCSV(w, alerts); err != nil {
			slog.Error("failed to write alerts", "report_id", report.ID, "error", err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"reportId": report.ID,
		"alerts":   alerts,
		"count":    len(alerts),
	})
}

// ExportAnalysis streams the scored rows as ?format=csv (default) or xlsx.
func (h *Handler) ExportAnalysis(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.FormatCSV
	}
	if format != export.FormatCSV && format != export.FormatXLSX {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"error": "format must be csv or xlsx",
		})
		return
	}

	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", attachment(report.ID, format))
	if err := export.Write(w, report, format); err != nil {
		slog.Error("failed to export report", "report_id", report.ID, "format", format, "error", err)
	}
}

func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) (*domain.Report, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return nil, false
	}

	report, err := h.cache.GetReport(r.Context(), GetTenantID(r.Context()), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, map[string]string{
				"error": "analysis not found or expired",
			})
			return nil, false
		}
		writeError(w, r, err)
		return nil, false
	}
	return report, true
}

func attachment(name, format string) string {
	return fmt.Sprintf(`attachment; filename="%s.%s"`, name, format)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
		"rules":   h.analyzer.Engine().RulesCount(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil || h.cache.Ping(r.Context()) != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// writeError maps sentinel errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		status, msg = http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, ingest.ErrEmptyTable):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrDataQuality):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, r, status, map[string]string{"error": msg})
}
