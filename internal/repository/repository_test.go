package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "data", "forensics-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:          "night-spend",
			Name:        "Night Spend",
			Description: "large spend after midnight",
			Expression:  "hour < 5 && amount > 1000.0",
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		}
		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		if rule.Version != "1" {
			t.Errorf("expected default version 1, got %q", rule.Version)
		}

		got, err := repo.GetRuleConfig(ctx, tenantID, "night-spend")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Expression != rule.Expression || got.Severity != domain.SeverityHigh || !got.Enabled {
			t.Errorf("unexpected rule %+v", got)
		}
		if got.Description != "large spend after midnight" {
			t.Errorf("unexpected description %q", got.Description)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		rule := &domain.RuleConfig{ID: "night-spend", Name: "Night Spend", Expression: "hour < 4", Enabled: true}
		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}
		got, _ := repo.GetRuleConfig(ctx, tenantID, "night-spend")
		if got.Expression != "hour < 4" || got.Severity != domain.SeverityMedium {
			t.Errorf("expected updated rule, got %+v", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetRuleConfig(ctx, "tenant-002", "night-spend"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		_ = repo.SaveRuleConfig(ctx, tenantID, &domain.RuleConfig{ID: "a-rule", Name: "Alpha", Expression: "true", Enabled: true})
		_ = repo.SaveRuleConfig(ctx, tenantID, &domain.RuleConfig{ID: "off", Name: "Off", Expression: "true", Enabled: false})

		rules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 2 || rules[0].Name != "Alpha" || rules[1].Name != "Night Spend" {
			t.Errorf("unexpected rules: %+v", rules)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRuleConfig(ctx, tenantID, "a-rule"); err != nil {
			t.Fatalf("DeleteRuleConfig failed: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, tenantID, "a-rule"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteRuleConfig(ctx, tenantID, "a-rule"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("TenantRequired", func(t *testing.T) {
		if err := repo.SaveRuleConfig(ctx, "", &domain.RuleConfig{ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListRuleConfigs(ctx, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestSQLiteAnalysisRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	queued := &domain.AnalysisRun{ID: "run-1", Status: domain.RunQueued, RowCount: 10, CreatedAt: base}
	if err := repo.SaveAnalysisRun(ctx, tenantID, queued); err != nil {
		t.Fatalf("SaveAnalysisRun failed: %v", err)
	}
	later := &domain.AnalysisRun{ID: "run-2", Status: domain.RunFailed, Error: "bad input", CreatedAt: base.Add(time.Hour)}
	if err := repo.SaveAnalysisRun(ctx, tenantID, later); err != nil {
		t.Fatalf("SaveAnalysisRun failed: %v", err)
	}

	done := &domain.AnalysisRun{
		ID:        "run-1",
		Status:    domain.RunCompleted,
		RowCount:  10,
		Truncated: true,
		Summary: domain.ReportSummary{
			AlertCounts:   map[domain.AlertType]int{domain.AlertDuplicate: 2},
			HighRiskCount: 1,
		},
		CreatedAt: base,
	}
	if err := repo.SaveAnalysisRun(ctx, tenantID, done); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	runs, err := repo.ListAnalysisRuns(ctx, tenantID, 0)
	if err != nil {
		t.Fatalf("ListAnalysisRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" || runs[0].Error != "bad input" {
		t.Errorf("expected newest failed run first, got %+v", runs[0])
	}
	if runs[1].Status != domain.RunCompleted || !runs[1].Truncated {
		t.Errorf("expected completed truncated run, got %+v", runs[1])
	}
	if runs[1].Summary.AlertCounts[domain.AlertDuplicate] != 2 {
		t.Errorf("expected summary to round trip, got %+v", runs[1].Summary)
	}

	limited, _ := repo.ListAnalysisRuns(ctx, tenantID, 1)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
	other, _ := repo.ListAnalysisRuns(ctx, "tenant-002", 0)
	if len(other) != 0 {
		t.Errorf("expected no runs for other tenant, got %d", len(other))
	}
	if err := repo.SaveAnalysisRun(ctx, tenantID, &domain.AnalysisRun{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for run without id, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("unexpected rebind %q", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %q", got)
	}
}

func TestDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "u", PostgresPassword: "p"})
	want := "host=localhost port=5432 user=u password=p dbname=forensics sslmode=disable"
	if dsn != want {
		t.Errorf("expected %q, got %q", want, dsn)
	}
	if got := sqliteDSN(":memory:"); got != "file::memory:?_pragma=busy_timeout(5000)" {
		t.Errorf("unexpected memory dsn %q", got)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
