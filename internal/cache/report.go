package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// bytesStore is the raw key/value surface every cache tier shares.
type bytesStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func reportKey(reportID string) string {
	return "report:" + reportID
}

func getReport(ctx context.Context, store bytesStore, tenantID, reportID string) (*domain.Report, error) {
	data, err := store.Get(ctx, tenantID, reportKey(reportID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("report %s: %w", reportID, domain.ErrNotFound)
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportID, err)
	}
	return &report, nil
}

func setReport(ctx context.Context, store bytesStore, tenantID string, report *domain.Report, ttl time.Duration) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", report.ID, err)
	}
	return store.Set(ctx, tenantID, reportKey(report.ID), data, ttl)
}
