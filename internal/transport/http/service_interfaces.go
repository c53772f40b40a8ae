package http

import (
	"context"

	"chainintel/internal/forecast"
	"chainintel/internal/services"
	"chainintel/internal/telemetry"
)

// AnalyticsService is the surface of the forecast service the analytics
// handler depends on.
type AnalyticsService interface {
	Run(ctx context.Context, opts forecast.RunOptions) (*forecast.ForecastResult, error)
	Latest(ctx context.Context) (*forecast.ForecastResult, error)
	GrowthRate(ctx context.Context, days int) (*services.GrowthRateReport, error)
	Summarize(ctx context.Context) (*services.Summary, error)
}

// ReportExporter writes forecast results to report files on disk.
type ReportExporter interface {
	ExportCSV(result *forecast.ForecastResult) (string, error)
	ExportXLSX(result *forecast.ForecastResult) (string, error)
}

// NetworkService exposes live network telemetry to the network handler.
type NetworkService interface {
	DeviceCount(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (*telemetry.NetworkStats, error)
	Snapshot(ctx context.Context) (*forecast.HistoricalRecord, error)
}

// HealthChecker reports dependency health.
type HealthChecker interface {
	Check(ctx context.Context) *services.HealthStatus
	Version() string
}
