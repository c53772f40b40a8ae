package services

import (
	"context"

	"chainintel/internal/forecast"
	"chainintel/internal/telemetry"
)

// HistoryStore is the persistence surface the services need. *store.Store
// satisfies it; tests substitute fakes.
type HistoryStore interface {
	History(ctx context.Context, days int) ([]forecast.HistoricalRecord, error)
	SaveHistory(ctx context.Context, records []forecast.HistoricalRecord) error
	SaveForecast(ctx context.Context, result *forecast.ForecastResult) error
	LatestForecast(ctx context.Context) (*forecast.ForecastResult, error)
}

// TelemetrySource is the slice of the telemetry client the network service
// uses.
type TelemetrySource interface {
	TotalDevices(ctx context.Context) (int64, error)
	NetworkStats(ctx context.Context) (*telemetry.NetworkStats, error)
}

// EventBroadcaster pushes service events to connected WebSocket clients.
type EventBroadcaster interface {
	BroadcastEvent(event string, payload interface{})
}
