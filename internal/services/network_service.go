package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chainintel/internal/forecast"
	"chainintel/internal/telemetry"
)

// NetworkService exposes the live state of the device network and snapshots
// daily totals into the history store.
type NetworkService struct {
	telemetry TelemetrySource
	store     HistoryStore
	logger    *slog.Logger
}

// NewNetworkService creates the network service. The store may be nil; then
// snapshots are skipped.
func NewNetworkService(source TelemetrySource, store HistoryStore, logger *slog.Logger) *NetworkService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetworkService{
		telemetry: source,
		store:     store,
		logger:    logger.With(slog.String("component", "network_service")),
	}
}

// DeviceCount returns the current total of connected devices.
func (s *NetworkService) DeviceCount(ctx context.Context) (int64, error) {
	total, err := s.telemetry.TotalDevices(ctx)
	if err != nil {
		return 0, fmt.Errorf("device count: %w", err)
	}
	return total, nil
}

// Stats returns aggregated network statistics from the telemetry API.
func (s *NetworkService) Stats(ctx context.Context) (*telemetry.NetworkStats, error) {
	stats, err := s.telemetry.NetworkStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("network stats: %w", err)
	}
	return stats, nil
}

// Snapshot records the current device total as today's historical
// observation. Running it more than once per day overwrites the earlier
// value.
func (s *NetworkService) Snapshot(ctx context.Context) (*forecast.HistoricalRecord, error) {
	total, err := s.telemetry.TotalDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	now := time.Now().UTC()
	record := forecast.HistoricalRecord{
		Date:         now.Truncate(24 * time.Hour),
		TotalDevices: total,
		ObservedAt:   now,
	}

	if s.store != nil {
		if err := s.store.SaveHistory(ctx, []forecast.HistoricalRecord{record}); err != nil {
			return nil, fmt.Errorf("snapshot: persist: %w", err)
		}
	}

	s.logger.InfoContext(ctx, "network snapshot recorded",
		slog.Int64("total_devices", total),
		slog.Time("date", record.Date))
	return &record, nil
}
