package services

import (
	"context"
	"log/slog"
	"time"
)

// Pinger is anything that can report connectivity, such as the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the aggregate health report.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// HealthService reports liveness and dependency health.
type HealthService struct {
	version   string
	startTime time.Time
	db        Pinger
	telemetry TelemetrySource
	logger    *slog.Logger
}

// NewHealthService creates the health service. db and telemetry may be nil;
// absent dependencies are reported as "disabled".
func NewHealthService(version string, db Pinger, telemetry TelemetrySource, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		startTime: time.Now(),
		db:        db,
		telemetry: telemetry,
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// Check probes each dependency with a short deadline and aggregates the
// result. Status degrades to "degraded" when any probe fails; the service
// itself is still alive.
func (s *HealthService) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.db == nil {
		status.Checks["database"] = "disabled"
	} else if err := s.db.Ping(probeCtx); err != nil {
		status.Checks["database"] = "unreachable"
		status.Status = "degraded"
		s.logger.WarnContext(ctx, "database health check failed",
			slog.String("error", err.Error()))
	} else {
		status.Checks["database"] = "ok"
	}

	if s.telemetry == nil {
		status.Checks["telemetry"] = "disabled"
	} else if _, err := s.telemetry.TotalDevices(probeCtx); err != nil {
		status.Checks["telemetry"] = "unreachable"
		status.Status = "degraded"
		s.logger.WarnContext(ctx, "telemetry health check failed",
			slog.String("error", err.Error()))
	} else {
		status.Checks["telemetry"] = "ok"
	}

	return status
}

// Version returns the service version string.
func (s *HealthService) Version() string {
	return s.version
}
