package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/telemetry"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func TestHealthCheckAllDisabled(t *testing.T) {
	svc := NewHealthService("1.0.0", nil, nil, nil)

	status := svc.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "disabled", status.Checks["database"])
	assert.Equal(t, "disabled", status.Checks["telemetry"])
	assert.Equal(t, "1.0.0", status.Version)
}

func TestHealthCheckHealthyDependencies(t *testing.T) {
	svc := NewHealthService("1.0.0", &fakePinger{}, &fakeTelemetry{total: 140000}, nil)

	status := svc.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "ok", status.Checks["database"])
	assert.Equal(t, "ok", status.Checks["telemetry"])
	require.NotEmpty(t, status.Uptime)
}

func TestHealthCheckDegraded(t *testing.T) {
	svc := NewHealthService("1.0.0",
		&fakePinger{err: fmt.Errorf("connection refused")},
		&fakeTelemetry{totalErr: fmt.Errorf("query: %w", telemetry.ErrUnavailable)},
		nil)

	status := svc.Check(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "unreachable", status.Checks["database"])
	assert.Equal(t, "unreachable", status.Checks["telemetry"])
}
