package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "chainintel/internal/errors"
	"chainintel/internal/forecast"
	"chainintel/internal/telemetry"
)

type fakeNetworkService struct {
	count    int64
	countErr error
	stats    *telemetry.NetworkStats
	statsErr error
	snapshot *forecast.HistoricalRecord
	snapErr  error
}

func (f *fakeNetworkService) DeviceCount(context.Context) (int64, error) {
	return f.count, f.countErr
}

func (f *fakeNetworkService) Stats(context.Context) (*telemetry.NetworkStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeNetworkService) Snapshot(context.Context) (*forecast.HistoricalRecord, error) {
	return f.snapshot, f.snapErr
}

func newNetworkHandler(svc *fakeNetworkService) *NetworkHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNetworkHandler(svc, logger, apierrors.NewErrorHandler(logger, false))
}

func TestGetDeviceCount(t *testing.T) {
	handler := newNetworkHandler(&fakeNetworkService{count: 140000})

	req := httptest.NewRequest(http.MethodGet, "/devices/count", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(140000), resp.Data["total_devices"])
}

func TestGetDeviceCountTelemetryDown(t *testing.T) {
	handler := newNetworkHandler(&fakeNetworkService{
		countErr: fmt.Errorf("querying device count: %w", telemetry.ErrUnavailable),
	})

	req := httptest.NewRequest(http.MethodGet, "/devices/count", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/telemetry/unavailable", problem["type"])
	assert.Equal(t, float64(60), problem["retry_after"])
}

func TestGetStats(t *testing.T) {
	handler := newNetworkHandler(&fakeNetworkService{
		stats: &telemetry.NetworkStats{TotalDevices: 140000, SampleSize: 1000},
	})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data telemetry.NetworkStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(140000), resp.Data.TotalDevices)
}

func TestTakeSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	handler := newNetworkHandler(&fakeNetworkService{
		snapshot: &forecast.HistoricalRecord{
			Date:         now.Truncate(24 * time.Hour),
			TotalDevices: 140000,
			ObservedAt:   now,
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/snapshot", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data forecast.HistoricalRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(140000), resp.Data.TotalDevices)
}

func TestTakeSnapshotTelemetryDown(t *testing.T) {
	handler := newNetworkHandler(&fakeNetworkService{
		snapErr: fmt.Errorf("snapshot: %w", telemetry.ErrUnavailable),
	})

	req := httptest.NewRequest(http.MethodPost, "/snapshot", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
