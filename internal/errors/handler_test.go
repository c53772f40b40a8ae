package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/forecast"
	"chainintel/internal/store"
	"chainintel/internal/telemetry"
)

func newTestHandler() *ErrorHandler {
	return NewErrorHandler(slog.Default(), false)
}

func TestErrorToProblemDomainErrors(t *testing.T) {
	h := newTestHandler()
	r := httptest.NewRequest(http.MethodGet, "/api/analytics/forecast", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "insufficient history",
			err:        fmt.Errorf("prepare: %w", forecast.ErrInsufficientData),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   TypeInsufficientHistory,
		},
		{
			name:       "fitting failure",
			err:        fmt.Errorf("run: %w", forecast.ErrFitting),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeForecastFailed,
		},
		{
			name:       "model not fitted",
			err:        forecast.ErrModelNotFitted,
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeForecastFailed,
		},
		{
			name:       "telemetry unreachable",
			err:        fmt.Errorf("fetch total: %w", telemetry.ErrUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantType:   TypeTelemetryUnavailable,
		},
		{
			name:       "store empty",
			err:        fmt.Errorf("history: %w", store.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   TypeNotFound,
		},
		{
			name:       "deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "unknown error",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := h.ErrorToProblem(tt.err, r)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "/api/analytics/forecast", problem.Instance)
		})
	}
}

func TestErrorToProblemAPIError(t *testing.T) {
	h := newTestHandler()
	r := httptest.NewRequest(http.MethodPost, "/api/analytics/forecast", nil)

	problem := h.ErrorToProblem(ErrValidation("horizon_days", "must be at least 1"), r)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, TypeValidation, problem.Type)
	assert.Equal(t, "VALIDATION_FAILED", problem.Extensions["error_code"])
	assert.NotNil(t, problem.Extensions["details"])
}

func TestHandleErrorWritesProblemJSON(t *testing.T) {
	h := newTestHandler()
	r := httptest.NewRequest(http.MethodGet, "/api/analytics/forecast/latest", nil)
	w := httptest.NewRecorder()

	h.HandleError(w, r, fmt.Errorf("latest: %w", store.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, TypeNotFound, body["type"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.Contains(t, body, "trace_id")
}

func TestHandleErrorNilIsNoop(t *testing.T) {
	h := newTestHandler()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.HandleError(w, r, nil)
	assert.Empty(t, w.Body.String())
}

func TestNotFoundHandler(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)

	h.NotFound(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProblemDetailsMarshalIncludesExtensions(t *testing.T) {
	problem := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "already running", "/api/x").
		WithExtension("run_id", "abc-123")

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc-123", decoded["run_id"])
	assert.Equal(t, "already running", decoded["detail"])
}
