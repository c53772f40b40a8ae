package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "chainintel/internal/errors"
	"chainintel/internal/middleware"
)

// NetworkHandler serves live telemetry endpoints.
type NetworkHandler struct {
	service      NetworkService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewNetworkHandler creates the network handler.
func NewNetworkHandler(service NetworkService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *NetworkHandler {
	return &NetworkHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "network_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the network routes.
func (h *NetworkHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/devices/count", h.GetDeviceCount)
	r.Get("/stats", h.GetStats)
	r.Post("/snapshot", h.TakeSnapshot)

	return r
}

// GetDeviceCount handles GET /api/network/devices/count.
func (h *NetworkHandler) GetDeviceCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.DeviceCount(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "device count failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   map[string]interface{}{"total_devices": count},
	})
}

// GetStats handles GET /api/network/stats.
func (h *NetworkHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "network stats failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   stats,
	})
}

// TakeSnapshot handles POST /api/network/snapshot. It records the current
// device count as a daily observation.
func (h *NetworkHandler) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	record, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "snapshot failed",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "snapshot recorded",
		slog.String("request_id", reqID),
		slog.Int64("total_devices", record.TotalDevices),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   record,
	})
}
