package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "chainintel/internal/errors"
	"chainintel/internal/forecast"
	"chainintel/internal/middleware"
)

// AnalyticsHandler serves forecast, growth rate, and summary endpoints.
type AnalyticsHandler struct {
	service      AnalyticsService
	exporter     ReportExporter
	validation   *middleware.ValidationMiddleware
	query        *middleware.QueryParamValidator
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewAnalyticsHandler creates the analytics handler.
func NewAnalyticsHandler(service AnalyticsService, exporter ReportExporter, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *AnalyticsHandler {
	return &AnalyticsHandler{
		service:      service,
		exporter:     exporter,
		validation:   middleware.NewValidationMiddleware(logger, errorHandler),
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		logger:       logger.With(slog.String("component", "analytics_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the analytics routes.
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.With(h.validation.ValidateRequest, middleware.ContentTypeValidator("application/json")).
		Post("/forecast", h.RunForecast)
	r.Get("/forecast/latest", h.LatestForecast)
	r.Get("/forecast/export", h.ExportForecast)
	r.Get("/growth-rate", h.GetGrowthRate)
	r.Get("/summary", h.GetSummary)

	return r
}

// RunForecast handles POST /api/analytics/forecast. The body is optional;
// an empty body runs with default horizon and validation window.
func (h *AnalyticsHandler) RunForecast(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var opts forecast.RunOptions
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &opts); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
		if err := h.validation.ValidateStruct(opts); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
	}

	h.logger.InfoContext(r.Context(), "forecast run requested",
		slog.String("request_id", reqID),
		slog.Int("horizon_days", opts.HorizonDays),
		slog.Int("validation_window", opts.ValidationWindow),
	)

	result, err := h.service.Run(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "forecast run failed",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   result,
	})
}

// LatestForecast handles GET /api/analytics/forecast/latest.
func (h *AnalyticsHandler) LatestForecast(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Latest(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   result,
	})
}

// ExportForecast handles GET /api/analytics/forecast/export?format=csv|xlsx.
// The latest stored forecast is written to the report directory and served
// as a download.
func (h *AnalyticsHandler) ExportForecast(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("format", "format must be one of: csv, xlsx"))
		return
	}

	result, err := h.service.Latest(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var path string
	switch format {
	case "csv":
		path, err = h.exporter.ExportCSV(result)
	case "xlsx":
		path, err = h.exporter.ExportXLSX(result)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "forecast export failed",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
			slog.String("format", format),
		)
		h.errorHandler.HandleError(w, r, apierrors.New(
			http.StatusInternalServerError,
			"EXPORT_FAILED",
			"Failed to write the forecast report",
		))
		return
	}

	h.logger.InfoContext(r.Context(), "forecast exported",
		slog.String("request_id", reqID),
		slog.String("format", format),
		slog.String("path", path),
	)

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// GetGrowthRate handles GET /api/analytics/growth-rate?days=N.
func (h *AnalyticsHandler) GetGrowthRate(w http.ResponseWriter, r *http.Request) {
	days, ok := h.query.ValidateInt(w, r, "days", 2, 365, 30)
	if !ok {
		return
	}

	report, err := h.service.GrowthRate(r.Context(), days)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   report,
	})
}

// GetSummary handles GET /api/analytics/summary.
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summarize(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status": "success",
		"data":   summary,
	})
}
