package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"chainintel/internal/config"
	apierrors "chainintel/internal/errors"
	"chainintel/internal/exporter"
	"chainintel/internal/infrastructure"
	custommw "chainintel/internal/middleware"
	"chainintel/internal/services"
	"chainintel/internal/simulator"
	"chainintel/internal/store"
	"chainintel/internal/telemetry"
	handlers "chainintel/internal/transport/http"
	ws "chainintel/internal/websocket"
)

const (
	Version = "1.0.0"
	AppName = "ChainIntel Analytics"
)

// Application is the composed service: configuration, dependencies, and
// the HTTP server.
type Application struct {
	Config *config.Config
	Router *chi.Mux
	Server *http.Server
	Logger *slog.Logger

	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.ForecastMetrics

	Store     *store.Store
	Telemetry *telemetry.Client
	Hub       *ws.Hub

	ForecastService *services.ForecastService
	NetworkService  *services.NetworkService
	HealthService   *services.HealthService
	Exporter        *exporter.ReportExporter

	runtimeCollector *infrastructure.RuntimeMetricsCollector
}

// NewApplication loads configuration and assembles the application.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize opentelemetry: %w", err)
	}

	metrics, err := infrastructure.CreateForecastMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
	}

	if err := app.initializeServices(ctx); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the dependency graph bottom-up.
func (a *Application) initializeServices(ctx context.Context) error {
	// The database is optional. Without a DSN the service still serves
	// forecasts, it just cannot persist or recall them.
	if a.Config.Database.DSN != "" {
		st, err := store.Open(ctx, a.Config.Database, a.Logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.Store = st
	} else {
		a.Logger.Warn("no database DSN configured, running without persistence")
	}

	a.Telemetry = telemetry.NewClient(a.Config.Telemetry, a.Logger)

	a.Hub = ws.NewHub(a.Logger, a.Metrics)
	a.Hub.Start()

	var generator *simulator.Generator
	if a.Config.Simulation.Enabled {
		generator = simulator.New(a.Config.Simulation.Generator, a.Logger)
	}

	deps := services.ForecastDeps{
		Generator:         generator,
		SimulationEnabled: a.Config.Simulation.Enabled,
		Metrics:           a.Metrics,
		Events:            a.Hub,
		Logger:            a.Logger,
	}
	if a.Store != nil {
		deps.Store = a.Store
	}
	a.ForecastService = services.NewForecastService(a.Config.Forecast, deps)

	var historyStore services.HistoryStore
	if a.Store != nil {
		historyStore = a.Store
	}
	a.NetworkService = services.NewNetworkService(a.Telemetry, historyStore, a.Logger)

	var pinger services.Pinger
	if a.Store != nil {
		pinger = a.Store
	}
	a.HealthService = services.NewHealthService(Version, pinger, a.Telemetry, a.Logger)

	a.Exporter = exporter.NewReportExporter(a.Config.Export.Dir, a.Logger)

	collector, err := infrastructure.NewRuntimeMetricsCollector(a.OTelProviders.Meter, 30*time.Second)
	if err != nil {
		return fmt.Errorf("create runtime metrics collector: %w", err)
	}
	a.runtimeCollector = collector

	return nil
}

// setupRouter configures the HTTP router. The websocket endpoint sits
// outside the full middleware chain so nothing wraps its ResponseWriter
// before the upgrade.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	wsHandler := ws.NewHandler(a.Hub, a.Config.WebSocket, a.corsOrigins(), a.Logger)
	r.Handle("/ws", wsHandler)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := custommw.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("opentelemetry middleware unavailable", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.SecurityHeaders)
		r.Use(custommw.Compress(5))

		if a.Config.Security.EnableCORS {
			r.Use(custommw.CORS(a.corsConfig()))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(custommw.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes mounts the API handlers.
func (a *Application) setupAPIRoutes(r chi.Router) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.GetVersion)

			networkHandler := handlers.NewNetworkHandler(a.NetworkService, a.Logger, errorHandler)
			r.Mount("/network", networkHandler.Routes())
		})

		// Forecast fits are CPU-bound and can outlive the standard
		// request timeout.
		r.Group(func(r chi.Router) {
			r.Use(custommw.Timeout(a.Config.Server.ForecastTimeout, a.Logger))

			analyticsHandler := handlers.NewAnalyticsHandler(
				a.ForecastService, a.Exporter, a.Logger, errorHandler)
			r.Mount("/analytics", analyticsHandler.Routes())
		})
	})
}

func (a *Application) corsOrigins() []string {
	if !a.Config.Security.EnableCORS {
		return nil
	}
	return a.Config.Security.AllowedOrigins
}

func (a *Application) corsConfig() custommw.CORSConfig {
	return custommw.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start launches background collectors and the HTTP server. A server
// failure cancels the supplied context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting server",
		slog.Int("port", a.Config.Server.Port),
		slog.String("log_level", a.Config.Logging.Level),
		slog.Bool("simulation", a.Config.Simulation.Enabled),
		slog.Bool("persistence", a.Store != nil))

	a.runtimeCollector.Start(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.Hub.Stop()
	a.runtimeCollector.Stop()

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "store close failed", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "opentelemetry shutdown failed", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
