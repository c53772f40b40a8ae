package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"chainintel/internal/config"
	"chainintel/internal/forecast"
	"chainintel/internal/infrastructure"
	"chainintel/internal/simulator"
	"chainintel/internal/store"
)

// saveTimeout bounds the background persistence of a finished forecast.
const saveTimeout = 30 * time.Second

// ForecastService orchestrates forecast runs: it sources history, gates
// CPU-bound fitting, runs the engine, broadcasts progress events, and
// persists results.
type ForecastService struct {
	cfg       config.ForecastConfig
	store     HistoryStore
	generator *simulator.Generator
	simulate  bool
	engine    *forecast.Engine
	metrics   *infrastructure.ForecastMetrics
	events    EventBroadcaster
	sem       *semaphore.Weighted
	group     singleflight.Group
	logger    *slog.Logger
}

// ForecastDeps carries the optional collaborators of the forecast service.
// Store, Generator, Metrics, and Events may each be nil.
type ForecastDeps struct {
	Store             HistoryStore
	Generator         *simulator.Generator
	SimulationEnabled bool
	Metrics           *infrastructure.ForecastMetrics
	Events            EventBroadcaster
	Logger            *slog.Logger
}

// NewForecastService creates the forecast service.
func NewForecastService(cfg config.ForecastConfig, deps ForecastDeps) *ForecastService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "forecast_service"))

	maxFits := cfg.MaxConcurrentFits
	if maxFits < 1 {
		maxFits = 1
	}

	return &ForecastService{
		cfg:       cfg,
		store:     deps.Store,
		generator: deps.Generator,
		simulate:  deps.SimulationEnabled,
		engine:    forecast.NewEngine(modelConfigFrom(cfg), logger),
		metrics:   deps.Metrics,
		events:    deps.Events,
		sem:       semaphore.NewWeighted(maxFits),
		logger:    logger,
	}
}

// modelConfigFrom maps the service configuration onto the model defaults.
func modelConfigFrom(cfg config.ForecastConfig) forecast.ModelConfig {
	mc := forecast.DefaultModelConfig()
	if cfg.ChangepointFlexibility > 0 {
		mc.ChangepointFlexibility = cfg.ChangepointFlexibility
	}
	if cfg.IntervalWidth > 0 && cfg.IntervalWidth < 1 {
		mc.IntervalWidth = cfg.IntervalWidth
	}
	mc.WeeklySeasonality = cfg.WeeklySeasonality
	return mc
}

// Run executes one forecast over the configured history window. Unset run
// parameters take the configured defaults before the request is keyed, so
// an empty request and a fully spelled-out default request share one run.
func (s *ForecastService) Run(ctx context.Context, opts forecast.RunOptions) (*forecast.ForecastResult, error) {
	opts = s.applyDefaults(opts)
	key := fmt.Sprintf("h%d:w%d", opts.HorizonDays, opts.ValidationWindow)

	result, err, shared := s.group.Do(key, func() (interface{}, error) {
		// The run is shared by every waiter on this key; detach it from
		// the first caller's cancellation so one client's timeout cannot
		// fail the rest.
		return s.run(context.WithoutCancel(ctx), opts)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "forecast run deduplicated", slog.String("key", key))
	}
	return result.(*forecast.ForecastResult), nil
}

// applyDefaults fills unset run parameters from the service configuration.
// Parameters left unconfigured fall through to the engine's own defaults.
func (s *ForecastService) applyDefaults(opts forecast.RunOptions) forecast.RunOptions {
	if opts.HorizonDays <= 0 && s.cfg.DefaultHorizonDays > 0 {
		opts.HorizonDays = s.cfg.DefaultHorizonDays
	}
	if opts.ValidationWindow <= 0 && s.cfg.DefaultValidationWindow > 0 {
		opts.ValidationWindow = s.cfg.DefaultValidationWindow
	}
	return opts
}

func (s *ForecastService) run(ctx context.Context, opts forecast.RunOptions) (*forecast.ForecastResult, error) {
	records, err := s.history(ctx, s.cfg.HistoryDays)
	if err != nil {
		return nil, err
	}

	s.broadcast("forecast:started", map[string]interface{}{
		"horizon_days":      opts.HorizonDays,
		"validation_window": opts.ValidationWindow,
		"observations":      len(records),
	})

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire fit slot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ForecastActiveFits.Add(ctx, 1)
	}

	start := time.Now()
	result, err := s.engine.Run(ctx, records, opts)
	duration := time.Since(start)

	s.sem.Release(1)
	if s.metrics != nil {
		s.metrics.ForecastActiveFits.Add(ctx, -1)
		s.metrics.RecordForecastRun(ctx, duration, err == nil)
	}

	if err != nil {
		s.broadcast("forecast:failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	s.broadcast("forecast:completed", map[string]interface{}{
		"run_id":           result.RunID,
		"horizon_days":     result.HorizonDays,
		"current_value":    result.CurrentValue,
		"avg_daily_growth": result.AvgDailyGrowth,
	})

	s.saveInBackground(result)
	return result, nil
}

// saveInBackground persists a finished run without blocking the response.
// Persistence failures are logged, never surfaced to the caller.
func (s *ForecastService) saveInBackground(result *forecast.ForecastResult) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.store.SaveForecast(ctx, result); err != nil {
			s.logger.Error("failed to persist forecast result",
				slog.String("run_id", result.RunID),
				slog.String("error", err.Error()))
		}
	}()
}

// Latest returns the most recently persisted forecast.
func (s *ForecastService) Latest(ctx context.Context) (*forecast.ForecastResult, error) {
	if s.store == nil {
		return nil, fmt.Errorf("latest forecast: no store configured: %w", store.ErrNotFound)
	}
	result, err := s.store.LatestForecast(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest forecast: %w", err)
	}
	return result, nil
}

// GrowthRateReport summarizes observed growth over a trailing window.
type GrowthRateReport struct {
	WindowDays     int       `json:"window_days"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	StartValue     float64   `json:"start_value"`
	EndValue       float64   `json:"end_value"`
	AvgDailyGrowth float64   `json:"avg_daily_growth"`
	GrowthRatePct  float64   `json:"growth_rate_pct"`
}

// GrowthRate computes the observed growth over the last days of history.
func (s *ForecastService) GrowthRate(ctx context.Context, days int) (*GrowthRateReport, error) {
	if days < 2 {
		return nil, fmt.Errorf("growth window must be at least 2 days, got %d", days)
	}

	records, err := s.history(ctx, days)
	if err != nil {
		return nil, err
	}
	series, err := forecast.NewSeriesPreparer(s.logger).Prepare(ctx, records)
	if err != nil {
		return nil, err
	}

	first := series.First()
	last := series.Last()
	span := last.Date.Sub(first.Date).Hours() / 24

	report := &GrowthRateReport{
		WindowDays: days,
		StartDate:  first.Date,
		EndDate:    last.Date,
		StartValue: first.Value,
		EndValue:   last.Value,
	}
	if span > 0 {
		report.AvgDailyGrowth = (last.Value - first.Value) / span
	}
	if first.Value != 0 {
		report.GrowthRatePct = (last.Value - first.Value) / first.Value * 100
	}
	return report, nil
}

// Summary is a compact dashboard view of the series and the latest forecast.
type Summary struct {
	CurrentValue      float64                    `json:"current_value"`
	CurrentDate       time.Time                  `json:"current_date"`
	Observations      int                        `json:"observations"`
	WeeklyGrowth      *GrowthRateReport          `json:"weekly_growth,omitempty"`
	MonthlyGrowth     *GrowthRateReport          `json:"monthly_growth,omitempty"`
	LatestForecast    *forecast.ForecastResult   `json:"latest_forecast,omitempty"`
	LatestMilestones  []forecast.GrowthMilestone `json:"latest_milestones,omitempty"`
	LatestGeneratedAt *time.Time                 `json:"latest_generated_at,omitempty"`
}

// Summarize assembles the summary from history and any stored forecast.
func (s *ForecastService) Summarize(ctx context.Context) (*Summary, error) {
	records, err := s.history(ctx, s.cfg.HistoryDays)
	if err != nil {
		return nil, err
	}
	series, err := forecast.NewSeriesPreparer(s.logger).Prepare(ctx, records)
	if err != nil {
		return nil, err
	}

	last := series.Last()
	summary := &Summary{
		CurrentValue: last.Value,
		CurrentDate:  last.Date,
		Observations: series.Len(),
	}

	if weekly, err := s.GrowthRate(ctx, 7); err == nil {
		summary.WeeklyGrowth = weekly
	}
	if monthly, err := s.GrowthRate(ctx, 30); err == nil {
		summary.MonthlyGrowth = monthly
	}

	if s.store != nil {
		if latest, err := s.store.LatestForecast(ctx); err == nil && latest != nil {
			summary.LatestMilestones = latest.Milestones
			generatedAt := latest.GeneratedAt
			summary.LatestGeneratedAt = &generatedAt
		}
	}

	return summary, nil
}

// history resolves historical records: the store first, then the synthetic
// generator when simulation is enabled. Generated history is persisted best
// effort so subsequent reads hit the store.
func (s *ForecastService) history(ctx context.Context, days int) ([]forecast.HistoricalRecord, error) {
	if days < 1 {
		days = s.cfg.HistoryDays
	}

	if s.store != nil {
		records, err := s.store.History(ctx, days)
		if err == nil && len(records) > 1 {
			return records, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	if !s.simulate || s.generator == nil {
		return nil, fmt.Errorf("no historical data available: %w", forecast.ErrInsufficientData)
	}

	s.logger.InfoContext(ctx, "falling back to synthetic history",
		slog.Int("days", days))
	records := s.generator.Generate(ctx, days, time.Now().UTC())

	if s.store != nil {
		if err := s.store.SaveHistory(ctx, records); err != nil {
			s.logger.WarnContext(ctx, "failed to persist synthetic history",
				slog.String("error", err.Error()))
		}
	}
	return records, nil
}

func (s *ForecastService) broadcast(event string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.BroadcastEvent(event, payload)
}
