package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Default run parameters, matching the service's public contract.
const (
	DefaultHorizonDays      = 180
	DefaultValidationWindow = 14
)

// momentumWindow is the number of observed points averaged at each end of the
// fitted trend when classifying momentum.
const momentumWindow = 30

// milestoneCheckpoints are the fixed horizons summarized in every result,
// clipped to the requested horizon when it is shorter.
var milestoneCheckpoints = [...]int{30, 90, 180}

// RunOptions parametrizes a single forecasting run.
type RunOptions struct {
	HorizonDays      int `json:"horizon_days" validate:"omitempty,min=1,max=1095"`
	ValidationWindow int `json:"validation_window" validate:"omitempty,min=1,max=365"`
}

func (o RunOptions) withDefaults() RunOptions {
	if o.HorizonDays < 1 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.ValidationWindow < 1 {
		o.ValidationWindow = DefaultValidationWindow
	}
	return o
}

// Engine orchestrates the full forecasting pipeline: prepare, fit, forecast,
// validate, analyze trend, assemble. Every run constructs fresh model state;
// nothing is shared across runs.
type Engine struct {
	cfg      ModelConfig
	preparer *SeriesPreparer
	harness  *ValidationHarness
	logger   *slog.Logger
}

// NewEngine creates a forecasting engine with the given model configuration.
func NewEngine(cfg ModelConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	return &Engine{
		cfg:      cfg,
		preparer: NewSeriesPreparer(logger),
		harness:  NewValidationHarness(cfg, logger),
		logger:   logger,
	}
}

// Run executes the pipeline over the supplied records and assembles the
// combined result. Fitting is CPU-bound and blocking; the context is checked
// cooperatively between stages but an in-flight fit runs to completion.
func (e *Engine) Run(ctx context.Context, records []HistoricalRecord, opts RunOptions) (*ForecastResult, error) {
	opts = opts.withDefaults()
	start := time.Now()

	e.logger.InfoContext(ctx, "starting forecast run",
		slog.Int("records", len(records)),
		slog.Int("horizon_days", opts.HorizonDays),
		slog.Int("validation_window", opts.ValidationWindow))

	series, err := e.preparer.Prepare(ctx, records)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("forecast run canceled before fit: %w", err)
	}

	model := NewTrendModel(e.cfg, e.logger)
	if err := model.Fit(series); err != nil {
		return nil, err
	}

	points, err := model.Predict(opts.HorizonDays)
	if err != nil {
		return nil, err
	}

	last := series.Last()
	milestones := deriveMilestones(points, last.Value, opts.HorizonDays)

	// Validation always re-fits independently on the training prefix and
	// never touches the primary model.
	metrics, err := e.harness.Validate(ctx, series, opts.ValidationWindow)
	if err != nil {
		return nil, err
	}

	trend, err := analyzeTrend(model)
	if err != nil {
		return nil, err
	}

	result := &ForecastResult{
		RunID:           uuid.New().String(),
		GeneratedAt:     time.Now().UTC(),
		ModelType:       "piecewise-linear",
		HorizonDays:     opts.HorizonDays,
		CurrentValue:    last.Value,
		CurrentDate:     last.Date,
		ConfidenceLevel: e.cfg.IntervalWidth,
		Points:          points,
		Milestones:      milestones,
		AvgDailyGrowth:  avgDailyGrowth(milestones),
		Validation:      metrics,
		Trend:           trend,
	}

	e.logger.InfoContext(ctx, "forecast run complete",
		slog.String("run_id", result.RunID),
		slog.Int("points", len(points)),
		slog.String("trend_direction", trend.Direction),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// deriveMilestones summarizes growth at the fixed checkpoints, clipped to the
// available horizon. A zero last-observed value yields a growth percentage of
// zero rather than an error, keeping the pipeline non-fatal on degenerate
// input.
func deriveMilestones(points []ForecastPoint, lastObserved float64, horizon int) []GrowthMilestone {
	milestones := make([]GrowthMilestone, 0, len(milestoneCheckpoints))
	for _, checkpoint := range milestoneCheckpoints {
		days := checkpoint
		if days > horizon {
			days = horizon
		}
		pt := points[days-1]
		growth := pt.PredictedValue - lastObserved
		pct := 0.0
		if lastObserved != 0 {
			pct = growth / lastObserved * 100
		}
		milestones = append(milestones, GrowthMilestone{
			HorizonDays:      days,
			PredictedValue:   pt.PredictedValue,
			AbsoluteGrowth:   growth,
			GrowthPercentage: pct,
		})
	}
	return milestones
}

// avgDailyGrowth derives the average predicted daily growth from the 90-day
// checkpoint milestone.
func avgDailyGrowth(milestones []GrowthMilestone) float64 {
	for _, m := range milestones {
		if m.HorizonDays == 90 {
			return m.AbsoluteGrowth / 90
		}
	}
	// Horizon shorter than 90 days: fall back to the furthest milestone.
	last := milestones[len(milestones)-1]
	if last.HorizonDays == 0 {
		return 0
	}
	return last.AbsoluteGrowth / float64(last.HorizonDays)
}

// analyzeTrend classifies momentum from the fitted trend curve: the mean
// day-over-day change across the most recent observed window against the
// earliest one. A zero historical mean yields zero momentum.
func analyzeTrend(model *TrendModel) (TrendAnalysis, error) {
	trend, err := model.TrendComponent()
	if err != nil {
		return TrendAnalysis{}, err
	}

	changes := make([]float64, 0, len(trend)-1)
	for i := 1; i < len(trend); i++ {
		changes = append(changes, trend[i]-trend[i-1])
	}
	if len(changes) == 0 {
		return TrendAnalysis{Direction: DirectionDecelerating}, nil
	}

	window := momentumWindow
	if window > len(changes) {
		window = len(changes)
	}
	recent := mean(changes[len(changes)-window:])
	historical := mean(changes[:window])

	direction := DirectionDecelerating
	if recent > historical {
		direction = DirectionAccelerating
	}
	momentum := 0.0
	if historical != 0 {
		momentum = (recent/historical - 1) * 100
	}

	return TrendAnalysis{
		AvgDailyTrendChange: mean(changes),
		RecentWindowAvg:     recent,
		HistoricalWindowAvg: historical,
		Direction:           direction,
		MomentumPercentage:  momentum,
	}, nil
}
