package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ValidationHarness scores forecast accuracy on a trailing holdout window.
// It always fits an independent model on the training prefix only, so the
// held-out points can never influence the fit being scored.
type ValidationHarness struct {
	cfg    ModelConfig
	logger *slog.Logger
}

// NewValidationHarness creates a validation harness that fits models with the
// given configuration.
func NewValidationHarness(cfg ModelConfig, logger *slog.Logger) *ValidationHarness {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationHarness{cfg: cfg.normalize(), logger: logger}
}

// Validate splits the series into a training prefix and a held-out suffix of
// testWindow points, fits a fresh model on the prefix and scores predictions
// for exactly the held-out dates. Fails with ErrInsufficientData when the
// window does not leave at least two training points.
func (h *ValidationHarness) Validate(ctx context.Context, series *Series, testWindow int) (ValidationMetrics, error) {
	if testWindow < 1 {
		return ValidationMetrics{}, fmt.Errorf("validate: test window must be positive, got %d", testWindow)
	}
	if series == nil || testWindow >= series.Len() {
		length := 0
		if series != nil {
			length = series.Len()
		}
		return ValidationMetrics{}, fmt.Errorf("validate: test window %d leaves no training data in series of %d points: %w",
			testWindow, length, ErrInsufficientData)
	}

	split := series.Len() - testWindow
	train := series.Slice(0, split)
	holdout := series.Slice(split, series.Len())

	model := NewTrendModel(h.cfg, h.logger)
	if err := model.Fit(train); err != nil {
		return ValidationMetrics{}, fmt.Errorf("validate: fit training prefix: %w", err)
	}

	// Predict far enough to cover the last held-out date, then pick out
	// exactly the held-out dates. This tolerates gaps in the series.
	lastTrain := train.Last().Date
	horizon := int(math.Round(holdout.Last().Date.Sub(lastTrain).Hours() / 24))
	if horizon < 1 {
		horizon = testWindow
	}
	points, err := model.Predict(horizon)
	if err != nil {
		return ValidationMetrics{}, fmt.Errorf("validate: predict holdout: %w", err)
	}

	predicted := make(map[time.Time]float64, len(points))
	for _, p := range points {
		predicted[p.Date] = p.PredictedValue
	}

	var absSum, sqSum, pctSum float64
	pctCount := 0
	compared := 0
	for _, obs := range holdout.Points {
		yhat, ok := predicted[obs.Date]
		if !ok {
			continue
		}
		compared++
		err := obs.Value - yhat
		absSum += math.Abs(err)
		sqSum += err * err
		// Zero-valued observations are excluded from the MAPE denominator
		// rather than dividing by zero.
		if obs.Value != 0 {
			pctSum += math.Abs(err / obs.Value)
			pctCount++
		}
	}
	if compared == 0 {
		return ValidationMetrics{}, fmt.Errorf("validate: no held-out dates were predicted: %w", ErrFitting)
	}

	metrics := ValidationMetrics{
		MAE:            absSum / float64(compared),
		RMSE:           math.Sqrt(sqSum / float64(compared)),
		TestWindowSize: testWindow,
	}
	if pctCount > 0 {
		metrics.MAPE = pctSum / float64(pctCount) * 100
	}

	h.logger.InfoContext(ctx, "holdout validation complete",
		slog.Int("train_points", train.Len()),
		slog.Int("test_window", testWindow),
		slog.Float64("mae", metrics.MAE),
		slog.Float64("rmse", metrics.RMSE),
		slog.Float64("mape", metrics.MAPE))
	return metrics, nil
}
