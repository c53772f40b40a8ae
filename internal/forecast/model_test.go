package forecast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearSeries builds a prepared n-point daily series with the given base and
// slope. noise is a deterministic alternating offset applied to every point.
func linearSeries(n int, base, slope, noise float64) *Series {
	points := make([]Point, n)
	for i := 0; i < n; i++ {
		offset := noise
		if i%2 == 1 {
			offset = -noise
		}
		points[i] = Point{Date: day(i), Value: base + float64(i)*slope + offset}
	}
	return &Series{Points: points}
}

func TestTrendModelPredictBeforeFit(t *testing.T) {
	model := NewTrendModel(DefaultModelConfig(), nil)
	_, err := model.Predict(30)
	assert.ErrorIs(t, err, ErrModelNotFitted)

	_, err = model.TrendComponent()
	assert.ErrorIs(t, err, ErrModelNotFitted)
}

func TestTrendModelFitRejectsShortSeries(t *testing.T) {
	model := NewTrendModel(DefaultModelConfig(), nil)
	assert.ErrorIs(t, model.Fit(nil), ErrInsufficientData)
	assert.ErrorIs(t, model.Fit(&Series{Points: []Point{{Date: day(0), Value: 1}}}), ErrInsufficientData)
}

func TestTrendModelPredictRejectsNonPositiveHorizon(t *testing.T) {
	model := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, model.Fit(linearSeries(30, 1000, 10, 0)))

	for _, horizon := range []int{0, -1, -30} {
		_, err := model.Predict(horizon)
		assert.Error(t, err)
	}
}

func TestTrendModelPredictShape(t *testing.T) {
	tests := []struct {
		name    string
		points  int
		horizon int
	}{
		{"minimal series short horizon", 2, 5},
		{"typical series default-ish horizon", 90, 180},
		{"long series single day", 200, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := linearSeries(tt.points, 5000, 25, 3)
			model := NewTrendModel(DefaultModelConfig(), nil)
			require.NoError(t, model.Fit(series))

			forecast, err := model.Predict(tt.horizon)
			require.NoError(t, err)
			require.Len(t, forecast, tt.horizon)

			last := series.Last().Date
			for i, fp := range forecast {
				assert.Equal(t, last.AddDate(0, 0, i+1), fp.Date,
					"forecast dates continue immediately after the last observation")
				assert.Equal(t, DefaultIntervalWidth, fp.ConfidenceLevel)
			}
		})
	}
}

func TestTrendModelBoundsOrderingAndMonotonicWidth(t *testing.T) {
	series := linearSeries(60, 100000, 150, 8)
	model := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, model.Fit(series))

	forecast, err := model.Predict(120)
	require.NoError(t, err)

	prevWidth := -1.0
	for _, fp := range forecast {
		assert.LessOrEqual(t, fp.LowerBound, fp.PredictedValue)
		assert.LessOrEqual(t, fp.PredictedValue, fp.UpperBound)

		width := fp.UpperBound - fp.LowerBound
		assert.GreaterOrEqual(t, width, prevWidth,
			"uncertainty must compound with distance from the last observation")
		prevWidth = width
	}
}

func TestTrendModelExactLinearGrowth(t *testing.T) {
	// 90 points growing by exactly 150/day with zero noise: the 30-day-ahead
	// prediction must land on last + 150*30 and the interval must collapse
	// close to the point estimate.
	series := linearSeries(90, 100000, 150, 0)
	model := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, model.Fit(series))

	forecast, err := model.Predict(30)
	require.NoError(t, err)
	require.Len(t, forecast, 30)

	last := series.Last().Value
	day30 := forecast[29]
	assert.InDelta(t, last+150*30, day30.PredictedValue, 1.0)
	assert.Less(t, day30.UpperBound-day30.LowerBound, 1.0,
		"near-zero residual variance must yield a narrow interval")

	sigma, err := model.ResidualStd()
	require.NoError(t, err)
	assert.InDelta(t, 0, sigma, 0.1)
}

func TestTrendModelTrendComponentIsSmooth(t *testing.T) {
	series := linearSeries(60, 2000, 12, 5)
	model := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, model.Fit(series))

	trend, err := model.TrendComponent()
	require.NoError(t, err)
	require.Len(t, trend, series.Len())

	// The near-zero flexibility default keeps the trend close to the
	// underlying line, stripping the alternating noise.
	for i, v := range trend {
		assert.InDelta(t, 2000+float64(i)*12, v, 6.0)
	}
}

func TestTrendModelWeeklySeasonality(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.WeeklySeasonality = true

	// Linear growth plus a weekly wave the seasonal terms should absorb.
	points := make([]Point, 70)
	for i := range points {
		weekly := 40 * math.Sin(2*math.Pi*float64(i)/7)
		points[i] = Point{Date: day(i), Value: 3000 + float64(i)*20 + weekly}
	}
	series := &Series{Points: points}

	seasonal := NewTrendModel(cfg, nil)
	require.NoError(t, seasonal.Fit(series))
	plain := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, plain.Fit(series))

	seasonalSigma, err := seasonal.ResidualStd()
	require.NoError(t, err)
	plainSigma, err := plain.ResidualStd()
	require.NoError(t, err)
	assert.Less(t, seasonalSigma, plainSigma,
		"seasonal terms should absorb the weekly wave")

	// The trend component stays smooth: seasonality is stripped from it.
	trend, err := seasonal.TrendComponent()
	require.NoError(t, err)
	for i, v := range trend {
		assert.InDelta(t, 3000+float64(i)*20, v, 30.0)
	}
}

func TestTrendModelPerRunOwnership(t *testing.T) {
	// Two models fitted over different series must not influence each other.
	a := NewTrendModel(DefaultModelConfig(), nil)
	b := NewTrendModel(DefaultModelConfig(), nil)
	require.NoError(t, a.Fit(linearSeries(40, 1000, 10, 0)))
	require.NoError(t, b.Fit(linearSeries(40, 9000, 90, 0)))

	forecastA, err := a.Predict(10)
	require.NoError(t, err)
	forecastB, err := b.Predict(10)
	require.NoError(t, err)

	assert.InDelta(t, 1000+49*10, forecastA[9].PredictedValue, 1.0)
	assert.InDelta(t, 9000+49*90, forecastB[9].PredictedValue, 1.0)
}

func TestNormalQuantile(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0.5, 0},
		{0.95, 1.6449},
		{0.975, 1.9600},
		{0.05, -1.6449},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, normalQuantile(tt.p), 1e-3)
	}
	assert.True(t, math.IsNaN(normalQuantile(0)))
	assert.True(t, math.IsNaN(normalQuantile(1)))
}

func TestSolveLinearSystemSingular(t *testing.T) {
	a := [][]float64{{1, 2}, {2, 4}}
	b := []float64{1, 2}
	_, err := solveLinearSystem(a, b)
	assert.ErrorIs(t, err, ErrFitting)
}

func TestSeriesSliceCopies(t *testing.T) {
	series := linearSeries(10, 100, 1, 0)
	prefix := series.Slice(0, 5)
	prefix.Points[0].Value = -1

	assert.Equal(t, 100.0, series.Points[0].Value, "slices must not share state")
	assert.Equal(t, 5, prefix.Len())
	assert.Equal(t, day(4), prefix.Last().Date)
}

func TestPlaceChangepoints(t *testing.T) {
	cfg := DefaultModelConfig()

	t.Run("short series gets few changepoints", func(t *testing.T) {
		assert.Empty(t, placeChangepoints(1, 2, cfg))
		assert.Len(t, placeChangepoints(4, 5, cfg), 3)
	})

	t.Run("capped at configured maximum", func(t *testing.T) {
		cps := placeChangepoints(199, 200, cfg)
		assert.Len(t, cps, cfg.MaxChangepoints)
		for _, cp := range cps {
			assert.Greater(t, cp, 0.0)
			assert.Less(t, cp, 199*cfg.ChangepointRange)
		}
	})
}

// Regression guard: fitted forecasts should be deterministic for identical
// input, since the solver has no stochastic component.
func TestTrendModelDeterministic(t *testing.T) {
	series := linearSeries(50, 100, 7, 2)

	run := func() []ForecastPoint {
		model := NewTrendModel(DefaultModelConfig(), nil)
		require.NoError(t, model.Fit(series))
		forecast, err := model.Predict(20)
		require.NoError(t, err)
		return forecast
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}
