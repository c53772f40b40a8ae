package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	records := linearRecords(90, 100000, 150)
	result, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 14})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 30, result.HorizonDays)
	assert.Equal(t, float64(100000+89*150), result.CurrentValue)
	assert.Equal(t, day(89), result.CurrentDate)
	assert.Equal(t, DefaultIntervalWidth, result.ConfidenceLevel)
	require.Len(t, result.Points, 30)

	// Exact 150/day growth with zero noise: day 30 lands on
	// last + 150*30 with a collapsed interval.
	day30 := result.Points[29]
	assert.InDelta(t, result.CurrentValue+150*30, day30.PredictedValue, 1.0)
	assert.Less(t, day30.UpperBound-day30.LowerBound, 1.0)

	assert.Equal(t, 14, result.Validation.TestWindowSize)
	assert.InDelta(t, 0, result.Validation.MAPE, 0.1)

	// Horizon 30 clips the 90- and 180-day checkpoints.
	require.Len(t, result.Milestones, 3)
	for _, m := range result.Milestones {
		assert.Equal(t, 30, m.HorizonDays)
		assert.InDelta(t, 150*30, m.AbsoluteGrowth, 1.0)
	}
}

func TestEngineRunDefaults(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	result, err := engine.Run(ctx, linearRecords(90, 50000, 100), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, DefaultHorizonDays, result.HorizonDays)
	assert.Equal(t, DefaultValidationWindow, result.Validation.TestWindowSize)
	require.Len(t, result.Points, DefaultHorizonDays)

	wantDays := []int{30, 90, 180}
	require.Len(t, result.Milestones, 3)
	for i, m := range result.Milestones {
		assert.Equal(t, wantDays[i], m.HorizonDays)
	}
	assert.InDelta(t, 100, result.AvgDailyGrowth, 2.0)
}

func TestEngineRunMilestoneGrowthPercentage(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	t.Run("positive last observed value", func(t *testing.T) {
		result, err := engine.Run(ctx, linearRecords(60, 10000, 100), RunOptions{HorizonDays: 30, ValidationWindow: 5})
		require.NoError(t, err)

		m := result.Milestones[0]
		last := result.CurrentValue
		assert.InDelta(t, (m.PredictedValue-last)/last*100, m.GrowthPercentage, 1e-9)
	})

	t.Run("zero last observed value yields zero percentage", func(t *testing.T) {
		records := make([]HistoricalRecord, 40)
		for i := range records {
			records[i] = HistoricalRecord{Date: day(i), TotalDevices: 0}
		}
		result, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 5})
		require.NoError(t, err)

		for _, m := range result.Milestones {
			assert.Equal(t, 0.0, m.GrowthPercentage, "degenerate input must not abort the forecast")
		}
		assert.Equal(t, 0.0, result.Trend.MomentumPercentage)
	})
}

func TestEngineRunTrendMomentum(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	t.Run("accelerating growth", func(t *testing.T) {
		// Early increments average 10/day, late increments 20/day.
		records := make([]HistoricalRecord, 120)
		total := int64(10000)
		for i := range records {
			if i > 0 {
				if i <= 60 {
					total += 10
				} else {
					total += 20
				}
			}
			records[i] = HistoricalRecord{Date: day(i), TotalDevices: total}
		}

		result, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 10})
		require.NoError(t, err)

		assert.Equal(t, DirectionAccelerating, result.Trend.Direction)
		assert.Greater(t, result.Trend.RecentWindowAvg, result.Trend.HistoricalWindowAvg)
		assert.InDelta(t, 100, result.Trend.MomentumPercentage, 35,
			"doubling the daily increment should roughly double the trend slope")
	})

	t.Run("decelerating growth", func(t *testing.T) {
		records := make([]HistoricalRecord, 120)
		total := int64(50000)
		for i := range records {
			if i > 0 {
				if i <= 60 {
					total += 40
				} else {
					total += 15
				}
			}
			records[i] = HistoricalRecord{Date: day(i), TotalDevices: total}
		}

		result, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 10})
		require.NoError(t, err)

		assert.Equal(t, DirectionDecelerating, result.Trend.Direction)
		assert.Less(t, result.Trend.MomentumPercentage, 0.0)
	})
}

func TestEngineRunPropagatesDataShapeErrors(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	t.Run("insufficient records", func(t *testing.T) {
		_, err := engine.Run(ctx, linearRecords(1, 100, 1), RunOptions{})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("validation window too large for series", func(t *testing.T) {
		_, err := engine.Run(ctx, linearRecords(10, 100, 1), RunOptions{HorizonDays: 30, ValidationWindow: 10})
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestEngineRunHonorsCancellation(t *testing.T) {
	engine := NewEngine(DefaultModelConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx, linearRecords(60, 1000, 10), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineRunValidationIndependence(t *testing.T) {
	// The primary forecast must be identical whether the validation window is
	// 5 or 20 points: validation re-fits its own model and never mutates the
	// one producing the forecast.
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)
	records := linearRecords(90, 20000, 50)

	a, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 5})
	require.NoError(t, err)
	b, err := engine.Run(ctx, records, RunOptions{HorizonDays: 30, ValidationWindow: 20})
	require.NoError(t, err)

	require.Len(t, b.Points, len(a.Points))
	for i := range a.Points {
		assert.Equal(t, a.Points[i].PredictedValue, b.Points[i].PredictedValue)
	}
	assert.NotEqual(t, a.Validation.TestWindowSize, b.Validation.TestWindowSize)
}

func TestEngineRunGeneratedAtIsUTC(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultModelConfig(), nil)

	result, err := engine.Run(ctx, linearRecords(30, 1000, 10), RunOptions{HorizonDays: 10, ValidationWindow: 5})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, result.GeneratedAt.Location())
	assert.WithinDuration(t, time.Now().UTC(), result.GeneratedAt, time.Minute)
}
