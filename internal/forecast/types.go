package forecast

import (
	"time"
)

// HistoricalRecord is a single day's network adoption snapshot as supplied by
// the historical-data source. At most one record may exist per calendar date.
type HistoricalRecord struct {
	Date         time.Time `json:"date"`
	TotalDevices int64     `json:"total_devices"`
	NewDevices   int64     `json:"new_devices"` // may be negative on churn days
	ObservedAt   time.Time `json:"observed_at"`
}

// Point is one (date, value) observation in a prepared series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a date-ordered sequence of observations with strictly increasing
// dates and no duplicates. It is owned exclusively by a single forecasting run.
type Series struct {
	Points []Point
}

// Len returns the number of observations in the series.
func (s *Series) Len() int {
	return len(s.Points)
}

// First returns the earliest observation.
func (s *Series) First() Point {
	return s.Points[0]
}

// Last returns the most recent observation.
func (s *Series) Last() Point {
	return s.Points[len(s.Points)-1]
}

// Values returns the observation values in date order.
func (s *Series) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}

// Slice returns a new Series over points [from, to). The underlying points are
// copied so the two series do not share state.
func (s *Series) Slice(from, to int) *Series {
	points := make([]Point, to-from)
	copy(points, s.Points[from:to])
	return &Series{Points: points}
}

// ForecastPoint is a single future-day prediction with uncertainty bounds.
// LowerBound <= PredictedValue <= UpperBound always holds, and the bound width
// is non-decreasing as the horizon grows.
type ForecastPoint struct {
	Date            time.Time `json:"date"`
	PredictedValue  float64   `json:"predicted_value"`
	LowerBound      float64   `json:"lower_bound"`
	UpperBound      float64   `json:"upper_bound"`
	ConfidenceLevel float64   `json:"confidence_level"`
}

// GrowthMilestone summarizes predicted growth at a fixed checkpoint ahead of
// the last observation.
type GrowthMilestone struct {
	HorizonDays      int     `json:"horizon_days"`
	PredictedValue   float64 `json:"predicted_value"`
	AbsoluteGrowth   float64 `json:"absolute_growth"`
	GrowthPercentage float64 `json:"growth_percentage"`
}

// ValidationMetrics scores a model against a held-out window.
type ValidationMetrics struct {
	MAE            float64 `json:"mae"`
	RMSE           float64 `json:"rmse"`
	MAPE           float64 `json:"mape"`
	TestWindowSize int     `json:"test_window_size"`
}

// Trend direction classifications.
const (
	DirectionAccelerating = "accelerating"
	DirectionDecelerating = "decelerating"
)

// TrendAnalysis describes the momentum of the fitted trend: the day-over-day
// change of the smooth trend curve, compared between the most recent and the
// earliest observed windows.
type TrendAnalysis struct {
	AvgDailyTrendChange float64 `json:"avg_daily_trend_change"`
	RecentWindowAvg     float64 `json:"recent_window_avg"`
	HistoricalWindowAvg float64 `json:"historical_window_avg"`
	Direction           string  `json:"direction"`
	MomentumPercentage  float64 `json:"momentum_percentage"`
}

// ForecastResult is the assembled output of a full forecasting run.
type ForecastResult struct {
	RunID           string            `json:"run_id"`
	GeneratedAt     time.Time         `json:"generated_at"`
	ModelType       string            `json:"model_type"`
	HorizonDays     int               `json:"forecast_horizon"`
	CurrentValue    float64           `json:"current_value"`
	CurrentDate     time.Time         `json:"current_date"`
	ConfidenceLevel float64           `json:"confidence_level"`
	Points          []ForecastPoint   `json:"predictions"`
	Milestones      []GrowthMilestone `json:"growth_milestones"`
	AvgDailyGrowth  float64           `json:"avg_daily_growth"`
	Validation      ValidationMetrics `json:"validation"`
	Trend           TrendAnalysis     `json:"trend_analysis"`
}

// Default model parameters. The changepoint flexibility default is
// deliberately near zero: the histories this system forecasts over (tens to
// low hundreds of days) are treated as near-linear, trading local fit for
// forecast stability.
const (
	DefaultChangepointFlexibility = 0.001
	DefaultMaxChangepoints        = 25
	DefaultChangepointRange       = 0.8
	DefaultIntervalWidth          = 0.90
	DefaultFourierOrder           = 3
)

// ModelConfig controls trend model fitting.
type ModelConfig struct {
	// ChangepointFlexibility controls how readily the fitted trend may bend
	// at internal changepoints. Lower values favor a single long-run line.
	ChangepointFlexibility float64 `json:"changepoint_flexibility"`
	// MaxChangepoints caps the number of candidate changepoints placed
	// uniformly over the first ChangepointRange of the series.
	MaxChangepoints  int     `json:"max_changepoints"`
	ChangepointRange float64 `json:"changepoint_range"`
	// IntervalWidth is the confidence level of the forecast bounds (0..1).
	IntervalWidth float64 `json:"interval_width"`
	// WeeklySeasonality enables a weekly Fourier component. Off by default:
	// the target series is not expected to show calendar-periodic structure.
	WeeklySeasonality bool `json:"weekly_seasonality"`
	FourierOrder      int  `json:"fourier_order"`
}

// DefaultModelConfig returns the production configuration: near-linear growth,
// no seasonality, 90% intervals.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ChangepointFlexibility: DefaultChangepointFlexibility,
		MaxChangepoints:        DefaultMaxChangepoints,
		ChangepointRange:       DefaultChangepointRange,
		IntervalWidth:          DefaultIntervalWidth,
		WeeklySeasonality:      false,
		FourierOrder:           DefaultFourierOrder,
	}
}

// normalize fills zero-valued fields with defaults and clamps ranges.
func (c ModelConfig) normalize() ModelConfig {
	if c.ChangepointFlexibility <= 0 {
		c.ChangepointFlexibility = DefaultChangepointFlexibility
	}
	if c.MaxChangepoints <= 0 {
		c.MaxChangepoints = DefaultMaxChangepoints
	}
	if c.ChangepointRange <= 0 || c.ChangepointRange > 1 {
		c.ChangepointRange = DefaultChangepointRange
	}
	if c.IntervalWidth <= 0 || c.IntervalWidth >= 1 {
		c.IntervalWidth = DefaultIntervalWidth
	}
	if c.FourierOrder <= 0 {
		c.FourierOrder = DefaultFourierOrder
	}
	return c
}
