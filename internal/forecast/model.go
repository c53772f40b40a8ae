package forecast

import (
	"fmt"
	"log/slog"
	"math"
)

// seasonalityPeriod is the weekly period in days for the optional Fourier
// component.
const seasonalityPeriod = 7.0

// seasonalityPenalty is the ridge penalty applied to seasonal coefficients
// when weekly seasonality is enabled.
const seasonalityPenalty = 0.1

// TrendModel fits a piecewise-linear growth curve to a prepared series and
// produces point forecasts with uncertainty bounds.
//
// The trend is y(t) = m + k*t + sum_j delta_j * max(0, t - s_j) over candidate
// changepoints s_j, estimated by penalized least squares. The changepoint
// deltas carry a ridge penalty of 1/ChangepointFlexibility, so the default
// near-zero flexibility collapses the fit toward a single long-run line.
//
// A TrendModel instance is owned by exactly one forecasting run and is not
// safe for concurrent use.
type TrendModel struct {
	cfg    ModelConfig
	logger *slog.Logger

	fitted       bool
	series       *Series
	t            []float64 // days since the first observation
	changepoints []float64
	coeffs       []float64 // intercept, slope, deltas..., seasonal...
	trendCoeffs  int       // number of leading non-seasonal coefficients
	sigma        float64   // residual standard deviation
	trendFitted  []float64 // fitted trend (seasonality and noise stripped)
}

// NewTrendModel creates an unfitted trend model with the given configuration.
func NewTrendModel(cfg ModelConfig, logger *slog.Logger) *TrendModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrendModel{cfg: cfg.normalize(), logger: logger}
}

// Fit estimates the trend over the series. Fails with ErrInsufficientData for
// series shorter than two points and with ErrFitting when the penalized
// normal equations are degenerate.
func (m *TrendModel) Fit(series *Series) error {
	if series == nil || series.Len() < 2 {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return fmt.Errorf("fit: need at least 2 points, got %d: %w", n, ErrInsufficientData)
	}

	n := series.Len()
	t := make([]float64, n)
	first := series.First().Date
	for i, p := range series.Points {
		t[i] = p.Date.Sub(first).Hours() / 24
	}

	changepoints := placeChangepoints(t[n-1], n, m.cfg)
	trendCoeffs := 2 + len(changepoints)
	k := trendCoeffs
	if m.cfg.WeeklySeasonality {
		k += 2 * m.cfg.FourierOrder
	}

	// Penalized normal equations: (X'X + L) b = X'y.
	xtx := make([][]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	xty := make([]float64, k)

	row := make([]float64, k)
	for i := 0; i < n; i++ {
		m.designRow(t[i], changepoints, row)
		y := series.Points[i].Value
		for a := 0; a < k; a++ {
			xty[a] += row[a] * y
			for b := a; b < k; b++ {
				xtx[a][b] += row[a] * row[b]
			}
		}
	}
	for a := 0; a < k; a++ {
		for b := 0; b < a; b++ {
			xtx[a][b] = xtx[b][a]
		}
	}

	// Ridge penalties: none on intercept and base slope, 1/flexibility on
	// changepoint deltas, a fixed mild penalty on seasonal terms.
	deltaPenalty := 1 / m.cfg.ChangepointFlexibility
	for j := 2; j < trendCoeffs; j++ {
		xtx[j][j] += deltaPenalty
	}
	for j := trendCoeffs; j < k; j++ {
		xtx[j][j] += seasonalityPenalty
	}

	coeffs, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	// Residual variance and the fitted trend component.
	trendFitted := make([]float64, n)
	sse := 0.0
	for i := 0; i < n; i++ {
		m.designRow(t[i], changepoints, row)
		yhat := 0.0
		trend := 0.0
		for a := 0; a < k; a++ {
			yhat += coeffs[a] * row[a]
			if a < trendCoeffs {
				trend += coeffs[a] * row[a]
			}
		}
		trendFitted[i] = trend
		resid := series.Points[i].Value - yhat
		sse += resid * resid
	}
	dof := n - k
	if dof < 1 {
		dof = 1
	}

	m.series = series
	m.t = t
	m.changepoints = changepoints
	m.coeffs = coeffs
	m.trendCoeffs = trendCoeffs
	m.sigma = math.Sqrt(sse / float64(dof))
	m.trendFitted = trendFitted
	m.fitted = true

	m.logger.Debug("trend model fitted",
		slog.Int("points", n),
		slog.Int("changepoints", len(changepoints)),
		slog.Float64("slope", coeffs[1]),
		slog.Float64("residual_std", m.sigma))
	return nil
}

// Predict returns one ForecastPoint per future calendar day, extending
// immediately past the last observed date. Fails with ErrModelNotFitted when
// called before Fit.
func (m *TrendModel) Predict(horizonDays int) ([]ForecastPoint, error) {
	if !m.fitted {
		return nil, fmt.Errorf("predict: %w", ErrModelNotFitted)
	}
	if horizonDays < 1 {
		return nil, fmt.Errorf("predict: horizon must be positive, got %d", horizonDays)
	}

	n := m.series.Len()
	lastDate := m.series.Last().Date
	lastT := m.t[n-1]
	z := normalQuantile((1 + m.cfg.IntervalWidth) / 2)

	row := make([]float64, len(m.coeffs))
	points := make([]ForecastPoint, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		tf := lastT + float64(h)
		m.designRow(tf, m.changepoints, row)
		yhat := 0.0
		for a, c := range m.coeffs {
			yhat += c * row[a]
		}

		// Uncertainty compounds with distance from the last observation,
		// so the band width is non-decreasing in the horizon.
		se := m.sigma * math.Sqrt(1+float64(h)/float64(n))
		points[h-1] = ForecastPoint{
			Date:            lastDate.AddDate(0, 0, h),
			PredictedValue:  yhat,
			LowerBound:      yhat - z*se,
			UpperBound:      yhat + z*se,
			ConfidenceLevel: m.cfg.IntervalWidth,
		}
	}
	return points, nil
}

// TrendComponent returns the fitted smooth trend at each observed date, with
// seasonality and noise stripped.
func (m *TrendModel) TrendComponent() ([]float64, error) {
	if !m.fitted {
		return nil, fmt.Errorf("trend component: %w", ErrModelNotFitted)
	}
	trend := make([]float64, len(m.trendFitted))
	copy(trend, m.trendFitted)
	return trend, nil
}

// ResidualStd returns the residual standard deviation of the fit.
func (m *TrendModel) ResidualStd() (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("residual std: %w", ErrModelNotFitted)
	}
	return m.sigma, nil
}

// designRow fills row with the regression features for time t: intercept,
// slope, changepoint hinges and, when enabled, weekly Fourier terms.
func (m *TrendModel) designRow(t float64, changepoints []float64, row []float64) {
	row[0] = 1
	row[1] = t
	for j, cp := range changepoints {
		if t > cp {
			row[2+j] = t - cp
		} else {
			row[2+j] = 0
		}
	}
	if m.cfg.WeeklySeasonality {
		base := 2 + len(changepoints)
		for o := 1; o <= m.cfg.FourierOrder; o++ {
			angle := 2 * math.Pi * float64(o) * t / seasonalityPeriod
			row[base+2*(o-1)] = math.Sin(angle)
			row[base+2*(o-1)+1] = math.Cos(angle)
		}
	}
}

// placeChangepoints spreads candidate changepoints uniformly over the first
// ChangepointRange share of the observed span. Short series get fewer
// candidates so the system stays overdetermined.
func placeChangepoints(tMax float64, n int, cfg ModelConfig) []float64 {
	num := cfg.MaxChangepoints
	if limit := n - 2; num > limit {
		num = limit
	}
	if num < 1 || tMax <= 0 {
		return nil
	}

	span := tMax * cfg.ChangepointRange
	changepoints := make([]float64, 0, num)
	for j := 1; j <= num; j++ {
		cp := span * float64(j) / float64(num+1)
		if cp > 0 {
			changepoints = append(changepoints, cp)
		}
	}
	return changepoints
}
