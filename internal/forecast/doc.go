// Package forecast implements the network growth forecasting pipeline for
// ChainIntel: series preparation, piecewise-linear trend fitting with
// uncertainty intervals, holdout validation and trend momentum analysis.
//
// The pipeline is built around four pieces used in order:
//
//	SeriesPreparer    normalizes raw daily records into a clean Series
//	TrendModel        fits a growth curve and produces bounded forecasts
//	ValidationHarness re-fits on a held-out prefix and scores accuracy
//	Engine            orchestrates the above and assembles a ForecastResult
//
// All state is owned by a single run. A TrendModel instance is not safe for
// concurrent use; construct a fresh model per forecasting invocation.
package forecast
