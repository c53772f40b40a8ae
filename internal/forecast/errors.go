package forecast

import "errors"

// Sentinel errors for the forecasting pipeline. Callers match with errors.Is;
// wrapped messages carry the operation-specific detail.
var (
	// ErrInsufficientData indicates fewer data points than the operation
	// requires. Recoverable by retrying with more history or a smaller
	// validation window.
	ErrInsufficientData = errors.New("insufficient data points")

	// ErrModelNotFitted indicates Predict was called before Fit.
	ErrModelNotFitted = errors.New("model not fitted")

	// ErrFitting indicates the trend fit did not converge to a solution.
	// Retryable by the caller; never fatal to the process.
	ErrFitting = errors.New("model fitting failed")
)
