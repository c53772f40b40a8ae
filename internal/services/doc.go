// Package services contains the business logic layer between the HTTP
// transport and the forecasting, storage, and telemetry packages. Services
// own orchestration concerns: data sourcing, concurrency limits, event
// broadcasting, and persistence of results.
package services
