// Package http contains the HTTP handlers for the forecasting API.
// Handlers translate requests into service calls and render responses,
// with errors reported as RFC 7807 problem details. Each handler exposes
// a Routes method returning a chi sub-router mounted by the application.
package http
