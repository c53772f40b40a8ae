// Package app wires the application together: configuration, logging,
// OpenTelemetry, the database store, the telemetry client, the forecast
// services, the websocket hub, and the HTTP router. It owns startup
// ordering and graceful shutdown.
//
// The dependency flow is one-directional:
//
//	config -> infrastructure -> store/telemetry/simulator -> services -> transport
//
// Optional dependencies degrade instead of failing startup: without a
// database DSN the service runs store-less (forecasts are not persisted),
// and without real history the simulator can supply synthetic records when
// simulation is enabled.
package app
