// Package telemetry provides OpenTelemetry tracing and metrics for taskvault.
//
// Telemetry is optional. When disabled, Tracer and Meter return no-op
// implementations and instrumented code runs without overhead worth noticing.
// Provider initialization failures degrade instead of crashing: the engine
// keeps persisting records even when the collector is unreachable.
package telemetry
