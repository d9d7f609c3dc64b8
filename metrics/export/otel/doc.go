// Package otel publishes authcore metrics through an OpenTelemetry meter.
//
// Counters become Int64ObservableCounter instruments. Each latency bucket
// becomes a cumulative Int64ObservableGauge. The caller owns the
// MeterProvider.
package otel
