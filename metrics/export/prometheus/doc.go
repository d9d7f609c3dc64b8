// Package prometheus renders authcore counters and latency histograms in the
// Prometheus text exposition format. Callers mount [Exporter.Handler]; nothing
// is registered globally.
package prometheus
