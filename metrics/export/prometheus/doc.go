// Package prometheus renders trustcore metrics in Prometheus text exposition
// format. Counters are named trustcore_*_total and the single histogram is
// trustcore_verify_latency_seconds.
//
// Nothing is registered globally; callers mount [Exporter.Handler] themselves.
package prometheus
