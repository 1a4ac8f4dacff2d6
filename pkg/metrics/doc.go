// Package metrics exposes Prometheus collectors for task, reservation,
// control loop and API instrumentation.
//
// Collectors are registered with the default registry at package init
// and served over HTTP via Handler. The Timer type wraps a start time
// for histogram duration observations:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDuration(metrics.ControlLoopDuration)
package metrics
