package metrics

import "errors"

var (
	// ErrMetricUnavailable is returned when a raw metric source failed to read
	// or parse. Callers substitute a neutral value and keep going.
	ErrMetricUnavailable = errors.New("metric is unavailable")
	// ErrNoBaseline is returned by delta sources on their first reading.
	ErrNoBaseline = errors.New("no baseline reading yet")
)

// Internal helper constants for logging
const (
	cpuLogKey    = "cpu"
	metricLogKey = "metric"

	loadMetricName = "load"
	irqMetricName  = "irq"
	ipcMetricName  = "ipc"
)
