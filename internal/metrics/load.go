package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Func definitions for unit testing
var (
	cpuPercentFunc = cpu.PercentWithContext
)

// LoadSource reports aggregate CPU utilization in percent.
type LoadSource interface {
	Load(ctx context.Context, window time.Duration) (float64, error)
}

// CPUPercentSource measures aggregate utilization over the sampling window.
type CPUPercentSource struct{}

func (CPUPercentSource) Load(ctx context.Context, window time.Duration) (float64, error) {
	percents, err := cpuPercentFunc(ctx, window, false)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read cpu utilization: %v", ErrMetricUnavailable, err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("%w: cpu utilization source returned no values", ErrMetricUnavailable)
	}

	return percents[0], nil
}
