package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

// Func definitions for unit testing
var (
	cpuTimesFunc = cpu.TimesWithContext
)

// CoreUsageTracker derives per-core busy percentage from the difference of
// cumulative cpu times between two consecutive calls. Offline cores are
// absent from the kernel statistics and therefore from the result.
type CoreUsageTracker struct {
	last map[int]cpu.TimesStat
}

func NewCoreUsageTracker() *CoreUsageTracker {
	return &CoreUsageTracker{last: make(map[int]cpu.TimesStat)}
}

// Usage returns busy percentage per core id. Cores seen for the first time
// report 0.
func (t *CoreUsageTracker) Usage(ctx context.Context) (map[int]float64, error) {
	times, err := cpuTimesFunc(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read per-cpu times: %v", ErrMetricUnavailable, err)
	}

	usage := make(map[int]float64, len(times))
	current := make(map[int]cpu.TimesStat, len(times))
	for _, stat := range times {
		id, err := strconv.Atoi(strings.TrimPrefix(stat.CPU, "cpu"))
		if err != nil {
			continue
		}
		current[id] = stat

		prev, ok := t.last[id]
		if !ok {
			usage[id] = 0
			continue
		}
		usage[id] = busyPercent(prev, stat)
	}
	t.last = current

	return usage, nil
}

func busyPercent(prev, cur cpu.TimesStat) float64 {
	idle := func(s cpu.TimesStat) float64 { return s.Idle + s.Iowait }

	total := cur.Total() - prev.Total()
	if total <= 0 {
		return 0
	}
	busy := total - (idle(cur) - idle(prev))
	if busy < 0 {
		return 0
	}

	return busy / total * 100
}
