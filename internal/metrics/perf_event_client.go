package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
	"k8s.io/utils/cpuset"
)

// Func definitions for unit testing
var (
	newDefaultPerfEventReaderFunc func(int, int, int) (perfEventReader, error) = newDefaultPerfEventReader
)

// IPCSource measures instructions-per-cycle over a sampling window.
type IPCSource interface {
	MeasureIPC(ctx context.Context, window time.Duration) (float64, error)
}

// counterPair holds the instructions and cycles readers opened on one CPU.
type counterPair struct {
	cpu          int
	instructions perfEventReader
	cycles       perfEventReader
}

// PerfEventIPCSource measures machine-wide IPC with perf_event_open counters.
// Counters are opened on every online CPU at the start of a measurement and
// closed at the end, so cores brought online between cycles are picked up.
type PerfEventIPCSource struct {
	onlineCPUs func() cpuset.CPUSet
	clock      clock.Clock
	log        logr.Logger
}

// NewPerfEventIPCSource creates IPC source counting on the CPUs returned by
// onlineCPUs at the time of each measurement.
func NewPerfEventIPCSource(log logr.Logger, clk clock.Clock, onlineCPUs func() cpuset.CPUSet) *PerfEventIPCSource {
	src := &PerfEventIPCSource{
		onlineCPUs: onlineCPUs,
		clock:      clk,
		log:        log,
	}
	src.log.V(4).Info("New PerfEventIPCSource created")

	return src
}

// MeasureIPC blocks for window and returns retired instructions divided by
// cycles summed over all online CPUs.
func (s *PerfEventIPCSource) MeasureIPC(ctx context.Context, window time.Duration) (float64, error) {
	pairs := s.openCounters()
	defer s.closeCounters(pairs)

	if len(pairs) == 0 {
		return 0, fmt.Errorf("%w: no perf event counters could be opened", ErrMetricUnavailable)
	}

	begin := make([][2]uint64, len(pairs))
	for i, pair := range pairs {
		instructions, cycles, err := readPair(pair)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
		}
		begin[i] = [2]uint64{instructions, cycles}
	}

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrMetricUnavailable, ctx.Err())
	case <-s.clock.After(window):
	}

	var totalInstructions, totalCycles uint64
	for i, pair := range pairs {
		instructions, cycles, err := readPair(pair)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
		}
		totalInstructions += counterDelta(begin[i][0], instructions)
		totalCycles += counterDelta(begin[i][1], cycles)
	}

	if totalCycles == 0 {
		return 0, nil
	}

	return float64(totalInstructions) / float64(totalCycles), nil
}

func (s *PerfEventIPCSource) openCounters() []counterPair {
	pairs := make([]counterPair, 0)

	for _, cpu := range s.onlineCPUs().List() {
		logger := s.log.WithValues(cpuLogKey, cpu)

		instructions, err := s.openCounter(cpu, unix.PERF_COUNT_HW_INSTRUCTIONS)
		if err != nil {
			logger.V(5).Info(fmt.Sprintf("skipping cpu, err: %v", err))
			continue
		}
		cycles, err := s.openCounter(cpu, unix.PERF_COUNT_HW_CPU_CYCLES)
		if err != nil {
			logger.V(5).Info(fmt.Sprintf("skipping cpu, err: %v", err))
			if err := instructions.close(); err != nil {
				logger.V(5).Info(fmt.Sprintf("error while closing reader, err: %v", err))
			}
			continue
		}

		pairs = append(pairs, counterPair{cpu: cpu, instructions: instructions, cycles: cycles})
	}

	return pairs
}

func (s *PerfEventIPCSource) openCounter(cpu, config int) (perfEventReader, error) {
	reader, err := newDefaultPerfEventReaderFunc(cpu, unix.PERF_TYPE_HARDWARE, config)
	if err != nil {
		return nil, err
	}
	if err := reader.start(); err != nil {
		if closeErr := reader.close(); closeErr != nil {
			s.log.V(5).Info(fmt.Sprintf("error while closing reader, err: %v", closeErr), cpuLogKey, cpu)
		}
		return nil, fmt.Errorf("failed to start perf event reader on CPU %d: %w", cpu, err)
	}

	return reader, nil
}

func (s *PerfEventIPCSource) closeCounters(pairs []counterPair) {
	for _, pair := range pairs {
		for _, reader := range []perfEventReader{pair.instructions, pair.cycles} {
			if err := reader.close(); err != nil {
				s.log.V(5).Info(fmt.Sprintf("error while closing reader, err: %v", err), cpuLogKey, pair.cpu)
			}
		}
	}
}

func readPair(pair counterPair) (uint64, uint64, error) {
	instructions, err := pair.instructions.read()
	if err != nil {
		return 0, 0, err
	}
	cycles, err := pair.cycles.read()
	if err != nil {
		return 0, 0, err
	}

	return instructions, cycles, nil
}

// counterDelta treats a counter going backwards as restarted.
func counterDelta(before, after uint64) uint64 {
	if after < before {
		return after
	}
	return after - before
}
