package metrics

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const interruptsFileName = "interrupts"

// IRQSource reports interrupts serviced since the previous call.
type IRQSource interface {
	// Delta returns ErrNoBaseline when there is no previous reading to
	// compare against.
	Delta() (uint64, error)
}

// irqCounter identifies one cumulative counter: an interrupt line on a CPU.
type irqCounter struct {
	line string
	cpu  int
}

// InterruptSource tracks the per-CPU counters of every interrupt line that
// belongs to a network interface. A line belongs to the interface when one of
// its name fields equals the interface name or is a queue of it ("eno1-TxRx-0").
// Offline CPUs are absent from the interrupts table, so deltas are taken per
// counter and only for counters present in both readings.
type InterruptSource struct {
	fs    afero.Fs
	path  string
	iface string
	last  map[irqCounter]uint64
}

func NewInterruptSource(fs afero.Fs, procRoot, iface string) *InterruptSource {
	return &InterruptSource{
		fs:    fs,
		path:  filepath.Join(procRoot, interruptsFileName),
		iface: iface,
	}
}

// Delta returns the interrupts serviced since the previous call. The first
// call, and the first call after a failed read, only record a baseline.
// A counter that went backwards contributes nothing.
func (s *InterruptSource) Delta() (uint64, error) {
	counts, err := s.read()
	if err != nil {
		s.last = nil
		return 0, err
	}

	prev := s.last
	s.last = counts
	if prev == nil {
		return 0, ErrNoBaseline
	}

	var delta uint64
	for key, count := range counts {
		before, ok := prev[key]
		if !ok || count < before {
			continue
		}
		delta += count - before
	}

	return delta, nil
}

// Total returns the cumulative interrupt count of the interface on the
// currently online CPUs.
func (s *InterruptSource) Total() (uint64, error) {
	counts, err := s.read()
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, count := range counts {
		total += count
	}
	return total, nil
}

func (s *InterruptSource) read() (map[irqCounter]uint64, error) {
	content, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricUnavailable, errors.Wrap(err, "failed to read interrupts table"))
	}

	counts, err := parseInterfaceInterrupts(content, s.iface)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
	}

	return counts, nil
}

// parseInterfaceInterrupts returns the counters of the lines naming iface,
// keyed by line label and the CPU id taken from the table header.
func parseInterfaceInterrupts(content []byte, iface string) (map[irqCounter]uint64, error) {
	counts := make(map[irqCounter]uint64)
	var cpus []int

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if cpus == nil {
			header, err := parseInterruptsHeader(fields)
			if err != nil {
				return nil, err
			}
			cpus = header
			continue
		}

		// lines without counters
		if len(fields) < 2 || !strings.HasSuffix(fields[0], ":") {
			continue
		}

		values := make([]uint64, 0, len(cpus))
		nameStart := len(fields)
		for i, field := range fields[1:] {
			if len(values) == len(cpus) {
				nameStart = i + 1
				break
			}
			count, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				nameStart = i + 1
				break
			}
			values = append(values, count)
		}

		if !namesInterface(fields[nameStart:], iface) {
			continue
		}
		line := strings.TrimSuffix(fields[0], ":")
		for i, count := range values {
			counts[irqCounter{line: line, cpu: cpus[i]}] = count
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to parse interrupts table")
	}
	if cpus == nil {
		return nil, errors.New("interrupts table has no header")
	}

	return counts, nil
}

func parseInterruptsHeader(fields []string) ([]int, error) {
	cpus := make([]int, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.Atoi(strings.TrimPrefix(field, "CPU"))
		if err != nil || !strings.HasPrefix(field, "CPU") {
			return nil, errors.Errorf("unexpected interrupts table header field %q", field)
		}
		cpus = append(cpus, id)
	}
	return cpus, nil
}

func namesInterface(names []string, iface string) bool {
	for _, name := range names {
		if name == iface || strings.HasPrefix(name, iface+"-") {
			return true
		}
	}
	return false
}
