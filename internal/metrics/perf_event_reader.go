package metrics

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// counterValueSize is the size of a counter read without read_format flags.
const counterValueSize = 8

// Func definitions for unit testing
var (
	perfEventOpenFunc = unix.PerfEventOpen
	ioctlSetIntFunc   = unix.IoctlSetInt
	syscallRead       = unix.Read
	syscallClose      = unix.Close
)

// perfEventReader is a single hardware counter bound to one CPU.
type perfEventReader interface {
	// start zeroes and enables the counter.
	start() error
	close() error
	read() (uint64, error)
}

type defaultPerfEventReader struct {
	cpu    int
	config int
	fd     int
}

// newDefaultPerfEventReader opens a disabled counter counting every task on
// cpu. kind and config select the event as in perf_event_attr.
func newDefaultPerfEventReader(cpu, kind, config int) (perfEventReader, error) {
	attr := &unix.PerfEventAttr{
		Type:   uint32(kind),
		Config: uint64(config),
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:   unix.PerfBitDisabled | unix.PerfBitExcludeHv | unix.PerfBitInherit,
	}

	fd, err := perfEventOpenFunc(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to open perf event counter for CPU %d, config %d: %w", cpu, config, err)
	}

	return &defaultPerfEventReader{cpu: cpu, config: config, fd: fd}, nil
}

func (p *defaultPerfEventReader) start() error {
	if err := ioctlSetIntFunc(p.fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
		return fmt.Errorf("failed to reset counter on CPU %d: %w", p.cpu, err)
	}
	if err := ioctlSetIntFunc(p.fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		return fmt.Errorf("failed to enable counter on CPU %d: %w", p.cpu, err)
	}
	return nil
}

// close disables the counter before releasing it. A failed disable does not
// keep the descriptor open.
func (p *defaultPerfEventReader) close() error {
	disableErr := ioctlSetIntFunc(p.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	if err := syscallClose(p.fd); err != nil {
		return fmt.Errorf("failed to close counter on CPU %d: %w", p.cpu, err)
	}
	if disableErr != nil {
		return fmt.Errorf("failed to disable counter on CPU %d: %w", p.cpu, disableErr)
	}
	return nil
}

func (p *defaultPerfEventReader) read() (uint64, error) {
	buf := make([]byte, counterValueSize)
	n, err := syscallRead(p.fd, buf)
	if err != nil {
		return 0, fmt.Errorf("failed to read perf event counter for CPU %d, config %d: %w", p.cpu, p.config, err)
	}
	if n < counterValueSize {
		return 0, fmt.Errorf("short read of perf event counter for CPU %d: got %d bytes", p.cpu, n)
	}

	return binary.LittleEndian.Uint64(buf), nil
}
