package metrics

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type mockFileDescriptor struct {
	readData         []byte
	currentReadIndex int
	readErr          error
}

func (m *mockFileDescriptor) Read(fd int, b []byte) (n int, err error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	n = copy(b, m.readData[m.currentReadIndex:])
	m.currentReadIndex += n
	return n, nil
}

func counterBytes(values ...uint64) []byte {
	data := make([]byte, 0, len(values)*counterValueSize)
	for _, value := range values {
		buf := make([]byte, counterValueSize)
		binary.LittleEndian.PutUint64(buf, value)
		data = append(data, buf...)
	}
	return data
}

// stubCounterSyscalls replaces the perf syscalls and records ioctl requests.
func stubCounterSyscalls(t *testing.T, ioctlErr map[uint]error) *[]uint {
	origOpen, origIoctl, origRead, origClose := perfEventOpenFunc, ioctlSetIntFunc, syscallRead, syscallClose
	t.Cleanup(func() {
		perfEventOpenFunc, ioctlSetIntFunc, syscallRead, syscallClose = origOpen, origIoctl, origRead, origClose
	})

	requests := make([]uint, 0)
	perfEventOpenFunc = func(attr *unix.PerfEventAttr, pid, cpu, groupFd int, flags int) (int, error) {
		if cpu < 0 {
			return -1, unix.EINVAL
		}
		return 100 + cpu, nil
	}
	ioctlSetIntFunc = func(fd int, req uint, value int) error {
		requests = append(requests, req)
		return ioctlErr[req]
	}
	syscallClose = func(fd int) error {
		return nil
	}

	return &requests
}

func TestNewDefaultPerfEventReader(t *testing.T) {
	requests := stubCounterSyscalls(t, nil)

	reader, err := newDefaultPerfEventReader(2, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS)
	require.NoError(t, err)
	assert.Equal(t, 102, reader.(*defaultPerfEventReader).fd)

	require.NoError(t, reader.start())
	require.NoError(t, reader.close())
	assert.Equal(t, []uint{unix.PERF_EVENT_IOC_RESET, unix.PERF_EVENT_IOC_ENABLE, unix.PERF_EVENT_IOC_DISABLE}, *requests)

	_, err = newDefaultPerfEventReader(-1, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES)
	assert.ErrorIs(t, err, unix.EINVAL)
}

func TestDefaultPerfEventReader_StartError(t *testing.T) {
	stubCounterSyscalls(t, map[uint]error{unix.PERF_EVENT_IOC_ENABLE: unix.EACCES})
	reader := &defaultPerfEventReader{cpu: 1}

	err := reader.start()
	assert.ErrorIs(t, err, unix.EACCES)
	assert.ErrorContains(t, err, "failed to enable")
}

func TestDefaultPerfEventReader_CloseAfterDisableError(t *testing.T) {
	stubCounterSyscalls(t, map[uint]error{unix.PERF_EVENT_IOC_DISABLE: unix.EBADF})
	closed := false
	syscallClose = func(fd int) error {
		closed = true
		return nil
	}

	err := (&defaultPerfEventReader{cpu: 1}).close()
	assert.ErrorIs(t, err, unix.EBADF)
	assert.True(t, closed)
}

func TestDefaultPerfEventReaderRead_Success(t *testing.T) {
	mockFd := &mockFileDescriptor{readData: counterBytes(100, 250)}
	reader := &defaultPerfEventReader{}

	originalSyscallRead := syscallRead
	defer func() { syscallRead = originalSyscallRead }()
	syscallRead = mockFd.Read

	value, err := reader.read()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), value)

	value, err = reader.read()
	require.NoError(t, err)
	assert.Equal(t, uint64(250), value)
}

func TestDefaultPerfEventReaderRead_Error(t *testing.T) {
	mockFd := &mockFileDescriptor{readErr: errors.New("bad file descriptor")}
	reader := &defaultPerfEventReader{cpu: 3}

	originalSyscallRead := syscallRead
	defer func() { syscallRead = originalSyscallRead }()
	syscallRead = mockFd.Read

	_, err := reader.read()
	assert.ErrorContains(t, err, "CPU 3")
}

func TestDefaultPerfEventReaderRead_ShortRead(t *testing.T) {
	mockFd := &mockFileDescriptor{readData: []byte{1, 2, 3}}
	reader := &defaultPerfEventReader{}

	originalSyscallRead := syscallRead
	defer func() { syscallRead = originalSyscallRead }()
	syscallRead = mockFd.Read

	_, err := reader.read()
	assert.ErrorContains(t, err, "short read")
}
