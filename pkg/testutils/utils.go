package testutils

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"k8s.io/utils/cpuset"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

const DummySysRoot = "/sys"

type MockCPUControl struct {
	mock.Mock
}

func (m *MockCPUControl) PresentCPUs() (cpuset.CPUSet, error) {
	args := m.Called()
	return args.Get(0).(cpuset.CPUSet), args.Error(1)
}

func (m *MockCPUControl) IsHotpluggable(cpu int) bool {
	return m.Called(cpu).Bool(0)
}

func (m *MockCPUControl) IsOnline(cpu int) (bool, error) {
	args := m.Called(cpu)
	return args.Bool(0), args.Error(1)
}

func (m *MockCPUControl) SetOnline(cpu int, online bool) error {
	return m.Called(cpu, online).Error(0)
}

func (m *MockCPUControl) CurrentFrequency(cpu int) (uint, error) {
	args := m.Called(cpu)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockCPUControl) SetGovernor(cpu int, governor string) error {
	return m.Called(cpu, governor).Error(0)
}

type MockProcessTable struct {
	mock.Mock
}

func (m *MockProcessTable) PIDs(ctx context.Context) ([]int32, error) {
	args := m.Called(ctx)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.([]int32), args.Error(1)
}

func (m *MockProcessTable) Affinity(pid int32) (cpuset.CPUSet, error) {
	args := m.Called(pid)
	return args.Get(0).(cpuset.CPUSet), args.Error(1)
}

func (m *MockProcessTable) SetAffinity(pid int32, cpus cpuset.CPUSet) error {
	return m.Called(pid, cpus).Error(0)
}

// FakeProcessTable is an in-memory process table. SetAffinity updates the
// recorded affinity and counts writes.
type FakeProcessTable struct {
	Affinities map[int32]cpuset.CPUSet
	Writes     int
}

func NewFakeProcessTable(affinities map[int32]cpuset.CPUSet) *FakeProcessTable {
	return &FakeProcessTable{Affinities: affinities}
}

func (f *FakeProcessTable) PIDs(_ context.Context) ([]int32, error) {
	pids := make([]int32, 0, len(f.Affinities))
	for pid := range f.Affinities {
		pids = append(pids, pid)
	}
	return pids, nil
}

func (f *FakeProcessTable) Affinity(pid int32) (cpuset.CPUSet, error) {
	set, ok := f.Affinities[pid]
	if !ok {
		return cpuset.New(), fmt.Errorf("no such process %d", pid)
	}
	return set, nil
}

func (f *FakeProcessTable) SetAffinity(pid int32, cpus cpuset.CPUSet) error {
	if _, ok := f.Affinities[pid]; !ok {
		return fmt.Errorf("no such process %d", pid)
	}
	f.Affinities[pid] = cpus
	f.Writes++
	return nil
}

// MockMetricSources stands in for the load and IPC sources of a
// metrics.MetricSampler.
type MockMetricSources struct {
	mock.Mock
}

func (m *MockMetricSources) Load(ctx context.Context, window time.Duration) (float64, error) {
	args := m.Called(ctx, window)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockMetricSources) MeasureIPC(ctx context.Context, window time.Duration) (float64, error) {
	args := m.Called(ctx, window)
	return args.Get(0).(float64), args.Error(1)
}

// SequenceSampler returns the queued samples in order and repeats the last
// one once the queue is drained.
type SequenceSampler struct {
	Samples []metrics.MetricSample
	calls   int
}

func (s *SequenceSampler) Sample(_ context.Context) metrics.MetricSample {
	if len(s.Samples) == 0 {
		return metrics.MetricSample{}
	}
	i := min(s.calls, len(s.Samples)-1)
	s.calls++
	return s.Samples[i]
}

func (s *SequenceSampler) Calls() int {
	return s.calls
}

type MockUsageSource struct {
	mock.Mock
}

func (m *MockUsageSource) Usage(ctx context.Context) (map[int]float64, error) {
	args := m.Called(ctx)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.(map[int]float64), args.Error(1)
}

// SetupDummyFiles builds a sysfs cpu tree under DummySysRoot on an in-memory
// filesystem. Cores listed in offline start offline, cores listed in
// nonHotplug have no online control. Supported cpufiles keys are governor,
// available_governors and cur_freq.
func SetupDummyFiles(cores int, offline []int, nonHotplug []int, cpufiles map[string]string) afero.Fs {
	fs := afero.NewMemMapFs()
	path := filepath.Join(DummySysRoot, "devices/system/cpu")

	afero.WriteFile(fs, filepath.Join(path, "present"), []byte(fmt.Sprintf("0-%d\n", cores-1)), 0644)

	offlineSet := cpuset.New(offline...)
	fixedSet := cpuset.New(nonHotplug...)
	for i := 0; i < cores; i++ {
		cpudir := filepath.Join(path, fmt.Sprintf("cpu%d", i))
		fs.MkdirAll(filepath.Join(cpudir, "cpufreq"), 0755)

		if !fixedSet.Contains(i) {
			state := "1"
			if offlineSet.Contains(i) {
				state = "0"
			}
			afero.WriteFile(fs, filepath.Join(cpudir, "online"), []byte(state+"\n"), 0644)
		}

		for prop, value := range cpufiles {
			switch prop {
			case "governor":
				afero.WriteFile(fs, filepath.Join(cpudir, "cpufreq/scaling_governor"), []byte(value+"\n"), 0644)
			case "available_governors":
				afero.WriteFile(fs, filepath.Join(cpudir, "cpufreq/scaling_available_governors"), []byte(value+"\n"), 0644)
			case "cur_freq":
				afero.WriteFile(fs, filepath.Join(cpudir, "cpufreq/scaling_cur_freq"), []byte(value+"\n"), 0644)
			}
		}
	}

	return fs
}

// FullDummySystem is a 20 core machine with every core online and cpu0
// fixed online, as on most x86 systems.
func FullDummySystem() afero.Fs {
	return SetupDummyFiles(20, nil, []int{0}, map[string]string{
		"governor":            "performance",
		"available_governors": "performance powersave",
		"cur_freq":            "2400000",
	})
}

// ReadDummyFile returns the trimmed content of a file created by SetupDummyFiles.
func ReadDummyFile(fs afero.Fs, cpu int, name string) string {
	content, err := afero.ReadFile(fs, filepath.Join(DummySysRoot, "devices/system/cpu", fmt.Sprintf("cpu%d", cpu), name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}
