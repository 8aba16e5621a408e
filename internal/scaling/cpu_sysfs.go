package scaling

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"k8s.io/utils/cpuset"
)

const (
	cpuBasePath   = "devices/system/cpu"
	presentFile   = "present"
	onlineFile    = "online"
	cpuFreqDir    = "cpufreq"
	governorFile  = "scaling_governor"
	availGovFile  = "scaling_available_governors"
	curFreqFile   = "scaling_cur_freq"
	sysfsFileMode = 0644
)

// CPUControl is the OS-facing side of per-core online state and frequency scaling.
type CPUControl interface {
	PresentCPUs() (cpuset.CPUSet, error)
	// IsHotpluggable reports whether the core exposes an online control.
	IsHotpluggable(cpu int) bool
	IsOnline(cpu int) (bool, error)
	SetOnline(cpu int, online bool) error
	// CurrentFrequency returns the current frequency in kHz.
	CurrentFrequency(cpu int) (uint, error)
	SetGovernor(cpu int, governor string) error
}

// SysfsCPUControl implements CPUControl on top of /sys/devices/system/cpu.
type SysfsCPUControl struct {
	fs   afero.Fs
	root string
}

func NewSysfsCPUControl(fs afero.Fs, sysRoot string) *SysfsCPUControl {
	return &SysfsCPUControl{
		fs:   fs,
		root: filepath.Join(sysRoot, cpuBasePath),
	}
}

func (c *SysfsCPUControl) cpuPath(cpu int, resource ...string) string {
	return filepath.Join(append([]string{c.root, fmt.Sprintf("cpu%d", cpu)}, resource...)...)
}

func (c *SysfsCPUControl) readString(path string) (string, error) {
	content, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

func (c *SysfsCPUControl) PresentCPUs() (cpuset.CPUSet, error) {
	path := filepath.Join(c.root, presentFile)
	content, err := c.readString(path)
	if err != nil {
		return cpuset.New(), errors.Wrap(err, "failed to read present cpus")
	}

	cpus, err := cpuset.Parse(content)
	if err != nil {
		return cpuset.New(), errors.Wrapf(err, "failed to parse present cpus %q", content)
	}

	return cpus, nil
}

func (c *SysfsCPUControl) IsHotpluggable(cpu int) bool {
	exists, err := afero.Exists(c.fs, c.cpuPath(cpu, onlineFile))
	return err == nil && exists
}

// IsOnline reports cores without an online control as permanently online.
func (c *SysfsCPUControl) IsOnline(cpu int) (bool, error) {
	if !c.IsHotpluggable(cpu) {
		return true, nil
	}

	state, err := c.readString(c.cpuPath(cpu, onlineFile))
	if err != nil {
		return false, fmt.Errorf("failed to read online state for cpu %d: %w", cpu, err)
	}

	switch state {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected online state %q for cpu %d", state, cpu)
	}
}

func (c *SysfsCPUControl) SetOnline(cpu int, online bool) error {
	if !c.IsHotpluggable(cpu) {
		return fmt.Errorf("cpu %d does not support hotplug", cpu)
	}

	value := "0"
	if online {
		value = "1"
	}
	if err := afero.WriteFile(c.fs, c.cpuPath(cpu, onlineFile), []byte(value), sysfsFileMode); err != nil {
		return fmt.Errorf("failed to set online state %s for cpu %d: %w", value, cpu, err)
	}

	return nil
}

// CurrentFrequency returns the CPU frequency in kHz for the specified CPU.
func (c *SysfsCPUControl) CurrentFrequency(cpu int) (uint, error) {
	freqStr, err := c.readString(c.cpuPath(cpu, cpuFreqDir, curFreqFile))
	if err != nil {
		return 0, fmt.Errorf("failed to read current frequency for CPU %d: %w", cpu, err)
	}

	freq, err := strconv.ParseUint(freqStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert frequency for CPU %d to uint: %w", cpu, err)
	}

	return uint(freq), nil
}

// SetGovernor writes the scaling governor of one CPU. When the kernel lists
// the available governors, an unlisted governor is rejected without writing.
func (c *SysfsCPUControl) SetGovernor(cpu int, governor string) error {
	governorPath := c.cpuPath(cpu, cpuFreqDir, governorFile)
	if _, err := c.fs.Stat(governorPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("cpu %d has no frequency scaling support", cpu)
		}
		return fmt.Errorf("failed to stat governor for cpu %d: %w", cpu, err)
	}

	if available, err := c.readString(c.cpuPath(cpu, cpuFreqDir, availGovFile)); err == nil {
		if !containsField(available, governor) {
			return fmt.Errorf("governor %q not available for cpu %d (available: %s)", governor, cpu, available)
		}
	}

	if err := afero.WriteFile(c.fs, governorPath, []byte(governor), sysfsFileMode); err != nil {
		return fmt.Errorf("failed to set governor %q for cpu %d: %w", governor, cpu, err)
	}

	return nil
}

func containsField(list, value string) bool {
	for _, field := range strings.Fields(list) {
		if field == value {
			return true
		}
	}
	return false
}
