package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "window", cfg.Smoothing.Strategy)
	assert.Equal(t, 5, cfg.Smoothing.WindowSize)
	assert.Equal(t, 0.3, cfg.Smoothing.Alpha)
	assert.Equal(t, 0.10, cfg.Threshold.Margin)
	assert.Equal(t, "previous", cfg.Threshold.Reference)
	assert.Equal(t, 16, cfg.Cores.MinActive)
	assert.Equal(t, "by-id", cfg.Cores.Selection)
	assert.Equal(t, 5*time.Second, cfg.Cycle.Interval)
	assert.Equal(t, time.Second, cfg.Cycle.SampleWindow)
	assert.Equal(t, "eno1", cfg.IRQ.Interface)
	assert.Equal(t, "performance", cfg.Governor.Performance)
	assert.Equal(t, "powersave", cfg.Governor.Powersave)
	assert.Equal(t, "/sys", cfg.Sysfs.Root)
	assert.Equal(t, "/proc", cfg.Procfs.Root)
	assert.Equal(t, ":10001", cfg.Metrics.BindAddress)
	assert.True(t, cfg.Report.Enabled)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coremanager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
smoothing:
  strategy: ema
  alpha: 0.5
cores:
  min_active: 8
  selection: lifo
cycle:
  interval: 10s
irq:
  interface: eth0
`), 0644))

	t.Setenv("COREMANAGER_CORES_MIN_ACTIVE", "4")
	t.Setenv("COREMANAGER_IRQ_INTERFACE", "eth1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NoError(t, flags.Parse([]string{"--interface=ens3", "--margin=0.2"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "ema", cfg.Smoothing.Strategy)
	assert.Equal(t, 0.5, cfg.Smoothing.Alpha)
	assert.Equal(t, "lifo", cfg.Cores.Selection)
	assert.Equal(t, 10*time.Second, cfg.Cycle.Interval)
	assert.Equal(t, 4, cfg.Cores.MinActive)
	assert.Equal(t, "ens3", cfg.IRQ.Interface)
	assert.Equal(t, 0.2, cfg.Threshold.Margin)
	// untouched flag keeps the default
	assert.Equal(t, 5, cfg.Smoothing.WindowSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "coremanager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("smoothing:\n  strategy: ema\n"), 0644))
	t.Setenv("COREMANAGER_SMOOTHING_WINDOW_SIZE", "0")
	_, err = Load(path, nil)
	assert.ErrorContains(t, err, "window_size")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Smoothing: SmoothingConfig{Strategy: "window", WindowSize: 5, Alpha: 0.3},
			Threshold: ThresholdConfig{Margin: 0.1, Reference: "previous"},
			Cores:     CoresConfig{MinActive: 16, Selection: "by-id"},
			Cycle:     CycleConfig{Interval: 5 * time.Second, SampleWindow: time.Second},
			IRQ:       IRQConfig{Interface: "eno1"},
			Governor:  GovernorConfig{Performance: "performance", Powersave: "powersave"},
		}
	}

	tcases := []struct {
		testCase string
		mutate   func(*Config)
		expErr   string
	}{
		{testCase: "valid", mutate: func(*Config) {}},
		{testCase: "window size", mutate: func(c *Config) { c.Smoothing.WindowSize = 0 }, expErr: "window_size"},
		{testCase: "alpha zero", mutate: func(c *Config) { c.Smoothing.Alpha = 0 }, expErr: "alpha"},
		{testCase: "alpha too big", mutate: func(c *Config) { c.Smoothing.Alpha = 1.01 }, expErr: "alpha"},
		{testCase: "strategy", mutate: func(c *Config) { c.Smoothing.Strategy = "kalman" }, expErr: "smoothing strategy"},
		{testCase: "margin", mutate: func(c *Config) { c.Threshold.Margin = -1 }, expErr: "margin"},
		{testCase: "reference", mutate: func(c *Config) { c.Threshold.Reference = "next" }, expErr: "reference"},
		{testCase: "floor", mutate: func(c *Config) { c.Cores.MinActive = 0 }, expErr: "min_active"},
		{testCase: "selection", mutate: func(c *Config) { c.Cores.Selection = "random" }, expErr: "selection"},
		{testCase: "interval", mutate: func(c *Config) { c.Cycle.Interval = 0 }, expErr: "cycle.interval"},
		{testCase: "sample window", mutate: func(c *Config) { c.Cycle.SampleWindow = -time.Second }, expErr: "sample_window"},
		{testCase: "interface", mutate: func(c *Config) { c.IRQ.Interface = "" }, expErr: "irq.interface"},
		{testCase: "governor", mutate: func(c *Config) { c.Governor.Powersave = "" }, expErr: "governor"},
	}

	for _, tc := range tcases {
		t.Log(tc.testCase)

		cfg := valid()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.expErr == "" {
			assert.NoError(t, err)
		} else {
			assert.ErrorContains(t, err, tc.expErr)
		}
	}
}
