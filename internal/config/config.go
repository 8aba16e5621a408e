// Package config provides configuration management for the core power manager.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AMDEPYC/core-power-manager/internal/scaling"
)

const EnvPrefix = "COREMANAGER"

// Config holds all configuration for the agent.
type Config struct {
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	Threshold ThresholdConfig `mapstructure:"threshold"`
	Cores     CoresConfig     `mapstructure:"cores"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	IRQ       IRQConfig       `mapstructure:"irq"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Sysfs     RootConfig      `mapstructure:"sysfs"`
	Procfs    RootConfig      `mapstructure:"procfs"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Report    ReportConfig    `mapstructure:"report"`
}

type SmoothingConfig struct {
	Strategy   string  `mapstructure:"strategy"`
	WindowSize int     `mapstructure:"window_size"`
	Alpha      float64 `mapstructure:"alpha"`
}

type ThresholdConfig struct {
	Margin    float64 `mapstructure:"margin"`
	Reference string  `mapstructure:"reference"`
}

type CoresConfig struct {
	MinActive int    `mapstructure:"min_active"`
	Selection string `mapstructure:"selection"`
}

type CycleConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	SampleWindow time.Duration `mapstructure:"sample_window"`
}

type IRQConfig struct {
	Interface string `mapstructure:"interface"`
}

type GovernorConfig struct {
	Performance string `mapstructure:"performance"`
	Powersave   string `mapstructure:"powersave"`
}

type RootConfig struct {
	Root string `mapstructure:"root"`
}

// MetricsConfig holds the prometheus endpoint configuration. An empty
// BindAddress disables the endpoint.
type MetricsConfig struct {
	BindAddress string `mapstructure:"bind_address"`
}

type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"smoothing":            "smoothing.strategy",
	"window-size":          "smoothing.window_size",
	"alpha":                "smoothing.alpha",
	"margin":               "threshold.margin",
	"threshold-reference":  "threshold.reference",
	"min-active-cores":     "cores.min_active",
	"core-selection":       "cores.selection",
	"interval":             "cycle.interval",
	"sample-window":        "cycle.sample_window",
	"interface":            "irq.interface",
	"metrics-bind-address": "metrics.bind_address",
	"report":               "report.enabled",
}

// BindFlags registers the command line flags understood by Load.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("smoothing", scaling.WindowStrategy, "Smoothing strategy, window or ema")
	fs.Int("window-size", scaling.DefaultWindowSize, "Number of samples in the moving average window")
	fs.Float64("alpha", scaling.DefaultAlpha, "Smoothing factor of the exponential moving average")
	fs.Float64("margin", scaling.DefaultMargin, "Threshold margin over the smoothed value")
	fs.String("threshold-reference", scaling.ReferencePrevious, "Smoothed value thresholds derive from, previous or current")
	fs.Int("min-active-cores", 16, "Minimum number of online cores")
	fs.String("core-selection", scaling.SelectByID, "Core selection policy, by-id or lifo")
	fs.Duration("interval", 5*time.Second, "Sleep between control cycles")
	fs.Duration("sample-window", time.Second, "Duration of each metric sampling window")
	fs.String("interface", "eno1", "Network interface whose interrupts are monitored")
	fs.String("metrics-bind-address", ":10001", "The address the metric endpoint binds to, empty to disable")
	fs.Bool("report", true, "Print a report after every cycle")
}

// Load loads configuration from defaults, an optional file, environment
// variables and flags, in increasing order of precedence.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("coremanager")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/coremanager")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("smoothing.strategy", scaling.WindowStrategy)
	v.SetDefault("smoothing.window_size", scaling.DefaultWindowSize)
	v.SetDefault("smoothing.alpha", scaling.DefaultAlpha)

	v.SetDefault("threshold.margin", scaling.DefaultMargin)
	v.SetDefault("threshold.reference", scaling.ReferencePrevious)

	v.SetDefault("cores.min_active", 16)
	v.SetDefault("cores.selection", scaling.SelectByID)

	v.SetDefault("cycle.interval", "5s")
	v.SetDefault("cycle.sample_window", "1s")

	v.SetDefault("irq.interface", "eno1")

	v.SetDefault("governor.performance", scaling.DefaultPerformanceGovernor)
	v.SetDefault("governor.powersave", scaling.DefaultPowersaveGovernor)

	v.SetDefault("sysfs.root", "/sys")
	v.SetDefault("procfs.root", "/proc")

	v.SetDefault("metrics.bind_address", ":10001")
	v.SetDefault("report.enabled", true)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Smoothing.Strategy {
	case scaling.WindowStrategy, scaling.ExponentialStrategy:
	default:
		errs = append(errs, fmt.Errorf("unknown smoothing strategy %q", c.Smoothing.Strategy))
	}
	if c.Smoothing.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("smoothing.window_size must be at least 1, got %d", c.Smoothing.WindowSize))
	}
	if c.Smoothing.Alpha <= 0 || c.Smoothing.Alpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing.alpha must be in (0, 1], got %v", c.Smoothing.Alpha))
	}

	if c.Threshold.Margin < 0 {
		errs = append(errs, fmt.Errorf("threshold.margin must not be negative, got %v", c.Threshold.Margin))
	}
	switch c.Threshold.Reference {
	case scaling.ReferencePrevious, scaling.ReferenceCurrent:
	default:
		errs = append(errs, fmt.Errorf("unknown threshold reference %q", c.Threshold.Reference))
	}

	if c.Cores.MinActive < 1 {
		errs = append(errs, fmt.Errorf("cores.min_active must be at least 1, got %d", c.Cores.MinActive))
	}
	switch c.Cores.Selection {
	case scaling.SelectByID, scaling.SelectMostRecentlyOfflined:
	default:
		errs = append(errs, fmt.Errorf("unknown core selection policy %q", c.Cores.Selection))
	}

	if c.Cycle.Interval <= 0 {
		errs = append(errs, fmt.Errorf("cycle.interval must be positive, got %s", c.Cycle.Interval))
	}
	if c.Cycle.SampleWindow <= 0 {
		errs = append(errs, fmt.Errorf("cycle.sample_window must be positive, got %s", c.Cycle.SampleWindow))
	}

	if c.IRQ.Interface == "" {
		errs = append(errs, errors.New("irq.interface must not be empty"))
	}
	if c.Governor.Performance == "" || c.Governor.Powersave == "" {
		errs = append(errs, errors.New("governor names must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
