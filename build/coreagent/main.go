/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlMetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/AMDEPYC/core-power-manager/internal/config"
	"github.com/AMDEPYC/core-power-manager/internal/metrics"
	"github.com/AMDEPYC/core-power-manager/internal/monitoring"
	"github.com/AMDEPYC/core-power-manager/internal/scaling"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "Path to config file")
	config.BindFlags(pflag.CommandLine)
	logOpts := zap.Options{}
	logOpts.BindFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
		zap.UseFlagOptions(&logOpts),
	),
	)

	cfg, err := config.Load(configPath, pflag.CommandLine)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	fs := afero.NewOsFs()
	clk := clock.RealClock{}
	control := scaling.NewSysfsCPUControl(fs, cfg.Sysfs.Root)

	selection, err := scaling.NewSelectionPolicy(cfg.Cores.Selection)
	if err != nil {
		setupLog.Error(err, "invalid core selection policy")
		os.Exit(1)
	}
	machine, err := scaling.NewCoreStateMachine(control, selection, cfg.Cores.MinActive, ctrl.Log.WithName("CoreStateMachine"))
	if err != nil {
		setupLog.Error(err, "unable to read core topology")
		os.Exit(1)
	}

	factory, err := scaling.NewSmootherFactory(cfg.Smoothing.Strategy, cfg.Smoothing.WindowSize, cfg.Smoothing.Alpha)
	if err != nil {
		setupLog.Error(err, "invalid smoothing configuration")
		os.Exit(1)
	}
	thresholds, err := scaling.NewThresholdPolicy(cfg.Threshold.Margin, cfg.Threshold.Reference)
	if err != nil {
		setupLog.Error(err, "invalid threshold configuration")
		os.Exit(1)
	}

	sampler := metrics.NewMetricSampler(
		ctrl.Log.WithName("MetricSampler"),
		cfg.Cycle.SampleWindow,
		metrics.CPUPercentSource{},
		metrics.NewInterruptSource(fs, cfg.Procfs.Root, cfg.IRQ.Interface),
		metrics.NewPerfEventIPCSource(ctrl.Log.WithName("PerfEventIPCSource"), clk, machine.Active),
	)

	monitoringLog := ctrl.Log.WithName(monitoring.LogTopName)
	recorder := monitoring.NewCycleRecorder(monitoringLog)
	if err := recorder.Register(ctrlMetrics.Registry); err != nil {
		setupLog.Error(err, "unable to register cycle metrics")
		os.Exit(1)
	}
	allCores := machine.Active().Union(machine.Offline())
	if err := monitoring.RegisterCoreCollectors(ctrlMetrics.Registry, control, allCores, monitoringLog); err != nil {
		setupLog.Error(err, "unable to register core metrics")
		os.Exit(1)
	}

	observers := []scaling.CycleObserver{recorder}
	if cfg.Report.Enabled {
		observers = append(observers, scaling.NewReporter(os.Stdout, ctrl.Log.WithName("Reporter")))
	}

	mgr := scaling.NewCoreManager(
		machine,
		sampler,
		scaling.NewMetricSmoother(factory),
		thresholds,
		scaling.NewGovernorController(control, ctrl.Log.WithName("GovernorController")),
		scaling.NewAffinityRebalancer(scaling.OSProcessTable{}, ctrl.Log.WithName("AffinityRebalancer")),
		metrics.NewCoreUsageTracker(),
		scaling.CoreManagerOpts{
			CycleInterval:       cfg.Cycle.Interval,
			PerformanceGovernor: cfg.Governor.Performance,
			PowersaveGovernor:   cfg.Governor.Powersave,
		},
		clk,
		ctrl.Log.WithName("CoreManager"),
		observers...,
	)

	metricsServer, err := monitoring.NewMetricsServer(cfg.Metrics.BindAddress, monitoringLog)
	if err != nil {
		setupLog.Error(err, "unable to create metrics server")
		os.Exit(1)
	}

	group, ctx := errgroup.WithContext(ctrl.SetupSignalHandler())
	if metricsServer != nil {
		group.Go(func() error {
			return metricsServer.Start(ctx)
		})
	}
	group.Go(func() error {
		return mgr.Start(ctx)
	})

	setupLog.Info("starting core power manager", "floor", machine.Floor(), "cores", allCores.Size())
	if err := group.Wait(); err != nil {
		setupLog.Error(err, "problem running core power manager")
		os.Exit(1)
	}
}
