package scaling

import (
	"context"
	"errors"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	"k8s.io/utils/cpuset"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

// UsageSource reports per-core busy percentage for the cycle report.
type UsageSource interface {
	Usage(ctx context.Context) (map[int]float64, error)
}

// CycleObserver is notified with the outcome of every completed cycle.
type CycleObserver interface {
	ObserveCycle(result CycleResult)
}

// CycleResult is the outcome of one control cycle.
type CycleResult struct {
	Cycle      uint64
	Drifted    []int
	Sample     metrics.MetricSample
	Smoothed   SmoothedMetrics
	Thresholds Thresholds
	Decision   Decision
	Transition Transition
	// TransitionErr is set when the OS rejected the transition write.
	TransitionErr   error
	Governor        string
	GovernorApplied int
	Reassigned      []int32
	Active          cpuset.CPUSet
	Offline         cpuset.CPUSet
	Cores           []Core
	Usage           map[int]float64
}

// CoreManager runs the control loop: sample, smooth, decide, transition,
// rebalance and report, then sleep for the cycle interval.
type CoreManager interface {
	manager.Runnable
	RunCycle(ctx context.Context) CycleResult
}

type coreManagerImpl struct {
	machine    *CoreStateMachine
	sampler    metrics.Sampler
	smoother   *MetricSmoother
	policy     ThresholdPolicy
	governor   *GovernorController
	rebalancer *AffinityRebalancer
	usage      UsageSource
	observers  []CycleObserver
	opts       CoreManagerOpts
	clock      clock.Clock
	cycle      uint64
	logger     logr.Logger
}

func NewCoreManager(
	machine *CoreStateMachine,
	sampler metrics.Sampler,
	smoother *MetricSmoother,
	policy ThresholdPolicy,
	governor *GovernorController,
	rebalancer *AffinityRebalancer,
	usage UsageSource,
	opts CoreManagerOpts,
	clk clock.Clock,
	logger logr.Logger,
	observers ...CycleObserver,
) CoreManager {
	mgr := &coreManagerImpl{
		machine:    machine,
		sampler:    sampler,
		smoother:   smoother,
		policy:     policy,
		governor:   governor,
		rebalancer: rebalancer,
		usage:      usage,
		observers:  observers,
		opts:       opts,
		clock:      clk,
		logger:     logger,
	}
	mgr.logger.V(4).Info("core manager created", "interval", opts.CycleInterval.String())

	return mgr
}

// Start runs cycles until ctx is cancelled.
func (s *coreManagerImpl) Start(ctx context.Context) error {
	s.logger.Info("starting control loop", "active", s.machine.Active().String(), "floor", s.machine.Floor())

	for ctx.Err() == nil {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
		case <-s.clock.After(s.opts.CycleInterval):
		}
	}

	s.logger.Info("control loop stopped", "cycles", s.cycle)
	return nil
}

func (s *coreManagerImpl) RunCycle(ctx context.Context) CycleResult {
	s.cycle++
	res := CycleResult{Cycle: s.cycle}
	logger := s.logger.WithValues("cycle", s.cycle)

	res.Drifted = s.machine.Sync()
	snapshot := s.machine.Active()

	before := s.smoother.Current()
	res.Sample = s.sampler.Sample(ctx)
	res.Smoothed = s.smoother.Update(res.Sample)
	res.Thresholds = s.policy.Thresholds(before, res.Smoothed)
	res.Decision = s.policy.Decide(res.Sample, res.Thresholds)
	logger.V(5).Info("decision", "decision", res.Decision.String())

	res.Transition, res.TransitionErr = s.machine.Step(res.Decision)
	if res.TransitionErr != nil {
		logger.Error(res.TransitionErr, "transition failed, keeping recorded core state")
	}

	switch res.Transition.Direction {
	case Deactivated:
		res.Governor = s.opts.PowersaveGovernor
	case Activated:
		res.Governor = s.opts.PerformanceGovernor
	}
	if res.Governor != "" {
		res.GovernorApplied = s.governor.Apply(res.Governor, s.machine.Active())
	}

	res.Reassigned = s.rebalancer.Rebalance(ctx, snapshot)

	if usage, err := s.usage.Usage(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error(err, "per-core usage unavailable")
		}
	} else {
		res.Usage = usage
	}
	s.machine.RefreshFrequencies()

	res.Active = s.machine.Active()
	res.Offline = s.machine.Offline()
	res.Cores = s.machine.Cores()

	for _, o := range s.observers {
		o.ObserveCycle(res)
	}

	return res
}
