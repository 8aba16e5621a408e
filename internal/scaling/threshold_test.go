package scaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

func TestThreshold(t *testing.T) {
	for _, smoothed := range []float64{0, 1, 37.5, 50, 1234.567} {
		assert.Equal(t, defined(smoothed*1.10), Threshold(defined(smoothed), DefaultMargin))
	}
	assert.False(t, Threshold(Reading{}, DefaultMargin).Defined)
}

func TestNewThresholdPolicy(t *testing.T) {
	_, err := NewThresholdPolicy(-0.1, ReferencePrevious)
	assert.Error(t, err)

	_, err = NewThresholdPolicy(DefaultMargin, "stale")
	assert.Error(t, err)

	_, err = NewThresholdPolicy(0, ReferenceCurrent)
	assert.NoError(t, err)
}

func TestThresholdPolicy_Thresholds(t *testing.T) {
	before := SmoothedMetrics{Load: defined(10), IRQ: defined(100), IPC: defined(1)}
	after := SmoothedMetrics{Load: defined(20), IRQ: defined(200), IPC: defined(2)}

	previous, err := NewThresholdPolicy(DefaultMargin, ReferencePrevious)
	require.NoError(t, err)
	th := previous.Thresholds(before, after)
	assert.InDelta(t, 11, th.Load.Value, 1e-9)
	assert.InDelta(t, 110, th.IRQ.Value, 1e-9)
	assert.InDelta(t, 1.1, th.IPC.Value, 1e-9)

	current, err := NewThresholdPolicy(DefaultMargin, ReferenceCurrent)
	require.NoError(t, err)
	th = current.Thresholds(before, after)
	assert.InDelta(t, 22, th.Load.Value, 1e-9)
	assert.InDelta(t, 220, th.IRQ.Value, 1e-9)
	assert.InDelta(t, 2.2, th.IPC.Value, 1e-9)

	th = previous.Thresholds(SmoothedMetrics{}, after)
	assert.False(t, th.Defined())
}

func TestThresholdPolicy_Decide(t *testing.T) {
	policy, err := NewThresholdPolicy(DefaultMargin, ReferencePrevious)
	require.NoError(t, err)
	th := Thresholds{Load: defined(55), IRQ: defined(1100), IPC: defined(1.1)}

	tcases := []struct {
		testCase   string
		sample     metrics.MetricSample
		thresholds Thresholds
		expected   Decision
	}{
		{
			testCase:   "all below",
			sample:     metrics.MetricSample{Load: 50, IRQCount: 1000, IPC: 1.0},
			thresholds: th,
			expected:   DecisionDeactivate,
		},
		{
			testCase:   "load at threshold",
			sample:     metrics.MetricSample{Load: 55, IRQCount: 1000, IPC: 1.0},
			thresholds: th,
			expected:   DecisionActivate,
		},
		{
			testCase:   "irq spike",
			sample:     metrics.MetricSample{Load: 50, IRQCount: 5000, IPC: 1.0},
			thresholds: th,
			expected:   DecisionActivate,
		},
		{
			testCase:   "ipc above",
			sample:     metrics.MetricSample{Load: 50, IRQCount: 1000, IPC: 2.0},
			thresholds: th,
			expected:   DecisionActivate,
		},
		{
			testCase:   "idle metric against idle baseline",
			sample:     metrics.MetricSample{Load: 50, IRQCount: 0, IPC: 1.0},
			thresholds: Thresholds{Load: defined(55), IRQ: defined(0), IPC: defined(1.1)},
			expected:   DecisionDeactivate,
		},
		{
			testCase:   "traffic against idle baseline",
			sample:     metrics.MetricSample{Load: 50, IRQCount: 3, IPC: 1.0},
			thresholds: Thresholds{Load: defined(55), IRQ: defined(0), IPC: defined(1.1)},
			expected:   DecisionActivate,
		},
		{
			testCase:   "undefined threshold",
			sample:     metrics.MetricSample{Load: 99, IRQCount: 5000, IPC: 3.0},
			thresholds: Thresholds{Load: defined(55), IPC: defined(1.1)},
			expected:   DecisionNone,
		},
		{
			testCase:   "irq baseline only",
			sample:     metrics.MetricSample{Load: 50, IRQPriming: true, IPC: 1.0},
			thresholds: th,
			expected:   DecisionNone,
		},
	}

	for _, tc := range tcases {
		t.Log(tc.testCase)
		assert.Equal(t, tc.expected, policy.Decide(tc.sample, tc.thresholds))
	}
}

// A constant workload smoothed with EMA never activates when the threshold
// includes the current sample, but a spike is detected against the previous
// reference.
func TestThresholdPolicy_ReferenceModes(t *testing.T) {
	run := func(reference string, samples []metrics.MetricSample) []Decision {
		policy, err := NewThresholdPolicy(DefaultMargin, reference)
		require.NoError(t, err)
		smoother := NewMetricSmoother(func() Smoother { return NewExponentialSmoother(DefaultAlpha) })

		decisions := make([]Decision, 0, len(samples))
		for _, s := range samples {
			before := smoother.Current()
			after := smoother.Update(s)
			decisions = append(decisions, policy.Decide(s, policy.Thresholds(before, after)))
		}
		return decisions
	}

	steady := metrics.MetricSample{Load: 40, IRQCount: 500, IPC: 1.2}
	spike := metrics.MetricSample{Load: 45, IRQCount: 500, IPC: 1.2}
	samples := []metrics.MetricSample{steady, steady, spike}

	assert.Equal(t, []Decision{DecisionNone, DecisionDeactivate, DecisionActivate}, run(ReferencePrevious, samples))
	assert.Equal(t, []Decision{DecisionDeactivate, DecisionDeactivate, DecisionDeactivate}, run(ReferenceCurrent, samples))
}
