package scaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

func TestWindowSmoother(t *testing.T) {
	s := NewWindowSmoother(5)

	for i := 0; i < 4; i++ {
		assert.False(t, s.Update(3).Defined, "window not full after %d samples", i+1)
	}
	assert.Equal(t, defined(3), s.Update(3))
	assert.Equal(t, defined(3), s.Current())

	// oldest values are evicted
	for _, v := range []float64{2, 4, 6, 8, 10} {
		s.Update(v)
	}
	assert.Equal(t, defined(6), s.Current())
	assert.Equal(t, defined(8), s.Update(12))
}

func TestWindowSmoother_SizeOne(t *testing.T) {
	s := NewWindowSmoother(1)

	assert.False(t, s.Current().Defined)
	assert.Equal(t, defined(7), s.Update(7))
	assert.Equal(t, defined(1), s.Update(1))
}

func TestExponentialSmoother(t *testing.T) {
	alpha := 0.3
	s := NewExponentialSmoother(alpha)

	assert.False(t, s.Current().Defined)
	assert.Equal(t, defined(10), s.Update(10))

	prev := 10.0
	for _, x := range []float64{20, 5, 5, 100, 0} {
		got := s.Update(x)
		require.True(t, got.Defined)
		assert.InDelta(t, alpha*x+(1-alpha)*prev, got.Value, 1e-9)
		prev = got.Value
	}
	assert.InDelta(t, prev, s.Current().Value, 1e-9)
}

func TestNewSmootherFactory(t *testing.T) {
	tcases := []struct {
		testCase   string
		strategy   string
		windowSize int
		alpha      float64
		expErr     bool
	}{
		{testCase: "window", strategy: WindowStrategy, windowSize: 5},
		{testCase: "ema", strategy: ExponentialStrategy, alpha: 0.3},
		{testCase: "ema alpha one", strategy: ExponentialStrategy, alpha: 1},
		{testCase: "window too small", strategy: WindowStrategy, windowSize: 0, expErr: true},
		{testCase: "alpha zero", strategy: ExponentialStrategy, alpha: 0, expErr: true},
		{testCase: "alpha above one", strategy: ExponentialStrategy, alpha: 1.5, expErr: true},
		{testCase: "unknown strategy", strategy: "median", expErr: true},
	}

	for _, tc := range tcases {
		t.Log(tc.testCase)

		factory, err := NewSmootherFactory(tc.strategy, tc.windowSize, tc.alpha)
		if tc.expErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.NotNil(t, factory())
	}
}

func TestMetricSmoother_IndependentMetrics(t *testing.T) {
	factory, err := NewSmootherFactory(WindowStrategy, 2, 0)
	require.NoError(t, err)
	m := NewMetricSmoother(factory)

	assert.Equal(t, SmoothedMetrics{}, m.Update(metrics.MetricSample{Load: 10, IRQCount: 100, IPC: 1}))
	assert.Equal(t, SmoothedMetrics{
		Load: defined(20),
		IRQ:  defined(150),
		IPC:  defined(1.5),
	}, m.Update(metrics.MetricSample{Load: 30, IRQCount: 200, IPC: 2}))
	assert.Equal(t, defined(20), m.Current().Load)
}

func TestMetricSmoother_SkipsIRQBaseline(t *testing.T) {
	factory, err := NewSmootherFactory(ExponentialStrategy, 0, DefaultAlpha)
	require.NoError(t, err)
	m := NewMetricSmoother(factory)

	smoothed := m.Update(metrics.MetricSample{Load: 10, IRQPriming: true, IPC: 1})
	assert.Equal(t, defined(10), smoothed.Load)
	assert.False(t, smoothed.IRQ.Defined, "baseline must not seed the irq smoother")

	smoothed = m.Update(metrics.MetricSample{Load: 10, IRQCount: 800, IPC: 1})
	assert.Equal(t, defined(800), smoothed.IRQ)

	smoothed = m.Update(metrics.MetricSample{Load: 10, IRQPriming: true, IPC: 1})
	assert.Equal(t, defined(800), smoothed.IRQ)
	assert.Equal(t, defined(800), m.Current().IRQ)
}
