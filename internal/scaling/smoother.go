package scaling

import (
	"fmt"

	"github.com/AMDEPYC/core-power-manager/internal/metrics"
)

const (
	WindowStrategy      = "window"
	ExponentialStrategy = "ema"

	DefaultWindowSize = 5
	DefaultAlpha      = 0.3
)

// Smoother turns a stream of raw values into one smoothed value per update.
type Smoother interface {
	// Update folds v into the state and returns the smoothed value including v.
	Update(v float64) Reading
	// Current returns the smoothed value without changing the state.
	Current() Reading
}

// windowSmoother is a moving average over the last size values. It stays
// undefined until the window is full.
type windowSmoother struct {
	values []float64
	next   int
	count  int
}

func NewWindowSmoother(size int) Smoother {
	return &windowSmoother{values: make([]float64, size)}
}

func (w *windowSmoother) Update(v float64) Reading {
	w.values[w.next] = v
	w.next = (w.next + 1) % len(w.values)
	if w.count < len(w.values) {
		w.count++
	}
	return w.Current()
}

func (w *windowSmoother) Current() Reading {
	if w.count < len(w.values) {
		return Reading{}
	}

	sum := 0.0
	for _, v := range w.values {
		sum += v
	}
	return defined(sum / float64(len(w.values)))
}

// exponentialSmoother is an EMA seeded with the first value.
type exponentialSmoother struct {
	alpha float64
	value Reading
}

func NewExponentialSmoother(alpha float64) Smoother {
	return &exponentialSmoother{alpha: alpha}
}

func (e *exponentialSmoother) Update(v float64) Reading {
	if !e.value.Defined {
		e.value = defined(v)
	} else {
		e.value = defined(e.alpha*v + (1-e.alpha)*e.value.Value)
	}
	return e.value
}

func (e *exponentialSmoother) Current() Reading {
	return e.value
}

// SmootherFactory creates one independent Smoother per metric.
type SmootherFactory func() Smoother

func NewSmootherFactory(strategy string, windowSize int, alpha float64) (SmootherFactory, error) {
	switch strategy {
	case WindowStrategy:
		if windowSize < 1 {
			return nil, fmt.Errorf("window size must be at least 1, got %d", windowSize)
		}
		return func() Smoother { return NewWindowSmoother(windowSize) }, nil
	case ExponentialStrategy:
		if alpha <= 0 || alpha > 1 {
			return nil, fmt.Errorf("smoothing factor must be in (0, 1], got %v", alpha)
		}
		return func() Smoother { return NewExponentialSmoother(alpha) }, nil
	default:
		return nil, fmt.Errorf("unknown smoothing strategy %q", strategy)
	}
}

// SmoothedMetrics holds the smoothed value of each control metric.
type SmoothedMetrics struct {
	Load Reading
	IRQ  Reading
	IPC  Reading
}

// MetricSmoother keeps one Smoother per control metric.
type MetricSmoother struct {
	load Smoother
	irq  Smoother
	ipc  Smoother
}

func NewMetricSmoother(factory SmootherFactory) *MetricSmoother {
	return &MetricSmoother{
		load: factory(),
		irq:  factory(),
		ipc:  factory(),
	}
}

// Update folds the sample into every smoother. A priming IRQ value carries no
// measurement and leaves the IRQ smoother untouched.
func (m *MetricSmoother) Update(sample metrics.MetricSample) SmoothedMetrics {
	irq := m.irq.Current()
	if !sample.IRQPriming {
		irq = m.irq.Update(float64(sample.IRQCount))
	}

	return SmoothedMetrics{
		Load: m.load.Update(sample.Load),
		IRQ:  irq,
		IPC:  m.ipc.Update(sample.IPC),
	}
}

func (m *MetricSmoother) Current() SmoothedMetrics {
	return SmoothedMetrics{
		Load: m.load.Current(),
		IRQ:  m.irq.Current(),
		IPC:  m.ipc.Current(),
	}
}
