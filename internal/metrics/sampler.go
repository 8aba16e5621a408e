package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
)

// MetricSample is one raw observation of the three control metrics.
type MetricSample struct {
	// Load is aggregate CPU utilization in percent.
	Load float64
	// IRQCount is the number of interface interrupts serviced since the previous sample.
	IRQCount uint64
	// IRQPriming is set when the interrupt source only recorded its baseline
	// and IRQCount carries no measurement.
	IRQPriming bool
	// IPC is machine-wide instructions per cycle.
	IPC float64
}

// Sampler produces one MetricSample per control cycle. It may block for the
// sampling window.
type Sampler interface {
	Sample(ctx context.Context) MetricSample
}

// MetricSampler combines load, interrupt and IPC sources. A failing source is
// logged and contributes zero; sampling never fails as a whole.
type MetricSampler struct {
	load   LoadSource
	irq    IRQSource
	ipc    IPCSource
	window time.Duration
	log    logr.Logger
}

func NewMetricSampler(log logr.Logger, window time.Duration, load LoadSource, irq IRQSource, ipc IPCSource) *MetricSampler {
	return &MetricSampler{
		load:   load,
		irq:    irq,
		ipc:    ipc,
		window: window,
		log:    log,
	}
}

func (s *MetricSampler) Sample(ctx context.Context) MetricSample {
	sample := MetricSample{}

	if load, err := s.load.Load(ctx, s.window); err != nil {
		s.log.Error(err, "substituting zero", metricLogKey, loadMetricName)
	} else {
		sample.Load = load
	}

	if irq, err := s.irq.Delta(); errors.Is(err, ErrNoBaseline) {
		s.log.V(4).Info("recorded interrupt baseline", metricLogKey, irqMetricName)
		sample.IRQPriming = true
	} else if err != nil {
		s.log.Error(err, "substituting zero", metricLogKey, irqMetricName)
	} else {
		sample.IRQCount = irq
	}

	if ipc, err := s.ipc.MeasureIPC(ctx, s.window); err != nil {
		s.log.Error(err, "substituting zero", metricLogKey, ipcMetricName)
	} else {
		sample.IPC = ipc
	}

	s.log.V(5).Info("sampled metrics", "load", sample.Load, "irq", sample.IRQCount, "ipc", sample.IPC)

	return sample
}
