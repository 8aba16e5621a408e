package monitoring

import (
	"errors"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/AMDEPYC/core-power-manager/internal/scaling"
)

const (
	metricLabel    string = "metric"
	directionLabel string = "direction"
	stateLabel     string = "state"

	loadMetric string = "load"
	irqMetric  string = "irq"
	ipcMetric  string = "ipc"
)

// CycleRecorder exports the outcome of every control cycle.
type CycleRecorder struct {
	samples       *prom.GaugeVec
	smoothed      *prom.GaugeVec
	thresholds    *prom.GaugeVec
	cores         *prom.GaugeVec
	transitions   *prom.CounterVec
	writeFailures prom.Counter
	reassigned    prom.Counter
	cycles        prom.Counter
	log           logr.Logger
}

func NewCycleRecorder(log logr.Logger) *CycleRecorder {
	r := &CycleRecorder{
		samples: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "sample",
			Help:      "Raw value of a control metric in the last cycle",
		}, []string{metricLabel}),
		smoothed: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "smoothed",
			Help:      "Smoothed value of a control metric, absent until defined",
		}, []string{metricLabel}),
		thresholds: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "threshold",
			Help:      "Activation threshold of a control metric, absent until defined",
		}, []string{metricLabel}),
		cores: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "cores",
			Help:      "Number of cores per state",
		}, []string{stateLabel}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "transitions_total",
			Help:      "Counter of core transitions per direction",
		}, []string{directionLabel}),
		writeFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "write_failures_total",
			Help:      "Counter of rejected core online/offline writes",
		}),
		reassigned: prom.NewCounter(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "reassigned_processes_total",
			Help:      "Counter of processes pinned back to an active core",
		}),
		cycles: prom.NewCounter(prom.CounterOpts{
			Namespace: promNamespace,
			Subsystem: controlSubsystem,
			Name:      "cycles_total",
			Help:      "Counter of completed control cycles",
		}),
		log: log,
	}
	r.log.V(4).Info("New CycleRecorder created")

	return r
}

func (r *CycleRecorder) Register(reg prom.Registerer) error {
	for _, c := range []prom.Collector{
		r.samples, r.smoothed, r.thresholds, r.cores,
		r.transitions, r.writeFailures, r.reassigned, r.cycles,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *CycleRecorder) ObserveCycle(res scaling.CycleResult) {
	r.cycles.Inc()

	r.samples.WithLabelValues(loadMetric).Set(res.Sample.Load)
	r.samples.WithLabelValues(irqMetric).Set(float64(res.Sample.IRQCount))
	r.samples.WithLabelValues(ipcMetric).Set(res.Sample.IPC)

	for name, pair := range map[string][2]scaling.Reading{
		loadMetric: {res.Smoothed.Load, res.Thresholds.Load},
		irqMetric:  {res.Smoothed.IRQ, res.Thresholds.IRQ},
		ipcMetric:  {res.Smoothed.IPC, res.Thresholds.IPC},
	} {
		setReading(r.smoothed, name, pair[0])
		setReading(r.thresholds, name, pair[1])
	}

	r.cores.WithLabelValues("active").Set(float64(res.Active.Size()))
	r.cores.WithLabelValues("offline").Set(float64(res.Offline.Size()))

	if res.Transition.Direction != scaling.NoTransition {
		r.transitions.WithLabelValues(res.Transition.Direction.String()).Inc()
	}
	if errors.Is(res.TransitionErr, scaling.ErrControlWrite) {
		r.writeFailures.Inc()
	}
	r.reassigned.Add(float64(len(res.Reassigned)))

	r.log.V(5).Info("cycle recorded", "cycle", res.Cycle)
}

func setReading(vec *prom.GaugeVec, name string, reading scaling.Reading) {
	if !reading.Defined {
		vec.DeleteLabelValues(name)
		return
	}
	vec.WithLabelValues(name).Set(reading.Value)
}
