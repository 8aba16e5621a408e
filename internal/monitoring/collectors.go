package monitoring

import (
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/constraints"
	"k8s.io/utils/cpuset"

	"github.com/AMDEPYC/core-power-manager/internal/scaling"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "power"

	LogTopName       string = "monitoring"
	coreSubsystem    string = "core"
	controlSubsystem string = "control"

	logNameKey string = "name"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerCoreCollector is generic factory of prometheus Collectors for metrics
// read from a single core at scrape time. A core whose value cannot be read
// is left out of that scrape.
func newPerCoreCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	cores cpuset.CPUSet, readFunc func(int) (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{"core"},
		nil,
	)

	collectorFuncs := make([]func(ch chan<- prom.Metric), 0, cores.Size())
	for _, id := range cores.List() {
		id := id
		collectorFuncs = append(collectorFuncs, func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus", "core", id)
			if val, err := readFunc(id); err == nil {
				ch <- prom.MustNewConstMetric(
					desc,
					metricType,
					float64(val),
					strconv.Itoa(id),
				)
			} else {
				log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err), "core", id)
			}
		})
	}
	log.V(4).Info("New perCore prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, collectFunc := range collectorFuncs {
				collectFunc(ch)
			}
		},
	}
}

// RegisterCoreCollectors registers per-core frequency and online state
// collectors. Values are read from control on every scrape.
func RegisterCoreCollectors(reg prom.Registerer, control scaling.CPUControl, cores cpuset.CPUSet, logger logr.Logger) error {
	logger = logger.WithName(coreSubsystem)

	collectors := []prom.Collector{
		newPerCoreCollector(
			prom.BuildFQName(promNamespace, coreSubsystem, "frequency_khz"),
			"Current frequency of specific core in kHz",
			prom.GaugeValue,
			cores,
			control.CurrentFrequency,
			logger.WithValues(logNameKey, "frequency_khz"),
		),
		newPerCoreCollector(
			prom.BuildFQName(promNamespace, coreSubsystem, "online"),
			"Online state of specific core, 1 when online",
			prom.GaugeValue,
			cores,
			func(id int) (uint8, error) {
				online, err := control.IsOnline(id)
				if err != nil || !online {
					return 0, err
				}
				return 1, nil
			},
			logger.WithValues(logNameKey, "online"),
		),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register core collector: %w", err)
		}
	}

	return nil
}
