package monitoring

import (
	"github.com/go-logr/logr"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
)

// NewMetricsServer returns a runnable serving the controller-runtime metrics
// registry on bindAddress, or nil when bindAddress is empty.
func NewMetricsServer(bindAddress string, log logr.Logger) (metricsserver.Server, error) {
	if bindAddress == "" || bindAddress == "0" {
		log.Info("metrics endpoint disabled")
		return nil, nil
	}

	srv, err := metricsserver.NewServer(metricsserver.Options{BindAddress: bindAddress}, nil, nil)
	if err != nil {
		return nil, err
	}
	log.V(4).Info("metrics server created", "address", bindAddress)

	return srv, nil
}
