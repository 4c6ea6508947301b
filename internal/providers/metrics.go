package providers

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts store operations by backend, operation and result.
	operationsTotal *prometheus.CounterVec

	// pollCyclesTotal counts background refresh cycles by backend and result.
	pollCyclesTotal *prometheus.CounterVec

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	// metricsRegistered indicates if metrics have been registered.
	metricsRegistered atomic.Bool
)

// InitMetrics registers the store metrics with the default Prometheus
// registry. Call it once at startup if metrics are wanted; recording is a
// no-op until then.
func InitMetrics() {
	metricsOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudsecrets_store_operations_total",
			Help: "Total number of secret store operations",
		}, []string{"backend", "operation", "result"})

		pollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudsecrets_poll_cycles_total",
			Help: "Total number of background refresh cycles",
		}, []string{"backend", "result"})

		metricsRegistered.Store(true)
	})
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// recordOperation is safe to call even if metrics have not been initialized.
func recordOperation(backend, operation string, err error) {
	if metricsRegistered.Load() {
		operationsTotal.WithLabelValues(backend, operation, resultLabel(err)).Inc()
	}
}

func recordPollCycle(backend string, err error) {
	if metricsRegistered.Load() {
		pollCyclesTotal.WithLabelValues(backend, resultLabel(err)).Inc()
	}
}

// GetOperationsCounter returns the operations counter for testing.
// Returns nil if metrics have not been initialized.
func GetOperationsCounter() *prometheus.CounterVec {
	return operationsTotal
}

// GetPollCyclesCounter returns the poll cycle counter for testing.
// Returns nil if metrics have not been initialized.
func GetPollCyclesCounter() *prometheus.CounterVec {
	return pollCyclesTotal
}
