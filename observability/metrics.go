package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records vault operation activity for the /metrics endpoint.
type VaultMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	oracleFaults prometheus.Counter
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Metrics returns the lazily-initialised vault metrics registry.
func Metrics() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by asset, operation, and outcome.",
			}, []string{"asset", "op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "vault",
				Name:      "liquidations_total",
				Help:      "Completed liquidations segmented by asset.",
			}, []string{"asset"}),
			oracleFaults: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pegvault",
				Subsystem: "oracle",
				Name:      "faults_total",
				Help:      "Price readings rejected as unusable.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.liquidations,
			vaultRegistry.oracleFaults,
		)
	})
	return vaultRegistry
}

// ObserveOperation records one vault operation outcome.
func (m *VaultMetrics) ObserveOperation(asset, op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(asset, op, outcome).Inc()
}

// ObserveLiquidation records a completed liquidation.
func (m *VaultMetrics) ObserveLiquidation(asset string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(asset).Inc()
}

// ObserveOracleFault records a rejected price reading.
func (m *VaultMetrics) ObserveOracleFault() {
	if m == nil {
		return
	}
	m.oracleFaults.Inc()
}
