package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	protocolOnce sync.Once
	protocolReg  *ProtocolMetrics
)

// ProtocolMetrics wraps collectors tracking the stable protocol's write
// paths: issuance, redemption, AMO supply changes, and guard activity.
type ProtocolMetrics struct {
	operations    *prometheus.CounterVec
	pegGuardTrips *prometheus.CounterVec
	solvencyRatio prometheus.Gauge
}

// Protocol returns the lazily-initialised metrics registry shared by every
// engine.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolReg = &ProtocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dstable",
				Subsystem: "protocol",
				Name:      "operations_total",
				Help:      "Count of completed protocol operations segmented by kind.",
			}, []string{"operation"}),
			pegGuardTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dstable",
				Subsystem: "protocol",
				Name:      "peg_guard_trips_total",
				Help:      "Count of AMO operations rejected by the peg deviation guard.",
			}, []string{"asset"}),
			solvencyRatio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "dstable",
				Subsystem: "protocol",
				Name:      "solvency_ratio",
				Help:      "Circulating supply divided by issuance capacity, last observed.",
			}),
		}
		prometheus.MustRegister(
			protocolReg.operations,
			protocolReg.pegGuardTrips,
			protocolReg.solvencyRatio,
		)
	})
	return protocolReg
}

// RecordIssue increments the issuance counter.
func (m *ProtocolMetrics) RecordIssue() {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("issue").Inc()
}

// RecordRedeem increments the redemption counter.
func (m *ProtocolMetrics) RecordRedeem() {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("redeem").Inc()
}

// RecordAmoIncrease increments the AMO expansion counter.
func (m *ProtocolMetrics) RecordAmoIncrease() {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("amo_increase").Inc()
}

// RecordAmoDecrease increments the AMO unwind counter.
func (m *ProtocolMetrics) RecordAmoDecrease() {
	if m == nil {
		return
	}
	m.operations.WithLabelValues("amo_decrease").Inc()
}

// RecordPegGuardTrip counts a rejected AMO operation. The asset label should
// be a stable symbol so alerts on guard trips stay consistent.
func (m *ProtocolMetrics) RecordPegGuardTrip(asset string) {
	if m == nil {
		return
	}
	asset = strings.TrimSpace(asset)
	if asset == "" {
		asset = "unknown"
	}
	m.pegGuardTrips.WithLabelValues(asset).Inc()
}

// SetSolvencyRatio publishes the most recent circulating/capacity ratio.
func (m *ProtocolMetrics) SetSolvencyRatio(ratio float64) {
	if m == nil {
		return
	}
	m.solvencyRatio.Set(ratio)
}
