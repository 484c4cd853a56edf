// Package metrics exposes ledger counters to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "betledger"

// Ledger holds the ledger's collectors. A nil *Ledger records nothing.
type Ledger struct {
	operations  *prometheus.CounterVec
	volume      *prometheus.CounterVec
	liabilities prometheus.Gauge
}

// NewLedger creates the ledger collectors and registers them with reg
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by name and result",
			},
			[]string{"op", "result"},
		),
		volume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "volume_total",
				Help:      "Value moved by ledger operations in minor units",
			},
			[]string{"op"},
		),
		liabilities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "liabilities",
				Help:      "Value currently owed to users in minor units",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.volume, m.liabilities)
	}
	return m
}

// Observe counts one operation under its result label
func (m *Ledger) Observe(op string, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// AddVolume adds moved value for op
func (m *Ledger) AddVolume(op string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.volume.WithLabelValues(op).Add(float64(amount))
}

// SetLiabilities records the current liabilities
func (m *Ledger) SetLiabilities(v int64) {
	if m == nil {
		return
	}
	m.liabilities.Set(float64(v))
}
