package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the stock ledger. A nil *Metrics is a no-op.
type Metrics struct {
	movements      *prometheus.CounterVec
	units          *prometheus.CounterVec
	insufficient   *prometheus.CounterVec
	lowStockAlerts prometheus.Counter
}

// NewMetrics registers ledger metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movements_total",
		Help: "Committed stock movements by direction and reference type.",
	}, []string{"direction", "reference_type"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movement_units_total",
		Help: "Committed stock units moved by direction and reference type.",
	}, []string{"direction", "reference_type"})
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_insufficient_total",
		Help: "Out movements rejected for insufficient stock.",
	}, []string{"reference_type"})
	alerts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_stock_low_alerts_total",
		Help: "Low stock alerts published after a committed out movement.",
	})
	registerer.MustRegister(movements, units, insufficient, alerts)
	return &Metrics{movements: movements, units: units, insufficient: insufficient, lowStockAlerts: alerts}
}

// Committed counts movements whose transaction has committed.
func (m *Metrics) Committed(movements ...StockMovement) {
	if m == nil {
		return
	}
	for _, mv := range movements {
		m.movements.WithLabelValues(string(mv.Direction), string(mv.ReferenceType)).Inc()
		m.units.WithLabelValues(string(mv.Direction), string(mv.ReferenceType)).Add(float64(mv.Quantity))
	}
}

// Insufficient counts a rejected out movement.
func (m *Metrics) Insufficient(ref ReferenceType) {
	if m == nil {
		return
	}
	m.insufficient.WithLabelValues(string(ref)).Inc()
}

// LowStockAlert counts a published alert.
func (m *Metrics) LowStockAlert() {
	if m == nil {
		return
	}
	m.lowStockAlerts.Inc()
}
