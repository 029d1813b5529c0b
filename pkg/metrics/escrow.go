package metrics

import "github.com/prometheus/client_golang/prometheus"

// EscrowMetrics counts escrow release attempts by outcome.
type EscrowMetrics struct {
	releases *prometheus.CounterVec
	credited prometheus.Counter
}

// NewEscrowMetrics registers the escrow metrics on the provided registerer.
func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	releases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_release_total",
		Help: "Escrow release attempts by outcome.",
	}, []string{"outcome"})
	credited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrow_released_amount_total",
		Help: "Amount credited to seller balances by escrow releases.",
	})
	reg.MustRegister(releases, credited)
	return &EscrowMetrics{releases: releases, credited: credited}
}

// IncRelease increments the counter for outcome.
func (m *EscrowMetrics) IncRelease(outcome string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddCredited adds a released escrow amount.
func (m *EscrowMetrics) AddCredited(amount int64) {
	if m == nil || m.credited == nil || amount <= 0 {
		return
	}
	m.credited.Add(float64(amount))
}
