package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestEscrowMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEscrowMetrics(reg)
	m.IncRelease("released")
	m.IncRelease("released")
	m.IncRelease("already_released")
	m.AddCredited(901_000)
	m.AddCredited(-5)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "escrow_release_total", "outcome", "released"); err != nil || got != 2 {
		t.Fatalf("expected released=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "escrow_release_total", "outcome", "already_released"); err != nil || got != 1 {
		t.Fatalf("expected already_released=1, got %f (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "escrow_released_amount_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 901_000 {
		t.Fatalf("expected credited amount 901000")
	}
}

func TestEscrowMetricsNilSafe(t *testing.T) {
	var m *EscrowMetrics
	m.IncRelease("released")
	m.AddCredited(10)
	NewEscrowMetrics(nil).IncRelease("released")
}
