package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.IncDispatched()
	m.IncSendError("dispatch")
	m.AddEvicted(3)
	m.SetPending(2)
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register on nil: %v", err)
	}
}

func TestRegisterAndCount(t *testing.T) {
	t.Parallel()
	m := New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Fatal("double registration accepted")
	}

	m.IncDispatched()
	m.IncDispatched()
	m.AddEvicted(0)
	m.AddEvicted(4)
	m.SetPending(7)
	m.IncSendError("retry")

	if got := testutil.ToFloat64(m.Dispatched); got != 2 {
		t.Fatalf("dispatched = %v", got)
	}
	if got := testutil.ToFloat64(m.Evicted); got != 4 {
		t.Fatalf("evicted = %v", got)
	}
	if got := testutil.ToFloat64(m.Pending); got != 7 {
		t.Fatalf("pending = %v", got)
	}
	if got := testutil.ToFloat64(m.SendErrors.WithLabelValues("retry")); got != 1 {
		t.Fatalf("send errors = %v", got)
	}
}
