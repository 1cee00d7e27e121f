package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/chronostruct/gossp/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.DatagramsSent == nil {
		t.Error("DatagramsSent is nil")
	}
	if c.DatagramsReceived == nil {
		t.Error("DatagramsReceived is nil")
	}
	if c.DatagramsDropped == nil {
		t.Error("DatagramsDropped is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}
	if c.RoamEvents == nil {
		t.Error("RoamEvents is nil")
	}
	if c.ShutdownTransitions == nil {
		t.Error("ShutdownTransitions is nil")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	_ = families
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RegisterSession(metrics.RoleClient)

	val := gaugeValue(t, c.Sessions, metrics.RoleClient)
	if val != 1 {
		t.Errorf("after RegisterSession: sessions gauge = %v, want 1", val)
	}

	c.RegisterSession(metrics.RoleServer)

	val = gaugeValue(t, c.Sessions, metrics.RoleServer)
	if val != 1 {
		t.Errorf("after second RegisterSession: server gauge = %v, want 1", val)
	}

	c.UnregisterSession(metrics.RoleClient)

	val = gaugeValue(t, c.Sessions, metrics.RoleClient)
	if val != 0 {
		t.Errorf("after UnregisterSession: client gauge = %v, want 0", val)
	}

	val = gaugeValue(t, c.Sessions, metrics.RoleServer)
	if val != 1 {
		t.Errorf("server gauge = %v, want 1 (should be unaffected)", val)
	}
}

func TestDatagramCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncDatagramsSent(metrics.RoleClient)
	c.IncDatagramsSent(metrics.RoleClient)
	c.IncDatagramsSent(metrics.RoleClient)

	val := counterValue(t, c.DatagramsSent, metrics.RoleClient)
	if val != 3 {
		t.Errorf("DatagramsSent = %v, want 3", val)
	}

	c.IncDatagramsReceived(metrics.RoleClient)
	c.IncDatagramsReceived(metrics.RoleClient)

	val = counterValue(t, c.DatagramsReceived, metrics.RoleClient)
	if val != 2 {
		t.Errorf("DatagramsReceived = %v, want 2", val)
	}

	c.IncDatagramsDropped(metrics.RoleClient, metrics.ReasonReplay)

	val = counterValue(t, c.DatagramsDropped, metrics.RoleClient, metrics.ReasonReplay)
	if val != 1 {
		t.Errorf("DatagramsDropped(replay) = %v, want 1", val)
	}
}

func TestShutdownTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordShutdownTransition("running", "shutting_down")

	val := counterValue(t, c.ShutdownTransitions, "running", "shutting_down")
	if val != 1 {
		t.Errorf("ShutdownTransitions(running->shutting_down) = %v, want 1", val)
	}

	c.RecordShutdownTransition("shutting_down", "closed")

	val = counterValue(t, c.ShutdownTransitions, "shutting_down", "closed")
	if val != 1 {
		t.Errorf("ShutdownTransitions(shutting_down->closed) = %v, want 1", val)
	}

	c.RecordShutdownTransition("running", "shutting_down")

	val = counterValue(t, c.ShutdownTransitions, "running", "shutting_down")
	if val != 2 {
		t.Errorf("ShutdownTransitions(running->shutting_down) = %v, want 2", val)
	}
}

func TestAuthFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncAuthFailures(metrics.RoleServer)
	c.IncAuthFailures(metrics.RoleServer)

	val := counterValue(t, c.AuthFailures, metrics.RoleServer)
	if val != 2 {
		t.Errorf("AuthFailures = %v, want 2", val)
	}
}

func TestRoamEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncRoamEvents()
	c.IncRoamEvents()
	c.IncRoamEvents()

	val := counterValue(t, c.RoamEvents)
	if val != 3 {
		t.Errorf("RoamEvents = %v, want 3", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
