package conn

import "testing"

func TestRTTEstimatorUnprimedDefaults(t *testing.T) {
	var e rttEstimator
	if got := e.SRTT(); got != 1000 {
		t.Fatalf("unprimed SRTT = %v, want 1000", got)
	}
	if got := e.Timeout(); got != int64(maxRTO) {
		t.Fatalf("unprimed Timeout = %v, want %v", got, int64(maxRTO))
	}
}

func TestRTTEstimatorFirstSamplePrimes(t *testing.T) {
	var e rttEstimator
	e.OnSample(100)
	if e.srtt != 100 {
		t.Fatalf("srtt = %v, want 100", e.srtt)
	}
	if e.rttvar != 50 {
		t.Fatalf("rttvar = %v, want 50", e.rttvar)
	}
}

func TestRTTEstimatorConvergesTowardStableSamples(t *testing.T) {
	var e rttEstimator
	for i := 0; i < 50; i++ {
		e.OnSample(80)
	}
	if e.srtt < 79.9 || e.srtt > 80.1 {
		t.Fatalf("srtt did not converge: got %v", e.srtt)
	}
	if e.rttvar > 1 {
		t.Fatalf("rttvar did not shrink for stable samples: got %v", e.rttvar)
	}
}

func TestRTTEstimatorTimeoutClampedToMin(t *testing.T) {
	var e rttEstimator
	e.OnSample(1)
	if got := e.Timeout(); got != int64(minRTO) {
		t.Fatalf("Timeout = %v, want clamped to %v", got, int64(minRTO))
	}
}

func TestRTTEstimatorTimeoutClampedToMax(t *testing.T) {
	var e rttEstimator
	e.OnSample(5000)
	if got := e.Timeout(); got != int64(maxRTO) {
		t.Fatalf("Timeout = %v, want clamped to %v", got, int64(maxRTO))
	}
}

func TestRTTEstimatorJumpIncreasesVariance(t *testing.T) {
	var e rttEstimator
	for i := 0; i < 10; i++ {
		e.OnSample(50)
	}
	before := e.rttvar
	e.OnSample(400)
	if e.rttvar <= before {
		t.Fatalf("expected rttvar to grow after a jump, before=%v after=%v", before, e.rttvar)
	}
}
