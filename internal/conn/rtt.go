package conn

import "math"

// Jacobson/Karels smoothing constants (§3.4, §4.2), expressed as the
// eighths/quarters the classic algorithm uses to avoid floating-point gain
// terms in the original.
const (
	srttGain   = 1.0 / 8
	rttvarGain = 1.0 / 4

	minRTO = 50.0   // ms
	maxRTO = 1000.0 // ms
)

// rttEstimator tracks smoothed RTT and RTT variance the way a TCP stack
// does (RFC 6298 smoothing), producing a clamped retransmission timeout.
// No sampled measurement ever mutates it directly, only OnSample does.
type rttEstimator struct {
	srtt   float64
	rttvar float64
	primed bool
}

// OnSample folds one new RTT measurement (ms) into the estimate.
func (e *rttEstimator) OnSample(measured float64) {
	if !e.primed {
		e.srtt = measured
		e.rttvar = measured / 2
		e.primed = true
		return
	}

	delta := measured - e.srtt
	e.rttvar += rttvarGain * (math.Abs(delta) - e.rttvar)
	e.srtt += srttGain * delta
}

// SRTT returns the current smoothed round-trip time estimate in
// milliseconds. Before any sample has been folded in, it returns a
// conservative default.
func (e *rttEstimator) SRTT() float64 {
	if !e.primed {
		return 1000
	}
	return e.srtt
}

// Timeout returns clamp(ceil(SRTT + 4*RTTVAR), [minRTO, maxRTO]).
func (e *rttEstimator) Timeout() int64 {
	if !e.primed {
		return int64(maxRTO)
	}
	rto := math.Ceil(e.srtt + 4*e.rttvar)
	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	return int64(rto)
}
