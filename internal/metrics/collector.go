// Package metrics exposes Prometheus instrumentation for the gossp daemon:
// a Collector struct of GaugeVec/CounterVec fields, namespace/subsystem
// constants, a NewCollector constructor, and per-event increment methods
// taking typed parameters rather than raw strings.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gossp"
	subsystem = "session"
)

// Label names for session metrics.
const (
	labelRole   = "role"   // "client" or "server"
	labelReason = "reason" // drop reason
	labelFrom   = "from"   // shutdown-state transition origin
	labelTo     = "to"     // shutdown-state transition destination
)

// Role values used as the labelRole label.
const (
	RoleClient = "client"
	RoleServer = "server"
)

// Datagram drop reasons used as the labelReason label.
const (
	ReasonDecodeFailure = "decode_failure"
	ReasonAuthFailure   = "auth_failure"
	ReasonReplay        = "replay"
	ReasonShort         = "short"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Session Metrics
// -------------------------------------------------------------------------

// Collector holds all gossp Prometheus metrics.
//
//   - Sessions tracks whether this process currently holds an attached
//     connection.
//   - Datagram counters track send/receive/drop volumes, split by role.
//   - AuthFailures counts AEAD tag verification failures, the same
//     discard-on-auth-failure discipline RFC 5880 Section 6.7 describes
//     for BFD.
//   - RoamEvents counts server-side peer address changes (§3.3).
//   - ShutdownTransitions counts transitions through the clean-shutdown
//     state machine (§5).
type Collector struct {
	// Sessions tracks the number of currently attached connections (0 or 1
	// per process, kept as a gauge to allow a future multi-session daemon).
	Sessions *prometheus.GaugeVec

	// DatagramsSent counts UDP datagrams transmitted, labeled by role.
	DatagramsSent *prometheus.CounterVec

	// DatagramsReceived counts UDP datagrams accepted after authentication
	// and replay checks, labeled by role.
	DatagramsReceived *prometheus.CounterVec

	// DatagramsDropped counts UDP datagrams discarded before delivery to the
	// transport layer, labeled by role and reason.
	DatagramsDropped *prometheus.CounterVec

	// AuthFailures counts AEAD tag verification failures per role.
	AuthFailures *prometheus.CounterVec

	// RoamEvents counts server-side remote address changes (§3.3: the
	// server adopts any new source address that authenticates).
	RoamEvents *prometheus.CounterVec

	// ShutdownTransitions counts shutdown state machine transitions,
	// labeled with the old and new state names.
	ShutdownTransitions *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against the
// provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "gossp_session_" prefix
// (namespace_subsystem) to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.DatagramsSent,
		c.DatagramsReceived,
		c.DatagramsDropped,
		c.AuthFailures,
		c.RoamEvents,
		c.ShutdownTransitions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	roleLabels := []string{labelRole}
	dropLabels := []string{labelRole, labelReason}
	transitionLabels := []string{labelFrom, labelTo}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently attached connections.",
		}, roleLabels),

		DatagramsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datagrams_sent_total",
			Help:      "Total UDP datagrams transmitted.",
		}, roleLabels),

		DatagramsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datagrams_received_total",
			Help:      "Total UDP datagrams accepted after authentication and replay checks.",
		}, roleLabels),

		DatagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datagrams_dropped_total",
			Help:      "Total UDP datagrams discarded before delivery to the transport layer.",
		}, dropLabels),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total AEAD tag verification failures.",
		}, roleLabels),

		RoamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "roam_events_total",
			Help:      "Total server-side remote address changes.",
		}, nil),

		ShutdownTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "shutdown_transitions_total",
			Help:      "Total shutdown state machine transitions.",
		}, transitionLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for role.
func (c *Collector) RegisterSession(role string) {
	c.Sessions.WithLabelValues(role).Inc()
}

// UnregisterSession decrements the active sessions gauge for role.
func (c *Collector) UnregisterSession(role string) {
	c.Sessions.WithLabelValues(role).Dec()
}

// -------------------------------------------------------------------------
// Datagram Counters
// -------------------------------------------------------------------------

// IncDatagramsSent increments the transmitted datagram counter for role.
func (c *Collector) IncDatagramsSent(role string) {
	c.DatagramsSent.WithLabelValues(role).Inc()
}

// IncDatagramsReceived increments the accepted datagram counter for role.
func (c *Collector) IncDatagramsReceived(role string) {
	c.DatagramsReceived.WithLabelValues(role).Inc()
}

// IncDatagramsDropped increments the dropped datagram counter for role and
// reason.
func (c *Collector) IncDatagramsDropped(role, reason string) {
	c.DatagramsDropped.WithLabelValues(role, reason).Inc()
}

// -------------------------------------------------------------------------
// Authentication
// -------------------------------------------------------------------------

// IncAuthFailures increments the authentication failure counter for role.
// AEAD tag mismatches drop the datagram and continue; this records the
// drop for telemetry.
func (c *Collector) IncAuthFailures(role string) {
	c.AuthFailures.WithLabelValues(role).Inc()
}

// -------------------------------------------------------------------------
// Roaming
// -------------------------------------------------------------------------

// IncRoamEvents increments the roam events counter.
func (c *Collector) IncRoamEvents() {
	c.RoamEvents.WithLabelValues().Inc()
}

// -------------------------------------------------------------------------
// Shutdown State Machine
// -------------------------------------------------------------------------

// RecordShutdownTransition increments the shutdown transition counter with
// the old and new state labels.
func (c *Collector) RecordShutdownTransition(from, to string) {
	c.ShutdownTransitions.WithLabelValues(from, to).Inc()
}
