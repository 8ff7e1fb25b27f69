package tipcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "tipcsim"
	subsystem = "tipc"
)

// Label names for TIPC metrics.
const (
	labelNode      = "node"
	labelPeer      = "peer"
	labelBearer    = "bearer"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus TIPC Metrics
// -------------------------------------------------------------------------

// Collector holds all TIPC simulation Prometheus metrics.
//
//   - ActiveLinks gauges how many of a node's two active-link slots are
//     currently populated.
//   - LinkStateTransitions counts link FSM transitions, labeled old/new
//     state, for flap alerting the same way the teacher's
//     state-transition counter supports BGP withdrawal alerting.
//   - MonitorDomainSize gauges a node's current own-domain member count
//     (self.applied), the O(sqrt(N)) quantity the monitor's whole design
//     exists to bound.
//   - LostMemberDetections counts peer-loss events the monitor's
//     identify-lost-members pass raises per peer.
type Collector struct {
	// ActiveLinks tracks how many active-link slots a node currently has
	// populated (0, 1, or 2).
	ActiveLinks *prometheus.GaugeVec

	// LinkStateTransitions counts link FSM state transitions. Each counter
	// is labeled with the old state and new state for precise alerting
	// (e.g. ESTABLISHED->RESETTING).
	LinkStateTransitions *prometheus.CounterVec

	// MonitorDomainSize gauges the current own-domain member count
	// (self.applied) per node.
	MonitorDomainSize *prometheus.GaugeVec

	// LostMemberDetections counts peer-loss events raised by a node's
	// monitor for a given peer.
	LostMemberDetections *prometheus.CounterVec
}

// NewCollector creates a Collector with all TIPC metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "tipcsim_tipc_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveLinks,
		c.LinkStateTransitions,
		c.MonitorDomainSize,
		c.LostMemberDetections,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	nodeLabels := []string{labelNode}
	peerLabels := []string{labelNode, labelPeer}
	transitionLabels := []string{labelNode, labelPeer, labelBearer, labelFromState, labelToState}

	return &Collector{
		ActiveLinks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_links",
			Help:      "Number of active-link slots currently populated on a node (0, 1, or 2).",
		}, nodeLabels),

		LinkStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_state_transitions_total",
			Help:      "Total link FSM state transitions.",
		}, transitionLabels),

		MonitorDomainSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "monitor_domain_size",
			Help:      "Current own-domain member count (self.applied) of a node's monitor.",
		}, nodeLabels),

		LostMemberDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lost_member_detections_total",
			Help:      "Total peer-loss events raised by a node's monitor for a given peer.",
		}, peerLabels),
	}
}

// -------------------------------------------------------------------------
// Active Links
// -------------------------------------------------------------------------

// SetActiveLinks sets the active-link gauge for node to count.
func (c *Collector) SetActiveLinks(node string, count float64) {
	c.ActiveLinks.WithLabelValues(node).Set(count)
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordLinkStateTransition increments the link-transition counter with the
// old and new state labels. Used for alerting on link flaps.
func (c *Collector) RecordLinkStateTransition(node, peer, bearer, from, to string) {
	c.LinkStateTransitions.WithLabelValues(node, peer, bearer, from, to).Inc()
}

// -------------------------------------------------------------------------
// Monitor
// -------------------------------------------------------------------------

// SetMonitorDomainSize sets the domain-size gauge for node.
func (c *Collector) SetMonitorDomainSize(node string, size float64) {
	c.MonitorDomainSize.WithLabelValues(node).Set(size)
}

// IncLostMemberDetections increments the lost-member counter for the given
// node/peer pair.
func (c *Collector) IncLostMemberDetections(node, peer string) {
	c.LostMemberDetections.WithLabelValues(node, peer).Inc()
}