package tipc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Node-level capability bits (SYN_BIT | BCAST_SYNCH | ... per the
// source's node capability mask). Bit assignments are local to this
// module; nothing outside it interprets them.
const (
	CapSynBit Capability = 1 << iota
	CapBcastSynch
	CapBcastStateNack
	CapBcastRcast
	CapBlockFlowctl
	CapNodeID128
	CapLinkProtoSeqno
)

// Capability is a bitmask of node/link capability flags.
type Capability uint32

// DefaultCapabilities is the mask a freshly constructed Node advertises.
const DefaultCapabilities = CapSynBit | CapBcastSynch | CapBcastStateNack |
	CapBcastRcast | CapBlockFlowctl | CapNodeID128 | CapLinkProtoSeqno

// NodeHtableSize mirrors the source's node hash table size; unused
// structurally here since Go maps don't need pre-sized bucket counts, but
// kept as a named constant for parity with the source's tunables.
const NodeHtableSize = 512

// InvalidNodeSig is the signature value a Node starts with before any
// peer contact assigns a real one.
const InvalidNodeSig = 0x10000

// Scope values returned by Node2Scope.
const (
	ClusterScope uint8 = 2
	NodeScope    uint8 = 3
)

// NodeCleanupAfter is how long a down Node's links are kept before
// Cleanup frees them.
const NodeCleanupAfter = 300 * time.Second

// initialKeepaliveIntv is the keepalive interval a fresh Node starts
// with, before any link's tolerance has had a chance to tighten it.
const initialKeepaliveIntv = 10 * time.Second

// NodeState is a coarse node-level lifecycle state: SelfDownPeerLeaving
// until the first notification drain, then NodeUp or NodeDown depending
// on whether an active-link slot is populated.
type NodeState uint8

const (
	// SelfDownPeerLeaving is the state a Node starts in: this side is
	// not yet up and has received no indication of peer activity.
	SelfDownPeerLeaving NodeState = iota
	NodeUp
	NodeDown
)

// ActionFlag marks what a drained notification should do.
type ActionFlag uint8

const (
	NotifyNodeUp ActionFlag = 1 << iota
	NotifyNodeDown
	NotifyLinkUp
	NotifyLinkDown
)

type pendingNotify struct {
	kind     ActionFlag
	bearerID uint8
	peerAddr uint32
}

// AddressAllocator hands out unique, monotonically increasing non-zero
// node addresses (0 is reserved for "anonymous/self"). Modeled as an
// injected capability rather than a package-global so tests can reset
// it, per the source's single global_node_addr counter.
type AddressAllocator interface {
	Next() uint32
}

// counterAllocator is the default AddressAllocator: an atomic counter
// starting at 1.
type counterAllocator struct {
	n atomic.Uint32
}

// NewAddressAllocator returns the default atomic-counter allocator.
func NewAddressAllocator() AddressAllocator {
	return &counterAllocator{}
}

func (c *counterAllocator) Next() uint32 {
	return c.n.Add(1)
}

// NodeIDString formats a 32-bit node address as the lowercase hex string
// the source uses for node_id_string.
func NodeIDString(addr uint32) string {
	return fmt.Sprintf("%08x", addr)
}

// OwnNode reports whether addr refers to this node (itself, or the
// reserved anonymous address 0).
func OwnNode(selfAddr, addr uint32) bool {
	return addr == selfAddr || addr == 0
}

// ClusterMask extracts the cluster+zone portion of a node address.
func ClusterMask(addr uint32) uint32 {
	return addr & (uint32(MaxClusterSize)<<12 | 0xFF<<24)
}

// Node2Scope returns the TIPC lookup scope implied by cluster number n.
func Node2Scope(n uint32) uint8 {
	if n == 0 {
		return ClusterScope
	}
	return NodeScope
}

// Node owns up to MaxBearers Links and one Monitor per populated bearer,
// drives the keepalive timer, and forwards link up/down events into its
// monitors.
type Node struct {
	mu sync.Mutex

	SelfAddr     uint32
	NodeID       [16]byte
	Capabilities Capability
	Signature    uint32

	state NodeState

	links    [MaxBearers]*Link
	monitors [MaxBearers]*Monitor

	ActiveLinks [2]int8

	keepaliveIntv time.Duration
	deleteAt      time.Time

	actionQueue []pendingNotify

	clock  Clock
	timer  Timer
	logger *slog.Logger
}

// NewNode builds a Node with no links or monitors attached yet. selfAddr
// should come from an AddressAllocator.Next() call.
func NewNode(selfAddr uint32, clock Clock, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		SelfAddr:      selfAddr,
		Capabilities:  DefaultCapabilities,
		Signature:     InvalidNodeSig,
		state:         SelfDownPeerLeaving,
		keepaliveIntv: initialKeepaliveIntv,
		clock:         clock,
		logger:        logger.With(slog.String("node", NodeIDString(selfAddr))),
	}
	for i := range n.ActiveLinks {
		n.ActiveLinks[i] = InvalidBearerID
	}
	return n
}

// IsUp reports whether at least one active-link slot is populated.
func (n *Node) IsUp() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isUpLocked()
}

func (n *Node) isUpLocked() bool {
	for _, b := range n.ActiveLinks {
		if b != InvalidBearerID {
			return true
		}
	}
	return false
}

// AttachLink installs link on bearerID, lazily creating that bearer's
// Monitor if it does not already exist, and wires the link to query it.
func (n *Node) AttachLink(bearerID uint8, link *Link) error {
	if bearerID >= MaxBearers {
		return fmt.Errorf("bearer id %d >= MaxBearers(%d)", bearerID, MaxBearers)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.monitors[bearerID] == nil {
		n.monitors[bearerID] = NewMonitor(n.SelfAddr, n.clock, n.logger)
	}
	link.SetMonitor(n.monitors[bearerID])
	n.links[bearerID] = link
	return nil
}

// Link returns the link attached to bearerID, or nil.
func (n *Node) Link(bearerID uint8) *Link {
	n.mu.Lock()
	defer n.mu.Unlock()
	if bearerID >= MaxBearers {
		return nil
	}
	return n.links[bearerID]
}

// Monitor returns the monitor for bearerID, or nil if no link has ever
// been attached there.
func (n *Node) Monitor(bearerID uint8) *Monitor {
	n.mu.Lock()
	defer n.mu.Unlock()
	if bearerID >= MaxBearers {
		return nil
	}
	return n.monitors[bearerID]
}

// Tick runs one keepalive-timer iteration: for every populated bearer it
// tightens keepaliveIntv, recomputes that link's abort limit, and runs
// the link's periodic timeout, queuing a link-down notification if the
// link failed.
func (n *Node) Tick(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for bearerID := uint8(0); bearerID < MaxBearers; bearerID++ {
		link := n.links[bearerID]
		if link == nil {
			continue
		}

		candidate := link.Tolerance / 4
		if candidate < 500*time.Millisecond {
			candidate = 500 * time.Millisecond
		}
		if candidate < n.keepaliveIntv {
			n.keepaliveIntv = candidate
		}

		abortLimit := uint32(link.Tolerance / n.keepaliveIntv)
		if abortLimit < 1 {
			abortLimit = 1
		}
		link.AbortLimit = abortLimit

		outcome, err := link.OnTimeout()
		if err != nil {
			n.logger.Error("link timeout failed", slog.Int("bearer", int(bearerID)), slog.String("err", err.Error()))
			continue
		}
		if outcome.FSMApplied && outcome.FSM.Flags&FlagLinkDown != 0 {
			n.linkDownLocked(bearerID, false)
		}
	}

	n.drainActionsLocked()
}

// ApplyLinkEvent drives bearerID's link FSM with event and forwards any
// resulting flags into the node's notification queue. This is the entry
// point a bearer-receive path should use so the Node -- not the Link
// itself -- is the one observing transitions and calling into the
// monitor, matching the documented data flow ("Node observes
// TIPC_LINK_DOWN_EVT and calls Monitor.peer_down").
func (n *Node) ApplyLinkEvent(bearerID uint8, event Event) (FSMResult, error) {
	n.mu.Lock()
	link := n.links[bearerID]
	n.mu.Unlock()

	if link == nil {
		return FSMResult{}, fmt.Errorf("bearer %d: no link attached", bearerID)
	}

	res, err := link.Apply(event)
	if err != nil {
		return FSMResult{}, err
	}

	n.mu.Lock()
	if res.Changed && res.NewState == LinkEstablished {
		n.actionQueue = append(n.actionQueue, pendingNotify{kind: NotifyLinkUp, bearerID: bearerID, peerAddr: link.PeerAddress})
	}
	if res.Flags&FlagLinkDown != 0 {
		n.linkDownLocked(bearerID, false)
	}
	n.drainActionsLocked()
	n.mu.Unlock()

	return res, nil
}

// linkUp queues a link-up notification for bearerID/peerAddr; call this
// once a link's FSM reaches ESTABLISHED.
func (n *Node) linkUp(bearerID uint8, peerAddr uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actionQueue = append(n.actionQueue, pendingNotify{kind: NotifyLinkUp, bearerID: bearerID, peerAddr: peerAddr})
}

// LinkUp is the exported entry point a caller (typically driven by a
// Link's StateCallback observing a transition into ESTABLISHED) uses to
// tell the Node a link came up.
func (n *Node) LinkUp(bearerID uint8, peerAddr uint32) {
	n.linkUp(bearerID, peerAddr)
}

// linkDownLocked queues a link-down notification; n.mu must be held.
func (n *Node) linkDownLocked(bearerID uint8, force bool) {
	var peerAddr uint32
	if l := n.links[bearerID]; l != nil {
		peerAddr = l.PeerAddress
	}
	n.actionQueue = append(n.actionQueue, pendingNotify{kind: NotifyLinkDown, bearerID: bearerID, peerAddr: peerAddr})
}

// LinkDown is the exported entry point for reporting a link failure
// (e.g. from a StateCallback observing TIPC_LINK_DOWN_EVT).
func (n *Node) LinkDown(bearerID uint8, force bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.linkDownLocked(bearerID, force)
	n.drainActionsLocked()
}

// drainActionsLocked processes every queued notification in FIFO order.
// NOTIFY_LINK_UP drives monitor.PeerUp and active-link promotion;
// NOTIFY_LINK_DOWN drives monitor.PeerDown and demotion. Node-level
// up/down notifications are reserved for name-table publication, which
// is out of this module's scope, and are therefore dropped after being
// observed.
func (n *Node) drainActionsLocked() {
	queue := n.actionQueue
	n.actionQueue = nil

	for _, act := range queue {
		mon := n.monitors[act.bearerID]
		switch act.kind {
		case NotifyLinkUp:
			if mon != nil {
				if err := mon.PeerUp(act.peerAddr); err != nil {
					n.logger.Error("monitor peer_up failed", slog.String("err", err.Error()))
				}
			}
			n.promoteLinkLocked(act.bearerID)
		case NotifyLinkDown:
			if mon != nil {
				if err := mon.PeerDown(act.peerAddr, act.bearerID); err != nil {
					n.logger.Warn("monitor peer_down failed", slog.String("err", err.Error()))
				}
			}
			n.demoteLinkLocked(act.bearerID)
		case NotifyNodeUp, NotifyNodeDown:
			// Name-table notification is out of scope; nothing to do.
		}
	}

	if !n.isUpLocked() {
		if n.deleteAt.IsZero() {
			n.deleteAt = n.clock.Now().Add(NodeCleanupAfter)
		}
		n.state = NodeDown
	} else {
		n.deleteAt = time.Time{}
		n.state = NodeUp
	}
}

// promoteLinkLocked implements the active-link promotion supplemental
// feature (adapted from the source's commented-out
// __tipc_node_link_up): the newly-up bearer takes a free active-link
// slot, or replaces the lowest-priority occupant if its link has
// strictly higher priority. The demoted link, if any, is left attached
// and simply no longer carries active traffic.
func (n *Node) promoteLinkLocked(bearerID uint8) {
	link := n.links[bearerID]
	if link == nil || link.State() != LinkEstablished {
		return
	}

	for i, b := range n.ActiveLinks {
		if b == int8(bearerID) {
			return // already active
		}
		if b == InvalidBearerID {
			n.ActiveLinks[i] = int8(bearerID)
			return
		}
	}

	lowest := 0
	for i := 1; i < len(n.ActiveLinks); i++ {
		cur := n.links[n.ActiveLinks[i]]
		low := n.links[n.ActiveLinks[lowest]]
		if cur != nil && low != nil && cur.Priority < low.Priority {
			lowest = i
		}
	}

	current := n.links[n.ActiveLinks[lowest]]
	if current == nil || link.Priority > current.Priority {
		n.ActiveLinks[lowest] = int8(bearerID)
	}
}

// demoteLinkLocked removes bearerID from the active-link slots, if
// present, without touching the link itself.
func (n *Node) demoteLinkLocked(bearerID uint8) {
	for i, b := range n.ActiveLinks {
		if b == int8(bearerID) {
			n.ActiveLinks[i] = InvalidBearerID
		}
	}
}

// Cleanup frees a down node's link slots once NodeCleanupAfter has
// elapsed since it went down, reporting whether it is now safe to free
// the Node entirely.
func (n *Node) Cleanup(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isUpLocked() || n.deleteAt.IsZero() || now.Before(n.deleteAt) {
		return false
	}

	for i := range n.links {
		n.links[i] = nil
	}
	if n.timer != nil {
		n.timer.Stop()
	}
	return true
}