package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tipcsim/core/internal/config"
	tipcmetrics "github.com/tipcsim/core/internal/metrics"
	"github.com/tipcsim/core/internal/tipc"
)

// linkPair is one declared bearer between two nodes, expanded into the two
// Link objects (one per direction) the runner attaches to each side's Node.
type linkPair struct {
	aNode, bNode *tipc.Node
	aLink, bLink *tipc.Link
	bearerID     uint8
}

// simulation is the in-process Node/Link/Monitor graph built from a
// config.ScenarioConfig, plus the clock and metrics wiring the runner
// drives it with.
type simulation struct {
	clock     *tipc.VirtualClock
	nodes     map[uint32]*tipc.Node
	links     []linkPair
	collector *tipcmetrics.Collector
	logger    *slog.Logger
}

// buildSimulation constructs every Node and Link declared by sc, wires
// each link's StateCallback to the metrics collector, and applies the
// monitor threshold override if set. It does not establish any link --
// that is establish's job -- so the caller can inspect the
// freshly-attached, still-RESETTING graph before the run loop advances it.
func buildSimulation(sc config.ScenarioConfig, clock *tipc.VirtualClock, collector *tipcmetrics.Collector, logger *slog.Logger) (*simulation, error) {
	sim := &simulation{
		clock:     clock,
		nodes:     make(map[uint32]*tipc.Node, len(sc.Nodes)),
		collector: collector,
		logger:    logger,
	}

	for _, nc := range sc.Nodes {
		sim.nodes[nc.ID] = tipc.NewNode(nc.ID, clock, logger)
	}

	// Declaring a link from only one side is valid config -- wire both
	// directions and reject a second declaration of the same pair.
	seen := make(map[[2]uint32]struct{})

	for _, nc := range sc.Nodes {
		for _, lc := range nc.Links {
			selfNode := sim.nodes[nc.ID]
			peerNode, ok := sim.nodes[lc.PeerID]
			if !ok {
				return nil, fmt.Errorf("node %d: link references unknown peer %d", nc.ID, lc.PeerID)
			}

			key := pairKey(nc.ID, lc.PeerID)
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("node %d: duplicate link declaration to peer %d", nc.ID, lc.PeerID)
			}
			seen[key] = struct{}{}

			pair, err := sim.attachLinkPair(selfNode, peerNode, nc.ID, lc)
			if err != nil {
				return nil, fmt.Errorf("node %d link to %d: %w", nc.ID, lc.PeerID, err)
			}
			sim.links = append(sim.links, pair)
		}
	}

	if sc.MonitorThreshold > 0 {
		for _, n := range sim.nodes {
			for b := uint8(0); b < tipc.MaxBearers; b++ {
				if mon := n.Monitor(b); mon != nil {
					if err := mon.SetThreshold(sc.MonitorThreshold); err != nil {
						return nil, fmt.Errorf("set monitor threshold: %w", err)
					}
				}
			}
		}
	}

	return sim, nil
}

// pairKey normalizes (a, b) so a<->b and b<->a hash to the same entry.
func pairKey(a, b uint32) [2]uint32 {
	if a < b {
		return [2]uint32{a, b}
	}
	return [2]uint32{b, a}
}

// attachLinkPair creates the two Link objects for one declared bearer and
// attaches each to its owning Node, wiring a StateCallback on both that
// only records the transition-counter metric -- ApplyLinkEvent, not the
// callback, is what queues the Node's monitor notifications, so the
// callback must not duplicate that.
func (sim *simulation) attachLinkPair(selfNode, peerNode *tipc.Node, selfID uint32, lc config.LinkConfig) (linkPair, error) {
	selfIDStr := tipc.NodeIDString(selfID)
	peerIDStr := tipc.NodeIDString(lc.PeerID)

	aLink := tipc.NewLink(selfIDStr, fmt.Sprintf("bearer%d", lc.BearerID), lc.PeerID, peerIDStr, lc.BearerID, lc.Tolerance, lc.MinWin, lc.MaxWin, sim.logger)
	aLink.Priority = lc.Priority

	bLink := tipc.NewLink(peerIDStr, fmt.Sprintf("bearer%d", lc.BearerID), selfID, selfIDStr, lc.BearerID, lc.Tolerance, lc.MinWin, lc.MaxWin, sim.logger)
	bLink.Priority = lc.Priority

	bearerLabel := fmt.Sprintf("%d", lc.BearerID)
	aLink.OnStateChange(sim.transitionRecorder(selfIDStr, peerIDStr, bearerLabel))
	bLink.OnStateChange(sim.transitionRecorder(peerIDStr, selfIDStr, bearerLabel))

	if err := selfNode.AttachLink(lc.BearerID, aLink); err != nil {
		return linkPair{}, err
	}
	if err := peerNode.AttachLink(lc.BearerID, bLink); err != nil {
		return linkPair{}, err
	}

	return linkPair{aNode: selfNode, bNode: peerNode, aLink: aLink, bLink: bLink, bearerID: lc.BearerID}, nil
}

// transitionRecorder returns a StateCallback that records a link FSM
// transition against the collector's LinkStateTransitions counter.
func (sim *simulation) transitionRecorder(node, peer, bearer string) tipc.StateCallback {
	return func(change tipc.StateChange) {
		sim.collector.RecordLinkStateTransition(node, peer, bearer, change.OldState.String(), change.NewState.String())
	}
}

// establish drives every declared link pair through the bootstrap
// sequence RESETTING -> RESET -> ESTABLISHING -> ESTABLISHED via
// ApplyLinkEvent, the same entry point a bearer-receive path would use.
// This stands in for the real peer handshake: both sides privately know
// they intend to come up, so there is no need to model the wire exchange
// that gets two independent nodes to the same conclusion.
func (sim *simulation) establish() error {
	bootstrap := []tipc.Event{tipc.EventReset, tipc.EventPeerReset, tipc.EventEstablish}

	for _, pair := range sim.links {
		for _, ev := range bootstrap {
			if _, err := pair.aNode.ApplyLinkEvent(pair.bearerID, ev); err != nil {
				return fmt.Errorf("bearer %d side a: %w", pair.bearerID, err)
			}
			if _, err := pair.bNode.ApplyLinkEvent(pair.bearerID, ev); err != nil {
				return fmt.Errorf("bearer %d side b: %w", pair.bearerID, err)
			}
		}
	}

	return nil
}

// sortedNodeIDs returns the simulation's node addresses in ascending
// order, for deterministic iteration (tick order, summary output).
func (sim *simulation) sortedNodeIDs() []uint32 {
	ids := make([]uint32, 0, len(sim.nodes))
	for id := range sim.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
