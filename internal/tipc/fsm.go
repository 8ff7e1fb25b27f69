package tipc

import (
	"errors"
	"fmt"
)

// This file implements the TIPC link finite state machine: 7 states, 8
// events, a fixed legal-transition table. Modeled as a pure function over
// a transition table, no Link dependency -- the same shape BFD's FSM
// uses, but unlisted (state, event) pairs are protocol bugs here rather
// than silently-ignored events, since TIPC treats an illegal transition
// as fatal to the connection rather than a spurious duplicate packet.

// State is a link FSM state.
type State uint8

const (
	LinkResetting State = iota
	LinkReset
	LinkPeerReset
	LinkFailingOver
	LinkEstablishing
	LinkEstablished
	LinkSynching
)

func (s State) String() string {
	switch s {
	case LinkResetting:
		return "RESETTING"
	case LinkReset:
		return "RESET"
	case LinkPeerReset:
		return "PEER_RESET"
	case LinkFailingOver:
		return "FAILINGOVER"
	case LinkEstablishing:
		return "ESTABLISHING"
	case LinkEstablished:
		return "ESTABLISHED"
	case LinkSynching:
		return "SYNCHING"
	default:
		return "UNKNOWN"
	}
}

// Event is a link FSM event.
type Event uint8

const (
	EventEstablish Event = iota
	EventPeerReset
	EventFailure
	EventReset
	EventFailoverBegin
	EventFailoverEnd
	EventSynchBegin
	EventSynchEnd
)

func (e Event) String() string {
	switch e {
	case EventEstablish:
		return "ESTABLISH"
	case EventPeerReset:
		return "PEER_RESET"
	case EventFailure:
		return "FAILURE"
	case EventReset:
		return "RESET"
	case EventFailoverBegin:
		return "FAILOVER_BEGIN"
	case EventFailoverEnd:
		return "FAILOVER_END"
	case EventSynchBegin:
		return "SYNCH_BEGIN"
	case EventSynchEnd:
		return "SYNCH_END"
	default:
		return "UNKNOWN"
	}
}

// Flag is a side-effect bit returned to the caller. The FSM never acts on
// these itself; Node/Link drain them after the transition returns.
type Flag uint8

const (
	FlagLinkUp Flag = 1 << iota
	FlagLinkDown
	FlagSendState
)

// ErrIllegalFsmEvent indicates the (state, event) pair is not in the
// legal transition table -- a protocol bug, not a network condition.
var ErrIllegalFsmEvent = errors.New("illegal fsm event")

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	flags     Flag
}

// fsmTable is the complete TIPC link FSM transition table. TIPC
// distinguishes "legal, no-op" from "illegal", so every legal pair is
// listed here, self-loops included; a pair absent from the table is
// illegal.
var fsmTable = map[stateEvent]transition{
	// RESETTING
	{LinkResetting, EventPeerReset}: {LinkPeerReset, 0},
	{LinkResetting, EventReset}:     {LinkReset, 0},

	// RESET
	{LinkReset, EventPeerReset}:     {LinkEstablishing, 0},
	{LinkReset, EventReset}:         {LinkReset, 0},
	{LinkReset, EventFailure}:       {LinkReset, 0},
	{LinkReset, EventEstablish}:     {LinkReset, 0},
	{LinkReset, EventFailoverBegin}: {LinkFailingOver, 0},
	{LinkReset, EventFailoverEnd}:   {LinkReset, 0},

	// PEER_RESET
	{LinkPeerReset, EventPeerReset}: {LinkPeerReset, 0},
	{LinkPeerReset, EventReset}:     {LinkEstablishing, 0},
	{LinkPeerReset, EventFailure}:   {LinkPeerReset, 0},
	{LinkPeerReset, EventEstablish}: {LinkPeerReset, 0},

	// FAILINGOVER
	{LinkFailingOver, EventPeerReset}:   {LinkFailingOver, 0},
	{LinkFailingOver, EventReset}:       {LinkFailingOver, 0},
	{LinkFailingOver, EventFailure}:     {LinkFailingOver, 0},
	{LinkFailingOver, EventEstablish}:   {LinkFailingOver, 0},
	{LinkFailingOver, EventFailoverEnd}: {LinkReset, 0},

	// ESTABLISHING
	{LinkEstablishing, EventPeerReset}:     {LinkEstablishing, 0},
	{LinkEstablishing, EventReset}:         {LinkReset, 0},
	{LinkEstablishing, EventFailure}:       {LinkEstablishing, 0},
	{LinkEstablishing, EventEstablish}:     {LinkEstablished, 0},
	{LinkEstablishing, EventFailoverBegin}: {LinkFailingOver, 0},
	{LinkEstablishing, EventFailoverEnd}:   {LinkEstablishing, 0},
	{LinkEstablishing, EventSynchBegin}:    {LinkEstablishing, 0},

	// ESTABLISHED
	{LinkEstablished, EventPeerReset}: {LinkPeerReset, FlagLinkDown},
	{LinkEstablished, EventReset}:     {LinkReset, 0},
	{LinkEstablished, EventFailure}:   {LinkResetting, FlagLinkDown},
	{LinkEstablished, EventEstablish}: {LinkEstablished, 0},
	{LinkEstablished, EventSynchBegin}: {LinkSynching, 0},
	{LinkEstablished, EventSynchEnd}:   {LinkEstablished, 0},

	// SYNCHING
	{LinkSynching, EventPeerReset}: {LinkPeerReset, FlagLinkDown},
	{LinkSynching, EventReset}:     {LinkReset, 0},
	{LinkSynching, EventFailure}:   {LinkResetting, FlagLinkDown},
	{LinkSynching, EventEstablish}: {LinkSynching, 0},
	{LinkSynching, EventSynchBegin}: {LinkSynching, 0},
	{LinkSynching, EventSynchEnd}:   {LinkEstablished, 0},
}

// FSMResult is the outcome of applying one event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Flags    Flag
	Changed  bool
}

// ApplyEvent applies event to currentState and returns the result. It is a
// pure function: no side effects, no Link/Monitor dependency. The caller
// executes whatever the returned Flags imply (e.g. FlagLinkDown drives
// Node.linkDown). An (state, event) pair absent from the legal table
// returns ErrIllegalFsmEvent -- in TIPC this is always a programming bug,
// never a network event, and callers are expected to treat it as fatal to
// the link (not the process).
func ApplyEvent(currentState State, event Event) (FSMResult, error) {
	tr, ok := fsmTable[stateEvent{currentState, event}]
	if !ok {
		return FSMResult{}, fmt.Errorf("state=%s event=%s: %w", currentState, event, ErrIllegalFsmEvent)
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Flags:    tr.flags,
		Changed:  currentState != tr.newState,
	}, nil
}

// IsUp reports whether state is a live link state.
func IsUp(s State) bool {
	return s == LinkEstablished || s == LinkSynching
}

// IsReset reports whether state is mid-reestablishment.
func IsReset(s State) bool {
	return s == LinkReset || s == LinkFailingOver || s == LinkEstablishing
}

// IsBlocked reports whether state is waiting on the peer.
func IsBlocked(s State) bool {
	return s == LinkResetting || s == LinkPeerReset || s == LinkFailingOver
}