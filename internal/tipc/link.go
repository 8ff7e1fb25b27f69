package tipc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Importance is a message priority level used to size per-link backlog
// queues. SystemImportance messages bypass backlog limiting entirely.
type Importance uint8

const (
	ImportanceLow Importance = iota
	ImportanceMedium
	ImportanceHigh
	ImportanceCritical
	SystemImportance
)

// Message types carried in a signalling header's message-type sub-field.
// Re-exported here (not just in header.go) because link.go is where they
// get chosen.
const (
	msgStateMsg    = StateMsg
	msgResetMsg    = ResetMsg
	msgActivateMsg = ActivateMsg
)

// MaxBearers bounds the number of concurrently active bearers (transport
// paths) a Node may use toward its peers.
const MaxBearers = 3

// InvalidBearerID marks an unused bearer slot.
const InvalidBearerID int8 = -1

var (
	// ErrUnknownImportance indicates a backlog query used an out-of-range
	// importance level.
	ErrUnknownImportance = errors.New("unknown importance level")
)

// MonitorState is what the Link asks its Monitor for on every periodic
// timeout: whether the peer is being actively probed, whether the
// monitor considers it already failed, and whether anyone (local or
// head) is actively monitoring it at all.
type MonitorState struct {
	Probing    bool
	Reset      bool
	Monitoring bool
	ListGen    uint32
}

// MonitorQuerier is the subset of Monitor a Link needs during its
// periodic timeout. Declaring it as an interface lets link_test.go
// supply a fake without constructing a full Monitor.
type MonitorQuerier interface {
	GetState(peerAddr uint32) MonitorState
}

// TimeoutOutcome is what OnTimeout decided to do: whether to emit a
// protocol message (and which kind), and the FSM result if the timeout
// forced a transition (only possible via an injected FAILURE event).
type TimeoutOutcome struct {
	Emit        bool
	MessageType uint8
	FSM         FSMResult
	FSMApplied  bool
}

// Link represents one directional-pair association between the local
// node and one peer over one bearer: a TIPC signalling link.
type Link struct {
	state atomic.Uint32 // tipc.State, lock-free external reads

	PeerAddress uint32
	SelfID      string
	PeerID      string
	IfName      string

	Session     uint16
	PeerSession uint16

	BearerID     uint8
	PeerBearerID uint8

	Tolerance     time.Duration
	AbortLimit    uint32
	SilentIntvCnt uint32

	PeerCaps uint32
	InSession bool

	Priority      uint8
	NetPlane      byte
	AdvertisedMtu uint32
	Mtu           uint32

	SendNxt uint16
	RcvNxt  uint16

	MinWin, MaxWin       uint32
	Window, Ssthresh     uint32
	Checkpoint           uint32
	Backlog              [4]uint32 // indexed by Importance (low..critical)

	RstCnt       uint32
	RcvUnacked   uint32
	TransmQLen   int
	DeferdQLen   int
	setupPending bool

	monitor  MonitorQuerier
	callback StateCallback
	logger   *slog.Logger
}

// NewLink creates a Link in LINK_RESETTING with in_session=false and
// derives its queue limits from minWin/maxWin: window=minWin,
// ssthresh=maxWin, backlog[importance] = minWin * {2,4,6,8}.
func NewLink(selfID, ifName string, peerAddr uint32, peerID string, bearerID uint8, tolerance time.Duration, minWin, maxWin uint32, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Link{
		PeerAddress: peerAddr,
		SelfID:      selfID,
		PeerID:      peerID,
		IfName:      ifName,
		BearerID:    bearerID,
		Tolerance:   tolerance,
		MinWin:      minWin,
		MaxWin:      maxWin,
		Window:      minWin,
		Ssthresh:    maxWin,
		NetPlane:    'A',
		logger:      logger.With(slog.String("link", fmt.Sprintf("%s:%s-%s:unknown", selfID, ifName, peerID))),
	}
	l.Backlog[ImportanceLow] = minWin * 2
	l.Backlog[ImportanceMedium] = minWin * 4
	l.Backlog[ImportanceHigh] = minWin * 6
	l.Backlog[ImportanceCritical] = minWin * 8

	l.state.Store(uint32(LinkResetting))
	return l
}

// SetMonitor installs the (non-owning) Monitor reference this Link
// queries during periodic timeouts. Node wires this at construction time.
func (l *Link) SetMonitor(m MonitorQuerier) { l.monitor = m }

// OnStateChange registers cb to be invoked on every FSM transition. Only
// one callback is supported at a time; registering again replaces it.
func (l *Link) OnStateChange(cb StateCallback) { l.callback = cb }

// State returns the current FSM state. Safe to call concurrently with
// mutation from the owning Node's goroutine.
func (l *Link) State() State { return State(l.state.Load()) }

// IsUp reports whether the link is in a live state (ESTABLISHED or
// SYNCHING).
func (l *Link) IsUp() bool { return IsUp(l.State()) }

// IsReset reports whether the link is mid-reestablishment.
func (l *Link) IsReset() bool { return IsReset(l.State()) }

// IsBlocked reports whether the link is waiting on the peer.
func (l *Link) IsBlocked() bool { return IsBlocked(l.State()) }

// TooSilent reports whether the silent-interval counter has grown close
// enough to the abort limit to warrant probing.
func (l *Link) TooSilent() bool {
	return l.SilentIntvCnt+2 > l.AbortLimit
}

// Apply drives the FSM with event, updates the Link's stored state, and
// invokes the registered StateCallback (if any). When the transition is
// illegal it leaves the Link's state untouched, invokes no callback and
// returns the error.
func (l *Link) Apply(event Event) (FSMResult, error) {
	cur := l.State()

	res, err := ApplyEvent(cur, event)
	if err != nil {
		l.logger.Error("illegal fsm event", slog.String("state", cur.String()), slog.String("event", event.String()))
		return FSMResult{}, fmt.Errorf("link %s: %w", l.PeerID, err)
	}

	l.state.Store(uint32(res.NewState))

	if res.Changed {
		l.logger.Debug("link state transition",
			slog.String("old", res.OldState.String()),
			slog.String("new", res.NewState.String()),
			slog.String("event", event.String()),
		)
	}

	if l.callback != nil {
		l.callback(StateChange{
			PeerAddress: l.PeerAddress,
			BearerID:    l.BearerID,
			OldState:    res.OldState,
			NewState:    res.NewState,
			Flags:       res.Flags,
		})
	}

	return res, nil
}

// Reset forces the link back into LINK_RESETTING, bumping the session
// number so stale protocol messages from before the reset are rejected.
// It does not go through the FSM table directly (RESETTING is reachable
// from every state via an external reset request, unlike the table's
// internal event-driven transitions) -- callers that need the FSM's
// legality checking should use Apply(EventReset) instead.
func (l *Link) Reset() {
	l.state.Store(uint32(LinkResetting))
	l.Session++
	l.InSession = false
	l.SilentIntvCnt = 0
	l.RstCnt = 0
}

// Awake applies EventEstablish to the link, mirroring the source's
// tipc_link_fsm_evt(ESTABLISH) entry point. From ESTABLISHING it completes
// establishment; in RESET and FAILINGOVER the event is a legal self-loop
// and the state does not change.
func (l *Link) Awake() (FSMResult, error) {
	return l.Apply(EventEstablish)
}

// OnTimeout implements the per-state periodic-timeout behavior driven by
// the Node's keepalive timer.
func (l *Link) OnTimeout() (TimeoutOutcome, error) {
	switch st := l.State(); st {
	case LinkEstablished, LinkSynching:
		return l.onTimeoutEstablished()
	case LinkReset:
		emit := l.RstCnt <= 4 || l.RstCnt%16 == 0
		l.RstCnt++
		return TimeoutOutcome{Emit: emit, MessageType: msgResetMsg}, nil
	case LinkEstablishing:
		return TimeoutOutcome{Emit: true, MessageType: msgActivateMsg}, nil
	default: // PEER_RESET, RESETTING, FAILINGOVER: no emission
		return TimeoutOutcome{}, nil
	}
}

func (l *Link) onTimeoutEstablished() (TimeoutOutcome, error) {
	var ms MonitorState
	if l.monitor != nil {
		ms = l.monitor.GetState(l.PeerAddress)
	}

	if ms.Reset || l.SilentIntvCnt > l.AbortLimit {
		res, err := l.Apply(EventFailure)
		if err != nil {
			return TimeoutOutcome{}, err
		}
		return TimeoutOutcome{FSM: res, FSMApplied: true}, nil
	}

	stateDirty := l.RcvUnacked != 0 || l.TransmQLen != 0 || l.DeferdQLen != 0
	probe := ms.Probing || l.SilentIntvCnt > 0

	if probe || ms.Monitoring {
		l.SilentIntvCnt++
	}

	emit := stateDirty || probe || l.setupPending
	return TimeoutOutcome{Emit: emit, MessageType: msgStateMsg}, nil
}

// BacklogLimit returns the configured backlog limit for imp.
func (l *Link) BacklogLimit(imp Importance) (uint32, error) {
	if imp > ImportanceCritical {
		return 0, fmt.Errorf("importance %d: %w", imp, ErrUnknownImportance)
	}
	return l.Backlog[imp], nil
}