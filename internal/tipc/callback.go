package tipc

// StateChange describes one link state transition, delivered to a
// StateCallback after the transition has already been applied.
type StateChange struct {
	PeerAddress uint32
	BearerID    uint8
	OldState    State
	NewState    State
	Flags       Flag
}

// StateCallback is invoked on every link state transition. Register one
// via Link.OnStateChange to drive external bookkeeping (metrics, a test
// harness's assertion log, a scenario runner's summary) without the Link
// itself knowing about any of those consumers. Callbacks run synchronously
// on the goroutine that drove the transition; a callback that blocks
// blocks the whole event.
type StateCallback func(change StateChange)