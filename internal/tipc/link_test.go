package tipc_test

import (
	"testing"
	"time"

	"github.com/tipcsim/core/internal/tipc"
)

func newTestLink(t *testing.T, tolerance time.Duration, minWin, maxWin uint32) *tipc.Link {
	t.Helper()
	return tipc.NewLink("self", "eth0", 42, "peer", 0, tolerance, minWin, maxWin, nil)
}

// S1: Cold establish.
func TestScenarioS1ColdEstablish(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, 1500*time.Millisecond, 16, 64)

	if l.State() != tipc.LinkResetting {
		t.Fatalf("initial state = %v, want RESETTING", l.State())
	}

	if _, err := l.Apply(tipc.EventPeerReset); err != nil {
		t.Fatalf("peer reset: %v", err)
	}
	if l.State() != tipc.LinkPeerReset {
		t.Fatalf("state = %v, want PEER_RESET", l.State())
	}

	if _, err := l.Apply(tipc.EventReset); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if l.State() != tipc.LinkEstablishing {
		t.Fatalf("state = %v, want ESTABLISHING", l.State())
	}

	res, err := l.Apply(tipc.EventEstablish)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if res.Flags != 0 {
		t.Fatalf("flags = %v, want 0", res.Flags)
	}
	if l.State() != tipc.LinkEstablished {
		t.Fatalf("state = %v, want ESTABLISHED", l.State())
	}
	if !l.IsUp() {
		t.Fatal("expected link to be up")
	}

	low, err := l.BacklogLimit(tipc.ImportanceLow)
	if err != nil || low != 32 {
		t.Fatalf("backlog[low] = %d, err %v, want 32", low, err)
	}
	crit, err := l.BacklogLimit(tipc.ImportanceCritical)
	if err != nil || crit != 128 {
		t.Fatalf("backlog[critical] = %d, err %v, want 128", crit, err)
	}
	if l.Window != 16 {
		t.Fatalf("window = %d, want 16", l.Window)
	}
	if l.Ssthresh != 64 {
		t.Fatalf("ssthresh = %d, want 64", l.Ssthresh)
	}
}

// S2: Failure from established.
func TestScenarioS2FailureFromEstablished(t *testing.T) {
	t.Parallel()

	l := establishedLink(t)

	res, err := l.Apply(tipc.EventFailure)
	if err != nil {
		t.Fatalf("failure: %v", err)
	}
	if l.State() != tipc.LinkResetting {
		t.Fatalf("state = %v, want RESETTING", l.State())
	}
	if res.Flags&tipc.FlagLinkDown == 0 {
		t.Fatal("expected FlagLinkDown")
	}
}

// S3: Synch round-trip.
func TestScenarioS3SynchRoundTrip(t *testing.T) {
	t.Parallel()

	l := establishedLink(t)

	if _, err := l.Apply(tipc.EventSynchBegin); err != nil {
		t.Fatalf("synch begin: %v", err)
	}
	if l.State() != tipc.LinkSynching {
		t.Fatalf("state = %v, want SYNCHING", l.State())
	}

	if _, err := l.Apply(tipc.EventSynchEnd); err != nil {
		t.Fatalf("synch end: %v", err)
	}
	if l.State() != tipc.LinkEstablished {
		t.Fatalf("state = %v, want ESTABLISHED", l.State())
	}
}

func establishedLink(t *testing.T) *tipc.Link {
	t.Helper()
	l := newTestLink(t, 1500*time.Millisecond, 16, 64)
	mustApply(t, l, tipc.EventPeerReset)
	mustApply(t, l, tipc.EventReset)
	mustApply(t, l, tipc.EventEstablish)
	return l
}

func mustApply(t *testing.T, l *tipc.Link, e tipc.Event) {
	t.Helper()
	if _, err := l.Apply(e); err != nil {
		t.Fatalf("apply %v: %v", e, err)
	}
}

func TestLinkStateCallbackFires(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, time.Second, 8, 32)

	var changes []tipc.StateChange
	l.OnStateChange(func(c tipc.StateChange) {
		changes = append(changes, c)
	})

	mustApply(t, l, tipc.EventPeerReset)
	mustApply(t, l, tipc.EventReset)

	if len(changes) != 2 {
		t.Fatalf("got %d callback invocations, want 2", len(changes))
	}
	if changes[0].NewState != tipc.LinkPeerReset {
		t.Fatalf("first change new state = %v, want PEER_RESET", changes[0].NewState)
	}
}

type fakeMonitor struct {
	state tipc.MonitorState
}

func (f fakeMonitor) GetState(uint32) tipc.MonitorState { return f.state }

func TestOnTimeoutEstablishedQuietLinkDoesNotEmit(t *testing.T) {
	t.Parallel()

	l := establishedLink(t)
	outcome, err := l.OnTimeout()
	if err != nil {
		t.Fatalf("on timeout: %v", err)
	}
	if outcome.Emit {
		t.Fatal("expected no emission: no unacked data, no probe, no monitoring")
	}
	if outcome.MessageType != tipc.StateMsg {
		t.Fatalf("message type = %d, want StateMsg", outcome.MessageType)
	}
}

func TestOnTimeoutEstablishedMonitoringIncrementsSilentCount(t *testing.T) {
	t.Parallel()

	l := establishedLink(t)
	l.SetMonitor(fakeMonitor{state: tipc.MonitorState{Monitoring: true}})

	if _, err := l.OnTimeout(); err != nil {
		t.Fatalf("on timeout: %v", err)
	}
	if l.SilentIntvCnt != 1 {
		t.Fatalf("silent_intv_cnt = %d, want 1", l.SilentIntvCnt)
	}
}

func TestOnTimeoutResetEmitsPeriodically(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, time.Second, 8, 32)
	mustApply(t, l, tipc.EventPeerReset) // RESETTING -> PEER_RESET
	mustApply(t, l, tipc.EventReset)     // PEER_RESET -> ESTABLISHING
	mustApply(t, l, tipc.EventReset)     // ESTABLISHING -> RESET
	if l.State() != tipc.LinkReset {
		t.Fatalf("state = %v, want RESET", l.State())
	}

	for i := 0; i < 5; i++ {
		outcome, err := l.OnTimeout()
		if err != nil {
			t.Fatalf("on timeout %d: %v", i, err)
		}
		if outcome.MessageType != tipc.ResetMsg {
			t.Fatalf("message type = %d, want ResetMsg", outcome.MessageType)
		}
		if i <= 4 && !outcome.Emit {
			t.Fatalf("iteration %d: expected emit (rst_cnt <= 4)", i)
		}
	}
}

func TestOnTimeoutMonitorFailureTriggersFSMFailure(t *testing.T) {
	t.Parallel()

	l := establishedLink(t)
	l.SetMonitor(fakeMonitor{state: tipc.MonitorState{Reset: true}})

	outcome, err := l.OnTimeout()
	if err != nil {
		t.Fatalf("on timeout: %v", err)
	}
	if !outcome.FSMApplied {
		t.Fatal("expected FSM to be applied due to monitor reset")
	}
	if outcome.FSM.NewState != tipc.LinkResetting {
		t.Fatalf("state = %v, want RESETTING", outcome.FSM.NewState)
	}
	if l.State() != tipc.LinkResetting {
		t.Fatalf("link state = %v, want RESETTING", l.State())
	}
}

func TestTooSilent(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, time.Second, 8, 32)
	l.AbortLimit = 4
	l.SilentIntvCnt = 3
	if !l.TooSilent() {
		t.Fatal("expected too silent (3+2 > 4)")
	}

	l.SilentIntvCnt = 1
	if l.TooSilent() {
		t.Fatal("expected not too silent (1+2 <= 4)")
	}
}