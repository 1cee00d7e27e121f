package transport

import (
	"testing"

	"github.com/chronostruct/gossp/internal/wire"
)

func TestSenderSendsEmptyAckWhenIdle(t *testing.T) {
	conn := newFakeConn()
	now := int64(0)
	sender := NewSender[strState](conn, strState{}, now)

	now += AckInterval
	if err := sender.Tick(now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(conn.sent) != 1 {
		t.Fatalf("expected one empty ack sent, got %d", len(conn.sent))
	}

	frag, err := wire.UnmarshalFragment(conn.sent[0])
	if err != nil {
		t.Fatalf("UnmarshalFragment: %v", err)
	}
	inst, err := wire.Unmarshal(frag.Body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(inst.Diff) != 0 {
		t.Fatalf("expected empty diff for empty ack, got %q", inst.Diff)
	}
}

func TestSenderSendsDiffOnNewState(t *testing.T) {
	conn := newFakeConn()
	now := int64(0)
	sender := NewSender[strState](conn, strState{}, now)

	sender.SetCurrentState(strState{content: "hello"})

	now += SendMinDelay + SendIntervalMax // ensure both deadlines have passed
	if err := sender.Tick(now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(conn.sent) == 0 {
		t.Fatal("expected a frame to be sent for a changed state")
	}

	frag, err := wire.UnmarshalFragment(conn.sent[len(conn.sent)-1])
	if err != nil {
		t.Fatalf("UnmarshalFragment: %v", err)
	}
	inst, err := wire.Unmarshal(frag.Body)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(inst.Diff) != "hello" {
		t.Fatalf("diff = %q, want %q", inst.Diff, "hello")
	}
}

// TestSenderRetransmitsAtSendIntervalPaceWhenUnacked covers the
// retransmit-backoff branch of WaitTime (§4.5 step 5): once a diff has
// been sent but the receiver hasn't caught up to it, and no new local
// input has arrived, the sender must keep retrying at send-interval pace
// rather than freezing next_send_time at infinity until the next ack
// deadline (ACK_INTERVAL, a full 3000ms later).
func TestSenderRetransmitsAtSendIntervalPaceWhenUnacked(t *testing.T) {
	conn := newFakeConn()
	now := int64(0)
	sender := NewSender[strState](conn, strState{}, now)

	sender.SetCurrentState(strState{content: "hello"})
	now += SendMinDelay + SendIntervalMax
	if err := sender.Tick(now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	firstSent := len(conn.sent)
	if firstSent == 0 {
		t.Fatal("expected the initial diff to be sent")
	}

	retryAt := now + SendIntervalMax
	if retryAt >= now+AckInterval {
		t.Fatal("test setup must stay well under AckInterval to distinguish retransmit pace")
	}
	if err := sender.Tick(retryAt); err != nil {
		t.Fatalf("Tick retry: %v", err)
	}

	if len(conn.sent) <= firstSent {
		t.Fatalf("expected a retransmit at send-interval pace, got no additional sends (sent=%d)", len(conn.sent))
	}
}

func TestSenderDoesNotMutateFrozenStateAfterShutdown(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)
	sender.StartShutdown(0)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when mutating state after shutdown began")
		}
	}()
	sender.SetCurrentState(strState{content: "too late"})
}

func TestSenderShutdownReachesAcknowledgedOnFrontAckedMax(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)
	sender.StartShutdown(0)

	if err := sender.Tick(SendIntervalMax); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(conn.sent) == 0 {
		t.Fatal("expected shutdown sender to transmit")
	}

	// Simulate the peer acknowledging the shutdown new_num (wire.Shutdown).
	sender.ProcessAcknowledgmentThrough(wire.Shutdown)

	if got := sender.ShutdownState(); got != ShutdownAcknowledged {
		t.Fatalf("ShutdownState = %v, want ShutdownAcknowledged", got)
	}
}

// TestSenderShutdownTimesOutAfterRetriesExhausted covers P9's retry
// bound: with the peer never acknowledging, every shutdown-mode send
// (empty ack or diff) counts against SHUTDOWN_RETRIES, after which the
// handshake resolves to ShutdownAckTimedOut on its own.
func TestSenderShutdownTimesOutAfterRetriesExhausted(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)
	sender.StartShutdown(0)

	now := int64(0)
	for i := 0; i < ShutdownRetries+1; i++ {
		now += SendIntervalMax
		if err := sender.Tick(now); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if sender.ShutdownState().Terminal() {
			break
		}
	}

	if got := sender.ShutdownState(); got != ShutdownAckTimedOut {
		t.Fatalf("ShutdownState = %v, want ShutdownAckTimedOut after retries exhausted", got)
	}
}

// TestSenderShutdownTimesOutOnWallClock covers P9's other bound: even if
// sends cannot accumulate (the peer is unreachable and ticks are sparse),
// ActiveRetryTimeout since shutdown start resolves the handshake.
func TestSenderShutdownTimesOutOnWallClock(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)
	sender.StartShutdown(0)

	if err := sender.Tick(ActiveRetryTimeout); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if got := sender.ShutdownState(); got != ShutdownAckTimedOut {
		t.Fatalf("ShutdownState = %v, want ShutdownAckTimedOut after ActiveRetryTimeout", got)
	}
}

func TestSentStateAccessorsTrackQueueEndpoints(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)

	if sender.SentStateLast() != 0 || sender.SentStateAcked() != 0 {
		t.Fatalf("fresh sender: last=%d acked=%d, want 0/0",
			sender.SentStateLast(), sender.SentStateAcked())
	}

	sender.SetCurrentState(strState{content: "x"})
	if err := sender.Tick(SendMinDelay + SendIntervalMax); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if sender.SentStateLast() != 1 {
		t.Fatalf("SentStateLast = %d, want 1 after one diff send", sender.SentStateLast())
	}
	if sender.SentStateAcked() != 0 {
		t.Fatalf("SentStateAcked = %d, want 0 before any ack", sender.SentStateAcked())
	}

	sender.ProcessAcknowledgmentThrough(1)
	if sender.SentStateAcked() != 1 {
		t.Fatalf("SentStateAcked = %d, want 1 after the peer acked state 1", sender.SentStateAcked())
	}
}

func TestProcessAcknowledgmentThroughAlwaysRetainsFront(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)

	sender.ProcessAcknowledgmentThrough(9999)

	if len(sender.sentStates) == 0 {
		t.Fatal("sent_states must never become empty (P3)")
	}
}

func TestSentStatesQueueBoundErasesInterior(t *testing.T) {
	conn := newFakeConn()
	sender := NewSender[strState](conn, strState{}, 0)

	now := int64(0)
	for i := 0; i < 40; i++ {
		now += SendIntervalMax + SendMinDelay
		sender.SetCurrentState(strState{content: string(rune('a' + i%26))})
		if err := sender.Tick(now); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if len(sender.sentStates) > sentStatesSoftMax+1 {
		t.Fatalf("sent_states grew unbounded: len=%d", len(sender.sentStates))
	}

	front := sender.sentStates[0]
	back := sender.sentStates[len(sender.sentStates)-1]
	if front.Num >= back.Num {
		t.Fatalf("expected front.Num < back.Num, got front=%d back=%d", front.Num, back.Num)
	}
}
