package transport

import (
	"fmt"
	"math"

	"github.com/chronostruct/gossp/internal/wire"
)

// Timing constants in milliseconds (§4.5).
const (
	SendIntervalMin    = 20
	SendIntervalMax    = 250
	AckInterval        = 3000
	AckDelay           = 100
	SendMinDelay       = 8
	ShutdownRetries    = 16
	ActiveRetryTimeout = 10000
)

// sentStatesSoftMax is the bound at which the interior-erase rule kicks in
// (§4.5, sent-state queue bound).
const sentStatesSoftMax = 32

// Connection is the subset of the datagram connection the sender needs:
// sending a fragment payload, the current RTT estimate used to pace
// frames, and whether the connection has a known peer to send to.
type Connection interface {
	Send(payload []byte) error
	Timeout() int64 // ms, clamp(ceil(SRTT+4*RTTVAR), [MIN_RTO,MAX_RTO])
	SRTT() float64
	MTU() int
	Attached() bool
}

// Sender maintains the queue of timestamped sent states and decides, on
// each tick, whether to transmit a diff, an empty ack, or nothing (§4.5).
type Sender[S State[S]] struct {
	conn Connection
	frag *wire.Fragmenter

	current S

	sentStates []TimestampedState[S]
	assumedIdx int // index into sentStates

	nextAckTime   int64
	nextSendTime  int64
	mindelayClock int64 // -1 means unset
	lastHeard     int64

	ackNum         uint64
	pendingDataAck bool

	shutdown      ShutdownState
	shutdownTries int
	shutdownStart int64
}

// NewSender creates a Sender whose initial sent-state is the given state at
// time now (ms).
func NewSender[S State[S]](conn Connection, initial S, now int64) *Sender[S] {
	return &Sender[S]{
		conn:    conn,
		frag:    wire.NewFragmenter(),
		current: initial,
		sentStates: []TimestampedState[S]{
			{Timestamp: now, Num: 0, State: initial},
		},
		assumedIdx:    0,
		nextAckTime:   now,
		nextSendTime:  now,
		mindelayClock: -1,
		lastHeard:     now,
		shutdown:      Running,
	}
}

// CurrentState returns the sender's working state.
func (s *Sender[S]) CurrentState() S { return s.current }

// SetCurrentState installs a new working state. Mutating current_state
// after a shutdown has begun is a programming error: the source freezes it
// explicitly, and so do we.
func (s *Sender[S]) SetCurrentState(next S) {
	if s.shutdown != Running {
		panic("transport: Sender: SetCurrentState called after shutdown started")
	}
	s.current = next
}

// ShutdownState reports the current shutdown handshake state.
func (s *Sender[S]) ShutdownState() ShutdownState { return s.shutdown }

// StartShutdown begins the shutdown handshake (§4.5). Idempotent.
func (s *Sender[S]) StartShutdown(now int64) {
	res := ApplyShutdownEvent(s.shutdown, EventStart)
	if res.Changed {
		s.shutdown = res.NewState
		s.shutdownStart = now
		s.shutdownTries = 0
	}
}

func (s *Sender[S]) sendInterval() int64 {
	interval := int64(math.Ceil(s.conn.SRTT() / 2))
	if interval < SendIntervalMin {
		return SendIntervalMin
	}
	if interval > SendIntervalMax {
		return SendIntervalMax
	}
	return interval
}

func (s *Sender[S]) front() *TimestampedState[S]   { return &s.sentStates[0] }
func (s *Sender[S]) back() *TimestampedState[S]    { return &s.sentStates[len(s.sentStates)-1] }
func (s *Sender[S]) assumed() *TimestampedState[S] { return &s.sentStates[s.assumedIdx] }

// updateAssumedReceiverState walks forward from the acknowledged front,
// giving the benefit of the doubt to states sent recently enough that the
// peer has probably received them (§4.5 step 1).
func (s *Sender[S]) updateAssumedReceiverState(now int64) {
	s.assumedIdx = 0
	threshold := s.conn.Timeout() + AckDelay

	for i := 1; i < len(s.sentStates); i++ {
		if now-s.sentStates[i].Timestamp < threshold {
			s.assumedIdx = i
		} else {
			return
		}
	}
}

// rationalizeStates subtracts the known (front) receiver state from
// current_state and every entry in sent_states (§4.5 step 2).
func (s *Sender[S]) rationalizeStates() {
	known := s.sentStates[0].State
	s.current = s.current.Subtract(known)
	for i := range s.sentStates {
		s.sentStates[i].State = s.sentStates[i].State.Subtract(known)
	}
}

// WaitTime returns the number of milliseconds the caller may wait before
// the next scheduled event, or -1 if the connection has no peer to send
// to. It updates the assumed receiver state and rationalizes the
// sent-state queue before computing next_send_time through the full
// four-way branch (new local state to send, retransmit at send-interval
// pace, back off to the connection timeout, or nothing outstanding), so
// the result is the same whether WaitTime runs on its own or as part of
// Tick (§4.5 steps 1-2, 4-5).
func (s *Sender[S]) WaitTime(now int64) int64 {
	s.updateAssumedReceiverState(now)
	s.rationalizeStates()

	if s.pendingDataAck && s.nextAckTime > now+AckDelay {
		s.nextAckTime = now + AckDelay
	}

	switch {
	case !s.current.Equal(s.back().State):
		// New local state never yet sent: wait at most SendMinDelay past
		// the first time we noticed it, but no sooner than one send
		// interval after the last transmission.
		if s.mindelayClock < 0 {
			s.mindelayClock = now
		}
		s.nextSendTime = maxI64(s.mindelayClock+SendMinDelay, s.back().Timestamp+s.sendInterval())

	case !s.current.Equal(s.assumed().State) && s.HeardRecently(now):
		// Already sent, but the receiver hasn't caught up and the peer is
		// still active: retransmit at send-interval pace.
		s.nextSendTime = s.back().Timestamp + s.sendInterval()
		if s.mindelayClock >= 0 {
			s.nextSendTime = maxI64(s.nextSendTime, s.mindelayClock+SendMinDelay)
		}

	case !s.current.Equal(s.front().State) && s.HeardRecently(now):
		// Even the oldest unacknowledged state differs from current: back
		// off to a full connection timeout before trying again.
		s.nextSendTime = s.back().Timestamp + s.conn.Timeout() + AckDelay

	default:
		s.nextSendTime = maxInt64
	}

	if s.shutdown == ShuttingDown || s.ackNum == wire.Shutdown {
		s.nextAckTime = s.back().Timestamp + s.sendInterval()
	}

	nextWakeup := s.nextAckTime
	if s.nextSendTime < nextWakeup {
		nextWakeup = s.nextSendTime
	}

	if !s.conn.Attached() {
		return -1
	}
	if nextWakeup > now {
		return nextWakeup - now
	}
	return 0
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Tick runs the scheduling algorithm once, sending a diff or empty ack if
// one is due (§4.5). WaitTime has already updated the assumed receiver
// state and rationalized the sent-state queue for this tick.
func (s *Sender[S]) Tick(now int64) error {
	s.WaitTime(now)

	if s.shutdown == ShuttingDown && now-s.shutdownStart >= ActiveRetryTimeout {
		if res := ApplyShutdownEvent(s.shutdown, EventActiveTimeout); res.Changed {
			s.shutdown = res.NewState
		}
	}

	if !s.conn.Attached() {
		return nil
	}
	if now < s.nextAckTime && now < s.nextSendTime {
		return nil
	}

	diff := s.current.DiffFrom(s.assumed().State)

	if len(diff) == 0 {
		if now >= s.nextAckTime {
			if err := s.sendEmptyAck(now); err != nil {
				return err
			}
			s.mindelayClock = -1
		}
		if now >= s.nextSendTime {
			s.nextSendTime = maxInt64
			s.mindelayClock = -1
		}
		return nil
	}

	if now >= s.nextSendTime || now >= s.nextAckTime {
		if err := s.sendToReceiver(now, diff); err != nil {
			return err
		}
		s.mindelayClock = -1
	}

	return nil
}

func (s *Sender[S]) sendEmptyAck(now int64) error {
	newNum := s.back().Num + 1
	if s.shutdown == ShuttingDown {
		newNum = wire.Shutdown
	}

	if err := s.sendInFragments(now, nil, newNum); err != nil {
		return err
	}

	s.sentStates = append(s.sentStates, TimestampedState[S]{
		Timestamp: s.back().Timestamp,
		Num:       newNum,
		State:     s.current,
	})
	s.nextAckTime = now + AckInterval
	s.nextSendTime = maxInt64
	s.countShutdownTry()
	s.enforceQueueBound()

	return nil
}

// countShutdownTry counts one new_num = MAX transmission against the
// retry budget; every shutdown-mode send counts, empty ack or diff.
func (s *Sender[S]) countShutdownTry() {
	if s.shutdown != ShuttingDown {
		return
	}
	s.shutdownTries++
	if res := ApplyShutdownEvent(s.shutdown, EventRetriesExhausted); s.shutdownTries >= ShutdownRetries && res.Changed {
		s.shutdown = res.NewState
	}
}

func (s *Sender[S]) sendToReceiver(now int64, diff []byte) error {
	var newNum uint64
	if s.current.Equal(s.back().State) {
		newNum = s.back().Num
	} else {
		newNum = s.back().Num + 1
	}
	if s.shutdown == ShuttingDown {
		newNum = wire.Shutdown
	}

	// Prospective resend optimization (§4.5): prefer a diff from the
	// acknowledged front if it is no larger, or at most 100 bytes larger
	// while under 1000 bytes, recovering a lost frame without waiting for
	// retransmission logic.
	resendDiff := s.current.DiffFrom(s.front().State)
	usedFront := false
	if len(resendDiff) <= len(diff) || (len(resendDiff)-len(diff) <= 100 && len(resendDiff) < 1000) {
		diff = resendDiff
		usedFront = true
	}

	if newNum == s.back().Num {
		s.sentStates[len(s.sentStates)-1].Timestamp = now
	} else {
		s.sentStates = append(s.sentStates, TimestampedState[S]{Timestamp: now, Num: newNum, State: s.current})
	}

	if err := s.sendInFragments(now, diff, newNum); err != nil {
		return err
	}

	if usedFront {
		s.assumedIdx = 0
	} else {
		s.assumedIdx = len(s.sentStates) - 1
	}

	s.nextAckTime = now + AckInterval
	s.nextSendTime = maxInt64

	s.countShutdownTry()

	s.enforceQueueBound()

	return nil
}

const maxInt64 = int64(^uint64(0) >> 1)

func (s *Sender[S]) sendInFragments(now int64, diff []byte, newNum uint64) error {
	inst := wire.Instruction{
		ProtocolVersion: wire.ProtocolVersion,
		OldNum:          s.assumed().Num,
		NewNum:          newNum,
		AckNum:          s.ackNum,
		ThrowawayNum:    s.sentStates[0].Num,
		Diff:            diff,
	}

	fragments, err := s.frag.Make(inst, s.conn.MTU())
	if err != nil {
		return fmt.Errorf("transport: sender: fragment instruction: %w", err)
	}

	for _, f := range fragments {
		if err := s.conn.Send(wire.MarshalFragment(f)); err != nil {
			return fmt.Errorf("transport: sender: send fragment: %w", err)
		}
	}

	s.pendingDataAck = false
	s.lastHeard = now // best-effort optimism; real arrival confirmation comes via ObserveRemoteActivity

	return nil
}

// enforceQueueBound implements the sent-state queue bound (§4.5): once the
// queue exceeds 32 entries, erase one element from the interior (16 back
// from the end) rather than letting it grow without bound. Endpoints are
// never touched by this rule.
func (s *Sender[S]) enforceQueueBound() {
	if len(s.sentStates) <= sentStatesSoftMax {
		return
	}

	idx := len(s.sentStates) - 16
	if idx <= 0 || idx >= len(s.sentStates)-1 {
		return
	}

	s.sentStates = append(s.sentStates[:idx], s.sentStates[idx+1:]...)
	if s.assumedIdx > idx {
		s.assumedIdx--
	} else if s.assumedIdx == idx {
		s.assumedIdx--
	}
}

// ProcessAcknowledgmentThrough drops every sent_states entry numbered below
// ackNum, always retaining the front, per §4.5's acknowledgment handling.
// An ackNum that matches no entry in the queue is ignored.
func (s *Sender[S]) ProcessAcknowledgmentThrough(ackNum uint64) {
	known := false
	for _, st := range s.sentStates {
		if st.Num == ackNum {
			known = true
			break
		}
	}
	if !known {
		return
	}

	kept := s.sentStates[:0:0]
	for i, st := range s.sentStates {
		if st.Num < ackNum && i != len(s.sentStates)-1 {
			continue
		}
		kept = append(kept, st)
	}
	if len(kept) == 0 {
		kept = append(kept, s.sentStates[len(s.sentStates)-1])
	}

	oldAssumed := s.assumed()
	s.sentStates = kept
	s.assumedIdx = 0
	for i, st := range s.sentStates {
		if st.Num == oldAssumed.Num {
			s.assumedIdx = i
			break
		}
	}

	if s.sentStates[0].Num == wire.Shutdown {
		if res := ApplyShutdownEvent(s.shutdown, EventFrontAckedMax); res.Changed {
			s.shutdown = res.NewState
		}
	}
}

// SetAckNum records the highest remote state number this endpoint has
// successfully applied, to be reported to the peer on the next send.
func (s *Sender[S]) SetAckNum(ackNum uint64) { s.ackNum = ackNum }

// SentStateLast returns the number of the newest sent state.
func (s *Sender[S]) SentStateLast() uint64 { return s.back().Num }

// SentStateAcked returns the number of the oldest retained sent state,
// i.e. the highest state the peer has acknowledged.
func (s *Sender[S]) SentStateAcked() uint64 { return s.front().Num }

// NotePendingDataAck marks that new data has arrived that deserves a
// prompt acknowledgment, per §4.5 step 3.
func (s *Sender[S]) NotePendingDataAck() { s.pendingDataAck = true }

// ObserveRemoteActivity records that a datagram was heard from the peer at
// time now, used by the retransmit backoff rule in §4.5 step 5.
func (s *Sender[S]) ObserveRemoteActivity(now int64) { s.lastHeard = now }

// HeardRecently reports whether the peer has been heard from within
// ActiveRetryTimeout of now.
func (s *Sender[S]) HeardRecently(now int64) bool {
	return now-s.lastHeard < ActiveRetryTimeout
}
