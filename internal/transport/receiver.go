package transport

import (
	"fmt"
	"sort"

	"github.com/chronostruct/gossp/internal/wire"
)

// QuenchThreshold and QuenchCooldownMs implement the receiver-side
// anti-DoS rule (§4.6 step 5): once the received-states queue exceeds the
// threshold, further growth is refused until the cooldown elapses.
const (
	QuenchThreshold  = 1024
	QuenchCooldownMs = 15000
)

// Receiver maintains the queue of received remote states and applies
// incoming instruction diffs against a referenced past state (§4.6).
type Receiver[S State[S]] struct {
	receivedStates    []TimestampedState[S]
	lastReceiverState S

	lastQuenchTime int64
	quenchArmed    bool

	ackNumOut       uint64
	throwawayNumOut uint64
}

// NewReceiver creates a Receiver seeded with an initial state at state
// number 0.
func NewReceiver[S State[S]](initial S, now int64) *Receiver[S] {
	return &Receiver[S]{
		receivedStates: []TimestampedState[S]{
			{Timestamp: now, Num: 0, State: initial},
		},
		lastReceiverState: initial,
	}
}

// Sink is the subset of Sender the receiver drives: trimming the sent
// queue on acknowledgment and recording throwaway.
type Sink interface {
	ProcessAcknowledgmentThrough(ackNum uint64)
}

// Apply ingests one complete Instruction (§4.6). A protocol-version
// mismatch is never seen here: wire.Unmarshal already rejects it as fatal
// before the receiver gets a chance to look at the instruction. Apply feeds
// ack/throwaway bookkeeping to sink (normally the local Sender), and
// returns whether the instruction's diff was applied (false means it was
// silently dropped per one of the documented drop rules, not an error).
func (r *Receiver[S]) Apply(sink Sink, inst wire.Instruction, now int64) (applied bool, err error) {
	sink.ProcessAcknowledgmentThrough(inst.AckNum)
	r.trimBelow(inst.ThrowawayNum)

	if r.has(inst.NewNum) {
		return false, nil // idempotent replay
	}

	oldState, ok := r.find(inst.OldNum)
	if !ok {
		return false, nil // stale old_num: diff no longer applicable, drop silently
	}

	if len(r.receivedStates) > QuenchThreshold {
		if r.quenchArmed && now-r.lastQuenchTime < QuenchCooldownMs {
			return false, nil
		}
		r.lastQuenchTime = now
		r.quenchArmed = true
	}

	newState, err := oldState.ApplyDiff(inst.Diff)
	if err != nil {
		return false, fmt.Errorf("transport: receiver: apply diff: %w", err)
	}

	r.insertSorted(TimestampedState[S]{Timestamp: now, Num: inst.NewNum, State: newState})

	return true, nil
}

func (r *Receiver[S]) has(num uint64) bool {
	for _, st := range r.receivedStates {
		if st.Num == num {
			return true
		}
	}
	return false
}

func (r *Receiver[S]) find(num uint64) (S, bool) {
	for _, st := range r.receivedStates {
		if st.Num == num {
			return st.State, true
		}
	}
	var zero S
	return zero, false
}

func (r *Receiver[S]) insertSorted(st TimestampedState[S]) {
	i := sort.Search(len(r.receivedStates), func(i int) bool {
		return r.receivedStates[i].Num >= st.Num
	})
	r.receivedStates = append(r.receivedStates, TimestampedState[S]{})
	copy(r.receivedStates[i+1:], r.receivedStates[i:])
	r.receivedStates[i] = st
}

// trimBelow discards receivedStates entries numbered strictly below
// throwaway, never emptying the queue (§4.6 step 7, §3.3 invariant P3).
func (r *Receiver[S]) trimBelow(throwaway uint64) {
	cut := 0
	for cut < len(r.receivedStates)-1 && r.receivedStates[cut].Num < throwaway {
		cut++
	}
	if cut > 0 {
		r.receivedStates = append([]TimestampedState[S]{}, r.receivedStates[cut:]...)
	}
}

// Back returns the most recently applied (highest-numbered) received
// state.
func (r *Receiver[S]) Back() TimestampedState[S] {
	return r.receivedStates[len(r.receivedStates)-1]
}

// Front returns the lowest-numbered received state still held; its number
// is reported to the peer as throwaway_num by the caller's sender.
func (r *Receiver[S]) Front() TimestampedState[S] {
	return r.receivedStates[0]
}

// GetRemoteDiff returns the diff from the last diff the application
// consumed to the current back state, then rationalizes the receiver's own
// queue against the front state (§4.6).
func (r *Receiver[S]) GetRemoteDiff() []byte {
	back := r.Back().State
	diff := back.DiffFrom(r.lastReceiverState)

	front := r.Front().State
	for i := range r.receivedStates {
		r.receivedStates[i].State = r.receivedStates[i].State.Subtract(front)
	}

	r.lastReceiverState = r.Back().State
	return diff
}
