// Package transport implements the sender and receiver halves of the state
// synchronization protocol: bounded queues of timestamped application
// states, diff scheduling, acknowledgment handling, and the shutdown
// handshake.
package transport

// State is the contract an application-defined object must satisfy to be
// carried by a Sender/Receiver pair: it can compute a diff from an earlier
// version of itself, apply a diff produced by that method, test equality,
// and subtract a shared prefix so that stored history does not grow
// without bound. Both the terminal-complete state (server->client) and the
// user-input stream (client->server) implement this contract.
type State[S any] interface {
	// DiffFrom returns the bytes needed to turn existing into the receiver.
	DiffFrom(existing S) []byte

	// ApplyDiff returns a new state produced by applying diff on top of the
	// receiver.
	ApplyDiff(diff []byte) (S, error)

	// Equal reports whether two states are equivalent for scheduling
	// purposes (same diff-from-each-other would be empty).
	Equal(other S) bool

	// Subtract returns a copy of the receiver rationalized against prefix:
	// semantically unchanged, but with any internal history older than
	// prefix discarded so memory stays bounded.
	Subtract(prefix S) S
}

// TimestampedState is a (local-millisecond timestamp, state number, state
// snapshot) triple held in both the sender's and receiver's queues (§3.3).
type TimestampedState[S any] struct {
	Timestamp int64
	Num       uint64
	State     S
}
