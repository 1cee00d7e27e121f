// Package userinput implements the client->server synchronized state: an
// ordered queue of keystrokes and resize requests, the other half of the
// State[S] contract transport carries (statesync/user.cc's UserStream).
package userinput

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// eventKind distinguishes the two things a client ever sends upstream.
type eventKind byte

const (
	kindKeystroke eventKind = iota
	kindResize
)

// Event is one queued user action: either a single input byte or a
// terminal resize. Mosh's UserEvent instead wraps a Parser::UserByte or
// Parser::Resize; Go's lack of tagged unions makes a flat struct with a
// kind discriminant the more idiomatic shape.
type Event struct {
	Kind   eventKind
	Byte   byte
	Width  int
	Height int
}

// ErrMalformedDiff is returned by ApplyDiff on a truncated or unrecognized
// payload.
var ErrMalformedDiff = errors.New("userinput: malformed diff payload")

// UserStream is an ordered queue of Events awaiting transmission to the
// server, plus everything already sent and not yet acknowledged via
// Subtract.
type UserStream struct {
	actions []Event
}

// New returns an empty UserStream.
func New() *UserStream {
	return &UserStream{}
}

// PushKeystroke appends a single input byte (§4.10: one wire Event per
// input byte from the pty/tty; DiffFrom coalesces runs of these into a
// single Keystroke instruction).
func (u *UserStream) PushKeystroke(b byte) {
	u.actions = append(u.actions, Event{Kind: kindKeystroke, Byte: b})
}

// PushResize appends a terminal resize request.
func (u *UserStream) PushResize(width, height int) {
	u.actions = append(u.actions, Event{Kind: kindResize, Width: width, Height: height})
}

// Len reports the number of queued actions.
func (u *UserStream) Len() int { return len(u.actions) }

// Action returns the i'th queued action.
func (u *UserStream) Action(i int) Event { return u.actions[i] }

// Clone returns an independent copy.
func (u *UserStream) Clone() *UserStream {
	return &UserStream{actions: append([]Event(nil), u.actions...)}
}

// Equal reports whether two streams hold the same action sequence.
func (u *UserStream) Equal(o *UserStream) bool {
	if len(u.actions) != len(o.actions) {
		return false
	}
	for i := range u.actions {
		if u.actions[i] != o.actions[i] {
			return false
		}
	}
	return true
}

// DiffFrom returns the wire bytes needed to carry every action in the
// receiver beyond those already present in existing. existing's actions
// must be an exact prefix of the receiver's — the same invariant
// UserStream::diff_from asserts in the original.
func (u *UserStream) DiffFrom(existing *UserStream) []byte {
	var out []byte

	pending := u.actions[len(existing.actions):]

	i := 0
	for i < len(pending) {
		if pending[i].Kind == kindKeystroke {
			start := i
			for i < len(pending) && pending[i].Kind == kindKeystroke {
				i++
			}
			out = append(out, encodeKeystroke(pending[start:i])...)
			continue
		}
		out = append(out, encodeResize(pending[i].Width, pending[i].Height)...)
		i++
	}

	return out
}

// ApplyDiff returns a new UserStream with the decoded instructions in diff
// appended to the receiver's action queue.
func (u *UserStream) ApplyDiff(diff []byte) (*UserStream, error) {
	next := u.Clone()

	buf := diff
	for len(buf) > 0 {
		kind := eventKind(buf[0])
		buf = buf[1:]
		switch kind {
		case kindKeystroke:
			if len(buf) < 2 {
				return nil, fmt.Errorf("userinput: keystroke length: %w", ErrMalformedDiff)
			}
			n := binary.BigEndian.Uint16(buf[:2])
			buf = buf[2:]
			if int(n) > len(buf) {
				return nil, fmt.Errorf("userinput: keystroke body: %w", ErrMalformedDiff)
			}
			for _, b := range buf[:n] {
				next.PushKeystroke(b)
			}
			buf = buf[n:]
		case kindResize:
			if len(buf) < 8 {
				return nil, fmt.Errorf("userinput: resize body: %w", ErrMalformedDiff)
			}
			w := binary.BigEndian.Uint32(buf[:4])
			h := binary.BigEndian.Uint32(buf[4:8])
			next.PushResize(int(w), int(h))
			buf = buf[8:]
		default:
			return nil, fmt.Errorf("userinput: unknown instruction tag %d: %w", kind, ErrMalformedDiff)
		}
	}

	return next, nil
}

// Subtract drops the prefix of the receiver's action queue matching
// prefix's actions, returning the remainder. Mirrors UserStream::subtract
// exactly, including its self-subtraction fast path.
func (u *UserStream) Subtract(prefix *UserStream) *UserStream {
	if u == prefix {
		return New()
	}
	return &UserStream{actions: append([]Event(nil), u.actions[len(prefix.actions):]...)}
}

func encodeKeystroke(events []Event) []byte {
	out := make([]byte, 0, 3+len(events))
	out = append(out, byte(kindKeystroke))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(events)))
	out = append(out, lenBuf[:]...)
	for _, e := range events {
		out = append(out, e.Byte)
	}
	return out
}

func encodeResize(w, h int) []byte {
	out := make([]byte, 9)
	out[0] = byte(kindResize)
	binary.BigEndian.PutUint32(out[1:5], uint32(w))
	binary.BigEndian.PutUint32(out[5:9], uint32(h))
	return out
}
