// Package complete implements the server->client synchronized state:
// terminal.Terminal plus an echo-ack counter, the application-defined
// State[Complete] the transport package diffs and applies. DiffFrom
// delegates to internal/display exactly the way mosh's
// statesync/completeterminal.cc's diff_from delegates to
// Terminal::Display::new_frame — diffing two Completes is diffing their
// framebuffers, nothing more.
package complete

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chronostruct/gossp/internal/display"
	"github.com/chronostruct/gossp/internal/parser"
	"github.com/chronostruct/gossp/internal/terminal"
)

// instruction tags for the small fixed binary framing this package uses
// in place of a generated protobuf message.
const (
	tagHostBytes byte = iota
	tagResize
	tagEchoAck
)

// ErrMalformedDiff is returned when ApplyDiff is handed a truncated or
// internally inconsistent payload — a DoS-reject, never a fatal protocol
// error (the caller treats the whole Instruction as malformed and drops
// it, matching §7's DecodeFailure kind).
var ErrMalformedDiff = errors.New("complete: malformed diff payload")

// Complete is the synchronized terminal state: a live Terminal plus the
// echo-ack sequence number the server feeds back to the client so
// predictions can be culled (§4.11).
type Complete struct {
	Term    *terminal.Terminal
	parser  *parser.Parser
	utf8    parser.UTF8Decoder
	EchoAck uint64
}

// New returns a blank Complete sized width x height.
func New(width, height int) *Complete {
	return &Complete{
		Term:   terminal.NewTerminal(width, height),
		parser: parser.New(),
	}
}

// Act feeds raw octets (as read from the host PTY) through the UTF-8
// front end, the parser, and the dispatcher, returning any bytes the
// terminal queued to write back to the host (DSR/DA replies, §6.4).
func (c *Complete) Act(data []byte) []byte {
	for _, b := range data {
		for _, r := range c.utf8.Push(b) {
			for _, a := range c.parser.Input(r) {
				c.Term.Act(a)
			}
		}
	}
	return c.Term.ReadOctetsToHost()
}

// Resize applies a terminal resize directly (bypassing the byte parser,
// since resizes arrive as an out-of-band SIGWINCH, not host bytes).
func (c *Complete) Resize(width, height int) {
	c.Term.FB.Resize(width, height)
}

// SetEchoAck advances the echo-ack counter (monotonic; out-of-order or
// stale updates are simply ignored rather than rejected, since a replayed
// or reordered Instruction must never regress state per §4.6).
func (c *Complete) SetEchoAck(n uint64) {
	if n > c.EchoAck {
		c.EchoAck = n
	}
}

// Clone returns a copy with a deep-copied terminal, used whenever a
// snapshot must be taken for the sender/receiver history queues, and
// before each batch of host bytes is applied. The parser state and
// any partly decoded UTF-8 bytes carry over, so a sequence split across
// Act calls continues correctly in the copy.
func (c *Complete) Clone() *Complete {
	ps := *c.parser
	return &Complete{
		Term:    c.Term.Clone(),
		parser:  &ps,
		utf8:    c.utf8,
		EchoAck: c.EchoAck,
	}
}

// Equal reports whether two Completes are state-synchronization
// equivalent: same framebuffer content and same echo-ack. Parser state is
// deliberately excluded — it is purely a function of bytes already
// reflected in the framebuffer, not independent state.
func (c *Complete) Equal(o *Complete) bool {
	return c.Term.FB.Equal(o.Term.FB) && c.EchoAck == o.EchoAck
}

// DiffFrom returns the bytes needed to turn existing into the receiver:
// an optional echo-ack update, an optional resize, and — if the
// framebuffers differ — the minimal ANSI string a differential display
// computes between them.
func (c *Complete) DiffFrom(existing *Complete) []byte {
	var out []byte

	if c.EchoAck != existing.EchoAck {
		out = append(out, encodeEchoAck(c.EchoAck)...)
	}

	if !c.Term.FB.Equal(existing.Term.FB) {
		if c.Term.FB.Width() != existing.Term.FB.Width() || c.Term.FB.Height() != existing.Term.FB.Height() {
			out = append(out, encodeResize(c.Term.FB.Width(), c.Term.FB.Height())...)
		}
		ansi := display.New().NewFrame(true, existing.Term.FB, c.Term.FB)
		out = append(out, encodeHostBytes([]byte(ansi))...)
	}

	return out
}

// ApplyDiff returns a new Complete produced by applying diff on top of the
// receiver: a sequence of instructions applied in order, exactly as
// Complete::apply_string does.
func (c *Complete) ApplyDiff(diff []byte) (*Complete, error) {
	next := c.Clone()

	buf := diff
	for len(buf) > 0 {
		tag := buf[0]
		buf = buf[1:]
		switch tag {
		case tagHostBytes:
			if len(buf) < 4 {
				return nil, fmt.Errorf("complete: hostbytes length: %w", ErrMalformedDiff)
			}
			n := binary.BigEndian.Uint32(buf[:4])
			buf = buf[4:]
			if uint32(len(buf)) < n {
				return nil, fmt.Errorf("complete: hostbytes body: %w", ErrMalformedDiff)
			}
			// The server never interrogates the client terminal with a
			// query sequence in a diff it generates for the client; any
			// reply bytes produced here are simply discarded.
			next.Act(buf[:n])
			buf = buf[n:]
		case tagResize:
			if len(buf) < 8 {
				return nil, fmt.Errorf("complete: resize body: %w", ErrMalformedDiff)
			}
			w := binary.BigEndian.Uint32(buf[:4])
			h := binary.BigEndian.Uint32(buf[4:8])
			next.Resize(int(w), int(h))
			buf = buf[8:]
		case tagEchoAck:
			if len(buf) < 8 {
				return nil, fmt.Errorf("complete: echoack body: %w", ErrMalformedDiff)
			}
			next.SetEchoAck(binary.BigEndian.Uint64(buf[:8]))
			buf = buf[8:]
		default:
			return nil, fmt.Errorf("complete: unknown instruction tag %d: %w", tag, ErrMalformedDiff)
		}
	}

	return next, nil
}

// Subtract rationalizes the receiver against prefix. The Go framebuffer
// representation carries no unbounded internal history the way mosh's
// input_history bookkeeping can (see DESIGN.md); a Complete's on-the-wire
// size is always O(width*height), so Subtract is a structural no-op that
// still returns an independent clone (transport.State requires a value
// safe to store without aliasing prefix).
func (c *Complete) Subtract(prefix *Complete) *Complete {
	return c.Clone()
}

func encodeHostBytes(b []byte) []byte {
	out := make([]byte, 0, 1+4+len(b))
	out = append(out, tagHostBytes)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	out = append(out, lenBuf[:]...)
	out = append(out, b...)
	return out
}

func encodeResize(w, h int) []byte {
	out := make([]byte, 1+8)
	out[0] = tagResize
	binary.BigEndian.PutUint32(out[1:5], uint32(w))
	binary.BigEndian.PutUint32(out[5:9], uint32(h))
	return out[:9]
}

func encodeEchoAck(n uint64) []byte {
	out := make([]byte, 1+8)
	out[0] = tagEchoAck
	binary.BigEndian.PutUint64(out[1:9], n)
	return out
}
