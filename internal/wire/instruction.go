// Package wire implements the plaintext Instruction format carried inside
// every SSP datagram once decrypted, and the fragmentation layer that
// splits an Instruction across one or more MTU-sized datagrams.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolVersion is the only version this implementation accepts. A
// mismatch is fatal to the session (§7, ProtocolMismatch).
const ProtocolVersion uint32 = 2

// Shutdown is the sentinel state number meaning "no more states will ever
// be sent" (new_num) or "the peer's shutdown has been acknowledged"
// (ack_num).
const Shutdown uint64 = ^uint64(0)

// MaxChaffLen bounds the random padding appended to every Instruction to
// disguise diff length on the wire.
const MaxChaffLen = 16

// instructionHeaderLen is the fixed-size portion of a marshaled
// Instruction: version(4) + old_num(8) + new_num(8) + ack_num(8) +
// throwaway_num(8) + diff_len(4) + chaff_len(1).
const instructionHeaderLen = 4 + 8 + 8 + 8 + 8 + 4 + 1

var (
	// ErrTruncated is returned when a buffer is too short to contain a
	// complete Instruction header or the lengths it declares.
	ErrTruncated = errors.New("wire: truncated instruction")

	// ErrChaffTooLong is returned when a decoded chaff length exceeds
	// MaxChaffLen — a malformed-input DoS rejection.
	ErrChaffTooLong = errors.New("wire: chaff length exceeds maximum")

	// ErrProtocolVersion is returned when an Instruction declares a version
	// other than ProtocolVersion. Per §7 this is fatal to the session, not
	// merely dropped.
	ErrProtocolVersion = errors.New("wire: protocol version mismatch")
)

// Instruction is the application-visible plaintext carried by one or more
// fragments of one sender frame (§3.1).
type Instruction struct {
	ProtocolVersion uint32
	OldNum          uint64
	NewNum          uint64
	AckNum          uint64
	ThrowawayNum    uint64
	Diff            []byte
	Chaff           []byte
}

// RoutingEqual reports whether two Instructions share the same routing
// header (everything except Diff and Chaff). The fragmenter uses this to
// decide whether a new instruction_id is required (§4.3).
func (in Instruction) RoutingEqual(other Instruction) bool {
	return in.ProtocolVersion == other.ProtocolVersion &&
		in.OldNum == other.OldNum &&
		in.NewNum == other.NewNum &&
		in.AckNum == other.AckNum &&
		in.ThrowawayNum == other.ThrowawayNum
}

// Marshal encodes an Instruction into its wire form.
func Marshal(in Instruction) ([]byte, error) {
	if len(in.Chaff) > MaxChaffLen {
		return nil, fmt.Errorf("wire: marshal: %w: %d > %d", ErrChaffTooLong, len(in.Chaff), MaxChaffLen)
	}

	buf := make([]byte, instructionHeaderLen+len(in.Diff)+len(in.Chaff))

	binary.BigEndian.PutUint32(buf[0:4], in.ProtocolVersion)
	binary.BigEndian.PutUint64(buf[4:12], in.OldNum)
	binary.BigEndian.PutUint64(buf[12:20], in.NewNum)
	binary.BigEndian.PutUint64(buf[20:28], in.AckNum)
	binary.BigEndian.PutUint64(buf[28:36], in.ThrowawayNum)
	binary.BigEndian.PutUint32(buf[36:40], uint32(len(in.Diff)))
	buf[40] = byte(len(in.Chaff))

	n := copy(buf[instructionHeaderLen:], in.Diff)
	copy(buf[instructionHeaderLen+n:], in.Chaff)

	return buf, nil
}

// Unmarshal decodes an Instruction from its wire form, validating the
// protocol version and rejecting truncated or internally inconsistent
// buffers (DoS-reject per §4.4).
func Unmarshal(buf []byte) (Instruction, error) {
	if len(buf) < instructionHeaderLen {
		return Instruction{}, fmt.Errorf("wire: unmarshal header: %w", ErrTruncated)
	}

	in := Instruction{
		ProtocolVersion: binary.BigEndian.Uint32(buf[0:4]),
		OldNum:          binary.BigEndian.Uint64(buf[4:12]),
		NewNum:          binary.BigEndian.Uint64(buf[12:20]),
		AckNum:          binary.BigEndian.Uint64(buf[20:28]),
		ThrowawayNum:    binary.BigEndian.Uint64(buf[28:36]),
	}

	diffLen := binary.BigEndian.Uint32(buf[36:40])
	chaffLen := buf[40]

	if in.ProtocolVersion != ProtocolVersion {
		return Instruction{}, fmt.Errorf("wire: unmarshal: %w: got %d, want %d",
			ErrProtocolVersion, in.ProtocolVersion, ProtocolVersion)
	}
	if int(chaffLen) > MaxChaffLen {
		return Instruction{}, fmt.Errorf("wire: unmarshal: %w: %d > %d", ErrChaffTooLong, chaffLen, MaxChaffLen)
	}

	rest := buf[instructionHeaderLen:]
	need := uint64(diffLen) + uint64(chaffLen)
	if uint64(len(rest)) < need {
		return Instruction{}, fmt.Errorf("wire: unmarshal body: %w", ErrTruncated)
	}

	if diffLen > 0 {
		in.Diff = append([]byte(nil), rest[:diffLen]...)
	}
	if chaffLen > 0 {
		in.Chaff = append([]byte(nil), rest[diffLen:uint32(diffLen)+uint32(chaffLen)]...)
	}

	return in, nil
}
