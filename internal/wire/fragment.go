package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// fragmentHeaderLen is the 8-byte instruction id plus the 2-byte packed
// fragment_num/final field (§3.2).
const fragmentHeaderLen = 8 + 2

// MaxFragmentNum is the largest value fragment_num may take: 15 bits.
const MaxFragmentNum = 1<<15 - 1

const finalBit uint16 = 1 << 15

var (
	// ErrFragmentTruncated is returned when a buffer is too small to hold a
	// fragment header.
	ErrFragmentTruncated = errors.New("wire: truncated fragment")

	// ErrTooManyFragments is returned when an Instruction would require more
	// fragments than MaxFragmentNum allows for the given MTU budget.
	ErrTooManyFragments = errors.New("wire: instruction exceeds maximum fragment count")

	// ErrFragmentMismatch is a fatal invariant violation: two fragments with
	// the same instruction_id and fragment_num carry different contents.
	// The source never produces this; receiving it indicates a
	// misbehaving or malicious peer.
	ErrFragmentMismatch = errors.New("wire: conflicting fragment contents for same id/num")
)

// Fragment is one ciphertext-sized piece of an Instruction (§3.2).
type Fragment struct {
	InstructionID uint64
	FragmentNum   uint16
	Final         bool
	Body          []byte
}

// MarshalFragment encodes a Fragment to its wire form.
func MarshalFragment(f Fragment) []byte {
	buf := make([]byte, fragmentHeaderLen+len(f.Body))
	binary.BigEndian.PutUint64(buf[0:8], f.InstructionID)

	packed := f.FragmentNum & (finalBit - 1)
	if f.Final {
		packed |= finalBit
	}
	binary.BigEndian.PutUint16(buf[8:10], packed)

	copy(buf[fragmentHeaderLen:], f.Body)
	return buf
}

// UnmarshalFragment decodes a Fragment from its wire form.
func UnmarshalFragment(buf []byte) (Fragment, error) {
	if len(buf) < fragmentHeaderLen {
		return Fragment{}, fmt.Errorf("wire: unmarshal fragment: %w", ErrFragmentTruncated)
	}

	packed := binary.BigEndian.Uint16(buf[8:10])

	f := Fragment{
		InstructionID: binary.BigEndian.Uint64(buf[0:8]),
		FragmentNum:   packed &^ finalBit,
		Final:         packed&finalBit != 0,
	}
	if len(buf) > fragmentHeaderLen {
		f.Body = append([]byte(nil), buf[fragmentHeaderLen:]...)
	}

	return f, nil
}

// headerOverhead is the fixed per-datagram allowance (AEAD sequence word
// and tag, fragment header, assorted framing slack) reserved out of the
// path MTU before fragment bodies are sized, per §4.3.
const headerOverhead = 66

// Fragmenter splits Instructions into MTU-sized Fragments, reusing the
// instruction_id across calls whose routing header and MTU are unchanged
// from the previous call so that a partial assembly in flight from an
// earlier, diff-only-different send remains harmless (§4.3).
type Fragmenter struct {
	nextID   uint64
	lastInst Instruction
	lastMTU  int
	lastID   uint64
	hasLast  bool
}

// NewFragmenter creates a Fragmenter starting instruction ids at 0.
func NewFragmenter() *Fragmenter {
	return &Fragmenter{}
}

// Make splits inst into Fragments sized to fit mtu, allocating a new
// instruction_id whenever the routing header or mtu changed since the last
// call.
func (fr *Fragmenter) Make(inst Instruction, mtu int) ([]Fragment, error) {
	budget := mtu - headerOverhead - fragmentHeaderLen
	if budget <= 0 {
		return nil, fmt.Errorf("wire: fragmenter: mtu %d leaves no room for fragment body", mtu)
	}

	if len(inst.Chaff) == 0 {
		chaff, err := randomChaff()
		if err != nil {
			return nil, err
		}
		inst.Chaff = chaff
	}

	payload, err := Marshal(inst)
	if err != nil {
		return nil, err
	}

	id := fr.idFor(inst, mtu)

	total := (len(payload) + budget - 1) / budget
	if total == 0 {
		total = 1
	}
	if total-1 > MaxFragmentNum {
		return nil, fmt.Errorf("wire: fragmenter: %w: mtu=%d len=%d", ErrTooManyFragments, mtu, len(payload))
	}

	fragments := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * budget
		end := start + budget
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, Fragment{
			InstructionID: id,
			FragmentNum:   uint16(i),
			Final:         i == total-1,
			Body:          payload[start:end],
		})
	}

	return fragments, nil
}

func (fr *Fragmenter) idFor(inst Instruction, mtu int) uint64 {
	if fr.hasLast && fr.lastInst.RoutingEqual(inst) && fr.lastMTU == mtu {
		return fr.lastID
	}

	id := fr.nextID
	fr.nextID++

	fr.lastInst = inst
	fr.lastMTU = mtu
	fr.lastID = id
	fr.hasLast = true

	return id
}

func randomChaff() ([]byte, error) {
	var lenByte [1]byte
	if _, err := rand.Read(lenByte[:]); err != nil {
		return nil, fmt.Errorf("wire: draw chaff length: %w", err)
	}
	n := int(lenByte[0]) % (MaxChaffLen + 1)

	chaff := make([]byte, n)
	if n > 0 {
		if _, err := rand.Read(chaff); err != nil {
			return nil, fmt.Errorf("wire: draw chaff: %w", err)
		}
	}
	return chaff, nil
}
