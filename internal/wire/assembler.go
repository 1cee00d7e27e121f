package wire

import (
	"bytes"
	"fmt"
)

// Assembler reassembles Fragments belonging to a single current
// instruction_id at a time (§4.4). A new id clears any partial buffer; a
// final fragment fixes the expected total.
type Assembler struct {
	id      uint64
	haveID  bool
	slots   [][]byte
	present []bool
	arrived int
	total   int // -1 until a final fragment has been seen
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{total: -1}
}

// Add ingests one Fragment. It returns the reassembled payload and true
// once every fragment 0..total-1 for the current instruction_id has
// arrived. A duplicate fragment with identical contents is tolerated and
// ignored; a duplicate with differing contents is a fatal invariant
// violation the producer never triggers.
func (a *Assembler) Add(f Fragment) ([]byte, bool, error) {
	if !a.haveID || f.InstructionID != a.id {
		a.reset(f.InstructionID)
	}

	if int(f.FragmentNum) >= len(a.slots) {
		a.grow(int(f.FragmentNum) + 1)
	}

	if a.present[f.FragmentNum] {
		if !bytes.Equal(a.slots[f.FragmentNum], f.Body) {
			return nil, false, fmt.Errorf("wire: assembler: %w (id=%d num=%d)",
				ErrFragmentMismatch, f.InstructionID, f.FragmentNum)
		}
	} else {
		a.slots[f.FragmentNum] = f.Body
		a.present[f.FragmentNum] = true
		a.arrived++
	}

	if f.Final {
		a.total = int(f.FragmentNum) + 1
		if len(a.slots) > a.total {
			a.slots = a.slots[:a.total]
			a.present = a.present[:a.total]
		}
	}

	if a.total < 0 || a.arrived < a.total {
		return nil, false, nil
	}
	for _, ok := range a.present {
		if !ok {
			return nil, false, nil
		}
	}

	var out bytes.Buffer
	for _, s := range a.slots {
		out.Write(s)
	}

	payload := out.Bytes()
	a.reset(a.id) // clear state; next fragment with the same id starts fresh

	return payload, true, nil
}

func (a *Assembler) reset(id uint64) {
	a.id = id
	a.haveID = true
	a.slots = nil
	a.present = nil
	a.arrived = 0
	a.total = -1
}

func (a *Assembler) grow(n int) {
	slots := make([][]byte, n)
	present := make([]bool, n)
	copy(slots, a.slots)
	copy(present, a.present)
	a.slots = slots
	a.present = present
}
