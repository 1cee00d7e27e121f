package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestInstructionMarshalRoundTrip(t *testing.T) {
	in := Instruction{
		ProtocolVersion: ProtocolVersion,
		OldNum:          10,
		NewNum:          11,
		AckNum:          9,
		ThrowawayNum:    5,
		Diff:            []byte("some diff bytes"),
		Chaff:           []byte{1, 2, 3},
	}

	buf, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.OldNum != in.OldNum || got.NewNum != in.NewNum || got.AckNum != in.AckNum ||
		got.ThrowawayNum != in.ThrowawayNum {
		t.Fatalf("header mismatch: got %+v, want %+v", got, in)
	}
	if !bytes.Equal(got.Diff, in.Diff) {
		t.Fatalf("diff = %q, want %q", got.Diff, in.Diff)
	}
	if !bytes.Equal(got.Chaff, in.Chaff) {
		t.Fatalf("chaff = %v, want %v", got.Chaff, in.Chaff)
	}
}

func TestInstructionMarshalEmptyDiff(t *testing.T) {
	in := Instruction{ProtocolVersion: ProtocolVersion, OldNum: 1, NewNum: 2, AckNum: 1, ThrowawayNum: 0}

	buf, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Diff) != 0 || len(got.Chaff) != 0 {
		t.Fatalf("expected empty diff/chaff, got diff=%v chaff=%v", got.Diff, got.Chaff)
	}
}

func TestInstructionUnmarshalRejectsBadVersion(t *testing.T) {
	in := Instruction{ProtocolVersion: 99, OldNum: 1, NewNum: 2}
	buf, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	if _, err := Unmarshal(buf); !errors.Is(err, ErrProtocolVersion) {
		t.Fatalf("Unmarshal error = %v, want ErrProtocolVersion", err)
	}
}

func TestInstructionUnmarshalRejectsTruncated(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Unmarshal error = %v, want ErrTruncated", err)
	}
}

func TestInstructionMarshalRejectsExcessChaff(t *testing.T) {
	in := Instruction{ProtocolVersion: ProtocolVersion, Chaff: make([]byte, MaxChaffLen+1)}
	if _, err := Marshal(in); !errors.Is(err, ErrChaffTooLong) {
		t.Fatalf("Marshal error = %v, want ErrChaffTooLong", err)
	}
}

func TestRoutingEqual(t *testing.T) {
	a := Instruction{ProtocolVersion: 2, OldNum: 1, NewNum: 2, AckNum: 0, ThrowawayNum: 0, Diff: []byte("x")}
	b := a
	b.Diff = []byte("y")

	if !a.RoutingEqual(b) {
		t.Fatal("expected routing-equal instructions differing only in diff")
	}

	c := a
	c.NewNum = 3
	if a.RoutingEqual(c) {
		t.Fatal("expected routing-unequal instructions with differing new_num")
	}
}
