package complete

import "testing"

func TestActEchoesPrintedText(t *testing.T) {
	c := New(10, 2)
	c.Act([]byte("hi"))

	if got := c.Term.FB.Cell(0, 0).Contents()[0]; got != 'h' {
		t.Fatalf("cell(0,0) = %q, want 'h'", got)
	}
}

func TestDiffFromAndApplyDiffRoundTrip(t *testing.T) {
	existing := New(10, 2)

	c := New(10, 2)
	c.Act([]byte("hello"))

	diff := c.DiffFrom(existing)
	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if !got.Equal(c) {
		t.Fatal("applied diff did not reproduce source state")
	}
}

func TestDiffFromIncludesResizeOnDimensionChange(t *testing.T) {
	existing := New(10, 2)

	c := existing.Clone()
	c.Resize(20, 5)
	c.Act([]byte("x"))

	diff := c.DiffFrom(existing)
	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if got.Term.FB.Width() != 20 || got.Term.FB.Height() != 5 {
		t.Fatalf("size = %dx%d, want 20x5", got.Term.FB.Width(), got.Term.FB.Height())
	}
	if !got.Equal(c) {
		t.Fatal("applied diff did not reproduce source state after resize")
	}
}

func TestDiffFromCarriesEchoAck(t *testing.T) {
	existing := New(10, 2)

	c := existing.Clone()
	c.SetEchoAck(42)

	diff := c.DiffFrom(existing)
	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if got.EchoAck != 42 {
		t.Fatalf("EchoAck = %d, want 42", got.EchoAck)
	}
}

func TestEchoAckNeverRegresses(t *testing.T) {
	c := New(10, 2)
	c.SetEchoAck(10)
	c.SetEchoAck(3)

	if c.EchoAck != 10 {
		t.Fatalf("EchoAck = %d, want 10 (monotonic)", c.EchoAck)
	}
}

func TestCloneIsIndependentOfSource(t *testing.T) {
	c := New(10, 2)
	c.Act([]byte("a"))

	clone := c.Clone()
	c.Act([]byte("b"))

	if clone.Term.FB.Cell(0, 1).Contents()[0] == 'b' {
		t.Fatal("clone was mutated by a later Act on the source")
	}
}

func TestApplyDiffRejectsMalformed(t *testing.T) {
	c := New(10, 2)
	if _, err := c.ApplyDiff([]byte{0xFF}); err == nil {
		t.Fatal("expected error on unknown instruction tag")
	}
}
