package userinput

import "testing"

func TestDiffFromCoalescesKeystrokes(t *testing.T) {
	existing := New()
	u := New()
	u.PushKeystroke('a')
	u.PushKeystroke('b')
	u.PushKeystroke('c')

	diff := u.DiffFrom(existing)

	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if !got.Equal(u) {
		t.Fatalf("got %+v, want %+v", got.actions, u.actions)
	}
}

func TestDiffFromIncludesOnlyActionsPastExisting(t *testing.T) {
	full := New()
	full.PushKeystroke('x')
	full.PushKeystroke('y')

	existing := New()
	existing.PushKeystroke('x')

	diff := full.DiffFrom(existing)
	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if got.Len() != 2 || got.Action(1).Byte != 'y' {
		t.Fatalf("got %+v, want trailing 'y'", got.actions)
	}
}

func TestResizeRoundTrip(t *testing.T) {
	u := New()
	u.PushKeystroke('a')
	u.PushResize(80, 24)
	u.PushKeystroke('b')

	existing := New()
	diff := u.DiffFrom(existing)
	got, err := existing.ApplyDiff(diff)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if !got.Equal(u) {
		t.Fatalf("got %+v, want %+v", got.actions, u.actions)
	}
	if got.Action(1).Width != 80 || got.Action(1).Height != 24 {
		t.Fatalf("resize event = %+v", got.Action(1))
	}
}

func TestSubtractDropsPrefix(t *testing.T) {
	u := New()
	u.PushKeystroke('a')
	u.PushKeystroke('b')
	u.PushKeystroke('c')

	prefix := New()
	prefix.PushKeystroke('a')
	prefix.PushKeystroke('b')

	rest := u.Subtract(prefix)
	if rest.Len() != 1 || rest.Action(0).Byte != 'c' {
		t.Fatalf("got %+v, want single 'c' event", rest.actions)
	}
}

func TestSubtractSelfClears(t *testing.T) {
	u := New()
	u.PushKeystroke('a')

	rest := u.Subtract(u)
	if rest.Len() != 0 {
		t.Fatalf("got %d actions, want 0", rest.Len())
	}
}

func TestApplyDiffRejectsMalformed(t *testing.T) {
	u := New()
	if _, err := u.ApplyDiff([]byte{0x02}); err == nil {
		t.Fatal("expected error on unknown instruction tag")
	}
	if _, err := u.ApplyDiff([]byte{0x00, 0x00}); err == nil {
		t.Fatal("expected error on truncated keystroke body")
	}
}
