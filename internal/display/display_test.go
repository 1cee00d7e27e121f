package display

import (
	"strings"
	"testing"

	"github.com/chronostruct/gossp/internal/parser"
	"github.com/chronostruct/gossp/internal/terminal"
)

func render(width, height int, s string) *terminal.Framebuffer {
	term := terminal.NewTerminal(width, height)
	p := parser.New()
	for _, ch := range s {
		for _, a := range p.Input(ch) {
			term.Act(a)
		}
	}
	return term.FB
}

// replay feeds the ANSI update string back through a fresh terminal seeded
// with prevSeed's content, verifying that applying the diff reproduces
// target (the display round-trip property, P5).
func replay(t *testing.T, prevSeed, targetSeed string, width, height int) {
	t.Helper()
	target := render(width, height, targetSeed)

	replayed := terminal.NewTerminal(width, height)
	p := parser.New()
	for _, ch := range prevSeed {
		for _, a := range p.Input(ch) {
			replayed.Act(a)
		}
	}

	diff := New().NewFrame(true, render(width, height, prevSeed), target)

	for _, ch := range diff {
		for _, a := range p.Input(ch) {
			replayed.Act(a)
		}
	}

	if !replayed.FB.Equal(target) {
		t.Fatalf("replayed framebuffer does not match target after diff %q", diff)
	}
}

func TestNewFrameInitialDrawsFullScreen(t *testing.T) {
	target := render(10, 2, "hi")
	diff := New().NewFrame(false, terminal.New(10, 2), target)

	if !strings.Contains(diff, "\x1b[2J") {
		t.Fatalf("expected full clear in initial frame, got %q", diff)
	}
	if !strings.Contains(diff, "hi") {
		t.Fatalf("expected content in initial frame, got %q", diff)
	}
}

func TestNewFrameNoChangeProducesNoDiff(t *testing.T) {
	fb := render(10, 2, "same")
	diff := New().NewFrame(true, fb, fb)

	if diff != "" {
		t.Fatalf("expected empty diff between identical framebuffers, got %q", diff)
	}
}

func TestNewFrameRoundTripsSimpleEdit(t *testing.T) {
	replay(t, "hello", "hello world", 20, 3)
}

func TestNewFrameRoundTripsAcrossRows(t *testing.T) {
	replay(t, "line one\r\nline two", "line ONE\r\nline TWO", 20, 3)
}

func TestNewFrameRoundTripsClear(t *testing.T) {
	replay(t, "some text here", "\x1b[2J", 20, 3)
}

func TestNewFrameRoundTripsWideGlyphs(t *testing.T) {
	replay(t, "", "日本 ok", 20, 3)
	replay(t, "日本", "日x", 20, 3)
}

func TestNewFrameEmitsCursorVisibilityChangeAlone(t *testing.T) {
	prev := render(10, 2, "hi")
	target := render(10, 2, "hi\x1b[?25l")

	diff := New().NewFrame(true, prev, target)
	if !strings.Contains(diff, "\x1b[?25l") {
		t.Fatalf("expected a hide-cursor escape for a visibility-only change, got %q", diff)
	}

	back := New().NewFrame(true, target, prev)
	if !strings.Contains(back, "\x1b[?25h") {
		t.Fatalf("expected a show-cursor escape restoring visibility, got %q", back)
	}
}

func TestNewFrameBellIncrementsOnce(t *testing.T) {
	prev := render(5, 1, "")
	target := render(5, 1, "\x07")
	diff := New().NewFrame(true, prev, target)

	if strings.Count(diff, "\x07") != 1 {
		t.Fatalf("expected exactly one bell byte, got %q", diff)
	}
}
