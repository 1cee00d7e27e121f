package terminal

import (
	"testing"

	"github.com/chronostruct/gossp/internal/parser"
)

func act(term *Terminal, p *parser.Parser, s string) {
	for _, ch := range s {
		for _, a := range p.Input(ch) {
			term.Act(a)
		}
	}
}

func TestPrintAdvancesCursor(t *testing.T) {
	term := NewTerminal(10, 2)
	p := parser.New()
	act(term, p, "hi")

	if term.FB.DS.CursorCol != 2 {
		t.Fatalf("cursor col = %d, want 2", term.FB.DS.CursorCol)
	}
	if got := term.FB.Cell(0, 0).Contents(); got[0] != 'h' {
		t.Fatalf("cell(0,0) = %q, want 'h'", got)
	}
}

func TestCUPMovesCursor(t *testing.T) {
	term := NewTerminal(10, 5)
	p := parser.New()
	act(term, p, "\x1b[3;4H")

	if term.FB.DS.CursorRow != 2 || term.FB.DS.CursorCol != 3 {
		t.Fatalf("cursor = (%d,%d), want (2,3)", term.FB.DS.CursorRow, term.FB.DS.CursorCol)
	}
}

func TestSGRSetsRenditions(t *testing.T) {
	term := NewTerminal(10, 2)
	p := parser.New()
	act(term, p, "\x1b[1;31mX")

	cell := term.FB.Cell(0, 0)
	if !cell.Renditions.Bold {
		t.Fatal("expected bold")
	}
	if cell.Renditions.Fg != Color(1) {
		t.Fatalf("fg = %d, want 1 (red)", cell.Renditions.Fg)
	}
}

func TestSGRResetClearsAttributes(t *testing.T) {
	term := NewTerminal(10, 2)
	p := parser.New()
	act(term, p, "\x1b[1mA\x1b[0mB")

	if !term.FB.Cell(0, 0).Renditions.Bold {
		t.Fatal("expected bold on first cell")
	}
	if term.FB.Cell(0, 1).Renditions.Bold {
		t.Fatal("expected bold cleared on second cell")
	}
}

func TestLineWrapAndAutoscroll(t *testing.T) {
	term := NewTerminal(3, 2)
	p := parser.New()
	act(term, p, "abcd")

	if !term.FB.Cell(0, 2).Wrap {
		t.Fatal("expected last cell of row 0 marked wrapped")
	}
	if term.FB.Cell(1, 0).Contents()[0] != 'd' {
		t.Fatalf("cell(1,0) = %q, want 'd'", term.FB.Cell(1, 0).Contents())
	}
}

func TestEraseInLineMode2ClearsWholeRow(t *testing.T) {
	term := NewTerminal(5, 1)
	p := parser.New()
	act(term, p, "hello\x1b[2K")

	for c := 0; c < 5; c++ {
		if !term.FB.Cell(0, c).IsBlank() {
			t.Fatalf("cell(0,%d) not blank after EL(2)", c)
		}
	}
}

func TestDeviceAttributesQueriesHost(t *testing.T) {
	term := NewTerminal(5, 1)
	p := parser.New()
	act(term, p, "\x1b[c")

	got := term.ReadOctetsToHost()
	if string(got) != "\x1b[?62;1;6c" {
		t.Fatalf("DA reply = %q", got)
	}
}

func TestAltScreenToggle(t *testing.T) {
	term := NewTerminal(5, 2)
	p := parser.New()
	act(term, p, "primary")
	act(term, p, "\x1b[?1049h")
	act(term, p, "alt")

	if !term.FB.DS.AltScreen {
		t.Fatal("expected alt screen on")
	}
	// "primary" wraps on the 5-wide screen, leaving the cursor at row 1,
	// column 2; switching screens does not move it.
	if got := term.FB.Cell(1, 2).Contents()[0]; got != 'a' {
		t.Fatalf("alt screen cell(1,2) = %q, want 'a'", got)
	}

	act(term, p, "\x1b[?1049l")
	if term.FB.DS.AltScreen {
		t.Fatal("expected alt screen off")
	}
	if got := term.FB.Cell(0, 0).Contents()[0]; got != 'p' {
		t.Fatalf("primary screen cell(0,0) = %q, want 'p' (preserved)", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	term := NewTerminal(5, 1)
	p := parser.New()
	act(term, p, "hi")

	clone := term.Clone()
	act(term, p, "!")

	if clone.FB.Cell(0, 2).Contents()[0] == '!' {
		t.Fatal("clone was mutated by a later Act on the original")
	}
}

func TestCombiningMarkAttachesToPrecedingCell(t *testing.T) {
	term := NewTerminal(5, 1)
	p := parser.New()
	act(term, p, "é") // 'e' followed by COMBINING ACUTE ACCENT

	cell := term.FB.Cell(0, 0)
	contents := cell.Contents()
	if len(contents) != 2 || contents[0] != 'e' || contents[1] != '́' {
		t.Fatalf("cell(0,0) contents = %q", contents)
	}
}
