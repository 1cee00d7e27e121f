// Package display implements the differential display engine (§4.9): it
// converts one terminal.Framebuffer into the minimal ANSI byte string that
// would transform a conforming VT-500 terminal currently showing the first
// framebuffer into showing the second.
package display

import (
	"fmt"
	"strings"

	"github.com/chronostruct/gossp/internal/terminal"
)

// Display holds the capability flags a real terminal's terminfo entry
// would supply (ECH support, background-color-erase). The core assumes a
// modern xterm-compatible terminal, matching mosh's default when terminfo
// lookup is unavailable.
type Display struct {
	HasECH bool
	HasBCE bool
}

// New returns a Display assuming full xterm-class capability.
func New() *Display {
	return &Display{HasECH: true, HasBCE: true}
}

// NewFrame produces the ANSI update string to transform prev into target.
// If initialized is false, prev's contents are ignored and the whole
// screen is treated as blank and redrawn (§4.9 step 1).
func (d *Display) NewFrame(initialized bool, prev, target *terminal.Framebuffer) string {
	var b strings.Builder

	dimsChanged := prev.Width() != target.Width() || prev.Height() != target.Height()
	if !initialized || dimsChanged {
		b.WriteString("\x1b[r\x1b[0m\x1b[H\x1b[2J")
		prev = terminal.New(target.Width(), target.Height())
	}

	// Step 2: bell.
	for i := 0; i < target.BellCount-prev.BellCount; i++ {
		b.WriteByte(0x07)
	}

	// Step 3: window/icon title.
	if target.TitleInitialized &&
		(target.WindowTitle != prev.WindowTitle || target.IconName != prev.IconName) {
		if target.IconName == target.WindowTitle {
			fmt.Fprintf(&b, "\x1b]0;%s\x07", target.WindowTitle)
		} else {
			fmt.Fprintf(&b, "\x1b]1;%s\x07", target.IconName)
			fmt.Fprintf(&b, "\x1b]2;%s\x07", target.WindowTitle)
		}
	}

	// Step 4: mode toggles.
	emitMode(&b, prev.DS.ReverseVideo, target.DS.ReverseVideo, "?5")
	emitMode(&b, prev.DS.BracketedPaste, target.DS.BracketedPaste, "?2004")
	emitMode(&b, prev.DS.MouseVT100, target.DS.MouseVT100, "?1000")
	emitMode(&b, prev.DS.MouseXterm, target.DS.MouseXterm, "?1003")
	emitMode(&b, prev.DS.MouseSGR, target.DS.MouseSGR, "?1006")
	emitMode(&b, prev.DS.AltScreen, target.DS.AltScreen, "?1049")

	cursorHidden := false
	needsCellUpdate := !framebufferCellsEqual(prev, target)
	cursorMoved := prev.DS.CursorRow != target.DS.CursorRow || prev.DS.CursorCol != target.DS.CursorCol

	// Step 5: hide cursor before any silent move or cell rewrite.
	if needsCellUpdate || cursorMoved {
		b.WriteString("\x1b[?25l")
		cursorHidden = true
	}

	// Step 6: scroll-shift detection against a working shadow of prev.
	shadow := cloneRows(prev, target.Width(), target.Height())
	if s := findScrollShift(shadow, target); s > 0 {
		b.WriteString("\x1b[r")
		fmt.Fprintf(&b, "\x1b[%d;1H", target.Height())
		for i := 0; i < s; i++ {
			b.WriteByte('\n')
		}
		shadow = append(shadow[s:], blankRows(s, target.Width())...)
	}

	// Step 7/8/9: per-row cell diff with SGR synchronization.
	cur := terminal.DefaultRenditions()
	sgrForced := true

	for r := 0; r < target.Height(); r++ {
		shadowRow := shadow[r]
		targetRow := make([]terminal.Cell, target.Width())
		for c := range targetRow {
			targetRow[c] = target.Cell(r, c)
		}

		first, last := rowDiffRange(shadowRow, targetRow)
		if first < 0 {
			continue
		}

		fmt.Fprintf(&b, "\x1b[%d;%dH", r+1, first+1)

		col := first
		for col <= last {
			cell := targetRow[col]

			// If everything from here to end-of-line is already blank
			// under renditions we can erase into, compress the rest of
			// the row into a single erase instead of literal spaces.
			if last == target.Width()-1 && d.HasECH &&
				isBlankRun(targetRow, col, target.Width()) &&
				(d.HasBCE || cell.Renditions.IsDefault()) {
				if sgrForced || cur != cell.Renditions {
					writeSGR(&b, cell.Renditions)
					cur = cell.Renditions
					sgrForced = false
				}
				b.WriteString("\x1b[K")
				col = target.Width()
				break
			}

			if sgrForced || !(cur == cell.Renditions) {
				writeSGR(&b, cell.Renditions)
				cur = cell.Renditions
				sgrForced = false
			}

			if cell.Fallback {
				b.WriteByte(0xC2)
				b.WriteByte(0xA0) // NBSP
			}
			for _, ch := range cell.Contents() {
				b.WriteRune(ch)
			}
			if cell.Wide {
				// The glyph occupies two columns; the overlapped cell is
				// implied, not written.
				col += 2
			} else {
				col++
			}
		}
	}

	if cursorHidden {
		fmt.Fprintf(&b, "\x1b[%d;%dH", target.DS.CursorRow+1, target.DS.CursorCol+1)
		if target.DS.CursorVisible {
			b.WriteString("\x1b[?25h")
		}
	} else if prev.DS.CursorVisible != target.DS.CursorVisible {
		if target.DS.CursorVisible {
			b.WriteString("\x1b[?25h")
		} else {
			b.WriteString("\x1b[?25l")
		}
	}

	return b.String()
}

func emitMode(b *strings.Builder, was, is bool, code string) {
	if was == is {
		return
	}
	if is {
		fmt.Fprintf(b, "\x1b[%sh", code)
	} else {
		fmt.Fprintf(b, "\x1b[%sl", code)
	}
}

func writeSGR(b *strings.Builder, r terminal.Renditions) {
	parts := []string{"0"}
	if r.Bold {
		parts = append(parts, "1")
	}
	if r.Faint {
		parts = append(parts, "2")
	}
	if r.Italic {
		parts = append(parts, "3")
	}
	if r.Underline {
		parts = append(parts, "4")
	}
	if r.Blink {
		parts = append(parts, "5")
	}
	if r.Inverse {
		parts = append(parts, "7")
	}
	if r.Invisible {
		parts = append(parts, "8")
	}
	if r.Fg != terminal.ColorDefault {
		if r.Fg < 8 {
			parts = append(parts, fmt.Sprintf("%d", 30+int(r.Fg)))
		} else {
			parts = append(parts, fmt.Sprintf("%d", 90+int(r.Fg)-8))
		}
	}
	if r.Bg != terminal.ColorDefault {
		if r.Bg < 8 {
			parts = append(parts, fmt.Sprintf("%d", 40+int(r.Bg)))
		} else {
			parts = append(parts, fmt.Sprintf("%d", 100+int(r.Bg)-8))
		}
	}
	b.WriteString("\x1b[" + strings.Join(parts, ";") + "m")
}

func framebufferCellsEqual(a, b *terminal.Framebuffer) bool {
	if a.Width() != b.Width() || a.Height() != b.Height() {
		return false
	}
	for r := 0; r < a.Height(); r++ {
		for c := 0; c < a.Width(); c++ {
			if !a.Cell(r, c).Equal(b.Cell(r, c)) {
				return false
			}
		}
	}
	return true
}

func cloneRows(fb *terminal.Framebuffer, width, height int) [][]terminal.Cell {
	rows := make([][]terminal.Cell, height)
	for r := 0; r < height; r++ {
		row := blankRow(width)
		if r < fb.Height() {
			for c := 0; c < width && c < fb.Width(); c++ {
				row[c] = fb.Cell(r, c)
			}
		}
		rows[r] = row
	}
	return rows
}

func blankRow(width int) []terminal.Cell {
	row := make([]terminal.Cell, width)
	for i := range row {
		row[i] = terminal.BlankCell(terminal.DefaultRenditions())
	}
	return row
}

func blankRows(n, width int) [][]terminal.Cell {
	rows := make([][]terminal.Cell, n)
	for i := range rows {
		rows[i] = blankRow(width)
	}
	return rows
}

// findScrollShift looks for the smallest shift s>0 such that shadow[s:]
// equals target's rows [0, height-s), i.e. the target is the shadow
// scrolled up by s lines with s new rows appended at the bottom (§4.9 step
// 6). Returns 0 if no such shift is found.
func findScrollShift(shadow [][]terminal.Cell, target *terminal.Framebuffer) int {
	height := target.Height()
	for s := 1; s < height; s++ {
		match := true
		for r := 0; r < height-s && match; r++ {
			for c := 0; c < target.Width(); c++ {
				if !shadow[r+s][c].Equal(target.Cell(r, c)) {
					match = false
					break
				}
			}
		}
		if match {
			return s
		}
	}
	return 0
}

func rowDiffRange(a, b []terminal.Cell) (first, last int) {
	first, last = -1, -1
	for i := range a {
		if !a[i].Equal(b[i]) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return
}

func isBlankRun(row []terminal.Cell, from, width int) bool {
	for i := from; i < width; i++ {
		if !row[i].IsBlank() {
			return false
		}
	}
	return true
}
