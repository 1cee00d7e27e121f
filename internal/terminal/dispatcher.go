package terminal

import (
	"fmt"
	"unicode"

	"github.com/chronostruct/gossp/internal/parser"
)

// maxParams bounds the CSI/DCS parameter accumulation per §4.8 ("up to 100
// characters of params"); we bound by parameter count rather than raw
// character count, which is simpler and strictly more generous for any
// real program.
const maxParams = 32

// Terminal owns a Framebuffer and the accumulation state the dispatcher
// needs between a Clear action and the CSI/Esc/OSC dispatch that consumes
// it: collected parameters, intermediate/introducer characters, and any
// bytes that must be written back to the host (DSR/DA replies).
type Terminal struct {
	FB *Framebuffer

	params       []int
	curParam     int
	haveDigit    bool
	intermediate []rune

	osc   []rune
	inOSC bool

	toHost []byte
}

// NewTerminal returns a Terminal with a blank Framebuffer of the given
// size.
func NewTerminal(width, height int) *Terminal {
	return &Terminal{FB: New(width, height)}
}

// Clone returns a deep copy of the terminal, including its pending
// CSI/OSC accumulation state, so that a snapshot taken for
// state-synchronization history is independent of later mutation.
func (t *Terminal) Clone() *Terminal {
	return &Terminal{
		FB:           t.FB.Clone(),
		params:       append([]int(nil), t.params...),
		curParam:     t.curParam,
		haveDigit:    t.haveDigit,
		intermediate: append([]rune(nil), t.intermediate...),
		osc:          append([]rune(nil), t.osc...),
		inOSC:        t.inOSC,
		toHost:       append([]byte(nil), t.toHost...),
	}
}

// ReadOctetsToHost drains and returns any bytes the terminal has queued to
// send back to the host (e.g. a DSR or DA reply), per §6.4.
func (t *Terminal) ReadOctetsToHost() []byte {
	out := t.toHost
	t.toHost = nil
	return out
}

func (t *Terminal) writeHost(s string) {
	t.toHost = append(t.toHost, []byte(s)...)
}

// Act applies one parser Action (as returned by parser.Parser.Input) to the
// terminal.
func (t *Terminal) Act(a parser.Action) {
	switch a.Kind {
	case parser.KindIgnore:
		// nothing
	case parser.KindClear:
		t.params = t.params[:0]
		t.curParam = -1
		t.haveDigit = false
		t.intermediate = t.intermediate[:0]
	case parser.KindCollect:
		if len(t.intermediate) < maxParams {
			t.intermediate = append(t.intermediate, a.Ch)
		}
	case parser.KindParam:
		t.collectParam(a.Ch)
	case parser.KindPrint:
		t.print(a.Ch)
	case parser.KindExecute:
		t.execute(a.Ch)
	case parser.KindEscDispatch:
		t.escDispatch(string(t.intermediate), a.Ch)
	case parser.KindCSIDispatch:
		t.finalizeParam()
		t.csiDispatch(string(t.intermediate), t.params, a.Ch)
	case parser.KindOSCStart:
		t.inOSC = true
		t.osc = t.osc[:0]
	case parser.KindOSCPut:
		if t.inOSC {
			t.osc = append(t.osc, a.Ch)
		}
	case parser.KindOSCEnd:
		t.oscDispatch(string(t.osc))
		t.inOSC = false
	case parser.KindHook, parser.KindPut, parser.KindUnhook:
		// DCS passthrough has no terminal function in the required set
		// (§4.8); the passthrough machinery exists so the parser state
		// machine matches the VT-500 diagram exactly, but nothing
		// consumes Hook/Put/Unhook here.
	}
}

func (t *Terminal) collectParam(ch rune) {
	if ch == ';' {
		t.finalizeParam()
		return
	}
	if !t.haveDigit {
		t.curParam = 0
		t.haveDigit = true
	}
	t.curParam = t.curParam*10 + int(ch-'0')
}

func (t *Terminal) finalizeParam() {
	if len(t.params) >= maxParams {
		return
	}
	if t.haveDigit {
		t.params = append(t.params, t.curParam)
	} else {
		t.params = append(t.params, -1)
	}
	t.curParam = -1
	t.haveDigit = false
}

// getParam returns params[n] if present and positive, else def (§4.8:
// "substitutes default for missing or non-positive values").
func getParam(params []int, n, def int) int {
	if n >= len(params) || params[n] <= 0 {
		return def
	}
	return params[n]
}

func isCombiningMark(r rune) bool {
	return unicode.In(r, unicode.Mn, unicode.Me)
}

// isWide approximates East Asian Wide/Fullwidth character width with the
// common code-point ranges; full Unicode East Asian Width table support is
// out of scope for the core.
func isWide(r rune) bool {
	switch {
	case r >= 0x1100 && r <= 0x115F, // Hangul Jamo
		r >= 0x2E80 && r <= 0xA4CF && r != 0x303F, // CJK, radicals, Hiragana/Katakana
		r >= 0xAC00 && r <= 0xD7A3, // Hangul syllables
		r >= 0xF900 && r <= 0xFAFF, // CJK compatibility ideographs
		r >= 0xFF00 && r <= 0xFF60, // fullwidth forms
		r >= 0xFFE0 && r <= 0xFFE6,
		r >= 0x20000 && r <= 0x3FFFD:
		return true
	default:
		return false
	}
}

func (t *Terminal) print(ch rune) {
	ds := &t.FB.DS

	if isCombiningMark(ch) {
		row, col := ds.CombiningCharRow, ds.CombiningCharCol
		if row >= 0 && row < ds.Height && col >= 0 && col < ds.Width {
			c := t.FB.Cell(row, col)
			if c.IsBlank() {
				// Attach to NBSP per §3.5's fallback marker: a combining
				// mark with nothing to attach to still needs a cell.
				c.SetContents(' ')
				c.Fallback = true
			}
			c.AddCombiningChar(ch)
			t.FB.SetCell(row, col, c)
		}
		return
	}

	wide := isWide(ch)

	if wide && ds.CursorCol == ds.Width-1 {
		if ds.AutoWrap {
			t.wrapLine()
		}
	}
	if ds.AutoWrap && ds.NextPrintWillWrap {
		t.wrapLine()
	}

	if ds.InsertMode {
		width := 1
		if wide {
			width = 2
		}
		t.shiftRight(ds.CursorRow, ds.CursorCol, width)
	}

	cell := Cell{Renditions: ds.Renditions, Wide: wide}
	cell.SetContents(ch)
	t.FB.SetCell(ds.CursorRow, ds.CursorCol, cell)
	ds.CombiningCharRow, ds.CombiningCharCol = ds.CursorRow, ds.CursorCol

	if wide && ds.CursorCol+1 < ds.Width {
		overlapped := BlankCell(ds.Renditions)
		t.FB.SetCell(ds.CursorRow, ds.CursorCol+1, overlapped)
	}

	advance := 1
	if wide {
		advance = 2
	}
	ds.CursorCol += advance
	if ds.CursorCol >= ds.Width {
		ds.CursorCol = ds.Width - 1
		if ds.AutoWrap {
			ds.NextPrintWillWrap = true
		}
	} else {
		ds.NextPrintWillWrap = false
	}
}

// wrapLine marks the last cell of the current row as wrapped, moves to
// column 0, and autoscrolls one row (§4.8 wrap rule).
func (t *Terminal) wrapLine() {
	ds := &t.FB.DS
	last := t.FB.Cell(ds.CursorRow, ds.Width-1)
	last.Wrap = true
	t.FB.SetCell(ds.CursorRow, ds.Width-1, last)
	ds.CursorCol = 0
	t.linefeed()
	ds.NextPrintWillWrap = false
}

// shiftRight shifts cells [col..width-n) right by n within row, for insert
// mode.
func (t *Terminal) shiftRight(row, col, n int) {
	r := t.FB.Row(row)
	width := len(r)
	for i := width - 1; i >= col+n; i-- {
		r[i] = r[i-n]
	}
	for i := col; i < col+n && i < width; i++ {
		r[i] = BlankCell(t.FB.DS.Renditions)
	}
}

// linefeed moves the cursor down one row without touching the column,
// scrolling the region if already on the bottom margin (IND/LF/VT/FF).
func (t *Terminal) linefeed() {
	ds := &t.FB.DS
	if ds.CursorRow == ds.ScrollBottom {
		t.FB.ScrollUp(1)
	} else if ds.CursorRow < ds.Height-1 {
		ds.CursorRow++
	}
}

// reverseIndex moves the cursor up one row, scrolling down if already on
// the top margin (RI).
func (t *Terminal) reverseIndex() {
	ds := &t.FB.DS
	if ds.CursorRow == ds.ScrollTop {
		t.FB.ScrollDown(1)
	} else if ds.CursorRow > 0 {
		ds.CursorRow--
	}
}

func (t *Terminal) execute(ch rune) {
	ds := &t.FB.DS
	switch ch {
	case 0x07: // BEL
		t.FB.Bell()
	case 0x08: // BS
		if ds.CursorCol > 0 {
			ds.CursorCol--
		}
		ds.NextPrintWillWrap = false
	case 0x09: // HT
		t.tabForward()
	case 0x0A, 0x0B, 0x0C: // LF, VT, FF
		t.linefeed()
	case 0x0D: // CR
		ds.CursorCol = 0
		ds.NextPrintWillWrap = false
	case 0x84: // IND
		t.linefeed()
	case 0x85: // NEL
		ds.CursorCol = 0
		t.linefeed()
	case 0x88: // HTS (C1 form)
		t.setTabStop()
	case 0x8D: // RI
		t.reverseIndex()
	}
}

func (t *Terminal) tabForward() {
	ds := &t.FB.DS
	col := ds.CursorCol + 1
	for col < ds.Width && !ds.TabStops[col] {
		col++
	}
	if col >= ds.Width {
		col = ds.Width - 1
	}
	ds.CursorCol = col
}

func (t *Terminal) setTabStop() {
	ds := &t.FB.DS
	if ds.CursorCol < len(ds.TabStops) {
		ds.TabStops[ds.CursorCol] = true
	}
}

func (t *Terminal) escDispatch(intro string, ch rune) {
	ds := &t.FB.DS
	switch {
	case intro == "#" && ch == '8':
		t.decaln()
	case ch == '7':
		ds.SaveCursor()
	case ch == '8':
		ds.RestoreCursor()
	case ch == 'c':
		t.FB.Reset()
	case ch == 'D':
		t.linefeed()
	case ch == 'M':
		t.reverseIndex()
	case ch == 'E':
		ds.CursorCol = 0
		t.linefeed()
	case ch == 'H':
		t.setTabStop()
	}
}

// decaln implements DECALN (ESC #8): fill the screen with 'E'.
func (t *Terminal) decaln() {
	for r := 0; r < t.FB.Height(); r++ {
		row := t.FB.Row(r)
		for c := range row {
			cell := Cell{Renditions: DefaultRenditions()}
			cell.SetContents('E')
			row[c] = cell
		}
	}
}

func (t *Terminal) oscDispatch(s string) {
	if len(s) == 0 {
		return
	}
	sep := -1
	for i, c := range s {
		if c == ';' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return
	}
	kind := s[:sep]
	text := s[sep+1:]
	switch kind {
	case "0":
		t.FB.SetIconName(text)
		t.FB.SetTitle(text)
	case "1":
		t.FB.SetIconName(text)
	case "2":
		t.FB.SetTitle(text)
	}
}

func (t *Terminal) csiDispatch(intro string, params []int, ch rune) {
	ds := &t.FB.DS
	switch ch {
	case 'K':
		t.eraseInLine(getParam(params, 0, 0))
	case 'J':
		t.eraseInDisplay(getParam(params, 0, 0))
	case 'A':
		ds.MoveCursor(ds.CursorRow-getParam(params, 0, 1), ds.CursorCol)
	case 'B':
		ds.MoveCursor(ds.CursorRow+getParam(params, 0, 1), ds.CursorCol)
	case 'C':
		ds.MoveCursor(ds.CursorRow, ds.CursorCol+getParam(params, 0, 1))
	case 'D':
		ds.MoveCursor(ds.CursorRow, ds.CursorCol-getParam(params, 0, 1))
	case 'H', 'f':
		row := getParam(params, 0, 1) - 1
		col := getParam(params, 1, 1) - 1
		if ds.OriginMode {
			ds.MoveCursor(ds.ScrollTop+row, col)
		} else {
			ds.MoveCursor(row, col)
		}
	case 'c':
		t.deviceAttributes(intro)
	case 'g':
		t.tabClear(getParam(params, 0, 0))
	case 'h':
		t.setMode(intro, params, true)
	case 'l':
		t.setMode(intro, params, false)
	case 'r':
		top := getParam(params, 0, 1) - 1
		bottom := getParam(params, 1, ds.Height) - 1
		ds.SetScrollRegion(top, bottom)
		ds.Home()
	case 'm':
		t.sgr(params)
	case 'n':
		t.deviceStatusReport(getParam(params, 0, 0))
	case 'L':
		t.FB.InsertLine(ds.CursorRow, getParam(params, 0, 1))
	case 'M':
		t.FB.DeleteLine(ds.CursorRow, getParam(params, 0, 1))
	case '@':
		t.insertChars(getParam(params, 0, 1))
	case 'P':
		t.deleteChars(getParam(params, 0, 1))
	case 'd':
		ds.MoveCursorAbsolute(getParam(params, 0, 1)-1, ds.CursorCol)
	case 'G':
		ds.MoveCursorAbsolute(ds.CursorRow, getParam(params, 0, 1)-1)
	case 'X':
		t.eraseChars(getParam(params, 0, 1))
	case 'p':
		if intro == "!" {
			t.FB.SoftReset()
		}
	case 'S':
		t.FB.ScrollUp(getParam(params, 0, 1))
	case 'T':
		t.FB.ScrollDown(getParam(params, 0, 1))
	}
}

func (t *Terminal) eraseInLine(mode int) {
	ds := &t.FB.DS
	row := t.FB.Row(ds.CursorRow)
	blank := BlankCell(ds.Renditions)
	switch mode {
	case 0:
		for c := ds.CursorCol; c < len(row); c++ {
			row[c] = blank
		}
	case 1:
		for c := 0; c <= ds.CursorCol && c < len(row); c++ {
			row[c] = blank
		}
	case 2:
		for c := range row {
			row[c] = blank
		}
	}
}

func (t *Terminal) eraseInDisplay(mode int) {
	ds := &t.FB.DS
	switch mode {
	case 0:
		t.eraseInLine(0)
		for r := ds.CursorRow + 1; r < ds.Height; r++ {
			t.blankRow(r)
		}
	case 1:
		t.eraseInLine(1)
		for r := 0; r < ds.CursorRow; r++ {
			t.blankRow(r)
		}
	case 2:
		for r := 0; r < ds.Height; r++ {
			t.blankRow(r)
		}
	}
}

func (t *Terminal) blankRow(r int) {
	row := t.FB.Row(r)
	blank := BlankCell(t.FB.DS.Renditions)
	for c := range row {
		row[c] = blank
	}
}

func (t *Terminal) insertChars(n int) {
	ds := &t.FB.DS
	t.shiftRight(ds.CursorRow, ds.CursorCol, n)
}

func (t *Terminal) deleteChars(n int) {
	ds := &t.FB.DS
	row := t.FB.Row(ds.CursorRow)
	width := len(row)
	if n > width-ds.CursorCol {
		n = width - ds.CursorCol
	}
	copy(row[ds.CursorCol:width-n], row[ds.CursorCol+n:width])
	for i := width - n; i < width; i++ {
		row[i] = BlankCell(ds.Renditions)
	}
}

func (t *Terminal) eraseChars(n int) {
	ds := &t.FB.DS
	row := t.FB.Row(ds.CursorRow)
	blank := BlankCell(ds.Renditions)
	for c := ds.CursorCol; c < ds.CursorCol+n && c < len(row); c++ {
		row[c] = blank
	}
}

func (t *Terminal) tabClear(mode int) {
	ds := &t.FB.DS
	switch mode {
	case 0:
		if ds.CursorCol < len(ds.TabStops) {
			ds.TabStops[ds.CursorCol] = false
		}
	case 3:
		for i := range ds.TabStops {
			ds.TabStops[i] = false
		}
	}
}

func (t *Terminal) deviceAttributes(intro string) {
	if intro == ">" {
		t.writeHost("\x1b[>1;10;0c") // SDA: VT220-class secondary
		return
	}
	t.writeHost("\x1b[?62;1;6c") // DA: VT220 with ANSI color
}

func (t *Terminal) deviceStatusReport(mode int) {
	switch mode {
	case 6:
		ds := &t.FB.DS
		t.writeHost(fmt.Sprintf("\x1b[%d;%dR", ds.CursorRow+1, ds.CursorCol+1))
	default:
		t.writeHost("\x1b[0n")
	}
}

func (t *Terminal) setMode(intro string, params []int, on bool) {
	ds := &t.FB.DS
	if intro != "?" {
		for _, p := range params {
			if p == 4 {
				ds.InsertMode = on
			}
		}
		return
	}
	for _, p := range params {
		switch p {
		case 1:
			ds.ApplicationCursorKeys = on
		case 3:
			ds.Resize(ds.Width, ds.Height)
			t.FB.eraseAllForDECCOLM()
		case 5:
			ds.ReverseVideo = on
		case 6:
			ds.OriginMode = on
			ds.Home()
		case 7:
			ds.AutoWrap = on
		case 25:
			ds.CursorVisible = on
		case 1000:
			ds.MouseVT100 = on
		case 1002, 1003:
			ds.MouseXterm = on
		case 1005:
			ds.MouseUTF8 = on
		case 1006:
			ds.MouseSGR = on
		case 1049:
			t.FB.SetAltScreen(on)
		case 2004:
			ds.BracketedPaste = on
		}
	}
}

// eraseAllForDECCOLM clears the screen when DECCOLM (CSI ?3h/l) is set or
// reset, matching real terminals' behavior of blanking on that specific
// mode toggle. The column count itself is left unchanged.
func (fb *Framebuffer) eraseAllForDECCOLM() {
	for r := 0; r < fb.Height(); r++ {
		row := fb.Row(r)
		blank := BlankCell(fb.DS.Renditions)
		for c := range row {
			row[c] = blank
		}
	}
}

func (t *Terminal) sgr(params []int) {
	ds := &t.FB.DS
	if len(params) == 0 {
		ds.Renditions = DefaultRenditions()
		return
	}
	for _, p := range params {
		switch {
		case p <= 0:
			ds.Renditions = DefaultRenditions()
		case p == 1:
			ds.Renditions.Bold = true
		case p == 2:
			ds.Renditions.Faint = true
		case p == 3:
			ds.Renditions.Italic = true
		case p == 4:
			ds.Renditions.Underline = true
		case p == 5:
			ds.Renditions.Blink = true
		case p == 7:
			ds.Renditions.Inverse = true
		case p == 8:
			ds.Renditions.Invisible = true
		case p == 22:
			ds.Renditions.Bold = false
			ds.Renditions.Faint = false
		case p == 23:
			ds.Renditions.Italic = false
		case p == 24:
			ds.Renditions.Underline = false
		case p == 25:
			ds.Renditions.Blink = false
		case p == 27:
			ds.Renditions.Inverse = false
		case p == 28:
			ds.Renditions.Invisible = false
		case p >= 30 && p <= 37:
			ds.Renditions.Fg = Color(p - 30)
		case p == 39:
			ds.Renditions.Fg = ColorDefault
		case p >= 40 && p <= 47:
			ds.Renditions.Bg = Color(p - 40)
		case p == 49:
			ds.Renditions.Bg = ColorDefault
		case p >= 90 && p <= 97:
			ds.Renditions.Fg = Color(p - 90 + 8)
		case p >= 100 && p <= 107:
			ds.Renditions.Bg = Color(p - 100 + 8)
		}
	}
}
