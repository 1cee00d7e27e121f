package terminal

// Framebuffer is the terminal's complete visible state: the cell grid(s),
// draw state, window/icon titles, and the bell counter the display engine
// diffs against (§3.5). Two grids are kept so CSI ?1049h/l (alternate
// screen, §4.8.1) can swap between them without losing the primary
// screen's contents.
type Framebuffer struct {
	DS DrawState

	primary   [][]Cell
	alternate [][]Cell

	IconName         string
	WindowTitle      string
	TitleInitialized bool
	BellCount        int
}

// New returns a blank Framebuffer of the given size.
func New(width, height int) *Framebuffer {
	fb := &Framebuffer{
		DS:        NewDrawState(width, height),
		primary:   newGrid(width, height),
		alternate: newGrid(width, height),
	}
	return fb
}

func newGrid(width, height int) [][]Cell {
	grid := make([][]Cell, height)
	for i := range grid {
		row := make([]Cell, width)
		for c := range row {
			row[c] = BlankCell(DefaultRenditions())
		}
		grid[i] = row
	}
	return grid
}

func (fb *Framebuffer) grid() [][]Cell {
	if fb.DS.AltScreen {
		return fb.alternate
	}
	return fb.primary
}

// Row returns the live row slice at index r of the visible grid. Callers
// may mutate cells in place; the slice itself must not be reassigned.
func (fb *Framebuffer) Row(r int) []Cell {
	return fb.grid()[r]
}

// Cell returns the cell at (row, col) of the visible grid.
func (fb *Framebuffer) Cell(row, col int) Cell {
	return fb.grid()[row][col]
}

// SetCell writes a cell at (row, col) of the visible grid.
func (fb *Framebuffer) SetCell(row, col int, c Cell) {
	fb.grid()[row][col] = c
}

// Width and Height report the current grid dimensions.
func (fb *Framebuffer) Width() int  { return fb.DS.Width }
func (fb *Framebuffer) Height() int { return fb.DS.Height }

// SetAltScreen switches between the primary and alternate grids (§4.8.1).
// Both grids always exist and are independently addressable so switching
// back restores exactly what was on screen before.
func (fb *Framebuffer) SetAltScreen(on bool) {
	fb.DS.AltScreen = on
}

// Resize grows or shrinks both grids to width x height, preserving
// existing content up to the smaller of the old/new dimensions and
// blanking any newly exposed cells, then resizes the draw state (both
// grids resize together, per §4.8.1).
func (fb *Framebuffer) Resize(width, height int) {
	fb.primary = resizeGrid(fb.primary, width, height)
	fb.alternate = resizeGrid(fb.alternate, width, height)
	fb.DS.Resize(width, height)
}

func resizeGrid(old [][]Cell, width, height int) [][]Cell {
	grid := newGrid(width, height)
	for r := 0; r < height && r < len(old); r++ {
		for c := 0; c < width && c < len(old[r]); c++ {
			grid[r][c] = old[r][c]
		}
	}
	return grid
}

// ScrollUp shifts rows [top..bottom] of the visible grid up by n, filling
// the exposed bottom rows with blanks under the current renditions (§4.8
// SU, and IND/NEL autoscroll at the bottom margin).
func (fb *Framebuffer) ScrollUp(n int) {
	top, bottom := fb.DS.ScrollTop, fb.DS.ScrollBottom
	g := fb.grid()
	for i := 0; i < n && top <= bottom; i++ {
		copy(g[top:bottom], g[top+1:bottom+1])
		g[bottom] = make([]Cell, fb.DS.Width)
		for c := range g[bottom] {
			g[bottom][c] = BlankCell(fb.DS.Renditions)
		}
	}
}

// ScrollDown shifts rows [top..bottom] of the visible grid down by n,
// filling the exposed top rows with blanks (§4.8 SD).
func (fb *Framebuffer) ScrollDown(n int) {
	top, bottom := fb.DS.ScrollTop, fb.DS.ScrollBottom
	g := fb.grid()
	for i := 0; i < n && top <= bottom; i++ {
		copy(g[top+1:bottom+1], g[top:bottom])
		g[top] = make([]Cell, fb.DS.Width)
		for c := range g[top] {
			g[top][c] = BlankCell(fb.DS.Renditions)
		}
	}
}

// InsertLine implements IL: insert n blank lines at the cursor row, within
// the scrolling region, shifting lines below down and dropping lines that
// fall off the bottom margin.
func (fb *Framebuffer) InsertLine(row, n int) {
	if row < fb.DS.ScrollTop || row > fb.DS.ScrollBottom {
		return
	}
	bottom := fb.DS.ScrollBottom
	g := fb.grid()
	for i := 0; i < n && row <= bottom; i++ {
		copy(g[row+1:bottom+1], g[row:bottom])
		g[row] = make([]Cell, fb.DS.Width)
		for c := range g[row] {
			g[row][c] = BlankCell(fb.DS.Renditions)
		}
	}
}

// DeleteLine implements DL: delete n lines at the cursor row, within the
// scrolling region, shifting lines below up and filling the exposed
// bottom with blanks.
func (fb *Framebuffer) DeleteLine(row, n int) {
	if row < fb.DS.ScrollTop || row > fb.DS.ScrollBottom {
		return
	}
	bottom := fb.DS.ScrollBottom
	g := fb.grid()
	for i := 0; i < n && row <= bottom; i++ {
		copy(g[row:bottom], g[row+1:bottom+1])
		g[bottom] = make([]Cell, fb.DS.Width)
		for c := range g[bottom] {
			g[bottom][c] = BlankCell(fb.DS.Renditions)
		}
	}
}

// Reset implements RIS (§4.8: ESC c): blank both grids, restore default
// draw state, clear titles, and zero the bell counter.
func (fb *Framebuffer) Reset() {
	w, h := fb.DS.Width, fb.DS.Height
	fb.primary = newGrid(w, h)
	fb.alternate = newGrid(w, h)
	fb.DS = NewDrawState(w, h)
	fb.IconName = ""
	fb.WindowTitle = ""
	fb.TitleInitialized = false
	fb.BellCount = 0
}

// SoftReset implements DECSTR (§4.8: CSI !p): resets modes and cursor but
// preserves screen contents, titles, and the bell counter.
func (fb *Framebuffer) SoftReset() {
	fb.DS.OriginMode = false
	fb.DS.AutoWrap = true
	fb.DS.InsertMode = false
	fb.DS.CursorVisible = true
	fb.DS.ReverseVideo = false
	fb.DS.ApplicationCursorKeys = false
	fb.DS.BracketedPaste = false
	fb.DS.Renditions = DefaultRenditions()
	fb.DS.Saved = SavedCursor{}
	fb.DS.ScrollTop = 0
	fb.DS.ScrollBottom = fb.DS.Height - 1
	fb.DS.Home()
}

// Bell increments the bell counter (§4.8: C0 BEL).
func (fb *Framebuffer) Bell() { fb.BellCount++ }

// SetTitle implements OSC 0/2 (window title); SetIconName implements
// OSC 0/1 (icon name). Both mark the framebuffer's title as initialized
// (§4.8).
func (fb *Framebuffer) SetTitle(t string) {
	fb.WindowTitle = t
	fb.TitleInitialized = true
}

func (fb *Framebuffer) SetIconName(n string) {
	fb.IconName = n
	fb.TitleInitialized = true
}

// Clone returns a deep copy, used whenever a new TimestampedState snapshot
// must be taken.
func (fb *Framebuffer) Clone() *Framebuffer {
	cp := &Framebuffer{
		DS:               fb.DS.Clone(),
		primary:          cloneGrid(fb.primary),
		alternate:        cloneGrid(fb.alternate),
		IconName:         fb.IconName,
		WindowTitle:      fb.WindowTitle,
		TitleInitialized: fb.TitleInitialized,
		BellCount:        fb.BellCount,
	}
	return cp
}

func cloneGrid(g [][]Cell) [][]Cell {
	cp := make([][]Cell, len(g))
	for i, row := range g {
		cp[i] = append([]Cell(nil), row...)
	}
	return cp
}

// Equal reports whether two framebuffers have identical visible content,
// cursor/mode state, titles, and bell count.
func (fb *Framebuffer) Equal(o *Framebuffer) bool {
	if !fb.DS.Equal(o.DS) ||
		fb.IconName != o.IconName || fb.WindowTitle != o.WindowTitle ||
		fb.TitleInitialized != o.TitleInitialized || fb.BellCount != o.BellCount {
		return false
	}
	return gridEqual(fb.primary, o.primary) && gridEqual(fb.alternate, o.alternate)
}

func gridEqual(a, b [][]Cell) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if len(a[r]) != len(b[r]) {
			return false
		}
		for c := range a[r] {
			if !a[r][c].Equal(b[r][c]) {
				return false
			}
		}
	}
	return true
}
