package terminal

// SavedCursor holds the state DECSC/DECRC push and pop (§3.5): cursor
// position, renditions, wrap-mode, and origin-mode at the time of the
// save, plus whether a save has ever happened (DECRC with no prior DECSC
// resets to the home position under default renditions instead).
type SavedCursor struct {
	Valid      bool
	Row, Col   int
	Renditions Renditions
	AutoWrap   bool
	OriginMode bool
}

// DrawState holds everything about a Framebuffer that is not the cell grid
// itself: cursor position, tab stops, scrolling region, current
// renditions, the saved-cursor slot, and the boolean terminal modes
// (§3.5).
type DrawState struct {
	Width, Height int

	CursorRow, CursorCol int
	CombiningCharRow     int
	CombiningCharCol     int

	TabStops []bool

	ScrollTop, ScrollBottom int // inclusive, 0-based

	Renditions Renditions
	Saved      SavedCursor

	OriginMode            bool
	AutoWrap              bool
	InsertMode            bool
	CursorVisible         bool
	ReverseVideo          bool
	ApplicationCursorKeys bool
	BracketedPaste        bool
	MouseVT100            bool
	MouseXterm            bool
	MouseSGR              bool
	MouseUTF8             bool
	AltScreen             bool

	NextPrintWillWrap bool
}

// NewDrawState returns a DrawState sized for a width x height grid, with
// default tab stops every 8 columns, a full-height scrolling region, and
// cursor-visible/auto-wrap on (the VT220 power-on defaults).
func NewDrawState(width, height int) DrawState {
	ds := DrawState{
		Width:         width,
		Height:        height,
		ScrollTop:     0,
		ScrollBottom:  height - 1,
		Renditions:    DefaultRenditions(),
		CursorVisible: true,
		AutoWrap:      true,
	}
	ds.resetTabs()
	return ds
}

func (ds *DrawState) resetTabs() {
	ds.TabStops = make([]bool, ds.Width)
	for i := 0; i < ds.Width; i += 8 {
		ds.TabStops[i] = true
	}
}

// Resize adjusts the draw state for a new grid size, clamping cursor and
// scroll region and resetting tab stops (matching the terminal's RIS-like
// behavior on SIGWINCH).
func (ds *DrawState) Resize(width, height int) {
	ds.Width, ds.Height = width, height
	if ds.CursorRow >= height {
		ds.CursorRow = height - 1
	}
	if ds.CursorCol >= width {
		ds.CursorCol = width - 1
	}
	ds.ScrollTop = 0
	ds.ScrollBottom = height - 1
	ds.resetTabs()
}

// LimitTop returns the first row a cursor move may target given origin
// mode.
func (ds *DrawState) limitTop() int {
	if ds.OriginMode {
		return ds.ScrollTop
	}
	return 0
}

func (ds *DrawState) limitBottom() int {
	if ds.OriginMode {
		return ds.ScrollBottom
	}
	return ds.Height - 1
}

// MoveCursor sets the cursor to (row, col), clamped to the current origin
// bounds, and clears the will-wrap flag (any explicit cursor motion
// cancels a pending autowrap).
func (ds *DrawState) MoveCursor(row, col int) {
	top, bottom := ds.limitTop(), ds.limitBottom()
	if row < top {
		row = top
	}
	if row > bottom {
		row = bottom
	}
	if col < 0 {
		col = 0
	}
	if col > ds.Width-1 {
		col = ds.Width - 1
	}
	ds.CursorRow, ds.CursorCol = row, col
	ds.NextPrintWillWrap = false
}

// MoveCursorAbsolute sets the cursor to a position expressed in absolute
// (non-origin-relative) coordinates, e.g. for HPA/VPA which ignore origin
// mode's row/col translation but still clamp to the full grid.
func (ds *DrawState) MoveCursorAbsolute(row, col int) {
	if row < 0 {
		row = 0
	}
	if row > ds.Height-1 {
		row = ds.Height - 1
	}
	if col < 0 {
		col = 0
	}
	if col > ds.Width-1 {
		col = ds.Width - 1
	}
	ds.CursorRow, ds.CursorCol = row, col
	ds.NextPrintWillWrap = false
}

// Home moves the cursor to (top, 0) of the current origin region.
func (ds *DrawState) Home() {
	ds.MoveCursor(ds.limitTop(), 0)
}

// SetScrollRegion sets the DECSTBM scrolling region, clamping to the grid
// and requiring top < bottom (a degenerate request leaves the region at
// full-screen, matching real terminals).
func (ds *DrawState) SetScrollRegion(top, bottom int) {
	if top < 0 {
		top = 0
	}
	if bottom > ds.Height-1 {
		bottom = ds.Height - 1
	}
	if top >= bottom {
		top, bottom = 0, ds.Height-1
	}
	ds.ScrollTop, ds.ScrollBottom = top, bottom
}

// SaveCursor implements DECSC (§4.8: ESC 7).
func (ds *DrawState) SaveCursor() {
	ds.Saved = SavedCursor{
		Valid:      true,
		Row:        ds.CursorRow,
		Col:        ds.CursorCol,
		Renditions: ds.Renditions,
		AutoWrap:   ds.AutoWrap,
		OriginMode: ds.OriginMode,
	}
}

// RestoreCursor implements DECRC (§4.8: ESC 8). With no prior save, resets
// to the home position under default renditions.
func (ds *DrawState) RestoreCursor() {
	if !ds.Saved.Valid {
		ds.Renditions = DefaultRenditions()
		ds.AutoWrap = true
		ds.OriginMode = false
		ds.Home()
		return
	}
	ds.Renditions = ds.Saved.Renditions
	ds.AutoWrap = ds.Saved.AutoWrap
	ds.OriginMode = ds.Saved.OriginMode
	ds.MoveCursorAbsolute(ds.Saved.Row, ds.Saved.Col)
}

// Clone returns a deep copy suitable for embedding in a new Framebuffer
// snapshot.
func (ds DrawState) Clone() DrawState {
	cp := ds
	cp.TabStops = append([]bool(nil), ds.TabStops...)
	return cp
}

// Equal reports whether two draw states are identical.
func (ds DrawState) Equal(o DrawState) bool {
	if ds.Width != o.Width || ds.Height != o.Height ||
		ds.CursorRow != o.CursorRow || ds.CursorCol != o.CursorCol ||
		ds.ScrollTop != o.ScrollTop || ds.ScrollBottom != o.ScrollBottom ||
		ds.Renditions != o.Renditions || ds.Saved != o.Saved ||
		ds.OriginMode != o.OriginMode || ds.AutoWrap != o.AutoWrap ||
		ds.InsertMode != o.InsertMode || ds.CursorVisible != o.CursorVisible ||
		ds.ReverseVideo != o.ReverseVideo ||
		ds.ApplicationCursorKeys != o.ApplicationCursorKeys ||
		ds.BracketedPaste != o.BracketedPaste ||
		ds.MouseVT100 != o.MouseVT100 || ds.MouseXterm != o.MouseXterm ||
		ds.MouseSGR != o.MouseSGR || ds.MouseUTF8 != o.MouseUTF8 ||
		ds.AltScreen != o.AltScreen ||
		ds.NextPrintWillWrap != o.NextPrintWillWrap {
		return false
	}
	if len(ds.TabStops) != len(o.TabStops) {
		return false
	}
	for i := range ds.TabStops {
		if ds.TabStops[i] != o.TabStops[i] {
			return false
		}
	}
	return true
}
