package overlay

import (
	"github.com/chronostruct/gossp/internal/parser"
	"github.com/chronostruct/gossp/internal/terminal"
)

// Validity is the verdict cull assigns an overlay against the framebuffer
// the network has actually confirmed (terminaloverlay.h's Validity enum).
type Validity int

const (
	Pending Validity = iota
	Correct
	CorrectNoCredit
	IncorrectOrExpired
	Inactive
)

// Trigger thresholds, all in round-trip milliseconds, governing when
// predictions become visible (terminaloverlay.h's PredictionEngine
// constants).
const (
	srttTriggerLow  = 20
	srttTriggerHigh = 30

	flagTriggerLow  = 50
	flagTriggerHigh = 80

	glitchThreshold         = 250
	glitchFlagThreshold     = 5000
	glitchRepairCount       = 10
	glitchRepairMinInterval = 150
)

// DisplayPreference controls whether predictions ever become visible.
// The mosh source this is grounded on disagrees with itself across
// versions (the header lists Always/Never/Adaptive; the implementation
// file tests against an undeclared Experimental); Adaptive is what this
// engine implements as the hysteresis-gated "only when it looks slow"
// mode, so Experimental is dropped rather than guessed at (recorded as
// an Open Question in DESIGN.md).
type DisplayPreference int

const (
	Adaptive DisplayPreference = iota
	Always
	Never
)

type overlayCell struct {
	active              bool
	expirationFrame     uint64
	tentativeUntilEpoch uint64
	predictionTimeMs    int64
	col                 int

	replacement      terminal.Cell
	unknown          bool
	originalContents []terminal.Cell
}

func (o *overlayCell) reset() {
	*o = overlayCell{col: o.col}
}

func (o *overlayCell) resetWithOrig() {
	orig := o.originalContents
	o.reset()
	o.originalContents = orig
}

func (o *overlayCell) tentative(epoch uint64) bool {
	return o.active && epoch < o.tentativeUntilEpoch
}

func (o *overlayCell) expire(epoch uint64, now int64) {
	o.tentativeUntilEpoch = epoch
	o.expirationFrame = ^uint64(0)
	o.predictionTimeMs = now
}

// getValidity classifies this cell against fb's current contents, per
// ConditionalOverlayCell::get_validity.
func (o *overlayCell) getValidity(fb *terminal.Framebuffer, row int, lateAck uint64) Validity {
	if !o.active {
		return Inactive
	}
	if row < 0 || row >= fb.Height() || o.col < 0 || o.col >= fb.Width() {
		return IncorrectOrExpired
	}

	current := fb.Cell(row, o.col)

	if lateAck >= o.expirationFrame {
		if o.unknown {
			return CorrectNoCredit
		}
		// An expired prediction of a blank cell is too easy to match by
		// accident to take credit for.
		if o.replacement.IsBlank() {
			return CorrectNoCredit
		}
		if current.ContentsEqual(o.replacement) {
			return Correct
		}
		for _, orig := range o.originalContents {
			if current.ContentsEqual(orig) {
				return IncorrectOrExpired
			}
		}
		return CorrectNoCredit
	}

	if o.unknown {
		return Pending
	}
	if current.ContentsEqual(o.replacement) {
		return Correct
	}
	for _, orig := range o.originalContents {
		if current.ContentsEqual(orig) {
			return Pending
		}
	}
	return IncorrectOrExpired
}

// apply overwrites fb's cell with the prediction, underlining it when
// flagging is requested, per ConditionalOverlayCell::apply.
func (o *overlayCell) apply(fb *terminal.Framebuffer, row int, flag bool) {
	if !o.active || row < 0 || row >= fb.Height() || o.col < 0 || o.col >= fb.Width() {
		return
	}

	current := fb.Cell(row, o.col)
	if o.replacement.IsBlank() && current.IsBlank() {
		flag = false
	}

	if o.unknown {
		if flag && o.col != fb.Width()-1 {
			c := current
			c.Renditions.Underline = true
			fb.SetCell(row, o.col, c)
		}
		return
	}

	if !current.ContentsEqual(o.replacement) {
		c := o.replacement
		if flag {
			c.Renditions.Underline = true
		}
		fb.SetCell(row, o.col, c)
	}
}

type overlayRow struct {
	rowNum int
	cells  []overlayCell
}

type cursorMove struct {
	active              bool
	expirationFrame     uint64
	tentativeUntilEpoch uint64
	predictionTimeMs    int64
	row, col            int
}

func (c *cursorMove) reset() { *c = cursorMove{} }

func (c *cursorMove) tentative(epoch uint64) bool {
	return c.active && epoch < c.tentativeUntilEpoch
}

func (c *cursorMove) expire(epoch uint64, now int64) {
	c.tentativeUntilEpoch = epoch
	c.expirationFrame = ^uint64(0)
	c.predictionTimeMs = now
}

func (c *cursorMove) getValidity(fb *terminal.Framebuffer, lateAck uint64) Validity {
	if !c.active {
		return Inactive
	}
	if c.row < 0 || c.row >= fb.Height() || c.col < 0 || c.col >= fb.Width() {
		return IncorrectOrExpired
	}
	match := fb.DS.CursorRow == c.row && fb.DS.CursorCol == c.col
	if lateAck >= c.expirationFrame {
		if match {
			return Correct
		}
		return CorrectNoCredit
	}
	if match {
		return Correct
	}
	return Pending
}

func (c *cursorMove) apply(fb *terminal.Framebuffer) {
	if !c.active {
		return
	}
	fb.DS.CursorRow, fb.DS.CursorCol = c.row, c.col
}

// PredictionEngine renders local-echo predictions of the user's own
// keystrokes onto the framebuffer ahead of the network's confirmation,
// gated by a round-trip-time-driven trigger, per terminaloverlay.{h,cc}'s
// PredictionEngine. Timestamps are caller-supplied milliseconds, the same
// convention the rest of this package and internal/transport use.
type PredictionEngine struct {
	rows    []overlayRow
	cursors []cursorMove

	localFrameSent, localFrameAcked, localFrameLateAcked uint64
	predictionEpoch, confirmedEpoch                      uint64

	flagging              bool
	srttTrigger           bool
	glitchTrigger         int
	lastWidth, lastHeight int

	displayPreference DisplayPreference

	lastByte byte
	p        *parser.Parser
}

// NewPredictionEngine returns a PredictionEngine with no active
// predictions, defaulting to Adaptive display.
func NewPredictionEngine() *PredictionEngine {
	return &PredictionEngine{p: parser.New()}
}

// SetDisplayPreference overrides when predictions become visible.
func (e *PredictionEngine) SetDisplayPreference(pref DisplayPreference) {
	e.displayPreference = pref
}

// SetLocalFrameSent records the frame number of the most recent user-input
// state sent to the network, used to bound new predictions' expiration.
func (e *PredictionEngine) SetLocalFrameSent(n uint64) { e.localFrameSent = n }

// SetLocalFrameAcked/LateAcked record the network's acknowledgment
// progress, driving cull's validity classification.
func (e *PredictionEngine) SetLocalFrameAcked(n uint64)     { e.localFrameAcked = n }
func (e *PredictionEngine) SetLocalFrameLateAcked(n uint64) { e.localFrameLateAcked = n }

// Active reports whether any prediction is currently outstanding.
func (e *PredictionEngine) Active() bool {
	for _, r := range e.rows {
		for i := range r.cells {
			if r.cells[i].active {
				return true
			}
		}
	}
	for i := range e.cursors {
		if e.cursors[i].active {
			return true
		}
	}
	return false
}

// Reset discards all outstanding predictions (PredictionEngine::reset).
func (e *PredictionEngine) Reset() {
	e.rows = nil
	e.cursors = nil
	e.becomeTentative()
}

func (e *PredictionEngine) becomeTentative() {
	e.predictionEpoch++
}

// killEpoch discards every tentative prediction and starts a fresh cursor
// prediction at fb's current cursor, per
// PredictionEngine::kill_epoch.
func (e *PredictionEngine) killEpoch(fb *terminal.Framebuffer, now int64) {
	kept := e.cursors[:0]
	for _, c := range e.cursors {
		if !c.tentative(e.predictionEpoch) {
			kept = append(kept, c)
		}
	}
	e.cursors = kept

	e.cursors = append(e.cursors, cursorMove{
		active:          true,
		row:             fb.DS.CursorRow,
		col:             fb.DS.CursorCol,
		expirationFrame: e.localFrameSent + 1,
	})

	for ri := range e.rows {
		for ci := range e.rows[ri].cells {
			cell := &e.rows[ri].cells[ci]
			if cell.tentative(e.predictionEpoch) {
				cell.resetWithOrig()
			}
		}
	}

	e.becomeTentative()
}

func (e *PredictionEngine) getOrMakeRow(rowNum, width int) *overlayRow {
	for i := range e.rows {
		if e.rows[i].rowNum == rowNum {
			if len(e.rows[i].cells) < width {
				grown := make([]overlayCell, width)
				copy(grown, e.rows[i].cells)
				for c := len(e.rows[i].cells); c < width; c++ {
					grown[c].col = c
				}
				e.rows[i].cells = grown
			}
			return &e.rows[i]
		}
	}
	cells := make([]overlayCell, width)
	for c := range cells {
		cells[c].col = c
	}
	e.rows = append(e.rows, overlayRow{rowNum: rowNum, cells: cells})
	return &e.rows[len(e.rows)-1]
}

func (e *PredictionEngine) initCursor(fb *terminal.Framebuffer) {
	if len(e.cursors) == 0 {
		e.cursors = append(e.cursors, cursorMove{
			active: true,
			row:    fb.DS.CursorRow,
			col:    fb.DS.CursorCol,
		})
		return
	}
	last := &e.cursors[len(e.cursors)-1]
	if !last.active {
		last.active = true
		last.row, last.col = fb.DS.CursorRow, fb.DS.CursorCol
	}
}

func (e *PredictionEngine) cursorRowCol(fb *terminal.Framebuffer) (row, col int) {
	if len(e.cursors) == 0 {
		return fb.DS.CursorRow, fb.DS.CursorCol
	}
	last := e.cursors[len(e.cursors)-1]
	if !last.active {
		return fb.DS.CursorRow, fb.DS.CursorCol
	}
	return last.row, last.col
}

func (e *PredictionEngine) newlineCarriageReturn(fb *terminal.Framebuffer) {
	row, _ := e.cursorRowCol(fb)
	if row == fb.Height()-1 {
		r := e.getOrMakeRow(row, fb.Width())
		for i := range r.cells {
			r.cells[i].active = true
			r.cells[i].unknown = true
			r.cells[i].tentativeUntilEpoch = e.predictionEpoch + 1
			r.cells[i].expirationFrame = e.localFrameSent + 1
		}
		if len(e.cursors) > 0 {
			e.cursors[len(e.cursors)-1].col = 0
		}
		return
	}
	e.cursors = append(e.cursors, cursorMove{
		active:              true,
		row:                 row + 1,
		col:                 0,
		tentativeUntilEpoch: e.predictionEpoch + 1,
		expirationFrame:     e.localFrameSent + 1,
	})
}

// NewUserByte feeds one byte the user just typed through the prediction
// engine's own parser, extending tentative predictions the way
// PredictionEngine::new_user_byte does: Print predicts the echoed glyph,
// CR predicts a cursor wrap, cursor-key final bytes (C/D) predict cursor
// motion, and anything else simply ends the current prediction epoch so
// a since-unconfirmed run of predictions does not keep growing on top of
// output the engine cannot model.
func (e *PredictionEngine) NewUserByte(b byte, fb *terminal.Framebuffer, now int64) {
	if e.displayPreference == Never {
		return
	}

	e.Cull(fb, now)

	if e.lastByte == 0x1b && b == 'O' {
		b = '['
	}
	e.lastByte = b

	for _, a := range e.p.Input(rune(b)) {
		switch a.Kind {
		case parser.KindPrint:
			e.predictPrint(a.Ch, fb, now)
		case parser.KindExecute:
			if a.Ch == '\r' {
				e.becomeTentative()
				e.newlineCarriageReturn(fb)
			}
		case parser.KindEscDispatch:
			e.becomeTentative()
		case parser.KindCSIDispatch:
			switch a.Ch {
			case 'C':
				e.moveCursorPrediction(fb, 1)
			case 'D':
				e.moveCursorPrediction(fb, -1)
			default:
				e.becomeTentative()
			}
		}
	}
}

func (e *PredictionEngine) moveCursorPrediction(fb *terminal.Framebuffer, delta int) {
	e.initCursor(fb)
	row, col := e.cursorRowCol(fb)
	col += delta
	if col < 0 {
		col = 0
	}
	if col >= fb.Width() {
		col = fb.Width() - 1
	}
	e.cursors = append(e.cursors, cursorMove{
		active:              true,
		row:                 row,
		col:                 col,
		tentativeUntilEpoch: e.predictionEpoch + 1,
		expirationFrame:     e.localFrameSent + 1,
	})
}

func (e *PredictionEngine) predictPrint(ch rune, fb *terminal.Framebuffer, now int64) {
	e.initCursor(fb)
	row, col := e.cursorRowCol(fb)

	if ch == 0x7f || ch == 0x08 { // backspace
		if col == 0 {
			e.becomeTentative()
			return
		}
		r := e.getOrMakeRow(row, fb.Width())
		for c := col - 1; c < fb.Width()-1; c++ {
			r.cells[c] = r.cells[c+1]
			r.cells[c].col = c
		}
		r.cells[fb.Width()-1].reset()
		r.cells[fb.Width()-1].col = fb.Width() - 1
		if len(e.cursors) > 0 {
			e.cursors[len(e.cursors)-1].col = col - 1
		}
		return
	}

	// Non-printable-width or combining input isn't modeled; give up the
	// prediction rather than render something wrong.
	if ch < 0x20 {
		e.becomeTentative()
		return
	}

	if col >= fb.Width()-1 {
		e.becomeTentative()
		e.newlineCarriageReturn(fb)
		return
	}

	r := e.getOrMakeRow(row, fb.Width())
	cell := &r.cells[col]
	cell.active = true
	cell.unknown = false
	cell.replacement = fb.Cell(row, col)
	cell.replacement.SetContents(ch)
	cell.replacement.Renditions = fb.DS.Renditions
	cell.originalContents = append(cell.originalContents[:0], fb.Cell(row, col))
	cell.tentativeUntilEpoch = e.predictionEpoch
	cell.expirationFrame = e.localFrameSent + 1
	cell.predictionTimeMs = now

	if len(e.cursors) > 0 {
		e.cursors[len(e.cursors)-1].col = col + 1
	}
}

// Cull advances validity classification for every outstanding prediction
// against fb, adjusting the round-trip-time trigger hysteresis and
// retiring predictions that have been confirmed, refuted, or expired, per
// PredictionEngine::cull.
func (e *PredictionEngine) Cull(fb *terminal.Framebuffer, now int64) {
	if fb.Width() != e.lastWidth || fb.Height() != e.lastHeight {
		e.lastWidth, e.lastHeight = fb.Width(), fb.Height()
		e.Reset()
		return
	}

	if !e.Active() {
		return
	}

	lateAck := e.localFrameLateAcked

	kept := e.cursors[:0]
	for i := range e.cursors {
		c := &e.cursors[i]
		switch c.getValidity(fb, lateAck) {
		case IncorrectOrExpired:
			e.killEpoch(fb, now)
			return
		case Correct, CorrectNoCredit:
			// confirmed or moot; drop it
		default:
			kept = append(kept, *c)
		}
	}
	e.cursors = kept

	for ri := range e.rows {
		row := &e.rows[ri]
		for ci := range row.cells {
			cell := &row.cells[ci]
			if !cell.active {
				continue
			}
			switch cell.getValidity(fb, row.rowNum, lateAck) {
			case IncorrectOrExpired:
				e.killEpoch(fb, now)
				return
			case Correct:
				if cell.predictionTimeMs != 0 && now-cell.predictionTimeMs < glitchRepairMinInterval {
					if e.glitchTrigger > 0 {
						e.glitchTrigger--
					}
				}
				if e.confirmedEpoch < cell.tentativeUntilEpoch {
					e.confirmedEpoch = cell.tentativeUntilEpoch
				}
				cell.reset()
			case CorrectNoCredit:
				cell.reset()
			case Pending:
				elapsed := now - cell.predictionTimeMs
				if elapsed > glitchFlagThreshold {
					e.glitchTrigger += glitchRepairCount
				} else if elapsed > glitchThreshold {
					e.glitchTrigger++
				}
			}
		}
	}
}

// Apply composites outstanding, visible predictions onto fb, gated by the
// RTT-driven trigger, per PredictionEngine::apply.
func (e *PredictionEngine) Apply(fb *terminal.Framebuffer, srttMs float64) {
	if e.displayPreference == Never {
		return
	}

	e.srttTrigger = srttMs > srttTriggerHigh || (e.srttTrigger && srttMs > srttTriggerLow)
	if e.glitchTrigger > glitchRepairCount {
		e.flagging = true
	} else {
		e.flagging = srttMs > flagTriggerHigh || (e.flagging && srttMs > flagTriggerLow)
	}

	show := e.displayPreference == Always || e.srttTrigger || (e.flagging && e.glitchTrigger > 0)
	if !show {
		return
	}

	for i := range e.cursors {
		e.cursors[i].apply(fb)
	}
	for ri := range e.rows {
		row := &e.rows[ri]
		for ci := range row.cells {
			row.cells[ci].apply(fb, row.rowNum, e.flagging)
		}
	}
}
