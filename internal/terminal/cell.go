// Package terminal models the VT-500-class terminal grid the parser's
// dispatched actions mutate: cells, renditions, cursor/draw state, and the
// framebuffer that owns them (§3.5). It also hosts the dispatcher that
// routes parser actions to the terminal functions that implement them
// (§4.8) and the Complete state object the transport synchronizes (§4.5's
// State contract, realized the way mosh's statesync/completeterminal.cc
// does: diff_from delegates to the differential display).
package terminal

// maxCombiningChars bounds the combining marks a single cell may carry
// after its base code point (§3.5: "one base plus up to 15 combining
// marks").
const maxCombiningChars = 15

// Cell is one terminal grid position: a base code point plus any
// combining marks, a wide-character flag, a fallback marker for cells
// that begin with a combining mark attached to NBSP, a wrap marker, and
// the renditions in effect when the cell was written.
type Cell struct {
	codepoints []rune
	Wide       bool
	Fallback   bool
	Wrap       bool
	Renditions Renditions
}

// BlankCell returns a cell containing nothing but a space, with the given
// renditions (used for ECH/EL/ED fills and new-row initialization).
func BlankCell(r Renditions) Cell {
	return Cell{codepoints: []rune{' '}, Renditions: r}
}

// Reset clears the cell back to a blank space, discarding width/wrap
// state, but keeping its renditions unchanged. A blank carrying the
// renditions in effect at erase time (background-color-erase) is built
// with BlankCell instead.
func (c *Cell) Reset() {
	c.codepoints = []rune{' '}
	c.Wide = false
	c.Fallback = false
	c.Wrap = false
}

// SetContents replaces the cell's code points with a single base
// character, clearing any combining marks.
func (c *Cell) SetContents(ch rune) {
	c.codepoints = []rune{ch}
}

// AddCombiningChar appends a combining mark to the cell, up to
// maxCombiningChars; excess marks are silently dropped (display fidelity
// loss only, never a correctness hazard).
func (c *Cell) AddCombiningChar(ch rune) {
	if len(c.codepoints) == 0 {
		c.codepoints = []rune{' '}
	}
	if len(c.codepoints)-1 >= maxCombiningChars {
		return
	}
	c.codepoints = append(c.codepoints, ch)
}

// Contents returns the cell's code points (base first, then any
// combining marks). Callers must not mutate the returned slice.
func (c Cell) Contents() []rune {
	if len(c.codepoints) == 0 {
		return []rune{' '}
	}
	return c.codepoints
}

// IsBlank reports whether the cell is a plain space with no wide, wrap or
// fallback flag — the state a freshly constructed or erased cell starts
// in. Renditions are not examined.
func (c Cell) IsBlank() bool {
	if c.Wide || c.Wrap || c.Fallback {
		return false
	}
	if len(c.codepoints) > 1 {
		return false
	}
	return len(c.codepoints) == 0 || c.codepoints[0] == ' '
}

// ContentsEqual reports whether two cells have the same code points,
// width, and wrap markers, ignoring renditions — used by the differential
// display to decide whether a cell's glyph must be reprinted even when its
// rendition already matches.
func (c Cell) ContentsEqual(o Cell) bool {
	if c.Wide != o.Wide || c.Wrap != o.Wrap || c.Fallback != o.Fallback {
		return false
	}
	a, b := c.Contents(), o.Contents()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Equal reports full equality including renditions.
func (c Cell) Equal(o Cell) bool {
	return c.ContentsEqual(o) && c.Renditions == o.Renditions
}

// Color is a terminal color reference: either the default, one of the 8
// ANSI colors, one of the 8 bright variants, or unset/default for the
// opposing ground.
type Color int16

const (
	ColorDefault Color = -1
)

// Renditions packs the SGR attribute bits plus foreground/background
// colors (§3.5).
type Renditions struct {
	Bold      bool
	Faint     bool
	Italic    bool
	Underline bool
	Blink     bool
	Inverse   bool
	Invisible bool
	Fg        Color
	Bg        Color
}

// DefaultRenditions returns the SGR-reset rendition state (CSI 0 m).
func DefaultRenditions() Renditions {
	return Renditions{Fg: ColorDefault, Bg: ColorDefault}
}

// IsDefault reports whether r carries no non-default attributes — used by
// the display engine to decide whether ECH/BCE blank-run compression is
// safe (erasing under default renditions never needs the background
// color preserved).
func (r Renditions) IsDefault() bool {
	return r == DefaultRenditions()
}
